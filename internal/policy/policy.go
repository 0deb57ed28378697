// Package policy implements the node's persistent follow/seed policy
// store, per spec.md §2/§6: which repositories this node seeds, at
// what scope, which peers it follows, and the default seeding policy
// applied to repositories with no explicit entry.
package policy

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/weavenet/weave/internal/nodeid"
)

// Scope is the seeding breadth for a repository, per the glossary:
// "all" replicates every peer's namespace, "followed" replicates only
// delegates and explicitly-followed peers.
type Scope uint8

const (
	ScopeFollowed Scope = iota
	ScopeAll
)

func (s Scope) String() string {
	if s == ScopeAll {
		return "all"
	}
	return "followed"
}

// Default is the default seeding disposition applied to repositories
// with no explicit SeedPolicy row.
type Default uint8

const (
	DefaultBlock Default = iota
	DefaultAllow
)

// SeedingPolicy configures a single repository's seeding disposition.
type SeedingPolicy struct {
	Rid     nodeid.RepoId
	Seed    bool
	Scope   Scope
}

// DefaultPolicy is the config-level fallback (spec.md §6:
// "seedingPolicy: {default: allow, scope} | {default: block}").
type DefaultPolicy struct {
	Default Default
	Scope   Scope
}

// Store is the persistent policy store (policies.db in spec.md §6).
type Store struct {
	db      *sql.DB
	Default DefaultPolicy
}

// Open opens (creating if necessary) the policy database at path, with
// the configured default seeding policy.
func Open(path string, def DefaultPolicy) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("policy: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, Default: def}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS seeding (
	rid   BLOB PRIMARY KEY,
	seed  INTEGER NOT NULL,
	scope INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS following (
	node_id BLOB PRIMARY KEY,
	alias   TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS blocked (
	node_id BLOB PRIMARY KEY,
	reason  TEXT NOT NULL DEFAULT ''
);
`
	_, err := s.db.Exec(schema)
	return err
}

// Seed records an explicit seeding decision for rid, overriding the
// default policy.
func (s *Store) Seed(rid nodeid.RepoId, scope Scope) error {
	_, err := s.db.Exec(`INSERT INTO seeding (rid, seed, scope) VALUES (?, 1, ?)
ON CONFLICT(rid) DO UPDATE SET seed = 1, scope = excluded.scope`, rid.Oid.Bytes(), uint8(scope))
	return err
}

// Unseed removes rid's seeding entry, reverting it to the default
// policy.
func (s *Store) Unseed(rid nodeid.RepoId) error {
	_, err := s.db.Exec(`DELETE FROM seeding WHERE rid = ?`, rid.Oid.Bytes())
	return err
}

// SeedingFor returns the effective seeding policy for rid: its
// explicit entry if one exists, otherwise the store's default.
func (s *Store) SeedingFor(rid nodeid.RepoId) (SeedingPolicy, error) {
	var seed int
	var scope uint8
	err := s.db.QueryRow(`SELECT seed, scope FROM seeding WHERE rid = ?`, rid.Oid.Bytes()).Scan(&seed, &scope)
	if err == sql.ErrNoRows {
		return SeedingPolicy{
			Rid:   rid,
			Seed:  s.Default.Default == DefaultAllow,
			Scope: s.Default.Scope,
		}, nil
	}
	if err != nil {
		return SeedingPolicy{}, err
	}
	return SeedingPolicy{Rid: rid, Seed: seed != 0, Scope: Scope(scope)}, nil
}

// Seeded returns every repository with an explicit seed=1 entry.
func (s *Store) Seeded() ([]SeedingPolicy, error) {
	rows, err := s.db.Query(`SELECT rid, scope FROM seeding WHERE seed = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SeedingPolicy
	for rows.Next() {
		var ridBytes []byte
		var scope uint8
		if err := rows.Scan(&ridBytes, &scope); err != nil {
			return nil, err
		}
		oid, err := nodeid.ObjectIdFromMultihashBytes(ridBytes)
		if err != nil {
			return nil, err
		}
		out = append(out, SeedingPolicy{Rid: nodeid.RepoId{Oid: oid}, Seed: true, Scope: Scope(scope)})
	}
	return out, rows.Err()
}

// Follow adds node to the set of explicitly-followed peers, which
// matters for Scope "followed" seeding.
func (s *Store) Follow(node nodeid.NodeId, alias nodeid.Alias) error {
	_, err := s.db.Exec(`INSERT INTO following (node_id, alias) VALUES (?, ?)
ON CONFLICT(node_id) DO UPDATE SET alias = excluded.alias`, node.Bytes(), string(alias))
	return err
}

// Unfollow removes node from the followed set.
func (s *Store) Unfollow(node nodeid.NodeId) error {
	_, err := s.db.Exec(`DELETE FROM following WHERE node_id = ?`, node.Bytes())
	return err
}

// IsFollowed reports whether node is in the followed set.
func (s *Store) IsFollowed(node nodeid.NodeId) (bool, error) {
	var x int
	err := s.db.QueryRow(`SELECT 1 FROM following WHERE node_id = ?`, node.Bytes()).Scan(&x)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// Followed returns every explicitly-followed peer, for the operator
// API's read-only policy view (SPEC_FULL.md §4.7).
func (s *Store) Followed() ([]FollowedPeer, error) {
	rows, err := s.db.Query(`SELECT node_id, alias FROM following`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FollowedPeer
	for rows.Next() {
		var nodeBytes []byte
		var alias string
		if err := rows.Scan(&nodeBytes, &alias); err != nil {
			return nil, err
		}
		node, err := nodeid.NodeIdFromBytes(nodeBytes)
		if err != nil {
			return nil, err
		}
		out = append(out, FollowedPeer{Node: node, Alias: nodeid.Alias(alias)})
	}
	return out, rows.Err()
}

// FollowedPeer is one row of the followed-peer set.
type FollowedPeer struct {
	Node  nodeid.NodeId
	Alias nodeid.Alias
}

// BlockedPeer is one row of the persistent block-list.
type BlockedPeer struct {
	Node   nodeid.NodeId
	Reason string
}

// BlockedPeers returns every node on the persistent block-list, for the
// operator API's read-only policy view.
func (s *Store) BlockedPeers() ([]BlockedPeer, error) {
	rows, err := s.db.Query(`SELECT node_id, reason FROM blocked`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BlockedPeer
	for rows.Next() {
		var nodeBytes []byte
		var reason string
		if err := rows.Scan(&nodeBytes, &reason); err != nil {
			return nil, err
		}
		node, err := nodeid.NodeIdFromBytes(nodeBytes)
		if err != nil {
			return nil, err
		}
		out = append(out, BlockedPeer{Node: node, Reason: reason})
	}
	return out, rows.Err()
}

// Block adds node to the persistent block-list (distinct from the
// in-memory quarantine penalty of internal/address: this is an
// operator-initiated, indefinite block per spec.md §6/§7 "Policy").
func (s *Store) Block(node nodeid.NodeId, reason string) error {
	_, err := s.db.Exec(`INSERT INTO blocked (node_id, reason) VALUES (?, ?)
ON CONFLICT(node_id) DO UPDATE SET reason = excluded.reason`, node.Bytes(), reason)
	return err
}

// Unblock removes node from the block-list.
func (s *Store) Unblock(node nodeid.NodeId) error {
	_, err := s.db.Exec(`DELETE FROM blocked WHERE node_id = ?`, node.Bytes())
	return err
}

// IsBlocked reports whether node is on the persistent block-list.
func (s *Store) IsBlocked(node nodeid.NodeId) (bool, error) {
	var x int
	err := s.db.QueryRow(`SELECT 1 FROM blocked WHERE node_id = ?`, node.Bytes()).Scan(&x)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
