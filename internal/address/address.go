// Package address implements the node's persistent address book: a map
// from NodeId to everything the gossip/session service knows about how
// (and how well) to reach it, backed by a SQLite database per spec.md
// §3 ("Address-book entry") and §6 (storage layout's node.db).
package address

import (
	"database/sql"
	"fmt"
	"net"
	"time"

	_ "modernc.org/sqlite"

	"github.com/weavenet/weave/internal/nodeid"
	"github.com/weavenet/weave/internal/wire"
)

// Source tags where an address for a node was learned from.
type Source uint8

const (
	SourceBootstrap Source = iota
	SourcePeer
	SourceImported
)

func (s Source) String() string {
	switch s {
	case SourceBootstrap:
		return "bootstrap"
	case SourcePeer:
		return "peer"
	case SourceImported:
		return "imported"
	default:
		return "unknown"
	}
}

// MaxPenalty is the saturating ceiling for an entry's penalty counter.
const MaxPenalty = 255

// Entry is one address-book record: everything known about a single
// peer's reachability and standing.
type Entry struct {
	Node      nodeid.NodeId
	Features  uint64
	Alias     nodeid.Alias
	Pow       uint64
	Timestamp nodeid.Timestamp
	Penalty   uint8
	Addresses []wire.Address

	LastAttempt time.Time
	LastConnect time.Time
	Attempts    int
}

// Blocked reports whether this entry is under quarantine at now, i.e.
// now is before until (the node's stored blocked_until time). The
// penalty value is not consulted.
func (e Entry) Blocked(now time.Time, until time.Time) bool {
	return now.Before(until)
}

// Store is the persistent address book. All writes are serialised
// through the single *sql.DB handle, matching the service loop's
// exclusive-writer ownership from spec.md §5.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the address-book database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("address: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer; the service loop is the only caller
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	node_id      BLOB PRIMARY KEY,
	features     INTEGER NOT NULL DEFAULT 0,
	alias        TEXT NOT NULL DEFAULT '',
	pow          INTEGER NOT NULL DEFAULT 0,
	timestamp    INTEGER NOT NULL DEFAULT 0,
	penalty      INTEGER NOT NULL DEFAULT 0,
	last_attempt INTEGER NOT NULL DEFAULT 0,
	last_connect INTEGER NOT NULL DEFAULT 0,
	attempts     INTEGER NOT NULL DEFAULT 0,
	blocked_until INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS addresses (
	node_id BLOB NOT NULL,
	seq     INTEGER NOT NULL,
	kind    INTEGER NOT NULL,
	host    TEXT NOT NULL,
	port    INTEGER NOT NULL,
	source  INTEGER NOT NULL,
	PRIMARY KEY (node_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_nodes_penalty ON nodes(penalty, last_attempt);
`
	_, err := s.db.Exec(schema)
	return err
}

// Upsert inserts or updates a node's core fields (features/alias/pow/
// timestamp), leaving penalty and connection bookkeeping untouched. It
// is rejected if an existing record has an equal-or-newer timestamp,
// matching the announcement-acceptance monotonicity rule of spec.md
// §4.1.
func (s *Store) Upsert(e Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existingTs int64
	err = tx.QueryRow(`SELECT timestamp FROM nodes WHERE node_id = ?`, e.Node.Bytes()).Scan(&existingTs)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if err == nil && uint64(existingTs) >= uint64(e.Timestamp) {
		return nil // stale; drop silently, the caller already checked monotonicity upstream
	}

	_, err = tx.Exec(`
INSERT INTO nodes (node_id, features, alias, pow, timestamp)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(node_id) DO UPDATE SET
	features = excluded.features,
	alias = excluded.alias,
	pow = excluded.pow,
	timestamp = excluded.timestamp
`, e.Node.Bytes(), e.Features, string(e.Alias), e.Pow, uint64(e.Timestamp))
	if err != nil {
		return fmt.Errorf("address: upsert node: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM addresses WHERE node_id = ?`, e.Node.Bytes()); err != nil {
		return fmt.Errorf("address: clear addresses: %w", err)
	}
	for i, a := range e.Addresses {
		if i >= 16 { // ADDRESS_LIMIT, spec.md §6
			break
		}
		host := a.Host
		if a.IP != nil {
			host = a.IP.String()
		}
		if _, err := tx.Exec(`INSERT INTO addresses (node_id, seq, kind, host, port, source) VALUES (?, ?, ?, ?, ?, ?)`,
			e.Node.Bytes(), i, uint8(a.Type), host, a.Port, SourcePeer); err != nil {
			return fmt.Errorf("address: insert address: %w", err)
		}
	}
	return tx.Commit()
}

// Get looks up a single node's address-book entry.
func (s *Store) Get(node nodeid.NodeId) (Entry, bool, error) {
	row := s.db.QueryRow(`
SELECT features, alias, pow, timestamp, penalty, last_attempt, last_connect, attempts
FROM nodes WHERE node_id = ?`, node.Bytes())
	var e Entry
	var lastAttempt, lastConnect int64
	var ts uint64
	e.Node = node
	if err := row.Scan(&e.Features, (*string)(&e.Alias), &e.Pow, &ts, &e.Penalty, &lastAttempt, &lastConnect, &e.Attempts); err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	e.Timestamp = nodeid.Timestamp(ts)
	e.LastAttempt = time.Unix(lastAttempt, 0)
	e.LastConnect = time.Unix(lastConnect, 0)
	addrs, err := s.addresses(node)
	if err != nil {
		return Entry{}, false, err
	}
	e.Addresses = addrs
	return e, true, nil
}

func (s *Store) addresses(node nodeid.NodeId) ([]wire.Address, error) {
	rows, err := s.db.Query(`SELECT kind, host, port FROM addresses WHERE node_id = ? ORDER BY seq`, node.Bytes())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []wire.Address
	for rows.Next() {
		var kind uint8
		var host string
		var port uint16
		if err := rows.Scan(&kind, &host, &port); err != nil {
			return nil, err
		}
		a := wire.Address{Type: wire.AddressType(kind), Port: port}
		switch a.Type {
		case wire.AddressTypeIPv4, wire.AddressTypeIPv6:
			a.IP = parseIP(host)
		default:
			a.Host = host
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Penalize adds delta to a node's penalty, saturating at MaxPenalty, and
// for high-severity penalties (spec.md §4.1: "high=8") sets a quarantine
// deadline.
func (s *Store) Penalize(node nodeid.NodeId, delta uint8, quarantineUntil time.Time) error {
	_, err := s.db.Exec(`
UPDATE nodes SET
	penalty = MIN(255, penalty + ?),
	blocked_until = MAX(blocked_until, ?)
WHERE node_id = ?`, delta, quarantineUntil.Unix(), node.Bytes())
	return err
}

// RecordAttempt bumps a node's attempt counter and last_attempt
// timestamp, used by the capped exponential backoff in connection
// selection (spec.md §4.1).
func (s *Store) RecordAttempt(node nodeid.NodeId, at time.Time) error {
	_, err := s.db.Exec(`UPDATE nodes SET attempts = attempts + 1, last_attempt = ? WHERE node_id = ?`, at.Unix(), node.Bytes())
	return err
}

// RecordSuccess halves the node's penalty (per spec.md §4.1) and resets
// the attempt counter on a successful connection.
func (s *Store) RecordSuccess(node nodeid.NodeId, at time.Time) error {
	_, err := s.db.Exec(`UPDATE nodes SET penalty = penalty / 2, attempts = 0, last_connect = ? WHERE node_id = ?`, at.Unix(), node.Bytes())
	return err
}

// IsBlocked reports whether node is currently under quarantine.
func (s *Store) IsBlocked(node nodeid.NodeId, now time.Time) (bool, error) {
	var until int64
	err := s.db.QueryRow(`SELECT blocked_until FROM nodes WHERE node_id = ?`, node.Bytes()).Scan(&until)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return now.Unix() < until, nil
}

// Candidates returns up to limit nodes eligible for outbound connection,
// ordered by ascending penalty then ascending last_attempt (spec.md
// §4.1's "Connection selection"), excluding currently-blocked nodes.
func (s *Store) Candidates(now time.Time, limit int) ([]nodeid.NodeId, error) {
	rows, err := s.db.Query(`
SELECT node_id FROM nodes
WHERE blocked_until <= ?
ORDER BY penalty ASC, last_attempt ASC
LIMIT ?`, now.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []nodeid.NodeId
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		id, err := nodeid.NodeIdFromBytes(b)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// All returns every address-book entry, for the operator API's
// read-only peer listing (SPEC_FULL.md §4.7).
func (s *Store) All() ([]Entry, error) {
	rows, err := s.db.Query(`SELECT node_id FROM nodes ORDER BY node_id`)
	if err != nil {
		return nil, err
	}
	var ids [][]byte
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	out := make([]Entry, 0, len(ids))
	for _, b := range ids {
		node, err := nodeid.NodeIdFromBytes(b)
		if err != nil {
			return nil, err
		}
		entry, ok, err := s.Get(node)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, entry)
		}
	}
	return out, nil
}

func parseIP(s string) net.IP {
	return net.ParseIP(s)
}
