// Package routing implements the node's routing table: a persistent
// map from RepoId to the set of NodeIds known to seed that repository,
// as described in spec.md §2/§3. Entries are pruned by age or by
// overall table capacity.
package routing

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/weavenet/weave/internal/nodeid"
)

// Entry is a single routing-table row: rid is seeded by node, observed
// at the given time.
type Entry struct {
	Rid       nodeid.RepoId
	Node      nodeid.NodeId
	Timestamp time.Time
}

// Store is the persistent routing table.
type Store struct {
	db      *sql.DB
	maxSize int
	maxAge  time.Duration
}

// Open opens (creating if necessary) the routing table at path, with
// the given eviction limits (spec.md §3: "pruned when count >
// routing_max_size or age > routing_max_age").
func Open(path string, maxSize int, maxAge time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("routing: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, maxSize: maxSize, maxAge: maxAge}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS routing (
	rid       BLOB NOT NULL,
	node_id   BLOB NOT NULL,
	timestamp INTEGER NOT NULL,
	PRIMARY KEY (rid, node_id)
);
CREATE INDEX IF NOT EXISTS idx_routing_ts ON routing(timestamp);
`
	_, err := s.db.Exec(schema)
	return err
}

// Observe records (or refreshes the timestamp of) a (rid, node) entry,
// then enforces the capacity and age bounds.
func (s *Store) Observe(rid nodeid.RepoId, node nodeid.NodeId, at time.Time) error {
	_, err := s.db.Exec(`
INSERT INTO routing (rid, node_id, timestamp) VALUES (?, ?, ?)
ON CONFLICT(rid, node_id) DO UPDATE SET timestamp = excluded.timestamp
`, rid.Oid.Bytes(), node.Bytes(), at.Unix())
	if err != nil {
		return fmt.Errorf("routing: observe: %w", err)
	}
	return s.prune(at)
}

// prune deletes rows older than maxAge, then (if still over maxSize)
// deletes the oldest rows until the table fits.
func (s *Store) prune(now time.Time) error {
	if s.maxAge > 0 {
		cutoff := now.Add(-s.maxAge).Unix()
		if _, err := s.db.Exec(`DELETE FROM routing WHERE timestamp < ?`, cutoff); err != nil {
			return fmt.Errorf("routing: prune by age: %w", err)
		}
	}
	if s.maxSize <= 0 {
		return nil
	}
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM routing`).Scan(&count); err != nil {
		return err
	}
	if count <= s.maxSize {
		return nil
	}
	excess := count - s.maxSize
	_, err := s.db.Exec(`
DELETE FROM routing WHERE rowid IN (
	SELECT rowid FROM routing ORDER BY timestamp ASC LIMIT ?
)`, excess)
	if err != nil {
		return fmt.Errorf("routing: prune by size: %w", err)
	}
	return nil
}

// Seeders returns every node known to seed rid.
func (s *Store) Seeders(rid nodeid.RepoId) ([]nodeid.NodeId, error) {
	rows, err := s.db.Query(`SELECT node_id FROM routing WHERE rid = ?`, rid.Oid.Bytes())
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

// All returns every routing-table row, for the operator API's read-only
// routing view (SPEC_FULL.md §4.7).
func (s *Store) All() ([]Entry, error) {
	rows, err := s.db.Query(`SELECT rid, node_id, timestamp FROM routing ORDER BY rid, node_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var ridBytes, nodeBytes []byte
		var ts int64
		if err := rows.Scan(&ridBytes, &nodeBytes, &ts); err != nil {
			return nil, err
		}
		oid, err := nodeid.ObjectIdFromMultihashBytes(ridBytes)
		if err != nil {
			return nil, err
		}
		node, err := nodeid.NodeIdFromBytes(nodeBytes)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Rid: nodeid.RepoId{Oid: oid}, Node: node, Timestamp: time.Unix(ts, 0)})
	}
	return out, rows.Err()
}

// Size returns the current number of routing entries, for tests and
// the invariant check in spec.md §8 ("Routing-table size <=
// routing_max_size").
func (s *Store) Size() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM routing`).Scan(&n)
	return n, err
}
