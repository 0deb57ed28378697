package storage

import (
	"crypto/sha1"
	"fmt"
	"strings"

	mh "github.com/multiformats/go-multihash"

	"github.com/weavenet/weave/internal/nodeid"
)

// commitNode is one entry in a MemRepository's in-memory commit graph.
type commitNode struct {
	parents []nodeid.ObjectId
}

// MemRepository is a minimal in-memory ReadRepository/WriteRepository,
// for tests that need to exercise the canonical-quorum and staged-fetch
// logic without a real Git object database on disk.
type MemRepository struct {
	id      nodeid.RepoId
	signer  nodeid.Signer
	commits map[nodeid.ObjectId]commitNode
	refs    Refs
	blobs   map[nodeid.ObjectId][]byte
	files   map[nodeid.ObjectId]map[string][]byte
}

// NewMemRepository builds an empty in-memory repository.
func NewMemRepository(id nodeid.RepoId, signer nodeid.Signer) *MemRepository {
	return &MemRepository{
		id:      id,
		signer:  signer,
		commits: make(map[nodeid.ObjectId]commitNode),
		refs:    make(Refs),
		blobs:   make(map[nodeid.ObjectId][]byte),
		files:   make(map[nodeid.ObjectId]map[string][]byte),
	}
}

// SetFileAt registers data as the content of path in the synthetic tree
// for commit, for tests that need ReadFileAt to resolve an identity
// document without a real Git tree.
func (m *MemRepository) SetFileAt(commit nodeid.ObjectId, path string, data []byte) {
	if m.files[commit] == nil {
		m.files[commit] = make(map[string][]byte)
	}
	m.files[commit][path] = data
}

// ReadFileAt returns the content previously registered via SetFileAt.
func (m *MemRepository) ReadFileAt(commit nodeid.ObjectId, path string) ([]byte, error) {
	data, ok := m.files[commit][path]
	if !ok {
		return nil, fmt.Errorf("storage: %s not found at %s", path, commit)
	}
	return data, nil
}

// WriteBlob stores data content-addressed by its SHA-1 sum, mirroring
// GitRepository's blob storage closely enough for tests that round-trip
// a Sigrefs through it.
func (m *MemRepository) WriteBlob(data []byte) (nodeid.ObjectId, error) {
	sum := sha1.Sum(data)
	oid, err := nodeid.NewObjectId(mh.SHA1, sum[:])
	if err != nil {
		return nodeid.ObjectId{}, err
	}
	m.blobs[oid] = data
	return oid, nil
}

func (m *MemRepository) ReadBlob(oid nodeid.ObjectId) ([]byte, error) {
	data, ok := m.blobs[oid]
	if !ok {
		return nil, ErrRefNotFound
	}
	return data, nil
}

// AddCommit registers a synthetic commit with the given parents, for
// building test histories without a real object store.
func (m *MemRepository) AddCommit(oid nodeid.ObjectId, parents ...nodeid.ObjectId) {
	m.commits[oid] = commitNode{parents: parents}
}

func (m *MemRepository) Id() nodeid.RepoId { return m.id }

func (m *MemRepository) Signer() nodeid.Signer { return m.signer }

// IsAncestor walks parent edges from b looking for a, breadth-first.
func (m *MemRepository) IsAncestor(a, b nodeid.ObjectId) (bool, error) {
	if a == b {
		return true, nil
	}
	visited := map[nodeid.ObjectId]bool{b: true}
	queue := []nodeid.ObjectId{b}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		node, ok := m.commits[cur]
		if !ok {
			continue
		}
		for _, p := range node.parents {
			if p == a {
				return true, nil
			}
			if !visited[p] {
				visited[p] = true
				queue = append(queue, p)
			}
		}
	}
	return false, nil
}

// ancestors returns every commit reachable from oid, including itself.
func (m *MemRepository) ancestors(oid nodeid.ObjectId) map[nodeid.ObjectId]bool {
	visited := map[nodeid.ObjectId]bool{oid: true}
	queue := []nodeid.ObjectId{oid}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, p := range m.commits[cur].parents {
			if !visited[p] {
				visited[p] = true
				queue = append(queue, p)
			}
		}
	}
	return visited
}

// MergeBase finds a common ancestor of a and b by intersecting their
// full ancestor sets and keeping the most recent one: each common
// ancestor that descends from the current pick replaces it. Sufficient
// for small synthetic test histories; not
// suitable for large repositories.
func (m *MemRepository) MergeBase(a, b nodeid.ObjectId) (nodeid.ObjectId, error) {
	ancA := m.ancestors(a)
	ancB := m.ancestors(b)

	var common []nodeid.ObjectId
	for oid := range ancA {
		if ancB[oid] {
			common = append(common, oid)
		}
	}
	if len(common) == 0 {
		return nodeid.ObjectId{}, nil
	}

	best := common[0]
	for _, oid := range common[1:] {
		if ok, _ := m.IsAncestor(best, oid); ok {
			best = oid
		}
	}
	return best, nil
}

func (m *MemRepository) Resolve(name RefName) (nodeid.ObjectId, error) {
	oid, ok := m.refs[name]
	if !ok {
		return nodeid.ObjectId{}, ErrRefNotFound
	}
	return oid, nil
}

func (m *MemRepository) References(prefix string) (Refs, error) {
	out := make(Refs)
	for name, oid := range m.refs {
		if strings.HasPrefix(string(name), prefix) {
			out[name] = oid
		}
	}
	return out, nil
}

func (m *MemRepository) ApplyUpdates(updates []RefUpdate) error {
	for _, u := range updates {
		switch u.Kind {
		case RefUpdateSet:
			m.refs[u.Name] = u.Oid
		case RefUpdatePrune:
			delete(m.refs, u.Name)
		}
	}
	return nil
}
