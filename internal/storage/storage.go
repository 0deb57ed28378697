// Package storage defines the repository access interfaces the rest of
// weave is built against, plus the signed-refs layer that sits on top
// of a repository's raw Git object database.
package storage

import (
	"fmt"

	"github.com/weavenet/weave/internal/canonical"
	"github.com/weavenet/weave/internal/nodeid"
)

// RefName is a fully qualified Git reference name, e.g.
// "refs/heads/master" or "refs/rad/sigrefs".
type RefName string

// Refs is a snapshot of reference names to the object ids they point
// at, ordered by name for stable signing/encoding.
type Refs map[RefName]nodeid.ObjectId

// SortedNames returns the ref names in this set, sorted.
func (r Refs) SortedNames() []RefName {
	names := make([]RefName, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sortRefNames(names)
	return names
}

func sortRefNames(names []RefName) {
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
}

// ReadRepository is the minimal read capability shared by every
// operation that inspects a repository without mutating it: object
// resolution, ancestry checks, and the merge-base primitive the
// canonical-quorum engine needs.
type ReadRepository interface {
	canonical.Repository

	// Id returns this repository's content-addressed identity.
	Id() nodeid.RepoId

	// IsAncestor reports whether a is an ancestor of (or equal to) b.
	IsAncestor(a, b nodeid.ObjectId) (bool, error)

	// Resolve looks up the object id a reference currently points at.
	Resolve(name RefName) (nodeid.ObjectId, error)

	// References lists every reference whose name has the given
	// prefix (e.g. "refs/heads/" or "refs/namespaces/<node>/refs/").
	References(prefix string) (Refs, error)
}

// SigningRepository additionally exposes the repository's own signing
// identity, used to produce this node's own sigrefs snapshot.
type SigningRepository interface {
	ReadRepository
	Signer() nodeid.Signer
}

// WriteRepository is the mutating capability: applying a batch of ref
// updates (including deletions), and writing new objects fetched from a
// remote.
type WriteRepository interface {
	ReadRepository

	// ApplyUpdates applies a batch of ref changes in one call. It is not
	// all-or-nothing in every implementation: GitRepository writes the
	// refs one by one, so an error partway through leaves the earlier
	// refs of the batch written.
	ApplyUpdates(updates []RefUpdate) error
}

// BlobStore is the narrow capability to store and retrieve raw content
// addressed by object id, used to persist a signed Sigrefs snapshot as
// the content its owner's refs/rad/sigrefs points to rather than as a
// commit (a Sigrefs is not a tree of files).
type BlobStore interface {
	WriteBlob(data []byte) (nodeid.ObjectId, error)
	ReadBlob(oid nodeid.ObjectId) ([]byte, error)
}

// TreeReader reads a single file's content out of the tree a commit
// points to, used to read a repository's identity document (spec.md
// §2's "signed JSON blob stored as a Git commit chain") out of the
// commit refs/rad/id resolves to.
type TreeReader interface {
	ReadFileAt(commit nodeid.ObjectId, path string) ([]byte, error)
}

// RefUpdateKind tags whether a RefUpdate sets or removes a reference.
type RefUpdateKind uint8

const (
	RefUpdateSet RefUpdateKind = iota
	RefUpdatePrune
)

// RefUpdate is a single staged change to be applied as part of a batch.
type RefUpdate struct {
	Kind RefUpdateKind
	Name RefName
	Oid  nodeid.ObjectId // ignored for RefUpdatePrune
}

// ErrRefNotFound is returned by Resolve when the named reference does
// not exist.
var ErrRefNotFound = fmt.Errorf("storage: reference not found")
