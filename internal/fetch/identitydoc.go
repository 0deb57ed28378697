package fetch

import (
	"encoding/json"
	"fmt"

	"github.com/weavenet/weave/internal/nodeid"
	"github.com/weavenet/weave/internal/storage"
)

// IdentityDocPath is the path, within the tree of the commit refs/rad/id
// resolves to, of the repository's identity document.
const IdentityDocPath = "identity.json"

// Visibility is a repository identity document's replication scope.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Document is a repository's identity document (spec.md §2): the
// delegate set and quorum threshold that the canonical-quorum engine
// reduces per-delegate tips against, plus the visibility/allow-set that
// bounds who this repository is replicated to.
type Document struct {
	Delegates  []nodeid.NodeId `json:"delegates"`
	Threshold  int             `json:"threshold"`
	Visibility Visibility      `json:"visibility"`
	Allow      []nodeid.NodeId `json:"allow,omitempty"`
}

// DelegateSet returns d's delegates as a lookup set, the shape
// fetch.State.Delegates and the canonical-quorum engine both expect.
func (d Document) DelegateSet() map[nodeid.NodeId]struct{} {
	set := make(map[nodeid.NodeId]struct{}, len(d.Delegates))
	for _, id := range d.Delegates {
		set[id] = struct{}{}
	}
	return set
}

// ReadIdentityDocument reads and parses the identity document at the
// commit repo's refs/rad/id currently resolves to.
func ReadIdentityDocument(repo interface {
	storage.ReadRepository
	storage.TreeReader
}) (Document, error) {
	tip, err := repo.Resolve(RadId)
	if err != nil {
		return Document{}, fmt.Errorf("fetch: resolving %s: %w", RadId, err)
	}
	return ReadIdentityDocumentAt(repo, tip)
}

// ReadIdentityDocumentAt reads and parses the identity document at a
// specific commit, used when validating a just-fetched rad/id before
// it is adopted as the local tip.
func ReadIdentityDocumentAt(repo storage.TreeReader, at nodeid.ObjectId) (Document, error) {
	data, err := repo.ReadFileAt(at, IdentityDocPath)
	if err != nil {
		return Document{}, fmt.Errorf("fetch: reading identity document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("fetch: parsing identity document: %w", err)
	}
	if len(doc.Delegates) == 0 {
		return Document{}, fmt.Errorf("fetch: identity document has no delegates")
	}
	if doc.Threshold <= 0 || doc.Threshold > len(doc.Delegates) {
		return Document{}, fmt.Errorf("fetch: identity document threshold %d invalid for %d delegates", doc.Threshold, len(doc.Delegates))
	}
	return doc, nil
}
