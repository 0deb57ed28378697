package transport

import (
	"sync"

	"github.com/weavenet/weave/internal/fetch"
	"github.com/weavenet/weave/internal/nodeid"
	"github.com/weavenet/weave/internal/storage"
)

// FileRepoCache implements service.RepoCache against an already-opened
// set of GitRepository instances (via RepoOpener), giving the service
// loop a view of cached sigrefs tips and identity-document delegate
// sets. Opened repositories are kept, but each call reads the
// repository's refs (and, for Delegates, its identity document) on the
// caller's goroutine.
type FileRepoCache struct {
	opener RepoOpener

	mu    sync.Mutex
	repos map[nodeid.RepoId]*storage.GitRepository
}

// NewFileRepoCache wires a FileRepoCache around opener, the same
// repository opener a Node uses to service fetches.
func NewFileRepoCache(opener RepoOpener) *FileRepoCache {
	return &FileRepoCache{opener: opener, repos: make(map[nodeid.RepoId]*storage.GitRepository)}
}

func (c *FileRepoCache) repo(rid nodeid.RepoId) (*storage.GitRepository, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.repos[rid]; ok {
		return r, nil
	}
	r, err := c.opener(rid)
	if err != nil {
		return nil, err
	}
	c.repos[rid] = r
	return r, nil
}

// CachedTip satisfies service.RepoCache.
func (c *FileRepoCache) CachedTip(rid nodeid.RepoId, remote nodeid.NodeId) (nodeid.ObjectId, bool) {
	r, err := c.repo(rid)
	if err != nil {
		return nodeid.ObjectId{}, false
	}
	oid, err := r.Resolve(fetch.NamespacedRef(remote, fetch.RadSigrefs))
	if err != nil {
		return nodeid.ObjectId{}, false
	}
	return oid, true
}

// Delegates satisfies service.RepoCache by reading the repository's
// current identity document.
func (c *FileRepoCache) Delegates(rid nodeid.RepoId) (map[nodeid.NodeId]struct{}, bool) {
	r, err := c.repo(rid)
	if err != nil {
		return nil, false
	}
	doc, err := fetch.ReadIdentityDocument(r)
	if err != nil {
		return nil, false
	}
	return doc.DelegateSet(), true
}
