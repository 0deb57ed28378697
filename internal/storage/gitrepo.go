package storage

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/packfile"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/revlist"
	gogitstorage "github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/filesystem"

	billyosfs "github.com/go-git/go-billy/v5/osfs"
	mh "github.com/multiformats/go-multihash"

	"github.com/weavenet/weave/internal/nodeid"
)

// GitRepository adapts a bare on-disk Git repository, managed through
// go-git, to the ReadRepository/WriteRepository/SigningRepository
// interfaces the rest of weave is built against. One GitRepository
// exists per locally-held repository, keyed by its RepoId.
type GitRepository struct {
	id     nodeid.RepoId
	repo   *gogit.Repository
	storer gogitstorage.Storer
	signer nodeid.Signer
}

// OpenGitRepository opens (or, if absent, bare-initializes) the
// repository at dir, identified by id.
func OpenGitRepository(dir string, id nodeid.RepoId, signer nodeid.Signer) (*GitRepository, error) {
	fs := billyosfs.New(dir)
	st := filesystem.NewStorage(fs, nil)

	repo, err := gogit.Open(st, nil)
	if err == gogit.ErrRepositoryNotExists {
		repo, err = gogit.Init(st, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: opening %s: %w", dir, err)
	}

	return &GitRepository{id: id, repo: repo, storer: st, signer: signer}, nil
}

func (g *GitRepository) Id() nodeid.RepoId { return g.id }

func (g *GitRepository) Signer() nodeid.Signer { return g.signer }

func hashOf(o nodeid.ObjectId) (plumbing.Hash, error) {
	digest, err := o.Digest()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	var h plumbing.Hash
	if len(digest) != len(h) {
		return plumbing.ZeroHash, fmt.Errorf("storage: unexpected digest length %d", len(digest))
	}
	copy(h[:], digest)
	return h, nil
}

func objectIdOf(h plumbing.Hash) (nodeid.ObjectId, error) {
	return nodeid.NewObjectId(mh.SHA1, h[:])
}

func (g *GitRepository) commit(o nodeid.ObjectId) (*object.Commit, error) {
	h, err := hashOf(o)
	if err != nil {
		return nil, err
	}
	return object.GetCommit(g.storer, h)
}

// MergeBase satisfies canonical.Repository.
func (g *GitRepository) MergeBase(a, b nodeid.ObjectId) (nodeid.ObjectId, error) {
	ca, err := g.commit(a)
	if err != nil {
		return nodeid.ObjectId{}, err
	}
	cb, err := g.commit(b)
	if err != nil {
		return nodeid.ObjectId{}, err
	}
	bases, err := ca.MergeBase(cb)
	if err != nil {
		return nodeid.ObjectId{}, err
	}
	if len(bases) == 0 {
		return nodeid.ObjectId{}, fmt.Errorf("storage: no merge base between %s and %s", a, b)
	}
	return objectIdOf(bases[0].Hash)
}

// IsAncestor reports whether a is an ancestor of (or equal to) b.
func (g *GitRepository) IsAncestor(a, b nodeid.ObjectId) (bool, error) {
	if a == b {
		return true, nil
	}
	ca, err := g.commit(a)
	if err != nil {
		return false, err
	}
	cb, err := g.commit(b)
	if err != nil {
		return false, err
	}
	return ca.IsAncestor(cb)
}

// Resolve looks up the object a reference currently points at.
func (g *GitRepository) Resolve(name RefName) (nodeid.ObjectId, error) {
	ref, err := g.storer.Reference(plumbing.ReferenceName(name))
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return nodeid.ObjectId{}, ErrRefNotFound
		}
		return nodeid.ObjectId{}, err
	}
	return objectIdOf(ref.Hash())
}

// References lists every reference whose name has the given prefix.
func (g *GitRepository) References(prefix string) (Refs, error) {
	iter, err := g.storer.IterReferences()
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make(Refs)
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().String()
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		oid, err := objectIdOf(ref.Hash())
		if err != nil {
			return err
		}
		out[RefName(name)] = oid
		return nil
	})
	return out, err
}

// ApplyUpdates applies a batch of ref changes as a single pass: go-git's
// reference storer has no multi-ref transaction primitive, so every set
// update's object id is first checked to convert to a SHA-1 hash, and
// only then are the refs written one by one. A storer error or process
// crash partway through leaves the earlier refs of the batch written.
func (g *GitRepository) ApplyUpdates(updates []RefUpdate) error {
	for _, u := range updates {
		if u.Kind == RefUpdatePrune {
			continue
		}
		if _, err := hashOf(u.Oid); err != nil {
			return fmt.Errorf("storage: update %s: %w", u.Name, err)
		}
	}
	for _, u := range updates {
		name := plumbing.ReferenceName(u.Name)
		switch u.Kind {
		case RefUpdateSet:
			h, _ := hashOf(u.Oid)
			if err := g.storer.SetReference(plumbing.NewHashReference(name, h)); err != nil {
				return fmt.Errorf("storage: setting %s: %w", u.Name, err)
			}
		case RefUpdatePrune:
			if err := g.storer.RemoveReference(name); err != nil {
				return fmt.Errorf("storage: removing %s: %w", u.Name, err)
			}
		}
	}
	return nil
}

// ObjectsFor computes the set of objects reachable from wants but not
// from haves, the same want/have diff Git's own fetch negotiation
// performs, used to build a packfile response.
func (g *GitRepository) ObjectsFor(wants, haves []nodeid.ObjectId) ([]plumbing.Hash, error) {
	wantHashes := make([]plumbing.Hash, 0, len(wants))
	for _, w := range wants {
		h, err := hashOf(w)
		if err != nil {
			return nil, err
		}
		wantHashes = append(wantHashes, h)
	}
	haveHashes := make([]plumbing.Hash, 0, len(haves))
	for _, h := range haves {
		hh, err := hashOf(h)
		if err != nil {
			return nil, err
		}
		haveHashes = append(haveHashes, hh)
	}
	return revlist.Objects(g.storer, wantHashes, haveHashes)
}

// WritePack encodes a packfile containing every object reachable from
// wants but not haves, writing it to w. Returns the number of bytes
// written so callers can enforce a size budget without double-buffering.
func (g *GitRepository) WritePack(w io.Writer, wants, haves []nodeid.ObjectId) (int64, error) {
	hashes, err := g.ObjectsFor(wants, haves)
	if err != nil {
		return 0, err
	}
	sort.Slice(hashes, func(i, j int) bool { return bytes.Compare(hashes[i][:], hashes[j][:]) < 0 })

	counter := &countingWriter{w: w}
	enc := packfile.NewEncoder(counter, g.storer, false)
	if _, err := enc.Encode(hashes, 10); err != nil {
		return counter.n, err
	}
	return counter.n, nil
}

// ReadPack decodes a packfile read from r, bounded to limit bytes,
// storing every object it contains into the local object database.
func (g *GitRepository) ReadPack(r io.Reader, limit int64) error {
	lr := &io.LimitedReader{R: r, N: limit + 1}
	if err := packfile.UpdateObjectStorage(g.storer, lr); err != nil {
		return err
	}
	if lr.N <= 0 {
		return fmt.Errorf("storage: pack exceeded %d byte limit", limit)
	}
	return nil
}

// WriteBlob stores data as a loose blob object and returns its id. Used
// to persist a signed Sigrefs snapshot as the content refs/rad/sigrefs
// points to, since a Sigrefs carries more than a single ref can.
func (g *GitRepository) WriteBlob(data []byte) (nodeid.ObjectId, error) {
	obj := g.storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))
	w, err := obj.Writer()
	if err != nil {
		return nodeid.ObjectId{}, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nodeid.ObjectId{}, err
	}
	if err := w.Close(); err != nil {
		return nodeid.ObjectId{}, err
	}
	h, err := g.storer.SetEncodedObject(obj)
	if err != nil {
		return nodeid.ObjectId{}, err
	}
	return objectIdOf(h)
}

// ReadBlob returns the content of the blob object oid.
func (g *GitRepository) ReadBlob(oid nodeid.ObjectId) ([]byte, error) {
	h, err := hashOf(oid)
	if err != nil {
		return nil, err
	}
	blob, err := object.GetBlob(g.storer, h)
	if err != nil {
		return nil, err
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// ReadFileAt returns the content of the file at path in the tree commit
// points to, used to read a repository's identity document out of the
// commit refs/rad/id resolves to.
func (g *GitRepository) ReadFileAt(commit nodeid.ObjectId, path string) ([]byte, error) {
	c, err := g.commit(commit)
	if err != nil {
		return nil, err
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, err
	}
	f, err := tree.File(path)
	if err != nil {
		return nil, fmt.Errorf("storage: %s not found at %s: %w", path, commit, err)
	}
	r, err := f.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
