package storage

import (
	"testing"

	"github.com/weavenet/weave/internal/nodeid"
)

func oid(t *testing.T, hex string) nodeid.ObjectId {
	t.Helper()
	id, err := nodeid.ObjectIdFromHex(hex)
	if err != nil {
		t.Fatalf("ObjectIdFromHex(%q): %v", hex, err)
	}
	return id
}

func TestMemRepositorySetReadFileAt(t *testing.T) {
	commit := oid(t, "356a192b7913b04c54574d18c28d46e6395428ab")
	repo := NewMemRepository(RepoId{Oid: commit}, nil)

	repo.SetFileAt(commit, "identity.json", []byte(`{"threshold":1}`))

	data, err := repo.ReadFileAt(commit, "identity.json")
	if err != nil {
		t.Fatalf("ReadFileAt: %v", err)
	}
	if string(data) != `{"threshold":1}` {
		t.Fatalf("got %q", data)
	}

	if _, err := repo.ReadFileAt(commit, "missing.json"); err == nil {
		t.Fatal("expected error reading unregistered path")
	}

	other := oid(t, "109f4b3c50d7b0df729d299bc6f8e9ef9066971f")
	if _, err := repo.ReadFileAt(other, "identity.json"); err == nil {
		t.Fatal("expected error reading path at a different commit")
	}
}

func TestMemRepositoryAncestryAndMergeBase(t *testing.T) {
	root := oid(t, "356a192b7913b04c54574d18c28d46e6395428ab")
	left := oid(t, "109f4b3c50d7b0df729d299bc6f8e9ef9066971f")
	right := oid(t, "da4b9237bacccdf19c0760cab7aec4a8359010b0")
	tip := oid(t, "77de68daecd823babbb58edb1c8e14d7106e83bb")

	repo := NewMemRepository(RepoId{Oid: root}, nil)
	repo.AddCommit(root)
	repo.AddCommit(left, root)
	repo.AddCommit(right, root)
	repo.AddCommit(tip, left, right)

	ok, err := repo.IsAncestor(root, tip)
	if err != nil {
		t.Fatalf("IsAncestor: %v", err)
	}
	if !ok {
		t.Fatal("expected root to be an ancestor of tip")
	}

	ok, err = repo.IsAncestor(tip, root)
	if err != nil {
		t.Fatalf("IsAncestor: %v", err)
	}
	if ok {
		t.Fatal("expected tip not to be an ancestor of root")
	}

	base, err := repo.MergeBase(left, right)
	if err != nil {
		t.Fatalf("MergeBase: %v", err)
	}
	if base != root {
		t.Fatalf("MergeBase(left, right) = %v, want %v", base, root)
	}
}

func TestMemRepositoryApplyUpdatesAndResolve(t *testing.T) {
	commit := oid(t, "356a192b7913b04c54574d18c28d46e6395428ab")
	repo := NewMemRepository(RepoId{Oid: commit}, nil)

	if err := repo.ApplyUpdates([]RefUpdate{{Kind: RefUpdateSet, Name: "refs/heads/master", Oid: commit}}); err != nil {
		t.Fatalf("ApplyUpdates: %v", err)
	}

	got, err := repo.Resolve("refs/heads/master")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != commit {
		t.Fatalf("Resolve = %v, want %v", got, commit)
	}

	refs, err := repo.References("refs/heads/")
	if err != nil {
		t.Fatalf("References: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("References returned %d entries, want 1", len(refs))
	}

	if err := repo.ApplyUpdates([]RefUpdate{{Kind: RefUpdatePrune, Name: "refs/heads/master"}}); err != nil {
		t.Fatalf("ApplyUpdates prune: %v", err)
	}
	if _, err := repo.Resolve("refs/heads/master"); err != ErrRefNotFound {
		t.Fatalf("Resolve after prune = %v, want ErrRefNotFound", err)
	}
}
