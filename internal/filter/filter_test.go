package filter

import (
	"testing"

	"github.com/weavenet/weave/internal/nodeid"
)

func mustRepoId(t *testing.T, hex string) nodeid.RepoId {
	t.Helper()
	oid, err := nodeid.ObjectIdFromHex(hex)
	if err != nil {
		t.Fatalf("ObjectIdFromHex: %v", err)
	}
	return nodeid.RepoId{Oid: oid}
}

func TestFilterInsertContains(t *testing.T) {
	f := New()
	rid := mustRepoId(t, "356a192b7913b04c54574d18c28d46e6395428ab")
	other := mustRepoId(t, "da4b9237bacccdf19c0760cab7aec4a8359010b0")

	if f.Contains(rid) {
		t.Fatal("empty filter should not contain anything (modulo astronomically unlikely collision)")
	}

	f.Insert(rid)
	if !f.Contains(rid) {
		t.Fatal("expected inserted repo id to be contained")
	}
	_ = other
}

func TestFilterSizeValidation(t *testing.T) {
	if _, err := NewSized(Sizes[0]); err != nil {
		t.Fatalf("expected valid size to succeed: %v", err)
	}
	if _, err := NewSized(Sizes[0] / 3); err == nil {
		t.Fatal("expected invalid size to fail")
	}
	if _, err := FromBytes(make([]byte, 17)); err == nil {
		t.Fatal("expected FromBytes with bad size to fail")
	}
}

func TestFilterBytesRoundTrip(t *testing.T) {
	f := New()
	rid := mustRepoId(t, "356a192b7913b04c54574d18c28d46e6395428ab")
	f.Insert(rid)

	decoded, err := FromBytes(f.Bytes())
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if !decoded.Contains(rid) {
		t.Fatal("expected round-tripped filter to still contain the inserted id")
	}
}
