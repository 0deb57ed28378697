package service

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/weavenet/weave/internal/address"
	"github.com/weavenet/weave/internal/nodeid"
	"github.com/weavenet/weave/internal/policy"
	"github.com/weavenet/weave/internal/routing"
	"github.com/weavenet/weave/internal/wire"
)

// fakeRepoCache is a RepoCache test double: every repository is
// unknown (never cached, no identity document) unless explicitly
// registered via delegates/tips.
type fakeRepoCache struct {
	tips      map[nodeid.RepoId]map[nodeid.NodeId]nodeid.ObjectId
	delegates map[nodeid.RepoId]map[nodeid.NodeId]struct{}
}

func newFakeRepoCache() *fakeRepoCache {
	return &fakeRepoCache{
		tips:      make(map[nodeid.RepoId]map[nodeid.NodeId]nodeid.ObjectId),
		delegates: make(map[nodeid.RepoId]map[nodeid.NodeId]struct{}),
	}
}

func (f *fakeRepoCache) CachedTip(rid nodeid.RepoId, remote nodeid.NodeId) (nodeid.ObjectId, bool) {
	oid, ok := f.tips[rid][remote]
	return oid, ok
}

func (f *fakeRepoCache) Delegates(rid nodeid.RepoId) (map[nodeid.NodeId]struct{}, bool) {
	set, ok := f.delegates[rid]
	return set, ok
}

func newTestService(t *testing.T, cache RepoCache) *Service {
	t.Helper()
	dir := t.TempDir()

	addrs, err := address.Open(filepath.Join(dir, "node.db"))
	if err != nil {
		t.Fatalf("address.Open: %v", err)
	}
	t.Cleanup(func() { addrs.Close() })

	routes, err := routing.Open(filepath.Join(dir, "routing.db"), 1024, 24*time.Hour)
	if err != nil {
		t.Fatalf("routing.Open: %v", err)
	}
	t.Cleanup(func() { routes.Close() })

	pol, err := policy.Open(filepath.Join(dir, "policy.db"), policy.DefaultPolicy{Default: policy.DefaultAllow, Scope: policy.ScopeFollowed})
	if err != nil {
		t.Fatalf("policy.Open: %v", err)
	}
	t.Cleanup(func() { pol.Close() })

	self := mustNodeId(t)
	return New(self, DefaultConfig(), addrs, routes, pol, cache)
}

func mustNodeId(t *testing.T) nodeid.NodeId {
	t.Helper()
	signer, err := nodeid.GenerateSigner()
	if err != nil {
		t.Fatalf("GenerateSigner: %v", err)
	}
	return signer.NodeId()
}

func mustRepoId(t *testing.T, hex string) nodeid.RepoId {
	t.Helper()
	oid, err := nodeid.ObjectIdFromHex(hex)
	if err != nil {
		t.Fatalf("ObjectIdFromHex: %v", err)
	}
	return nodeid.RepoId{Oid: oid}
}

func mustObjectId(t *testing.T, hex string) nodeid.ObjectId {
	t.Helper()
	oid, err := nodeid.ObjectIdFromHex(hex)
	if err != nil {
		t.Fatalf("ObjectIdFromHex: %v", err)
	}
	return oid
}

func TestApplyRefsAnnouncementPopulatesFetchScope(t *testing.T) {
	cache := newFakeRepoCache()
	svc := newTestService(t, cache)

	rid := mustRepoId(t, "356a192b7913b04c54574d18c28d46e6395428ab")
	announcer := mustNodeId(t)
	delegate := mustNodeId(t)
	blockedSeeder := mustNodeId(t)
	remoteTip := mustObjectId(t, "109f4b3c50d7b0df729d299bc6f8e9ef9066971f")

	cache.delegates[rid] = map[nodeid.NodeId]struct{}{delegate: {}}

	if err := svc.pol.Seed(rid, policy.ScopeAll); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := svc.routes.Observe(rid, blockedSeeder, time.Now()); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if err := svc.pol.Block(blockedSeeder, "test"); err != nil {
		t.Fatalf("Block: %v", err)
	}

	ra := wire.RefsAnnouncement{
		Rid:  rid,
		Refs: []wire.RefsAt{{Remote: announcer, Oid: remoteTip}},
	}

	io := svc.applyRefsAnnouncement(ra, announcer)
	if len(io) != 1 {
		t.Fatalf("expected one fetch Io, got %d", len(io))
	}
	intent := io[0].Fetch
	if intent == nil {
		t.Fatal("expected a FetchIntent")
	}

	if intent.Scope != FetchScopeAll {
		t.Fatalf("Scope = %v, want FetchScopeAll", intent.Scope)
	}
	if len(intent.Delegates) != 1 || intent.Delegates[0] != delegate {
		t.Fatalf("Delegates = %v, want [%v]", intent.Delegates, delegate)
	}

	foundSeeder := false
	for _, p := range intent.SeededPeers {
		if p == blockedSeeder {
			foundSeeder = true
		}
	}
	if !foundSeeder {
		t.Fatalf("SeededPeers = %v, want to include %v", intent.SeededPeers, blockedSeeder)
	}

	foundBlocked := false
	for _, b := range intent.Blocked {
		if b == blockedSeeder {
			foundBlocked = true
		}
	}
	if !foundBlocked {
		t.Fatalf("Blocked = %v, want to include %v", intent.Blocked, blockedSeeder)
	}
}

func TestApplyRefsAnnouncementFollowedScopeOmitsSeeders(t *testing.T) {
	cache := newFakeRepoCache()
	svc := newTestService(t, cache)

	rid := mustRepoId(t, "356a192b7913b04c54574d18c28d46e6395428ab")
	announcer := mustNodeId(t)
	remoteTip := mustObjectId(t, "109f4b3c50d7b0df729d299bc6f8e9ef9066971f")

	if err := svc.pol.Seed(rid, policy.ScopeFollowed); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	ra := wire.RefsAnnouncement{
		Rid:  rid,
		Refs: []wire.RefsAt{{Remote: announcer, Oid: remoteTip}},
	}

	io := svc.applyRefsAnnouncement(ra, announcer)
	if len(io) != 1 {
		t.Fatalf("expected one fetch Io, got %d", len(io))
	}
	intent := io[0].Fetch
	if intent.Scope != FetchScopeFollowed {
		t.Fatalf("Scope = %v, want FetchScopeFollowed", intent.Scope)
	}
	if len(intent.SeededPeers) != 0 {
		t.Fatalf("SeededPeers = %v, want none for followed scope", intent.SeededPeers)
	}
}

func TestApplyRefsAnnouncementUnseededRepoReturnsNoIo(t *testing.T) {
	cache := newFakeRepoCache()
	svc := newTestService(t, cache)

	rid := mustRepoId(t, "356a192b7913b04c54574d18c28d46e6395428ab")
	announcer := mustNodeId(t)
	remoteTip := mustObjectId(t, "109f4b3c50d7b0df729d299bc6f8e9ef9066971f")

	pol, err := policy.Open(filepath.Join(t.TempDir(), "policy.db"), policy.DefaultPolicy{Default: policy.DefaultBlock, Scope: policy.ScopeFollowed})
	if err != nil {
		t.Fatalf("policy.Open: %v", err)
	}
	t.Cleanup(func() { pol.Close() })
	svc.pol = pol

	ra := wire.RefsAnnouncement{
		Rid:  rid,
		Refs: []wire.RefsAt{{Remote: announcer, Oid: remoteTip}},
	}

	if io := svc.applyRefsAnnouncement(ra, announcer); io != nil {
		t.Fatalf("expected no Io for an unseeded repository, got %v", io)
	}
}
