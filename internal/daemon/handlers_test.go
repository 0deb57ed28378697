package daemon

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/weavenet/weave/internal/address"
	"github.com/weavenet/weave/internal/nodeid"
	"github.com/weavenet/weave/internal/policy"
	"github.com/weavenet/weave/internal/routing"
	"github.com/weavenet/weave/internal/service"
	"github.com/weavenet/weave/internal/wire"
)

func newHandlerServer(t *testing.T) (*Server, *fakeRuntime) {
	t.Helper()
	srv, rt, _ := newTestServer(t)
	return srv, rt
}

func decodeEnvelope[T any](t *testing.T, body []byte) T {
	t.Helper()
	var env struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	return env.Data
}

func TestHandleStatus(t *testing.T) {
	srv, rt := newHandlerServer(t)

	req := httptest.NewRequest("GET", "/v1/status", nil)
	rec := httptest.NewRecorder()
	srv.handleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Self != rt.self.String() {
		t.Errorf("Self = %q, want %q", resp.Self, rt.self.String())
	}
	if resp.UptimeSeconds < 59 {
		t.Errorf("UptimeSeconds = %d, want >= 59", resp.UptimeSeconds)
	}
}

func TestHandleSessions(t *testing.T) {
	srv, rt := newHandlerServer(t)
	peer := mustClientPeer(t)
	rt.sessions[peer] = service.Session{
		Peer:     peer,
		Link:     service.LinkOutbound,
		Phase:    service.PhaseUpgraded,
		LastSeen: time.Now(),
	}

	req := httptest.NewRequest("GET", "/v1/sessions", nil)
	rec := httptest.NewRecorder()
	srv.handleSessions(rec, req)

	views := decodeEnvelope[[]SessionView](t, rec.Body.Bytes())
	if len(views) != 1 {
		t.Fatalf("got %d sessions, want 1", len(views))
	}
	if views[0].Link != "outbound" {
		t.Errorf("Link = %q, want outbound", views[0].Link)
	}
	if views[0].Phase != "upgraded" {
		t.Errorf("Phase = %q, want upgraded", views[0].Phase)
	}
}

func TestHandlePeers(t *testing.T) {
	srv, rt := newHandlerServer(t)
	peer := mustClientPeer(t)
	addr, err := wire.ParseAddress("192.0.2.1:4242")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	rt.peers = []address.Entry{{Node: peer, Alias: "bob", Penalty: 3, Addresses: []wire.Address{addr}}}

	req := httptest.NewRequest("GET", "/v1/peers", nil)
	rec := httptest.NewRecorder()
	srv.handlePeers(rec, req)

	views := decodeEnvelope[[]PeerView](t, rec.Body.Bytes())
	if len(views) != 1 {
		t.Fatalf("got %d peers, want 1", len(views))
	}
	if views[0].Alias != "bob" {
		t.Errorf("Alias = %q, want bob", views[0].Alias)
	}
	if len(views[0].Addresses) != 1 {
		t.Fatalf("got %d addresses, want 1", len(views[0].Addresses))
	}
}

func TestHandleRoutes(t *testing.T) {
	srv, rt := newHandlerServer(t)
	rid := mustClientRepoId(t)
	node := mustClientPeer(t)
	rt.routes = []routing.Entry{{Rid: rid, Node: node, Timestamp: time.Now()}}

	req := httptest.NewRequest("GET", "/v1/routes", nil)
	rec := httptest.NewRecorder()
	srv.handleRoutes(rec, req)

	views := decodeEnvelope[[]RouteView](t, rec.Body.Bytes())
	if len(views) != 1 {
		t.Fatalf("got %d routes, want 1", len(views))
	}
	if views[0].Rid != rid.String() {
		t.Errorf("Rid = %q, want %q", views[0].Rid, rid.String())
	}
}

func TestHandlePolicy(t *testing.T) {
	srv, rt := newHandlerServer(t)
	rid := mustClientRepoId(t)
	peer := mustClientPeer(t)
	rt.seeded = []policy.SeedingPolicy{{Rid: rid, Seed: true, Scope: policy.ScopeAll}}
	rt.followed = []policy.FollowedPeer{{Node: peer, Alias: "carol"}}
	rt.blocked = []policy.BlockedPeer{{Node: peer, Reason: "spam"}}

	req := httptest.NewRequest("GET", "/v1/policy", nil)
	rec := httptest.NewRecorder()
	srv.handlePolicy(rec, req)

	var resp PolicyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Seeded) != 1 || resp.Seeded[0].Scope != "all" {
		t.Errorf("Seeded = %+v", resp.Seeded)
	}
	if len(resp.Followed) != 1 || resp.Followed[0].Alias != "carol" {
		t.Errorf("Followed = %+v", resp.Followed)
	}
	if len(resp.Blocked) != 1 || resp.Blocked[0].Reason != "spam" {
		t.Errorf("Blocked = %+v", resp.Blocked)
	}
}

func TestHandleEvents(t *testing.T) {
	srv, _ := newHandlerServer(t)
	logRec := slog.NewRecord(time.Now(), slog.LevelWarn, "fetch failed", 0)
	srv.events.Handle(context.Background(), logRec)

	req := httptest.NewRequest("GET", "/v1/events", nil)
	rec := httptest.NewRecorder()
	srv.handleEvents(rec, req)

	views := decodeEnvelope[[]EventView](t, rec.Body.Bytes())
	if len(views) != 1 {
		t.Fatalf("got %d events, want 1", len(views))
	}
	if views[0].Message != "fetch failed" {
		t.Errorf("Message = %q", views[0].Message)
	}
}

func TestHandleConnect(t *testing.T) {
	srv, rt := newHandlerServer(t)
	peer := mustClientPeer(t)

	body, _ := json.Marshal(ConnectRequest{Peer: peer.String(), Addr: "192.0.2.5:9000"})
	req := httptest.NewRequest("POST", "/v1/connect", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	srv.handleConnect(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body = %s", rec.Code, rec.Body.String())
	}
	if len(rt.commands) != 1 || rt.commands[0].Kind != service.CommandConnect {
		t.Fatalf("commands = %+v", rt.commands)
	}
}

func TestHandleConnect_InvalidPeer(t *testing.T) {
	srv, _ := newHandlerServer(t)

	body, _ := json.Marshal(ConnectRequest{Peer: "not-a-node-id", Addr: "192.0.2.5:9000"})
	req := httptest.NewRequest("POST", "/v1/connect", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	srv.handleConnect(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleDisconnect(t *testing.T) {
	srv, rt := newHandlerServer(t)
	peer := mustClientPeer(t)

	body, _ := json.Marshal(DisconnectRequest{Peer: peer.String()})
	req := httptest.NewRequest("POST", "/v1/disconnect", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	srv.handleDisconnect(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(rt.commands) != 1 || rt.commands[0].Kind != service.CommandDisconnect {
		t.Fatalf("commands = %+v", rt.commands)
	}
}

func TestHandleSeed(t *testing.T) {
	srv, rt := newHandlerServer(t)
	rid := mustClientRepoId(t)

	body, _ := json.Marshal(SeedRequest{Rid: rid.String(), Scope: "all"})
	req := httptest.NewRequest("POST", "/v1/seed", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	srv.handleSeed(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body = %s", rec.Code, rec.Body.String())
	}
	if len(rt.commands) != 1 || rt.commands[0].Scope != policy.ScopeAll {
		t.Fatalf("commands = %+v", rt.commands)
	}
}

func TestHandleSeed_InvalidScope(t *testing.T) {
	srv, _ := newHandlerServer(t)
	rid := mustClientRepoId(t)

	body, _ := json.Marshal(SeedRequest{Rid: rid.String(), Scope: "bogus"})
	req := httptest.NewRequest("POST", "/v1/seed", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	srv.handleSeed(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleUnseed(t *testing.T) {
	srv, rt := newHandlerServer(t)
	rid := mustClientRepoId(t)

	body, _ := json.Marshal(UnseedRequest{Rid: rid.String()})
	req := httptest.NewRequest("POST", "/v1/unseed", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	srv.handleUnseed(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(rt.commands) != 1 || rt.commands[0].Kind != service.CommandUnseed {
		t.Fatalf("commands = %+v", rt.commands)
	}
}

func TestHandleFollow(t *testing.T) {
	srv, rt := newHandlerServer(t)
	peer := mustClientPeer(t)

	body, _ := json.Marshal(FollowRequest{Peer: peer.String(), Alias: "dave"})
	req := httptest.NewRequest("POST", "/v1/follow", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	srv.handleFollow(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(rt.commands) != 1 || rt.commands[0].Alias != "dave" {
		t.Fatalf("commands = %+v", rt.commands)
	}
}

func TestHandleFollow_InvalidBody(t *testing.T) {
	srv, _ := newHandlerServer(t)

	req := httptest.NewRequest("POST", "/v1/follow", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	srv.handleFollow(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func mustClientRepoId(t *testing.T) nodeid.RepoId {
	t.Helper()
	oid, err := nodeid.ObjectIdFromHex("356a192b7913b04c54574d18c28d46e6395428ab")
	if err != nil {
		t.Fatalf("ObjectIdFromHex: %v", err)
	}
	return nodeid.RepoId{Oid: oid}
}

