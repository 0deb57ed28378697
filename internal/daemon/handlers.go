package daemon

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/weavenet/weave/internal/nodeid"
	"github.com/weavenet/weave/internal/policy"
	"github.com/weavenet/weave/internal/service"
	"github.com/weavenet/weave/internal/wire"
)

// maxRequestBodySize limits the size of JSON request bodies.
const maxRequestBodySize = 1 << 20 // 1 MiB

// registerRoutes wires up the read-only views and the small set of
// mutating commands the service loop accepts.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/sessions", s.handleSessions)
	mux.HandleFunc("GET /v1/peers", s.handlePeers)
	mux.HandleFunc("GET /v1/routes", s.handleRoutes)
	mux.HandleFunc("GET /v1/policy", s.handlePolicy)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	mux.HandleFunc("POST /v1/connect", s.handleConnect)
	mux.HandleFunc("POST /v1/disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /v1/seed", s.handleSeed)
	mux.HandleFunc("POST /v1/unseed", s.handleUnseed)
	mux.HandleFunc("POST /v1/follow", s.handleFollow)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, ErrorResponse{Error: msg})
}

func decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	body := io.LimitReader(r.Body, maxRequestBodySize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "decoding request body: "+err.Error())
		return false
	}
	return true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// handleStatus reports this node's identity, build version, uptime,
// and the number of currently connected sessions.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	connected := 0
	for _, sess := range s.runtime.Sessions() {
		if sess.Phase == service.PhaseNegotiated || sess.Phase == service.PhaseUpgraded {
			connected++
		}
	}
	respondJSON(w, http.StatusOK, StatusResponse{
		Self:           s.runtime.Self().String(),
		Version:        s.runtime.Version(),
		UptimeSeconds:  int(time.Since(s.runtime.StartTime()).Seconds()),
		ConnectedPeers: connected,
	})
}

// handleSessions lists every session the service loop currently tracks,
// connected or mid-handshake.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.runtime.Sessions()
	views := make([]SessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, SessionView{
			Peer:           sess.Peer.String(),
			Link:           linkString(sess.Link),
			Phase:          sess.Phase.String(),
			LastSeen:       formatTime(sess.LastSeen),
			PendingFetches: sess.PendingFetches,
		})
	}
	respondJSON(w, http.StatusOK, DataResponse{Data: views})
}

func linkString(l service.LinkDirection) string {
	if l == service.LinkOutbound {
		return "outbound"
	}
	return "inbound"
}

// handlePeers renders the address book: every peer this node has ever
// learned an address for, along with standing (penalty) and attempt
// history.
func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	entries, err := s.runtime.KnownPeers()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]PeerView, 0, len(entries))
	for _, e := range entries {
		addrs := make([]string, 0, len(e.Addresses))
		for _, a := range e.Addresses {
			addrs = append(addrs, a.String())
		}
		views = append(views, PeerView{
			Node:        e.Node.String(),
			Alias:       string(e.Alias),
			Penalty:     e.Penalty,
			Attempts:    e.Attempts,
			LastAttempt: formatTime(e.LastAttempt),
			LastConnect: formatTime(e.LastConnect),
			Addresses:   addrs,
		})
	}
	respondJSON(w, http.StatusOK, DataResponse{Data: views})
}

// handleRoutes renders the routing table: which peers are known to seed
// which repositories.
func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	entries, err := s.runtime.Routes()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]RouteView, 0, len(entries))
	for _, e := range entries {
		views = append(views, RouteView{
			Rid:       e.Rid.String(),
			Node:      e.Node.String(),
			Timestamp: formatTime(e.Timestamp),
		})
	}
	respondJSON(w, http.StatusOK, DataResponse{Data: views})
}

// handlePolicy renders the seeding/follow/block policy stores together,
// since operators generally want the full disposition in one request.
func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	seeded, err := s.runtime.Seeded()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	followed, err := s.runtime.Followed()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	blocked, err := s.runtime.BlockedPeers()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := PolicyResponse{
		Seeded:   make([]SeedingView, 0, len(seeded)),
		Followed: make([]FollowedView, 0, len(followed)),
		Blocked:  make([]BlockedView, 0, len(blocked)),
	}
	for _, sp := range seeded {
		resp.Seeded = append(resp.Seeded, SeedingView{Rid: sp.Rid.String(), Scope: sp.Scope.String()})
	}
	for _, f := range followed {
		resp.Followed = append(resp.Followed, FollowedView{Node: f.Node.String(), Alias: string(f.Alias)})
	}
	for _, b := range blocked {
		resp.Blocked = append(resp.Blocked, BlockedView{Node: b.Node.String(), Reason: b.Reason})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleEvents renders the most recent structured log records captured
// by the server's EventLog.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	records := s.events.Recent(200)
	views := make([]EventView, 0, len(records))
	for _, rec := range records {
		views = append(views, EventView{
			Time:    formatTime(rec.Time),
			Level:   rec.Level,
			Message: rec.Message,
			Attrs:   rec.Attrs,
		})
	}
	respondJSON(w, http.StatusOK, DataResponse{Data: views})
}

// handleConnect enqueues a connect command onto the service loop for
// the given peer/address pair.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	peer, err := nodeid.ParseNodeId(req.Peer)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid peer: "+err.Error())
		return
	}
	addr, err := wire.ParseAddress(req.Addr)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid addr: "+err.Error())
		return
	}
	s.runtime.Submit(service.Command{Kind: service.CommandConnect, Peer: peer, Addr: addr})
	respondJSON(w, http.StatusAccepted, DataResponse{Data: "connect submitted"})
}

// handleDisconnect enqueues a disconnect command for the given peer.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req DisconnectRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	peer, err := nodeid.ParseNodeId(req.Peer)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid peer: "+err.Error())
		return
	}
	s.runtime.Submit(service.Command{Kind: service.CommandDisconnect, Peer: peer})
	respondJSON(w, http.StatusAccepted, DataResponse{Data: "disconnect submitted"})
}

// handleSeed enqueues a seed command for the given repository/scope.
func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	var req SeedRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	rid, err := parseRepoId(req.Rid)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rid: "+err.Error())
		return
	}
	scope := policy.ScopeFollowed
	switch req.Scope {
	case "", "followed":
	case "all":
		scope = policy.ScopeAll
	default:
		respondError(w, http.StatusBadRequest, `scope must be "all" or "followed"`)
		return
	}
	s.runtime.Submit(service.Command{Kind: service.CommandSeed, Rid: rid, Scope: scope})
	respondJSON(w, http.StatusAccepted, DataResponse{Data: "seed submitted"})
}

// handleUnseed enqueues an unseed command for the given repository.
func (s *Server) handleUnseed(w http.ResponseWriter, r *http.Request) {
	var req UnseedRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	rid, err := parseRepoId(req.Rid)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rid: "+err.Error())
		return
	}
	s.runtime.Submit(service.Command{Kind: service.CommandUnseed, Rid: rid})
	respondJSON(w, http.StatusAccepted, DataResponse{Data: "unseed submitted"})
}

// handleFollow enqueues a follow command for the given peer.
func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	var req FollowRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	peer, err := nodeid.ParseNodeId(req.Peer)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid peer: "+err.Error())
		return
	}
	s.runtime.Submit(service.Command{Kind: service.CommandFollow, Peer: peer, Alias: req.Alias})
	respondJSON(w, http.StatusAccepted, DataResponse{Data: "follow submitted"})
}

func parseRepoId(s string) (nodeid.RepoId, error) {
	oid, err := nodeid.ObjectIdFromHex(s)
	if err != nil {
		return nodeid.RepoId{}, err
	}
	return nodeid.RepoId{Oid: oid}, nil
}
