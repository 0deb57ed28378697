// Package service implements the gossip/session state machine of
// spec.md §4.1: the per-peer session bookkeeping, announcement
// acceptance/relay, connection selection, disconnect handling, rate
// limiting, and fetch scheduling. The service loop is single-threaded
// and owns all of this state exclusively (spec.md §5); callers drive
// it by calling Step with one Event at a time and executing the
// returned []Io themselves.
package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/weavenet/weave/internal/address"
	"github.com/weavenet/weave/internal/filter"
	"github.com/weavenet/weave/internal/nodeid"
	"github.com/weavenet/weave/internal/policy"
	"github.com/weavenet/weave/internal/routing"
	"github.com/weavenet/weave/internal/wire"
)

// RepoCache gives the service a fast-path view of each remote's
// locally-cached sigrefs tip, used to partition an incoming
// RefsAnnouncement into want/have (spec.md §4.1 "Refs status") without
// touching the Git object database from the service loop.
type RepoCache interface {
	// CachedTip returns the object id this node currently believes
	// remote's signed refs for rid point at, or ok=false if unknown.
	CachedTip(rid nodeid.RepoId, remote nodeid.NodeId) (oid nodeid.ObjectId, ok bool)

	// Delegates returns rid's identity document delegate set, or
	// ok=false if this node has no identity document for rid yet (e.g.
	// an as-yet-unseen repository, which can only be fetched via the
	// CanonicalId stage's own bootstrap logic).
	Delegates(rid nodeid.RepoId) (set map[nodeid.NodeId]struct{}, ok bool)
}

// Service is the gossip/session state machine.
type Service struct {
	self nodeid.NodeId
	cfg  Config

	addrs   *address.Store
	routes  *routing.Store
	pol     *policy.Store
	cache   RepoCache

	sessions map[nodeid.NodeId]*Session
	dedup    *dedupLRU
	// monotonic tracks, per (node, announcement kind), the timestamp of
	// the most recently accepted announcement — spec.md §3's "timestamp
	// monotonic per (node, variant)" invariant.
	monotonic map[nodeid.NodeId]map[wire.AnnouncementKind]nodeid.Timestamp

	attemptCounts map[nodeid.NodeId]int
	consecRateDrops map[nodeid.NodeId]int
}

// New constructs a Service. self is this node's own identity, used to
// avoid relaying announcements back to their origin and to skip
// self-announcements.
func New(self nodeid.NodeId, cfg Config, addrs *address.Store, routes *routing.Store, pol *policy.Store, cache RepoCache) *Service {
	return &Service{
		self:            self,
		cfg:             cfg,
		addrs:           addrs,
		routes:          routes,
		pol:             pol,
		cache:           cache,
		sessions:        make(map[nodeid.NodeId]*Session),
		dedup:           newDedupLRU(cfg.DedupCapacity),
		monotonic:       make(map[nodeid.NodeId]map[wire.AnnouncementKind]nodeid.Timestamp),
		attemptCounts:   make(map[nodeid.NodeId]int),
		consecRateDrops: make(map[nodeid.NodeId]int),
	}
}

// Step processes one Event and returns the I/O intents it produced.
// This is the only entry point into the service loop's logic; the
// caller (internal/transport) is responsible for actually performing
// each returned Io.
func (s *Service) Step(ev Event, now time.Time) ([]Io, error) {
	switch ev.Kind {
	case EventConnected:
		return s.onConnected(ev.Connected, now), nil
	case EventAttempted:
		return s.onAttempted(ev.Attempted, now), nil
	case EventDisconnected:
		return s.onDisconnected(ev.Disconnected), nil
	case EventReceived:
		return s.onReceived(ev.Received, now)
	case EventCommand:
		return s.onCommand(ev.Command, now)
	case EventWake:
		return s.onWake(ev.Wake), nil
	default:
		return nil, fmt.Errorf("service: unknown event kind %d", ev.Kind)
	}
}

func (s *Service) onConnected(ev *ConnectedEvent, now time.Time) []Io {
	sess := NewSession(ev.Peer, ev.Link, now, s.cfg.RateLimit)
	sess.Phase = PhaseNegotiated
	s.sessions[ev.Peer] = sess
	_ = s.addrs.RecordSuccess(ev.Peer, now)
	return []Io{{Kind: IoWrite, Peer: ev.Peer, Messages: []wire.Message{{
		Kind:      wire.MessageKindSubscribe,
		Subscribe: &wire.Subscribe{Filter: filter.NewAll(), Since: 0, Until: ^nodeid.Timestamp(0)},
	}}}}
}

func (s *Service) onAttempted(ev *AttemptedEvent, now time.Time) []Io {
	_ = s.addrs.RecordAttempt(ev.Peer, now)
	if ev.Err == nil {
		return nil
	}
	s.attemptCounts[ev.Peer]++
	return nil
}

func (s *Service) onDisconnected(ev *DisconnectedEvent) []Io {
	delete(s.sessions, ev.Peer)
	delete(s.consecRateDrops, ev.Peer)

	var penalty uint8
	switch ev.Reason {
	case DisconnectSession:
		penalty = uint8(severityOf(ev.Cause))
	case DisconnectConnection:
		penalty = uint8(SeverityLow)
	}
	until := time.Time{}
	if penalty >= uint8(SeverityHigh) {
		until = time.Now().Add(s.cfg.QuarantineDuration)
	}
	if penalty > 0 {
		_ = s.addrs.Penalize(ev.Peer, penalty, until)
	}
	return nil
}

// severityOf classifies a Session-disconnect cause into a penalty
// severity per spec.md §7's error-kind table.
func severityOf(cause error) Severity {
	switch {
	case cause == nil:
		return SeverityLow
	case errors.Is(cause, ErrParse), errors.Is(cause, ErrSignature):
		return SeverityHigh
	case errors.Is(cause, ErrTimestamp), errors.Is(cause, ErrLayout), errors.Is(cause, ErrCapacity):
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func (s *Service) onReceived(ev *ReceivedEvent, now time.Time) ([]Io, error) {
	sess, ok := s.sessions[ev.Peer]
	if !ok {
		return nil, fmt.Errorf("service: %w: message from unknown session %s", ErrParse, ev.Peer)
	}
	if !sess.AllowInbound() {
		s.consecRateDrops[ev.Peer]++
		if s.consecRateDrops[ev.Peer] >= s.cfg.InboundRateHysteresis {
			return []Io{{Kind: IoDisconnect, Peer: ev.Peer, Reason: DisconnectSession}}, ErrCapacity
		}
		return nil, nil
	}
	s.consecRateDrops[ev.Peer] = 0
	sess.LastSeen = now

	switch ev.Message.Kind {
	case wire.MessageKindSubscribe:
		sess.Sub = Subscription{Filter: ev.Message.Subscribe.Filter, Since: ev.Message.Subscribe.Since, Until: ev.Message.Subscribe.Until}
		return nil, nil
	case wire.MessageKindPing:
		pongLen := ev.Message.Ping.PongLen
		if int(pongLen) > wire.MaxPongZeroes {
			pongLen = wire.MaxPongZeroes
		}
		pong := wire.Message{Kind: wire.MessageKindPong, Pong: &wire.Pong{Zeroes: wire.ZeroBytes{Len: int(pongLen)}}}
		return []Io{{Kind: IoWrite, Peer: ev.Peer, Messages: []wire.Message{pong}}}, nil
	case wire.MessageKindPong, wire.MessageKindInfo:
		return nil, nil
	case wire.MessageKindAnnouncement:
		return s.onAnnouncement(ev.Peer, *ev.Message.Announcement, now)
	default:
		return nil, fmt.Errorf("service: %w: unknown message kind %d", ErrParse, ev.Message.Kind)
	}
}

// onAnnouncement implements spec.md §4.1's "Announcement acceptance"
// and "Dedup & relay loop avoidance" rules.
func (s *Service) onAnnouncement(from nodeid.NodeId, a wire.Announcement, now time.Time) ([]Io, error) {
	if !a.Verify() {
		return nil, fmt.Errorf("%w: announcement from %s", ErrSignature, a.Node)
	}

	ts := time.Unix(int64(a.Timestamp()), 0)
	delta := s.cfg.SkewDelta
	if ts.Before(now.Add(-delta)) || ts.After(now.Add(delta)) {
		return nil, nil // dropped per spec.md §8 scenario 4: no penalty, no fetch
	}

	if a.Message.Kind == wire.AnnouncementKindNode {
		ok, err := MeetsTarget(*a.Message.Node, s.cfg.PowParams, s.cfg.PowMinimumTarget)
		if err != nil {
			return nil, fmt.Errorf("service: pow check: %w", err)
		}
		if !ok {
			return nil, nil // insufficient work: dropped, no penalty (spec.md §8 boundary test)
		}
	}

	key := keyOf(a)
	if s.dedup.SeenBefore(key) {
		return nil, nil
	}
	if perNode, ok := s.monotonic[a.Node]; ok {
		if last, ok := perNode[a.Message.Kind]; ok && a.Timestamp() <= last {
			return nil, nil // not strictly newer per (node, variant)
		}
	} else {
		s.monotonic[a.Node] = make(map[wire.AnnouncementKind]nodeid.Timestamp)
	}
	s.monotonic[a.Node][a.Message.Kind] = a.Timestamp()
	s.dedup.Record(key)

	var io []Io
	switch a.Message.Kind {
	case wire.AnnouncementKindNode:
		s.applyNodeAnnouncement(*a.Message.Node, a.Node)
	case wire.AnnouncementKindInventory:
		s.applyInventoryAnnouncement(*a.Message.Inventory, a.Node, now)
	case wire.AnnouncementKindRefs:
		fetchIo := s.applyRefsAnnouncement(*a.Message.Refs, from)
		io = append(io, fetchIo...)
	}

	io = append(io, s.relay(a, from)...)
	return io, nil
}

func (s *Service) applyNodeAnnouncement(n wire.NodeAnnouncement, node nodeid.NodeId) {
	_ = s.addrs.Upsert(address.Entry{
		Node:      node,
		Features:  uint64(n.Features),
		Alias:     n.Alias,
		Timestamp: n.Timestamp,
		Addresses: n.Addresses,
	})
}

func (s *Service) applyInventoryAnnouncement(inv wire.InventoryAnnouncement, node nodeid.NodeId, now time.Time) {
	for _, rid := range inv.Inventory {
		_ = s.routes.Observe(rid, node, now)
	}
}

// applyRefsAnnouncement partitions each RefsAt into want/have against
// the cached tip, and if want is non-empty for a seeded repository,
// returns a Fetch intent targeting the announcer (spec.md §4.1 "Refs
// status").
func (s *Service) applyRefsAnnouncement(ra wire.RefsAnnouncement, announcer nodeid.NodeId) []Io {
	sp, err := s.pol.SeedingFor(ra.Rid)
	if err != nil || !sp.Seed {
		return nil
	}

	var want []wire.RefsAt
	for _, at := range ra.Refs {
		cached, ok := s.cache.CachedTip(ra.Rid, at.Remote)
		if !ok || cached != at.Oid {
			want = append(want, at)
		}
	}
	if len(want) == 0 {
		return nil
	}

	intent := &FetchIntent{Rid: ra.Rid, Remote: announcer, RefsAt: want, Pull: true}
	s.populateFetchScope(intent, sp)
	return []Io{{Kind: IoFetch, Peer: announcer, Fetch: intent}}
}

// populateFetchScope fills in intent's Scope/Delegates/SeededPeers/
// Blocked from the policy/routing stores and the repo cache's identity
// document view, so the transport layer can build a complete
// fetch.State without its own access to those stores (spec.md §4.2's
// SpecialRefs stage needs exactly this to decide what to ask for and
// who to filter out).
func (s *Service) populateFetchScope(intent *FetchIntent, sp policy.SeedingPolicy) {
	if sp.Scope == policy.ScopeAll {
		intent.Scope = FetchScopeAll
	} else {
		intent.Scope = FetchScopeFollowed
	}

	delegates, ok := s.cache.Delegates(intent.Rid)
	if ok {
		for d := range delegates {
			intent.Delegates = append(intent.Delegates, d)
		}
	}

	if intent.Scope == FetchScopeAll {
		seeders, err := s.routes.Seeders(intent.Rid)
		if err == nil {
			intent.SeededPeers = seeders
		}
	}

	candidates := make(map[nodeid.NodeId]struct{}, len(intent.Delegates)+len(intent.SeededPeers))
	for _, d := range intent.Delegates {
		candidates[d] = struct{}{}
	}
	for _, p := range intent.SeededPeers {
		candidates[p] = struct{}{}
	}
	for node := range candidates {
		if blocked, err := s.pol.IsBlocked(node); err == nil && blocked {
			intent.Blocked = append(intent.Blocked, node)
		}
	}
}

// relay forwards an accepted announcement to every other session whose
// subscription admits it, skipping the peer it arrived from (or was
// authored by), per spec.md §4.1.
func (s *Service) relay(a wire.Announcement, from nodeid.NodeId) []Io {
	if a.Node == s.self {
		return nil
	}
	var io []Io
	for peer, sess := range s.sessions {
		if peer == from || peer == a.Node {
			continue
		}
		if a.Message.Kind != wire.AnnouncementKindNode {
			if sess.Sub.Filter == nil || !a.Matches(sess.Sub.Filter) {
				continue
			}
			if !sess.Sub.Admits(a.Timestamp()) {
				continue
			}
		}
		if !sess.AllowOutbound() {
			continue
		}
		io = append(io, Io{Kind: IoWrite, Peer: peer, Messages: []wire.Message{{
			Kind:         wire.MessageKindAnnouncement,
			Announcement: &a,
		}}})
	}
	return io
}

func (s *Service) onCommand(cmd *Command, now time.Time) ([]Io, error) {
	switch cmd.Kind {
	case CommandConnect:
		blocked, err := s.pol.IsBlocked(cmd.Peer)
		if err != nil {
			return nil, err
		}
		if blocked {
			return nil, nil // silently dropped (spec.md §7 "Policy")
		}
		return []Io{{Kind: IoConnect, Peer: cmd.Peer, Addr: cmd.Addr}}, nil
	case CommandDisconnect:
		return []Io{{Kind: IoDisconnect, Peer: cmd.Peer, Reason: DisconnectCommand}}, nil
	case CommandSeed:
		return nil, s.pol.Seed(cmd.Rid, cmd.Scope)
	case CommandUnseed:
		return nil, s.pol.Unseed(cmd.Rid)
	case CommandFollow:
		return nil, s.pol.Follow(cmd.Peer, cmd.Alias)
	case CommandFetchComplete:
		if sess, ok := s.sessions[cmd.FetchResult.Peer]; ok && sess.PendingFetches > 0 {
			sess.PendingFetches--
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("service: unknown command kind %d", cmd.Kind)
	}
}

// onWake runs periodic maintenance: connection selection to reach
// TargetOutbound, per spec.md §4.1 "Connection selection".
func (s *Service) onWake(now time.Time) []Io {
	outbound := 0
	for _, sess := range s.sessions {
		if sess.Link == LinkOutbound && sess.Phase == PhaseNegotiated {
			outbound++
		}
	}
	if outbound >= s.cfg.TargetOutbound {
		return nil
	}
	need := s.cfg.TargetOutbound - outbound
	candidates, err := s.addrs.Candidates(now, need*4)
	if err != nil {
		return nil
	}
	var io []Io
	for _, cand := range candidates {
		if len(io) >= need {
			break
		}
		if _, connected := s.sessions[cand]; connected {
			continue
		}
		if s.attemptCounts[cand] >= s.cfg.MaxConnectionAttempts {
			continue
		}
		entry, ok, err := s.addrs.Get(cand)
		if err != nil || !ok || len(entry.Addresses) == 0 {
			continue
		}
		backoff := s.backoffFor(s.attemptCounts[cand])
		if now.Sub(entry.LastAttempt) < backoff {
			continue
		}
		io = append(io, Io{Kind: IoConnect, Peer: cand, Addr: entry.Addresses[0]})
	}
	return io
}

// backoffFor computes the capped exponential backoff after n prior
// attempts (spec.md §4.1 "capped exponential backoff").
func (s *Service) backoffFor(n int) time.Duration {
	d := s.cfg.BackoffBase
	for i := 0; i < n; i++ {
		d *= 2
		if d > s.cfg.BackoffMax {
			return s.cfg.BackoffMax
		}
	}
	return d
}

// Sessions returns a snapshot of active sessions, for the daemon's
// read-only status API.
func (s *Service) Sessions() map[nodeid.NodeId]Session {
	out := make(map[nodeid.NodeId]Session, len(s.sessions))
	for k, v := range s.sessions {
		out[k] = *v
	}
	return out
}

// Self returns this node's own identity, for the daemon's read-only
// status API.
func (s *Service) Self() nodeid.NodeId { return s.self }

// Seeded returns every repository with an explicit seeding entry, for
// the daemon's read-only policy view (SPEC_FULL.md §4.7).
func (s *Service) Seeded() ([]policy.SeedingPolicy, error) { return s.pol.Seeded() }

// Followed returns every explicitly-followed peer.
func (s *Service) Followed() ([]policy.FollowedPeer, error) { return s.pol.Followed() }

// BlockedPeers returns every node on the persistent block-list.
func (s *Service) BlockedPeers() ([]policy.BlockedPeer, error) { return s.pol.BlockedPeers() }

// KnownPeers returns every address-book entry.
func (s *Service) KnownPeers() ([]address.Entry, error) { return s.addrs.All() }

// Routes returns every routing-table row.
func (s *Service) Routes() ([]routing.Entry, error) { return s.routes.All() }
