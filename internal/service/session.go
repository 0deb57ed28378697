package service

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/weavenet/weave/internal/filter"
	"github.com/weavenet/weave/internal/nodeid"
)

// LinkDirection records which side initiated a session.
type LinkDirection uint8

const (
	LinkInbound LinkDirection = iota
	LinkOutbound
)

// Phase is a session's position in the connect/handshake/upgrade
// lifecycle, per spec.md §3 ("Session").
type Phase uint8

const (
	PhaseConnecting Phase = iota
	PhaseNegotiated
	PhaseUpgrading
	PhaseUpgraded
	PhaseDisconnected
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseNegotiated:
		return "negotiated"
	case PhaseUpgrading:
		return "upgrading"
	case PhaseUpgraded:
		return "upgraded"
	case PhaseDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// DisconnectReason tags why a session ended, per spec.md §4.1.
type DisconnectReason uint8

const (
	DisconnectDial DisconnectReason = iota
	DisconnectConnection
	DisconnectSession
	DisconnectCommand
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectDial:
		return "dial"
	case DisconnectConnection:
		return "connection"
	case DisconnectSession:
		return "session"
	case DisconnectCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Session is the per-connected-peer state the service loop tracks,
// per spec.md §3.
type Session struct {
	Peer      nodeid.NodeId
	Link      LinkDirection
	Phase     Phase
	LastSeen  time.Time
	Sub       Subscription
	PendingFetches int

	inbound  *rate.Limiter
	outbound *rate.Limiter
}

// Subscription is the peer's requested relay window: a Filter plus the
// [Since, Until) timestamp range in which relayed Inventory and Refs
// announcements must fall. Node announcements are relayed without
// checking it.
type Subscription struct {
	Filter *filter.Filter
	Since  nodeid.Timestamp
	Until  nodeid.Timestamp
}

// Admits reports whether this subscription's window contains ts. A
// zero-value Subscription (no Subscribe received yet) admits nothing.
func (s Subscription) Admits(ts nodeid.Timestamp) bool {
	if s.Filter == nil {
		return false
	}
	return ts >= s.Since && ts < s.Until
}

// NewSession creates a session for a freshly connected or accepted
// peer, with per-direction token buckets sized from RateLimitConfig.
func NewSession(peer nodeid.NodeId, link LinkDirection, now time.Time, cfg RateLimitConfig) *Session {
	return &Session{
		Peer:     peer,
		Link:     link,
		Phase:    PhaseConnecting,
		LastSeen: now,
		inbound:  rate.NewLimiter(rate.Limit(cfg.InboundFillRate), cfg.InboundCapacity),
		outbound: rate.NewLimiter(rate.Limit(cfg.OutboundFillRate), cfg.OutboundCapacity),
	}
}

// RateLimitConfig carries the per-direction token-bucket parameters
// from spec.md §4.1/§6 ("limits ... rate-limit buckets").
type RateLimitConfig struct {
	InboundFillRate   float64
	InboundCapacity   int
	OutboundFillRate  float64
	OutboundCapacity  int
}

// AllowInbound consumes one inbound token, reporting false if the
// bucket is empty (spec.md: "above a hysteresis threshold" causes a
// Session(rate) disconnect — the caller tracks consecutive drops to
// implement the hysteresis).
func (s *Session) AllowInbound() bool { return s.inbound.Allow() }

// AllowOutbound consumes one outbound token; messages exceeding budget
// are dropped rather than disconnecting the peer (spec.md §4.1).
func (s *Session) AllowOutbound() bool { return s.outbound.Allow() }
