package service

import "time"

// Config is the gossip/session service's immutable configuration, built
// once from internal/config at startup and passed by reference — no
// global mutable state, per spec.md §9 ("Configuration objects").
type Config struct {
	// SkewDelta bounds how far from the local clock an announcement's
	// timestamp may be (spec.md §4.1: "[clock-delta, clock+delta]").
	SkewDelta time.Duration

	// PowParams and PowMinimumTarget configure the node-announcement
	// proof-of-work check (spec.md §4.1).
	PowParams       ScryptParams
	PowMinimumTarget int

	// DedupCapacity bounds the replay-suppression LRU.
	DedupCapacity int

	// TargetOutbound is the number of negotiated outbound sessions the
	// connection-selection algorithm tries to maintain (spec.md §4.1).
	TargetOutbound int

	// MaxConnectionAttempts is the number of failed dials after which
	// connection selection stops choosing a node. Between attempts the
	// backoff starts at BackoffBase and doubles per failed attempt,
	// capped at BackoffMax (spec.md §4.1/§8 scenario 6).
	MaxConnectionAttempts int
	BackoffBase           time.Duration
	BackoffMax            time.Duration

	// QuarantineDuration is how long a peer stays blocked after a
	// high-severity Session disconnect (spec.md §4.1).
	QuarantineDuration time.Duration

	// FetchConcurrency holds the configured per-peer fetch bound
	// (limits.fetch_concurrency). The service loop does not read it:
	// IoFetch intents are emitted with no per-peer limit.
	FetchConcurrency int

	// FetchQueueLimit holds a per-peer fetch-queue size. The service
	// loop keeps no fetch queue and does not read it.
	FetchQueueLimit int

	RateLimit RateLimitConfig

	// InboundRateHysteresis is the number of consecutive dropped
	// inbound messages tolerated before a Session(rate) disconnect
	// (spec.md §4.1: "above a hysteresis threshold").
	InboundRateHysteresis int
}

// DefaultConfig returns reasonable defaults, matching the magnitudes
// implied by spec.md's hard bounds (ADDRESS_LIMIT=16,
// REF_REMOTE_LIMIT=1024, INVENTORY_LIMIT=2973).
func DefaultConfig() Config {
	return Config{
		SkewDelta:             5 * time.Minute,
		PowParams:             DefaultScryptParams,
		PowMinimumTarget:      12,
		DedupCapacity:         8192,
		TargetOutbound:        8,
		MaxConnectionAttempts: 8,
		BackoffBase:           30 * time.Second,
		BackoffMax:            15 * time.Minute,
		QuarantineDuration:    1 * time.Hour,
		FetchConcurrency:      4,
		FetchQueueLimit:       32,
		RateLimit: RateLimitConfig{
			InboundFillRate:  64,
			InboundCapacity:  256,
			OutboundFillRate: 64,
			OutboundCapacity: 256,
		},
		InboundRateHysteresis: 8,
	}
}
