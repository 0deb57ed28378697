package config

import "time"

// CurrentConfigVersion is the latest configuration schema version.
// Bump this when adding fields that require migration.
const CurrentConfigVersion = 1

// Config is weave's unified node configuration, per spec.md §6
// ("Configuration. Recognised options").
type Config struct {
	Version int `yaml:"version,omitempty"`

	// Alias is the human label broadcast in node announcements.
	Alias string `yaml:"alias"`

	Identity IdentityConfig `yaml:"identity"`
	Listen   []string       `yaml:"listen"`
	Peers    PeersConfig    `yaml:"peers,omitempty"`
	Connect  []string       `yaml:"connect,omitempty"`

	// ExternalAddresses are self-advertised reachable addresses,
	// published in this node's own announcements regardless of what
	// Listen binds locally (e.g. behind a port-forwarding NAT).
	ExternalAddresses []string `yaml:"external_addresses,omitempty"`

	Proxy ProxyConfig `yaml:"proxy,omitempty"`

	// Network selects the bootstrap set and protocol magic values:
	// "main" or "test".
	Network string `yaml:"network,omitempty"`

	Log   string      `yaml:"log,omitempty"`
	Relay RelayMode   `yaml:"relay,omitempty"`
	Limits LimitsConfig `yaml:"limits,omitempty"`

	// Workers is the fetch worker count (spec.md §5's bounded
	// object-store/stream ownership).
	Workers int `yaml:"workers,omitempty"`

	SeedingPolicy SeedingPolicyConfig `yaml:"seeding_policy,omitempty"`

	Daemon    DaemonConfig    `yaml:"daemon,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// IdentityConfig holds identity-related configuration.
type IdentityConfig struct {
	KeyFile string `yaml:"key_file"`
}

// PeersMode selects whether the node reconnects only to its
// configured Connect set or grows connections toward a target.
type PeersMode string

const (
	PeersStatic  PeersMode = "static"
	PeersDynamic PeersMode = "dynamic"
)

// PeersConfig controls the connection-selection algorithm's target
// shape, per spec.md §4.1.
type PeersConfig struct {
	Mode   PeersMode `yaml:"mode,omitempty"`
	Target int       `yaml:"target,omitempty"`
}

// ProxyConfig configures SOCKS5 routing for outbound connections,
// including Tor/onion routing.
type ProxyConfig struct {
	Address string `yaml:"address,omitempty"`
	Onion   bool   `yaml:"onion,omitempty"`
}

// RelayMode is weave's relay policy: "auto" relays iff this node is
// externally reachable, "always"/"never" override that judgement.
type RelayMode string

const (
	RelayAuto   RelayMode = "auto"
	RelayAlways RelayMode = "always"
	RelayNever  RelayMode = "never"
)

// LimitsConfig bounds resource use across the service loop, fetch
// worker pool, and rate limiters, per spec.md §6's "limits" option.
type LimitsConfig struct {
	RoutingEntryAge  time.Duration `yaml:"routing_entry_age,omitempty"`
	GossipEntryAge   time.Duration `yaml:"gossip_entry_age,omitempty"`
	FetchConcurrency int           `yaml:"fetch_concurrency,omitempty"`
	MaxOpenFiles     int           `yaml:"max_open_files,omitempty"`
	RateLimitBurst   int           `yaml:"rate_limit_burst,omitempty"`
	RateLimitPerSec  float64       `yaml:"rate_limit_per_sec,omitempty"`
	MaxConnections   int           `yaml:"max_connections,omitempty"`
	FetchPackSize    string        `yaml:"fetch_pack_size,omitempty"`
}

// SeedingDefault is the fallback seeding decision for repositories
// with no explicit policy row.
type SeedingDefault string

const (
	SeedingAllow SeedingDefault = "allow"
	SeedingBlock SeedingDefault = "block"
)

// SeedingScope narrows SeedingAllow to followed peers only, or to
// everyone.
type SeedingScope string

const (
	SeedingScopeAll      SeedingScope = "all"
	SeedingScopeFollowed SeedingScope = "followed"
)

// SeedingPolicyConfig is the default seeding policy applied to
// repositories absent from the policy store, spec.md §6's
// `seedingPolicy: {default: allow, scope: all|followed} | {default:
// block}`.
type SeedingPolicyConfig struct {
	Default SeedingDefault `yaml:"default"`
	Scope   SeedingScope   `yaml:"scope,omitempty"`
}

// DaemonConfig configures the loopback-only operator API (ambient,
// replaces the excluded CLI/TUI).
type DaemonConfig struct {
	Enabled       bool   `yaml:"enabled,omitempty"`
	ListenAddress string `yaml:"listen_address,omitempty"`
}

// TelemetryConfig holds observability settings. Disabled by default.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// MetricsConfig controls Prometheus metrics exposure.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address,omitempty"`
}
