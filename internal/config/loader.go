package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/weavenet/weave/internal/nodeid"
)

// Environment variable overrides, per spec.md §6.
const (
	EnvHomeDir       = "WEAVE_HOME"
	EnvLogLevel      = "WEAVE_LOG"
	EnvKeyPassphrase = "WEAVE_KEY_PASSPHRASE"
)

// checkConfigFilePermissions returns an error if a config file grants any
// permission to group or others (mode & 0077 != 0). Config files may
// contain sensitive paths and network topology.
func checkConfigFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return nil // file access errors are handled by the caller
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Errorf("config file %s has overly permissive mode %04o; expected 0600 — fix with: chmod 600 %s", path, mode, path)
	}
	return nil
}

// LoadConfig loads weave's node configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	if err := checkConfigFilePermissions(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.Version > CurrentConfigVersion {
		return nil, fmt.Errorf("%w: version %d is newer than supported version %d; please upgrade weaved", ErrConfigVersionTooNew, cfg.Version, CurrentConfigVersion)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyDefaults fills in zero-valued fields with weave's defaults.
func applyDefaults(cfg *Config) {
	if cfg.Network == "" {
		cfg.Network = "main"
	}
	if cfg.Peers.Mode == "" {
		cfg.Peers.Mode = PeersDynamic
	}
	if cfg.Relay == "" {
		cfg.Relay = RelayAuto
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.SeedingPolicy.Default == "" {
		cfg.SeedingPolicy.Default = SeedingAllow
	}
	if cfg.SeedingPolicy.Default == SeedingAllow && cfg.SeedingPolicy.Scope == "" {
		cfg.SeedingPolicy.Scope = SeedingScopeAll
	}
	if cfg.Limits.FetchConcurrency <= 0 {
		cfg.Limits.FetchConcurrency = cfg.Workers
	}
}

// applyEnvOverrides applies the environment variable overrides spec.md §6
// names: WEAVE_LOG overrides the configured log level. The home-directory
// override (WEAVE_HOME) is read by HomeDir rather than folded into Config.
// EnvKeyPassphrase (WEAVE_KEY_PASSPHRASE) is declared but nothing reads it:
// internal/identity stores and loads the signing key unencrypted.
func applyEnvOverrides(cfg *Config) {
	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		cfg.Log = lvl
	}
}

// HomeDir resolves weave's home directory: WEAVE_HOME if set, otherwise
// ~/.weave.
func HomeDir() (string, error) {
	if dir := os.Getenv(EnvHomeDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".weave"), nil
}

// Validate checks a loaded Config for the invariants spec.md §6 requires
// of a runnable node.
func Validate(cfg *Config) error {
	if cfg.Alias == "" {
		return fmt.Errorf("alias is required")
	}
	if err := nodeid.Alias(cfg.Alias).Validate(); err != nil {
		return fmt.Errorf("alias: %w", err)
	}
	if cfg.Identity.KeyFile == "" {
		return fmt.Errorf("identity.key_file is required")
	}

	switch cfg.Peers.Mode {
	case "", PeersStatic, PeersDynamic:
	default:
		return fmt.Errorf("peers.mode must be %q or %q", PeersStatic, PeersDynamic)
	}
	if cfg.Peers.Mode == PeersStatic && len(cfg.Connect) == 0 {
		return fmt.Errorf("peers.mode static requires at least one connect entry")
	}

	switch cfg.Network {
	case "", "main", "test":
	default:
		return fmt.Errorf("network must be %q or %q", "main", "test")
	}

	switch cfg.Relay {
	case "", RelayAuto, RelayAlways, RelayNever:
	default:
		return fmt.Errorf("relay must be %q, %q or %q", RelayAuto, RelayAlways, RelayNever)
	}

	switch cfg.SeedingPolicy.Default {
	case "", SeedingAllow, SeedingBlock:
	default:
		return fmt.Errorf("seeding_policy.default must be %q or %q", SeedingAllow, SeedingBlock)
	}
	if cfg.SeedingPolicy.Default == SeedingAllow {
		switch cfg.SeedingPolicy.Scope {
		case "", SeedingScopeAll, SeedingScopeFollowed:
		default:
			return fmt.Errorf("seeding_policy.scope must be %q or %q", SeedingScopeAll, SeedingScopeFollowed)
		}
	}

	if cfg.Limits.FetchPackSize != "" {
		if _, err := ParseDataSize(cfg.Limits.FetchPackSize); err != nil {
			return fmt.Errorf("limits.fetch_pack_size: %w", err)
		}
	}

	return nil
}

// FindConfigFile searches for a weave config file in standard locations.
// Search order: explicitPath (if given), ./weave.yaml, <home>/config.yaml,
// /etc/weave/config.yaml.
func FindConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("%w: %s", ErrConfigNotFound, explicitPath)
		}
		return explicitPath, nil
	}

	searchPaths := []string{"weave.yaml"}

	if home, err := HomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, "config.yaml"))
	}
	searchPaths = append(searchPaths, filepath.Join("/etc", "weave", "config.yaml"))

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w; searched:\n  %s\n\nCreate one, or use --config <path>", ErrConfigNotFound, strings.Join(searchPaths, "\n  "))
}

// ResolveConfigPaths resolves relative file paths in the config to be
// relative to the config file's directory, so a config in <home>/ can
// reference a key file by a short relative name.
func ResolveConfigPaths(cfg *Config, configDir string) {
	if cfg.Identity.KeyFile != "" && !filepath.IsAbs(cfg.Identity.KeyFile) {
		cfg.Identity.KeyFile = filepath.Join(configDir, cfg.Identity.KeyFile)
	}
}

// DefaultConfigDir returns the default weave config directory.
func DefaultConfigDir() (string, error) {
	return HomeDir()
}

// ParseDataSize parses a human-readable data size string (e.g., "128KB",
// "64MB", "1GB") and returns the value in bytes. Supported suffixes: B,
// KB, MB, GB (case-insensitive).
func ParseDataSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty data size")
	}

	s = strings.ToUpper(s)
	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		numStr = strings.TrimSuffix(s, "B")
	default:
		numStr = s
	}

	numStr = strings.TrimSpace(numStr)
	val, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid data size %q: %w", s, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("data size must be non-negative: %s", s)
	}
	return val * multiplier, nil
}
