package config

import (
	"os"
	"path/filepath"
	"testing"
)

// Minimal valid YAML for loading tests.
const testConfigYAML = `
alias: "alice"
identity:
  key_file: "identity.key"
listen:
  - "/ip4/0.0.0.0/tcp/0"
peers:
  mode: dynamic
network: test
relay: auto
workers: 8
seeding_policy:
  default: allow
  scope: all
`

func writeTestConfig(t testing.TB, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, testConfigYAML)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Alias != "alice" {
		t.Errorf("alias = %q, want alice", cfg.Alias)
	}
	if cfg.Identity.KeyFile != "identity.key" {
		t.Errorf("identity.key_file = %q", cfg.Identity.KeyFile)
	}
	if len(cfg.Listen) != 1 || cfg.Listen[0] != "/ip4/0.0.0.0/tcp/0" {
		t.Errorf("listen = %v", cfg.Listen)
	}
	if cfg.Network != "test" {
		t.Errorf("network = %q, want test", cfg.Network)
	}
	if cfg.Workers != 8 {
		t.Errorf("workers = %d, want 8", cfg.Workers)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "not: [valid: yaml")

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadConfigVersionTooNew(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "version: 99\nalias: bob\n")

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for config version too new")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "alias: bob\nidentity:\n  key_file: k\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Network != "main" {
		t.Errorf("network default = %q, want main", cfg.Network)
	}
	if cfg.Peers.Mode != PeersDynamic {
		t.Errorf("peers.mode default = %q, want dynamic", cfg.Peers.Mode)
	}
	if cfg.Relay != RelayAuto {
		t.Errorf("relay default = %q, want auto", cfg.Relay)
	}
	if cfg.Workers != 4 {
		t.Errorf("workers default = %d, want 4", cfg.Workers)
	}
	if cfg.SeedingPolicy.Default != SeedingAllow {
		t.Errorf("seeding_policy.default = %q, want allow", cfg.SeedingPolicy.Default)
	}
	if cfg.Limits.FetchConcurrency != cfg.Workers {
		t.Errorf("limits.fetch_concurrency default = %d, want %d", cfg.Limits.FetchConcurrency, cfg.Workers)
	}
}

func TestLoadConfigEnvLogOverride(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "alias: bob\nidentity:\n  key_file: k\nlog: info\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Log != "debug" {
		t.Errorf("log = %q, want env override debug", cfg.Log)
	}
}

func TestValidate(t *testing.T) {
	valid := &Config{
		Alias:    "alice",
		Identity: IdentityConfig{KeyFile: "k"},
	}
	if err := Validate(valid); err != nil {
		t.Errorf("expected valid config to pass, got: %v", err)
	}
}

func TestValidateMissingFields(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no alias", Config{Identity: IdentityConfig{KeyFile: "k"}}},
		{"no key_file", Config{Alias: "alice"}},
		{"static peers without connect", Config{
			Alias: "alice", Identity: IdentityConfig{KeyFile: "k"},
			Peers: PeersConfig{Mode: PeersStatic},
		}},
		{"bad network", Config{
			Alias: "alice", Identity: IdentityConfig{KeyFile: "k"}, Network: "staging",
		}},
		{"bad relay", Config{
			Alias: "alice", Identity: IdentityConfig{KeyFile: "k"}, Relay: "sometimes",
		}},
		{"bad seeding default", Config{
			Alias: "alice", Identity: IdentityConfig{KeyFile: "k"},
			SeedingPolicy: SeedingPolicyConfig{Default: "maybe"},
		}},
		{"bad seeding scope", Config{
			Alias: "alice", Identity: IdentityConfig{KeyFile: "k"},
			SeedingPolicy: SeedingPolicyConfig{Default: SeedingAllow, Scope: "some"},
		}},
		{"bad fetch pack size", Config{
			Alias: "alice", Identity: IdentityConfig{KeyFile: "k"},
			Limits: LimitsConfig{FetchPackSize: "not-a-size"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(&tt.cfg); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestResolveConfigPaths(t *testing.T) {
	cfg := &Config{
		Identity: IdentityConfig{KeyFile: "identity.key"},
	}
	ResolveConfigPaths(cfg, "/home/alice/.weave")
	want := filepath.Join("/home/alice/.weave", "identity.key")
	if cfg.Identity.KeyFile != want {
		t.Errorf("key_file = %q, want %q", cfg.Identity.KeyFile, want)
	}
}

func TestResolveConfigPathsAbsolute(t *testing.T) {
	cfg := &Config{
		Identity: IdentityConfig{KeyFile: "/abs/identity.key"},
	}
	ResolveConfigPaths(cfg, "/home/alice/.weave")
	if cfg.Identity.KeyFile != "/abs/identity.key" {
		t.Errorf("absolute key_file should be unchanged, got %q", cfg.Identity.KeyFile)
	}
}

func TestFindConfigFileExplicit(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, testConfigYAML)

	found, err := FindConfigFile(path)
	if err != nil {
		t.Fatalf("FindConfigFile: %v", err)
	}
	if found != path {
		t.Errorf("found = %q, want %q", found, path)
	}
}

func TestFindConfigFileMissingExplicit(t *testing.T) {
	_, err := FindConfigFile("/nonexistent/weave.yaml")
	if err == nil {
		t.Fatal("expected error for missing explicit path")
	}
}

func TestParseDataSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"128B", 128},
		{"64KB", 64 * 1024},
		{"64MB", 64 * 1024 * 1024},
		{"1GB", 1024 * 1024 * 1024},
		{"  1gb  ", 1024 * 1024 * 1024},
	}
	for _, tt := range tests {
		got, err := ParseDataSize(tt.in)
		if err != nil {
			t.Errorf("ParseDataSize(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDataSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseDataSizeInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "-1KB"} {
		if _, err := ParseDataSize(in); err == nil {
			t.Errorf("ParseDataSize(%q) expected error", in)
		}
	}
}

func TestCheckConfigFilePermissions(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, testConfigYAML)

	if err := os.Chmod(path, 0600); err != nil {
		t.Fatal(err)
	}
	if err := checkConfigFilePermissions(path); err != nil {
		t.Errorf("expected 0600 to pass, got: %v", err)
	}

	if err := os.Chmod(path, 0644); err != nil {
		t.Fatal(err)
	}
	if err := checkConfigFilePermissions(path); err == nil {
		t.Error("expected 0644 to fail permission check")
	}
}
