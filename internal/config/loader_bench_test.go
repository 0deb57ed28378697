package config

import (
	"testing"
)

func BenchmarkLoadConfig(b *testing.B) {
	dir := b.TempDir()
	path := writeTestConfig(b, dir, testConfigYAML)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		LoadConfig(path)
	}
}

func BenchmarkValidate(b *testing.B) {
	cfg := &Config{
		Alias:    "alice",
		Identity: IdentityConfig{KeyFile: "key"},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Validate(cfg)
	}
}
