package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/squawktown/squawk/pkg/towngen"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
name = "gull harbour"
port = 9000

[world]
seed = "harbour"
npc_count = 10

[outbound]
overflow_policy = "drop"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Name != "gull harbour" || cfg.Server.Port != 9000 {
		t.Fatalf("unexpected server section %+v", cfg.Server)
	}
	if cfg.World.Seed != "harbour" || cfg.World.NpcCount != 10 {
		t.Fatalf("unexpected world section %+v", cfg.World)
	}
	if cfg.World.CarCount != 20 || cfg.World.Size != 400 {
		t.Fatalf("world defaults not applied: %+v", cfg.World)
	}
	if cfg.Spawn != (SpawnConfig{Y: 5}) {
		t.Fatalf("unexpected spawn %+v", cfg.Spawn)
	}
	if cfg.Outbound.QueueSize != 256 || cfg.Outbound.OverflowPolicy != OverflowDrop {
		t.Fatalf("unexpected outbound section %+v", cfg.Outbound)
	}
	if cfg.Outbound.WriteTimeout() != 5*time.Second {
		t.Fatalf("unexpected write timeout %v", cfg.Outbound.WriteTimeout())
	}
	if cfg.Protocol.MalformedPolicy != MalformedDisconnect {
		t.Fatalf("unexpected malformed policy %q", cfg.Protocol.MalformedPolicy)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadConfigBadSyntax(t *testing.T) {
	path := writeConfig(t, "[server\nname = ")
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDefaultMatchesGenerator(t *testing.T) {
	cfg := Default()
	if cfg.WorldParams() != towngen.DefaultParams() {
		t.Fatalf("default world params %+v differ from generator defaults", cfg.WorldParams())
	}
	if cfg.Addr() != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Addr())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"world", func(c *Config) { c.World.NpcHatChance = 2 }},
		{"queue size", func(c *Config) { c.Outbound.QueueSize = 0 }},
		{"overflow policy", func(c *Config) { c.Outbound.OverflowPolicy = "block" }},
		{"malformed policy", func(c *Config) { c.Protocol.MalformedPolicy = "ignore" }},
		{"chat length", func(c *Config) { c.Protocol.ChatMaxLength = -1 }},
		{"rate limit", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.BurstSize = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadConfigKeepsExplicitZeros(t *testing.T) {
	path := writeConfig(t, `
[world]
npc_hat_chance = 0
car_count = 0

[spawn]
x = 0
y = 0
z = 0
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.World.NpcHatChance != 0 || cfg.World.CarCount != 0 {
		t.Fatalf("explicit zeros replaced by defaults: %+v", cfg.World)
	}
	if cfg.World.NpcCount != towngen.DefaultParams().NpcCount {
		t.Fatalf("missing npc_count not defaulted: %d", cfg.World.NpcCount)
	}
	if cfg.Spawn != (SpawnConfig{}) {
		t.Fatalf("origin spawn replaced: %+v", cfg.Spawn)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoadConfigPartialSpawn(t *testing.T) {
	path := writeConfig(t, "[spawn]\nx = 12\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Spawn != (SpawnConfig{X: 12, Y: 5}) {
		t.Fatalf("unexpected spawn %+v", cfg.Spawn)
	}
}
