package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/squawktown/squawk/pkg/towngen"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	World     WorldConfig     `toml:"world"`
	Spawn     SpawnConfig     `toml:"spawn"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Outbound  OutboundConfig  `toml:"outbound"`
	Protocol  ProtocolConfig  `toml:"protocol"`
	Scripting ScriptingConfig `toml:"scripting"`
}

type ServerConfig struct {
	Name           string   `toml:"name"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`

	// logging configuration
	LogToFile bool `toml:"log_to_file"`
}

type WorldConfig struct {
	// numeric seed, any string to hash, or empty for a time based seed
	Seed             string  `toml:"seed"`
	Size             float64 `toml:"size"`
	Margin           float64 `toml:"margin"`
	RoadSpacing      float64 `toml:"road_spacing"`
	RoadWidth        float64 `toml:"road_width"`
	SidewalkWidth    float64 `toml:"sidewalk_width"`
	BuildingAttempts int     `toml:"building_attempts"`
	NpcCount         int     `toml:"npc_count"`
	CarCount         int     `toml:"car_count"`
	NpcHatChance     float64 `toml:"npc_hat_chance"`
	NpcSpeedMin      float64 `toml:"npc_speed_min"`
	NpcSpeedMax      float64 `toml:"npc_speed_max"`
	CarSpeed         float64 `toml:"car_speed"`
}

type SpawnConfig struct {
	X float64 `toml:"x"`
	Y float64 `toml:"y"`
	Z float64 `toml:"z"`
}

type RateLimitConfig struct {
	Enabled           bool `toml:"enabled"`
	MessagesPerSecond int  `toml:"messages_per_second"`
	BurstSize         int  `toml:"burst_size"`
}

const (
	OverflowDisconnect = "disconnect"
	OverflowDrop       = "drop"

	MalformedDisconnect = "disconnect"
	MalformedSkip       = "skip"
)

type OutboundConfig struct {
	QueueSize      int    `toml:"queue_size"`
	OverflowPolicy string `toml:"overflow_policy"`
	WriteTimeoutMs int    `toml:"write_timeout_ms"`
}

func (o OutboundConfig) WriteTimeout() time.Duration {
	return time.Duration(o.WriteTimeoutMs) * time.Millisecond
}

type ProtocolConfig struct {
	MalformedPolicy string `toml:"malformed_policy"`
	// 0 disables truncation
	ChatMaxLength int `toml:"chat_max_length"`
}

type ScriptingConfig struct {
	Hooks string `toml:"hooks"`
	// chat lines starting with "/" run the matching script from this directory
	CommandsDir string `toml:"commands_dir"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var config Config
	config.applyDefaults(toml.MetaData{})
	return &config
}

func LoadConfig(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	md, err := toml.Decode(string(data), &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults(md)

	return &config, nil
}

// applyDefaults fills in what the file left out. World and spawn values are
// only defaulted when their key is missing, since zero is meaningful there.
func (c *Config) applyDefaults(md toml.MetaData) {
	if c.Server.Name == "" {
		c.Server.Name = "squawk town"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	// world defaults
	params := towngen.DefaultParams()
	world := func(key string) bool { return !md.IsDefined("world", key) }
	if world("size") {
		c.World.Size = params.Size
	}
	if world("margin") {
		c.World.Margin = params.Margin
	}
	if world("road_spacing") {
		c.World.RoadSpacing = params.RoadSpacing
	}
	if world("road_width") {
		c.World.RoadWidth = params.RoadWidth
	}
	if world("sidewalk_width") {
		c.World.SidewalkWidth = params.SidewalkWidth
	}
	if world("building_attempts") {
		c.World.BuildingAttempts = params.BuildingAttempts
	}
	if world("npc_count") {
		c.World.NpcCount = params.NpcCount
	}
	if world("car_count") {
		c.World.CarCount = params.CarCount
	}
	if world("npc_hat_chance") {
		c.World.NpcHatChance = params.NpcHatChance
	}
	if world("npc_speed_min") {
		c.World.NpcSpeedMin = params.NpcSpeedMin
	}
	if world("npc_speed_max") {
		c.World.NpcSpeedMax = params.NpcSpeedMax
	}
	if world("car_speed") {
		c.World.CarSpeed = params.CarSpeed
	}

	// players drop in from above the origin
	if !md.IsDefined("spawn", "y") {
		c.Spawn.Y = 5
	}

	// rate limit defaults
	if c.RateLimit.MessagesPerSecond == 0 {
		c.RateLimit.MessagesPerSecond = 240
	}
	if c.RateLimit.BurstSize == 0 {
		c.RateLimit.BurstSize = 480
	}

	// outbound defaults
	if c.Outbound.QueueSize == 0 {
		c.Outbound.QueueSize = 256
	}
	if c.Outbound.OverflowPolicy == "" {
		c.Outbound.OverflowPolicy = OverflowDisconnect
	}
	if c.Outbound.WriteTimeoutMs == 0 {
		c.Outbound.WriteTimeoutMs = 5000
	}

	if c.Protocol.MalformedPolicy == "" {
		c.Protocol.MalformedPolicy = MalformedDisconnect
	}
}

// WorldParams converts the [world] section into generator parameters.
func (c *Config) WorldParams() towngen.Params {
	return towngen.Params{
		Size:             c.World.Size,
		Margin:           c.World.Margin,
		RoadSpacing:      c.World.RoadSpacing,
		RoadWidth:        c.World.RoadWidth,
		SidewalkWidth:    c.World.SidewalkWidth,
		BuildingAttempts: c.World.BuildingAttempts,
		NpcCount:         c.World.NpcCount,
		CarCount:         c.World.CarCount,
		NpcHatChance:     c.World.NpcHatChance,
		NpcSpeedMin:      c.World.NpcSpeedMin,
		NpcSpeedMax:      c.World.NpcSpeedMax,
		CarSpeed:         c.World.CarSpeed,
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return fmt.Errorf("server name cannot be empty")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if err := c.WorldParams().Validate(); err != nil {
		return fmt.Errorf("invalid world: %w", err)
	}

	if c.RateLimit.Enabled && (c.RateLimit.MessagesPerSecond < 0 || c.RateLimit.BurstSize < 1) {
		return fmt.Errorf("rate limit needs a positive rate and burst")
	}

	if c.Outbound.QueueSize < 1 {
		return fmt.Errorf("outbound queue_size must be at least 1")
	}

	switch c.Outbound.OverflowPolicy {
	case OverflowDisconnect, OverflowDrop:
	default:
		return fmt.Errorf("invalid overflow_policy: %q", c.Outbound.OverflowPolicy)
	}

	if c.Outbound.WriteTimeoutMs < 0 {
		return fmt.Errorf("write_timeout_ms cannot be negative")
	}

	switch c.Protocol.MalformedPolicy {
	case MalformedDisconnect, MalformedSkip:
	default:
		return fmt.Errorf("invalid malformed_policy: %q", c.Protocol.MalformedPolicy)
	}

	if c.Protocol.ChatMaxLength < 0 {
		return fmt.Errorf("chat_max_length cannot be negative")
	}

	return nil
}
