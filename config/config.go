// Package config loads server settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/lab1702/planetfall/game"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the full server configuration.
type Config struct {
	Port         string
	PublicWSURL  string // advertised by /join; derived from the request when empty
	Sim          game.SimConfig
	SendBuffer   int           // outbound frames buffered per connection
	ReadLimit    int64         // max inbound frame size in bytes
	InboundRate  float64       // inbound messages per second per connection
	InboundBurst int           // inbound burst allowance
	EmptyRoomTTL time.Duration // idle rooms are disposed after this; 0 keeps them
	LogLevel     string
	LogFormat    string
	Tracing      TracingConfig
}

// TracingConfig controls the tick tracer.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	SampleRatio float64
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:         "8080",
		Sim:          game.DefaultSimConfig(),
		SendBuffer:   256,
		ReadLimit:    4096,
		InboundRate:  60,
		InboundBurst: 120,
		EmptyRoomTTL: 2 * time.Minute,
		LogLevel:     "info",
		LogFormat:    "text",
		Tracing: TracingConfig{
			ServiceName: "planetfall",
			SampleRatio: 0.01,
		},
	}
}

// Load reads envFile (if it exists) into the process environment and builds
// a validated Config from it. An empty envFile means ".env".
func Load(envFile string) (Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, falling back to defaults
// for unset keys.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()
	p := parser{getenv: getenv}

	cfg.Port = p.str("PORT", cfg.Port)
	cfg.PublicWSURL = p.str("PUBLIC_WS_URL", cfg.PublicWSURL)

	cfg.Sim.Width = p.float("WORLD_WIDTH", cfg.Sim.Width)
	cfg.Sim.Height = p.float("WORLD_HEIGHT", cfg.Sim.Height)
	cfg.Sim.Seed = int64(p.int("SEED", int(cfg.Sim.Seed)))
	cfg.Sim.PlanetCount = p.int("PLANET_COUNT", cfg.Sim.PlanetCount)
	cfg.Sim.MinRadius = p.float("MIN_RADIUS", cfg.Sim.MinRadius)
	cfg.Sim.MaxRadius = p.float("MAX_RADIUS", cfg.Sim.MaxRadius)
	cfg.Sim.FleetSpeed = p.float("FLEET_SPEED", cfg.Sim.FleetSpeed)
	cfg.Sim.TickRate = p.int("TICK_RATE", cfg.Sim.TickRate)
	cfg.Sim.DeltaHz = p.int("DELTA_HZ", cfg.Sim.DeltaHz)
	cfg.Sim.SeatCount = p.int("SEAT_COUNT", cfg.Sim.SeatCount)

	cfg.SendBuffer = p.int("SEND_BUFFER", cfg.SendBuffer)
	cfg.ReadLimit = int64(p.int("READ_LIMIT", int(cfg.ReadLimit)))
	cfg.InboundRate = p.float("INBOUND_RATE", cfg.InboundRate)
	cfg.InboundBurst = p.int("INBOUND_BURST", cfg.InboundBurst)
	cfg.EmptyRoomTTL = p.duration("EMPTY_ROOM_TTL", cfg.EmptyRoomTTL)

	cfg.LogLevel = p.str("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = p.str("LOG_FORMAT", cfg.LogFormat)

	cfg.Tracing.Enabled = p.bool("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.ServiceName = p.str("TRACING_SERVICE_NAME", cfg.Tracing.ServiceName)
	cfg.Tracing.SampleRatio = p.float("TRACING_SAMPLE_RATIO", cfg.Tracing.SampleRatio)

	if p.err != nil {
		return Config{}, p.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if err := c.Sim.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch {
	case c.Port == "":
		return fmt.Errorf("%w: port must be set", ErrInvalid)
	case c.SendBuffer < 1:
		return fmt.Errorf("%w: send buffer must be at least 1, got %d", ErrInvalid, c.SendBuffer)
	case c.ReadLimit < 1:
		return fmt.Errorf("%w: read limit must be positive, got %d", ErrInvalid, c.ReadLimit)
	case c.InboundRate <= 0 || c.InboundBurst < 1:
		return fmt.Errorf("%w: inbound rate %v/s burst %d", ErrInvalid, c.InboundRate, c.InboundBurst)
	case c.EmptyRoomTTL < 0:
		return fmt.Errorf("%w: empty room ttl must not be negative", ErrInvalid)
	case c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1:
		return fmt.Errorf("%w: sample ratio must be in [0,1], got %v", ErrInvalid, c.Tracing.SampleRatio)
	}
	return nil
}

// parser records the first malformed value it sees.
type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) fail(key, raw string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %s=%q: %v", ErrInvalid, key, raw, err)
	}
}

func (p *parser) str(key, def string) string {
	if v := p.getenv(key); v != "" {
		return v
	}
	return def
}

func (p *parser) int(key string, def int) int {
	raw := p.getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) float(key string, def float64) float64 {
	raw := p.getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) bool(key string, def bool) bool {
	raw := p.getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := p.getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return v
}
