// Package config loads server settings from defaults, an optional YAML file
// and ANVILCRAFT_* environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/StoreStation/AnvilCraft/pkg/logging"
	"github.com/StoreStation/AnvilCraft/pkg/region"
	"github.com/StoreStation/AnvilCraft/pkg/tick"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "ANVILCRAFT_"

var (
	ErrFileNotFound     = errors.New("config file not found")
	ErrPermissionDenied = errors.New("permission denied reading config file")
	ErrInvalidYAML      = errors.New("invalid YAML syntax")
	ErrInvalid          = errors.New("invalid configuration")
)

type Config struct {
	Server  ServerConfig  `yaml:"server" envPrefix:"SERVER_"`
	Network NetworkConfig `yaml:"network" envPrefix:"NETWORK_"`
	World   WorldConfig   `yaml:"world" envPrefix:"WORLD_"`
	Storage StorageConfig `yaml:"storage" envPrefix:"STORAGE_"`
	Tick    TickConfig    `yaml:"tick" envPrefix:"TICK_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
}

type ServerConfig struct {
	Address    string `yaml:"address" env:"ADDRESS"`
	MOTD       string `yaml:"motd" env:"MOTD"`
	MaxPlayers int    `yaml:"max_players" env:"MAX_PLAYERS"`
	// Encryption runs the RSA/AES handshake. Sessions are never verified
	// against an auth server.
	Encryption bool `yaml:"encryption" env:"ENCRYPTION"`
}

type NetworkConfig struct {
	// CompressionThreshold of -1 disables compression.
	CompressionThreshold int           `yaml:"compression_threshold" env:"COMPRESSION_THRESHOLD"`
	CompressionLevel     int           `yaml:"compression_level" env:"COMPRESSION_LEVEL"`
	KeepAliveInterval    time.Duration `yaml:"keepalive_interval" env:"KEEPALIVE_INTERVAL"`
	ReadTimeout          time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// InboundQueue bounds the packets a player may have waiting for the next tick.
	InboundQueue int `yaml:"inbound_queue" env:"INBOUND_QUEUE"`
}

type WorldConfig struct {
	Name string `yaml:"name" env:"NAME"`
	Seed int64  `yaml:"seed" env:"SEED"`
	// Generator is "noise" or "flat".
	Generator    string `yaml:"generator" env:"GENERATOR"`
	ViewDistance int    `yaml:"view_distance" env:"VIEW_DISTANCE"`
}

type StorageConfig struct {
	Dir            string        `yaml:"dir" env:"DIR"`
	Compression    string        `yaml:"compression" env:"COMPRESSION"`
	MaxOpenRegions int           `yaml:"max_open_regions" env:"MAX_OPEN_REGIONS"`
	Workers        int           `yaml:"workers" env:"WORKERS"`
	QueueSize      int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	SaveInterval   time.Duration `yaml:"save_interval" env:"SAVE_INTERVAL"`
}

type TickConfig struct {
	Rate int `yaml:"rate" env:"RATE"`
	// Strategy is "single", "per-world" or "chunk-subsets:<k>".
	Strategy string `yaml:"strategy" env:"STRATEGY"`
}

type LogConfig struct {
	Level  string         `yaml:"level" env:"LEVEL"`
	Format logging.Format `yaml:"format" env:"FORMAT"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:    ":25565",
			MOTD:       "An AnvilCraft server",
			MaxPlayers: 20,
		},
		Network: NetworkConfig{
			CompressionThreshold: 256,
			CompressionLevel:     -1,
			KeepAliveInterval:    10 * time.Second,
			ReadTimeout:          30 * time.Second,
			InboundQueue:         256,
		},
		World: WorldConfig{
			Name:         "world",
			Generator:    "noise",
			ViewDistance: 8,
		},
		Storage: StorageConfig{
			Dir:            "data",
			Compression:    "zlib",
			MaxOpenRegions: 64,
			Workers:        4,
			QueueSize:      1024,
			SaveInterval:   time.Minute,
		},
		Tick: TickConfig{
			Rate:     tick.DefaultRate,
			Strategy: "per-world",
		},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatConsole,
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// load takes an explicit environment; nil means the process environment.
func load(path string, environ map[string]string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("%w: %s", ErrFileNotFound, path)
		case errors.Is(err, fs.ErrPermission):
			return fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w in %s: %v", ErrInvalidYAML, path, err)
	}
	return nil
}

// Validate reports every out-of-range setting at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Server.Address == "" {
		bad("server.address is empty")
	}
	if c.Server.MaxPlayers < 1 || c.Server.MaxPlayers > 255 {
		bad("server.max_players must be 1..255, got %d", c.Server.MaxPlayers)
	}
	if c.Network.CompressionThreshold < -1 {
		bad("network.compression_threshold must be >= -1, got %d", c.Network.CompressionThreshold)
	}
	if c.Network.CompressionLevel < -1 || c.Network.CompressionLevel > 9 {
		bad("network.compression_level must be -1..9, got %d", c.Network.CompressionLevel)
	}
	if c.Network.KeepAliveInterval <= 0 {
		bad("network.keepalive_interval must be positive")
	}
	if c.Network.ReadTimeout <= c.Network.KeepAliveInterval {
		bad("network.read_timeout must exceed keepalive_interval")
	}
	if c.Network.InboundQueue < 1 {
		bad("network.inbound_queue must be >= 1, got %d", c.Network.InboundQueue)
	}
	if c.World.Name == "" || filepath.Base(c.World.Name) != c.World.Name {
		bad("world.name %q is not a plain directory name", c.World.Name)
	}
	if c.World.Generator != "noise" && c.World.Generator != "flat" {
		bad("world.generator must be noise or flat, got %q", c.World.Generator)
	}
	if c.World.ViewDistance < 1 || c.World.ViewDistance > 32 {
		bad("world.view_distance must be 1..32, got %d", c.World.ViewDistance)
	}
	if _, err := c.Storage.RegionCompression(); err != nil {
		bad("storage.compression: %v", err)
	}
	if c.Storage.MaxOpenRegions < 1 {
		bad("storage.max_open_regions must be >= 1, got %d", c.Storage.MaxOpenRegions)
	}
	if c.Storage.Workers < 1 {
		bad("storage.workers must be >= 1, got %d", c.Storage.Workers)
	}
	if c.Storage.QueueSize < 1 {
		bad("storage.queue_size must be >= 1, got %d", c.Storage.QueueSize)
	}
	if c.Storage.SaveInterval < 0 {
		bad("storage.save_interval must not be negative")
	}
	if c.Tick.Rate < 1 || c.Tick.Rate > 1000 {
		bad("tick.rate must be 1..1000, got %d", c.Tick.Rate)
	}
	if _, err := tick.ParseStrategy(c.Tick.Strategy); err != nil {
		bad("tick.strategy: %v", err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		bad("log.level: %v", err)
	}
	if c.Log.Format != logging.FormatConsole && c.Log.Format != logging.FormatJSON {
		bad("log.format must be console or json, got %q", c.Log.Format)
	}
	return errors.Join(errs...)
}

// RegionCompression maps the storage.compression name to a region scheme.
func (s StorageConfig) RegionCompression() (region.Compression, error) {
	switch s.Compression {
	case "gzip":
		return region.CompressionGzip, nil
	case "zlib", "":
		return region.CompressionZlib, nil
	case "none":
		return region.CompressionNone, nil
	}
	return 0, fmt.Errorf("unknown compression %q", s.Compression)
}

// RegionDir is where the region files of the configured world live.
func (c *Config) RegionDir() string {
	return filepath.Join(c.Storage.Dir, c.World.Name, "region")
}

// Logging converts the log section for the logging package.
func (c *Config) Logging() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}
