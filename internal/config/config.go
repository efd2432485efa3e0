// Package config loads a directory node's YAML configuration.
//
// Example:
//
//	name: level2
//	listen: ":5002"
//	api_prefix: /api
//	store:
//	  backend: badger
//	  path: /var/lib/thingdir/level2
//	neighbors:
//	  - {name: level1, url: "http://level1:5001/api", role: parent}
//	  - {name: level3, url: "http://level3:5003/api", role: child}
//	  - {name: master, url: "http://master:5000/api", role: master}
//	shortcuts:
//	  - {target: level4, via: level3}
//
// THINGDIR_NAME, THINGDIR_LISTEN and THINGDIR_STORE_PATH override the
// matching file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/thingdir/internal/cluster"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Store backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// Config is a node's configuration.
type Config struct {
	Name      string             `yaml:"name" validate:"required"`
	Listen    string             `yaml:"listen" validate:"required"`
	APIPrefix string             `yaml:"api_prefix"`
	Neighbors []cluster.Neighbor `yaml:"neighbors" validate:"dive"`
	Shortcuts []cluster.Shortcut `yaml:"shortcuts" validate:"dive"`

	Store     StoreConfig     `yaml:"store"`
	Transport TransportConfig `yaml:"transport"`
	Routing   RoutingConfig   `yaml:"routing"`
	Fanout    FanoutConfig    `yaml:"fanout"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type StoreConfig struct {
	Backend    string        `yaml:"backend" validate:"oneof=memory badger"`
	Path       string        `yaml:"path" validate:"required_if=Backend badger"`
	SyncWrites bool          `yaml:"sync_writes"`
	GCInterval time.Duration `yaml:"gc_interval"`
}

type TransportConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

type RoutingConfig struct {
	MaxHops int `yaml:"max_hops" validate:"gte=0"`
}

type FanoutConfig struct {
	Concurrency int           `yaml:"concurrency" validate:"gte=0"`
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`
}

type MonitorConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval" validate:"gte=0"`
	MaxFailures int           `yaml:"max_failures" validate:"gte=0"`
}

// RateLimitConfig limits inbound requests; RPS 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" validate:"gte=0"`
	Burst int     `yaml:"burst" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// TracingConfig selects the span exporter: "none", "stdout" or "otlp".
type TracingConfig struct {
	Exporter string `yaml:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint string `yaml:"endpoint" validate:"required_if=Exporter otlp"`
	Insecure bool   `yaml:"insecure"`
}

// Default returns a single-node in-memory configuration.
func Default() Config {
	return Config{
		Name:      "root",
		Listen:    ":5000",
		APIPrefix: "/api",
		Store:     StoreConfig{Backend: BackendMemory, GCInterval: 10 * time.Minute},
		Transport: TransportConfig{Timeout: cluster.DefaultTimeout},
		Routing:   RoutingConfig{MaxHops: 16},
		Fanout:    FanoutConfig{Concurrency: 8, Timeout: 30 * time.Second},
		Monitor:   MonitorConfig{Enabled: true, Interval: 10 * time.Second, MaxFailures: 3},
		Log:       LogConfig{Level: "info", Format: "json"},
		Tracing:   TracingConfig{Exporter: "none"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path uses the defaults alone.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Name = getenv("THINGDIR_NAME", c.Name)
	c.Listen = getenv("THINGDIR_LISTEN", c.Listen)
	if p := getenv("THINGDIR_STORE_PATH", ""); p != "" {
		c.Store.Path = p
		c.Store.Backend = BackendBadger
	}
}

var validate = validator.New()

// Validate checks field constraints and the topology rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalidConfig, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.Topology(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Topology builds the node's topology from the configured neighbors.
func (c Config) Topology() (*cluster.Topology, error) {
	return cluster.NewTopology(c.Name, c.Neighbors, c.Shortcuts)
}

// getenv returns the trimmed environment value or def when unset.
func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
