// Package config loads and validates the pulsebook YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// LocalDBPath is the SQLite file of the local store.
	// Defaults to ~/.local/share/pulsebook/pulsebook.db.
	LocalDBPath string `yaml:"local_db_path"`

	// Remote configures the optional PostgreSQL store. Omit the block (or
	// leave url empty) to run local-only; sync then reports unavailable.
	Remote *RemoteConfig `yaml:"remote,omitempty"`

	HTTP   HTTPConfig   `yaml:"http"`
	Sync   SyncConfig   `yaml:"sync"`
	Search SearchConfig `yaml:"search"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// RemoteConfig holds the PostgreSQL connection settings.
type RemoteConfig struct {
	// URL is a postgres:// connection string. ${VAR} references are expanded,
	// e.g. url: "${DATABASE_URL}".
	URL string `yaml:"url"`

	MaxConns int32 `yaml:"max_conns"`
	MinConns int32 `yaml:"min_conns"`

	// ConnectTimeout bounds establishing a connection. Defaults to 5s.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// StatementTimeout is sent as the statement_timeout runtime parameter.
	// Defaults to 30s.
	StatementTimeout time.Duration `yaml:"statement_timeout"`

	// PingAttempts is how often the reachability probe is tried before a
	// sync pass gives up. Defaults to 3.
	PingAttempts int `yaml:"ping_attempts"`
}

// HTTPConfig configures the HTTP surface.
type HTTPConfig struct {
	// Addr is the listen address. Defaults to "127.0.0.1:8080".
	Addr string `yaml:"addr"`

	// DefaultUserID, when non-zero, is the principal assumed for requests
	// that carry no identity headers. Use for single-user desktop installs.
	DefaultUserID int64 `yaml:"default_user_id"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	// Interval between background sync passes. Zero disables the loop;
	// passes then only run on demand.
	Interval time.Duration `yaml:"interval"`

	// RecordTimeout bounds the remote work for a single record. Defaults to 30s.
	RecordTimeout time.Duration `yaml:"record_timeout"`

	// MaxAttempts stops retrying a failed record after this many consecutive
	// failures. Zero retries forever.
	MaxAttempts int `yaml:"max_attempts"`

	// DetailsLimit caps the per-record error messages in a sync result.
	// Defaults to 50.
	DetailsLimit int `yaml:"details_limit"`
}

// SearchConfig tunes the similarity search.
type SearchConfig struct {
	CandidateLimit int     `yaml:"candidate_limit"`
	Threshold      float64 `yaml:"threshold"`
	ModelThreshold float64 `yaml:"model_threshold"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "pulsebook".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// RemoteEnabled reports whether a remote store is configured.
func (c *Config) RemoteEnabled() bool {
	return c.Remote != nil && c.Remote.URL != ""
}

// DefaultPath returns the default config file path: ~/.config/pulsebook/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "pulsebook", "config.yaml"), nil
}

// Default returns a configuration with every default applied, for running
// without a config file.
func Default() *Config {
	var cfg Config
	_ = cfg.validate()
	return &cfg
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(raw)))))
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all fields are well-formed and fills in defaults.
func (c *Config) validate() error {
	if c.Remote != nil && c.Remote.URL != "" {
		r := c.Remote
		u, err := url.Parse(r.URL)
		if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			return fmt.Errorf("remote.url must be a postgres:// URL")
		}
		if r.MaxConns == 0 {
			r.MaxConns = 4
		}
		if r.MinConns < 0 || r.MinConns > r.MaxConns {
			return fmt.Errorf("remote.min_conns %d must be between 0 and max_conns %d", r.MinConns, r.MaxConns)
		}
		if r.ConnectTimeout == 0 {
			r.ConnectTimeout = 5 * time.Second
		}
		if r.StatementTimeout == 0 {
			r.StatementTimeout = 30 * time.Second
		}
		if r.PingAttempts == 0 {
			r.PingAttempts = 3
		}
		if r.ConnectTimeout < 0 || r.StatementTimeout < 0 || r.PingAttempts < 0 {
			return fmt.Errorf("remote timeouts and ping_attempts must not be negative")
		}
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8080"
	}
	if _, _, err := net.SplitHostPort(c.HTTP.Addr); err != nil {
		return fmt.Errorf("http.addr %q: %w", c.HTTP.Addr, err)
	}

	if c.Sync.Interval < 0 {
		return fmt.Errorf("sync.interval must not be negative")
	}
	if c.Sync.Interval > 0 && c.Sync.Interval < 10*time.Second {
		return fmt.Errorf("sync.interval %v is too short (minimum 10s)", c.Sync.Interval)
	}
	if c.Sync.RecordTimeout == 0 {
		c.Sync.RecordTimeout = 30 * time.Second
	}
	if c.Sync.MaxAttempts < 0 {
		return fmt.Errorf("sync.max_attempts must not be negative")
	}
	if c.Sync.DetailsLimit == 0 {
		c.Sync.DetailsLimit = 50
	}

	s := &c.Search
	if s.CandidateLimit == 0 {
		s.CandidateLimit = 200
	}
	if s.Threshold == 0 {
		s.Threshold = 0.90
	}
	if s.ModelThreshold == 0 {
		s.ModelThreshold = 0.80
	}
	if s.CandidateLimit < 0 {
		return fmt.Errorf("search.candidate_limit must not be negative")
	}
	if s.Threshold < 0 || s.Threshold > 1 || s.ModelThreshold < 0 || s.ModelThreshold > 1 {
		return fmt.Errorf("search thresholds must be within [0, 1]")
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
