package wskit

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Options is the router's configuration surface. Zero values are
// replaced by DefaultOptions' values where noted.
type Options struct {
	Heartbeat HeartbeatOptions `yaml:"heartbeat"`
	Limits    LimitsOptions    `yaml:"limits"`

	// ClientIDHeader is the name of the header emitted at upgrade
	// carrying the assigned clientId (default: "x-client-id").
	ClientIDHeader string `yaml:"client_id_header"`

	// ValidateOutgoing is the global default for whether send/reply/
	// progress validate payloads against the response descriptor before
	// sending. May be overridden per descriptor.
	ValidateOutgoing bool `yaml:"validate_outgoing"`

	LogLevel string `yaml:"log_level"`
}

// HeartbeatOptions configures the ping cadence and pong timeout.
type HeartbeatOptions struct {
	IntervalMs int `yaml:"interval_ms"`
	TimeoutMs  int `yaml:"timeout_ms"`
}

// Interval returns the configured ping interval, defaulting to 30s.
func (h HeartbeatOptions) Interval() time.Duration {
	if h.IntervalMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(h.IntervalMs) * time.Millisecond
}

// Timeout returns the configured pong timeout, defaulting to 5s.
func (h HeartbeatOptions) Timeout() time.Duration {
	if h.TimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(h.TimeoutMs) * time.Millisecond
}

// LimitsOptions configures resource bounds on a connection.
type LimitsOptions struct {
	MaxPayloadBytes  int64 `yaml:"max_payload_bytes"`
	MaxPending       int   `yaml:"max_pending"`
	MaxTopicsPerConn int   `yaml:"max_topics_per_conn"`
}

// MaxPayload returns the configured max frame size, defaulting to 1 MiB.
func (l LimitsOptions) MaxPayload() int64 {
	if l.MaxPayloadBytes <= 0 {
		return 1 << 20
	}
	return l.MaxPayloadBytes
}

// PendingLimit returns the configured per-connection RPC concurrency
// cap, defaulting to 100.
func (l LimitsOptions) PendingLimit() int {
	if l.MaxPending <= 0 {
		return 100
	}
	return l.MaxPending
}

// DefaultOptions returns the documented router defaults.
func DefaultOptions() Options {
	return Options{
		Heartbeat:      HeartbeatOptions{IntervalMs: 30000, TimeoutMs: 5000},
		Limits:         LimitsOptions{MaxPayloadBytes: 1 << 20, MaxPending: 100},
		ClientIDHeader: "x-client-id",
		LogLevel:       "info",
	}
}

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given: ./config.yaml, ~/.config/wskit/config.yaml,
// /config/config.yaml, then /etc/wskit/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "wskit", "config.yaml"))
	}
	paths = append(paths, "/config/config.yaml")
	paths = append(paths, "/etc/wskit/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty it must
// exist. Otherwise DefaultSearchPaths is searched in order.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("wskit: config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("wskit: no config file found (searched: %v)", DefaultSearchPaths())
}

// LoadOptions reads and parses a YAML options file, starting from
// DefaultOptions so unset fields keep their defaults.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	b, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("wskit: reading config: %w", err)
	}
	if err := yaml.Unmarshal(b, &opts); err != nil {
		return opts, fmt.Errorf("wskit: parsing config: %w", err)
	}
	return opts, nil
}
