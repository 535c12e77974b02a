// Package config defines the daemon configuration: NATS connection settings,
// resource mounts, snapshot storage, the WebSocket gateway, and metrics.
// Files load from JSON or YAML and are checked against a JSON Schema before
// the struct-level validation runs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dzearing/ai-experiments-sub014/errors"
)

// Config is the complete daemon configuration.
type Config struct {
	NATS      NATSConfig      `json:"nats" yaml:"nats"`
	Sync      SyncConfig      `json:"sync" yaml:"sync"`
	Resources []ResourceMount `json:"resources" yaml:"resources"`
	Gateway   GatewayConfig   `json:"gateway,omitempty" yaml:"gateway,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Log       LogConfig       `json:"log,omitempty" yaml:"log,omitempty"`
}

// NATSConfig defines NATS connection settings.
type NATSConfig struct {
	URL     string        `json:"url" yaml:"url"`
	Name    string        `json:"name,omitempty" yaml:"name,omitempty"`
	Token   string        `json:"token,omitempty" yaml:"token,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// SyncConfig defines delta subjects and snapshot storage.
type SyncConfig struct {
	SubjectPrefix  string `json:"subject_prefix,omitempty" yaml:"subject_prefix,omitempty"`
	SnapshotBucket string `json:"snapshot_bucket,omitempty" yaml:"snapshot_bucket,omitempty"`
}

// ResourceMount binds a synced resource key to a bus path.
type ResourceMount struct {
	Key  string   `json:"key" yaml:"key"`
	Path []string `json:"path" yaml:"path"`
}

// GatewayConfig defines the WebSocket gateway.
type GatewayConfig struct {
	Enabled   bool    `json:"enabled" yaml:"enabled"`
	Addr      string  `json:"addr,omitempty" yaml:"addr,omitempty"`
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"` // frames/sec per client
	RateBurst int     `json:"rate_burst,omitempty" yaml:"rate_burst,omitempty"`
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// LogConfig defines logging output.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`   // debug, info, warn, error
	Format string `json:"format,omitempty" yaml:"format,omitempty"` // text or json
}

// Default returns a config with sensible development defaults.
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:     "nats://localhost:4222",
			Name:    "statebusd",
			Timeout: 5 * time.Second,
		},
		Sync: SyncConfig{
			SubjectPrefix:  "statebus",
			SnapshotBucket: "statebus-snapshots",
		},
		Gateway: GatewayConfig{
			Enabled:   true,
			Addr:      ":8080",
			RateLimit: 50,
			RateBurst: 16,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a config file, validates it against the schema, and fills in
// defaults. The format is chosen by extension: .json, .yaml, or .yml.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "read "+path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return Parse(data)
	case ".yaml", ".yml":
		jsonData, err := yamlToJSON(data)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "convert YAML in "+path)
		}
		return Parse(jsonData)
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("unsupported config extension %q", ext),
			"Config", "Load", "detect format of "+path)
	}
}

// Validate checks the config, normalizing and defaulting as it goes.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "nats.url required")
	}
	if c.NATS.Name == "" {
		c.NATS.Name = "statebusd"
	}
	if c.NATS.Timeout <= 0 {
		c.NATS.Timeout = 5 * time.Second
	}

	if c.Sync.SubjectPrefix == "" {
		c.Sync.SubjectPrefix = "statebus"
	}
	if !isValidSubjectPart(c.Sync.SubjectPrefix) {
		return errors.WrapInvalid(
			fmt.Errorf("sync.subject_prefix %q is not valid for NATS subjects", c.Sync.SubjectPrefix),
			"Config", "Validate", "check subject prefix")
	}
	if c.Sync.SnapshotBucket == "" {
		c.Sync.SnapshotBucket = "statebus-snapshots"
	}

	seen := make(map[string]bool, len(c.Resources))
	for i, r := range c.Resources {
		if r.Key == "" {
			return errors.WrapInvalid(
				fmt.Errorf("resources[%d]: key is required", i),
				"Config", "Validate", "check resource mounts")
		}
		if !isValidSubjectPart(r.Key) {
			return errors.WrapInvalid(
				fmt.Errorf("resources[%d]: key %q is not valid for NATS subjects", i, r.Key),
				"Config", "Validate", "check resource mounts")
		}
		if seen[r.Key] {
			return errors.WrapInvalid(
				fmt.Errorf("resources[%d]: duplicate key %q", i, r.Key),
				"Config", "Validate", "check resource mounts")
		}
		seen[r.Key] = true
		if len(r.Path) == 0 {
			return errors.WrapInvalid(
				fmt.Errorf("resources[%d] (%s): path is required", i, r.Key),
				"Config", "Validate", "check resource mounts")
		}
		for _, seg := range r.Path {
			if seg == "" {
				return errors.WrapInvalid(
					fmt.Errorf("resources[%d] (%s): path segments must be non-empty", i, r.Key),
					"Config", "Validate", "check resource mounts")
			}
		}
	}

	if c.Gateway.Enabled {
		if c.Gateway.Addr == "" {
			c.Gateway.Addr = ":8080"
		}
		if c.Gateway.RateLimit < 0 {
			return errors.WrapInvalid(
				fmt.Errorf("gateway.rate_limit must not be negative"),
				"Config", "Validate", "check gateway")
		}
		if c.Gateway.RateBurst <= 0 {
			c.Gateway.RateBurst = 16
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Addr == "" {
			c.Metrics.Addr = ":9090"
		}
		if c.Metrics.Path == "" {
			c.Metrics.Path = "/metrics"
		}
	}

	switch c.Log.Level {
	case "":
		c.Log.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level),
			"Config", "Validate", "check log level")
	}
	switch c.Log.Format {
	case "":
		c.Log.Format = "text"
	case "text", "json":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("log.format %q is not one of text, json", c.Log.Format),
			"Config", "Validate", "check log format")
	}

	return nil
}

// isValidSubjectPart reports whether s can be used as a single NATS subject
// token (no wildcards, dots, or spaces).
func isValidSubjectPart(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// yamlToJSON converts a YAML document to JSON bytes so the same schema and
// decoder handle both formats.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	return marshalJSONValue(normalizeYAML(doc))
}

// normalizeYAML rewrites map[any]any keys (which yaml.v3 can still produce
// for non-string keys) into string-keyed maps JSON can encode.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}
