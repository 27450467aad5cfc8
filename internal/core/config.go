package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bolcd/bolcd/internal/discovery"
)

// Environment variables read on top of the config file.
const (
	EnvConfigPath = "BOLCD_CONFIG"
	EnvEpsilon    = "BOLCD_EPSILON"
	EnvFDRQ       = "BOLCD_FDR_Q"
)

// Config holds the entire bolcd configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Bus       BusConfig        `yaml:"bus"`
	Discovery discovery.Config `yaml:"discovery"`
	Audit     AuditConfig      `yaml:"audit"`
	Ingest    IngestConfig     `yaml:"ingest"`
	Condense  CondenseConfig   `yaml:"condense"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
	RateLimit   int      `yaml:"rate_limit"` // requests per minute per client, 0 disables
	RunHistory  int      `yaml:"run_history"`
}

// BusConfig holds NATS event bus settings.
type BusConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	Embedded  bool   `yaml:"embedded"`
	DataDir   string `yaml:"data_dir"`
	Port      int    `yaml:"port"` // -1 picks a random port for the embedded server
	ClusterID string `yaml:"cluster_id"`
}

// AuditConfig selects where audit records go.
type AuditConfig struct {
	JSONLPath  string `yaml:"jsonl_path"`
	SQLitePath string `yaml:"sqlite_path"`
	Publish    bool   `yaml:"publish"` // also publish to the bus audit stream
}

// IngestConfig controls how bus events are turned into recompute batches.
type IngestConfig struct {
	BatchWindow  time.Duration `yaml:"batch_window"`
	MaxBatch     int           `yaml:"max_batch"`
	DedupTTL     time.Duration `yaml:"dedup_ttl"`
	DedupMaxSize int           `yaml:"dedup_max_size"`
	Listen       ListenConfig  `yaml:"listen"`
	Tail         []TailSource  `yaml:"tail,omitempty"`
}

// TailSource is a JSONL event file followed by the serve command. New lines
// are published to the bus; rotation and truncation reopen the file.
type TailSource struct {
	Path      string `yaml:"path"`
	Source    string `yaml:"source,omitempty"` // default source for events without one
	FromStart bool   `yaml:"from_start,omitempty"`
}

// ListenConfig is the line-delimited JSON event listener that feeds the bus.
type ListenConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Protocol string `yaml:"protocol"` // udp, tcp, or both
}

// CondenseConfig is the alert suppression policy.
type CondenseConfig struct {
	Alpha                  float64       `yaml:"alpha" json:"alpha"`
	SupportMin             uint64        `yaml:"support_min" json:"support_min"`
	NearWindow             time.Duration `yaml:"near_window" json:"near_window"`
	RootPass               bool          `yaml:"root_pass" json:"root_pass"`
	HighSeverityProtection bool          `yaml:"high_severity_protection" json:"high_severity_protection"`
	Allowlist              []string      `yaml:"allowlist,omitempty" json:"allowlist"`
	MaxRecent              int           `yaml:"max_recent" json:"max_recent"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sane defaults. Signal thresholds are
// empty and must be configured before recompute can run.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       8780,
			RateLimit:  600,
			RunHistory: 100,
		},
		Bus: BusConfig{
			Enabled:   false,
			URL:       "nats://127.0.0.1:4222",
			Embedded:  true,
			DataDir:   "./data/nats",
			Port:      4222,
			ClusterID: "bolcd-cluster",
		},
		Discovery: discovery.DefaultConfig(),
		Audit: AuditConfig{
			JSONLPath: "./data/audit.jsonl",
		},
		Ingest: IngestConfig{
			BatchWindow:  5 * time.Minute,
			MaxBatch:     100000,
			DedupTTL:     30 * time.Second,
			DedupMaxSize: 50000,
			Listen: ListenConfig{
				Host:     "0.0.0.0",
				Port:     5140,
				Protocol: "tcp",
			},
		},
		Condense: CondenseConfig{
			Alpha:                  0.01,
			SupportMin:             20,
			NearWindow:             5 * time.Minute,
			RootPass:               true,
			HighSeverityProtection: true,
			MaxRecent:              100000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// ExampleConfig is DefaultConfig with a small set of thresholds, written
// by "bolcd config init".
func ExampleConfig() *Config {
	cfg := DefaultConfig()
	cfg.Discovery.Thresholds = map[string]discovery.Threshold{
		"failed_logins":    {Kind: discovery.ThresholdNumeric, A: 5, Delta: 1},
		"mfa_bypass":       {Kind: discovery.ThresholdBoolean},
		"privileged_role":  {Kind: discovery.ThresholdCategorical, Match: "admin"},
		"outbound_mb":      {Kind: discovery.ThresholdNumeric, A: 100, Delta: 10},
		"new_process_rare": {Kind: discovery.ThresholdBoolean},
	}
	return cfg
}

// LoadConfig loads configuration from a YAML file, falling back to defaults.
// Environment overrides are applied last.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides epsilon and fdr_q from the environment.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvEpsilon); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvEpsilon, err)
		}
		c.Discovery.Epsilon = f
	}
	if v := os.Getenv(EnvFDRQ); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvFDRQ, err)
		}
		c.Discovery.FDRQ = f
	}
	return nil
}

// SaveConfig writes the configuration to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the whole configuration. Discovery problems are returned
// as *discovery.ConfigurationError.
func (c *Config) Validate() error {
	if err := c.Discovery.Validate(); err != nil {
		return err
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if c.Bus.Enabled && !c.Bus.Embedded && c.Bus.URL == "" {
		return fmt.Errorf("bus.url is required when the embedded server is off")
	}
	if c.Ingest.BatchWindow < 0 || c.Ingest.MaxBatch < 0 {
		return fmt.Errorf("ingest batch_window and max_batch must not be negative")
	}
	if c.Ingest.Listen.Enabled {
		if !c.Bus.Enabled {
			return fmt.Errorf("ingest.listen requires the event bus")
		}
		switch strings.ToLower(c.Ingest.Listen.Protocol) {
		case "udp", "tcp", "both":
		default:
			return fmt.Errorf("ingest.listen.protocol %q is not one of udp, tcp, both", c.Ingest.Listen.Protocol)
		}
	}
	for i, t := range c.Ingest.Tail {
		if t.Path == "" {
			return fmt.Errorf("ingest.tail[%d].path is required", i)
		}
		if !c.Bus.Enabled {
			return fmt.Errorf("ingest.tail requires the event bus")
		}
	}
	if c.Condense.Alpha < 0 || c.Condense.Alpha > 1 {
		return fmt.Errorf("condense.alpha must be in [0, 1], got %v", c.Condense.Alpha)
	}
	if c.Condense.NearWindow < 0 {
		return fmt.Errorf("condense.near_window must not be negative")
	}
	switch c.LogLevel() {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Discovery = c.Discovery.Clone()
	out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	out.Condense.Allowlist = append([]string(nil), c.Condense.Allowlist...)
	out.Ingest.Tail = append([]TailSource(nil), c.Ingest.Tail...)
	return &out
}

// LogLevel returns the parsed log level string.
func (c *Config) LogLevel() string {
	return strings.ToLower(c.Logging.Level)
}
