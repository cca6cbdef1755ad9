package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/t77yq/taskgraph/internal/graph"
	"github.com/t77yq/taskgraph/internal/model"
)

// EnvPrefix prefixes environment overrides, e.g. TASKGRAPH_NATS_URL
const EnvPrefix = "TASKGRAPH"

// Config is the application configuration
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Log         LogConfig         `mapstructure:"log"`
	Storage     StorageConfig     `mapstructure:"storage"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Propagation PropagationConfig `mapstructure:"propagation"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// NATSConfig configures event publishing. An empty URL disables it.
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	Stream         string        `mapstructure:"stream"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
}

// Enabled reports whether a broker URL is configured
func (c NATSConfig) Enabled() bool {
	return c.URL != ""
}

type PropagationConfig struct {
	Policy     string `mapstructure:"policy"`
	NextStatus string `mapstructure:"next_status"`
}

type MaintenanceConfig struct {
	PruneSchedule     string        `mapstructure:"prune_schedule"`
	HistoryMaxAge     time.Duration `mapstructure:"history_max_age"`
	IntegritySchedule string        `mapstructure:"integrity_schedule"`
	StatsInterval     time.Duration `mapstructure:"stats_interval"`
}

// SetDefaults registers every default on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "taskgraph")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("storage.path", "taskgraph.db")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.stream", "TASKGRAPH")
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("nats.max_reconnects", 5)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)

	v.SetDefault("propagation.policy", string(graph.PolicyAllDepsComplete))
	v.SetDefault("propagation.next_status", string(model.TaskStatusInProgress))

	v.SetDefault("maintenance.prune_schedule", "0 0 3 * * *")
	v.SetDefault("maintenance.history_max_age", 720*time.Hour)
	v.SetDefault("maintenance.integrity_schedule", "0 */15 * * * *")
	v.SetDefault("maintenance.stats_interval", time.Minute)
}

// Load reads configuration from path, or from ./config/config.yaml when path
// is empty. A missing default file is not an error; a missing explicit one is.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later at runtime
func (c *Config) Validate() error {
	if _, err := graph.ParsePolicy(c.Propagation.Policy); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, ok := model.ParseTaskStatus(c.Propagation.NextStatus); !ok {
		return fmt.Errorf("invalid config: unknown propagation.next_status %q", c.Propagation.NextStatus)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("invalid config: storage.path is required")
	}
	if c.Maintenance.HistoryMaxAge <= 0 {
		return fmt.Errorf("invalid config: maintenance.history_max_age must be positive")
	}
	if c.Maintenance.StatsInterval <= 0 {
		return fmt.Errorf("invalid config: maintenance.stats_interval must be positive")
	}
	if c.NATS.Enabled() && c.NATS.ConnectTimeout <= 0 {
		return fmt.Errorf("invalid config: nats.connect_timeout must be positive")
	}
	return nil
}

// Policy returns the parsed propagation policy
func (c *Config) Policy() graph.Policy {
	p, _ := graph.ParsePolicy(c.Propagation.Policy)
	return p
}

// NextStatus returns the parsed propagation target status
func (c *Config) NextStatus() model.TaskStatus {
	s, _ := model.ParseTaskStatus(c.Propagation.NextStatus)
	return s
}
