// Package config loads service configuration and task plan files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ab1355/ModuMind/internal/health"
	"github.com/ab1355/ModuMind/internal/orchestrator"
	"github.com/ab1355/ModuMind/internal/registry"
)

// EnvPrefix prefixes every environment override, e.g. MODUMIND_SERVER_PORT.
const EnvPrefix = "MODUMIND"

// Config is the complete service configuration.
type Config struct {
	Server       ServerConfig        `mapstructure:"server"`
	Logger       LoggerConfig        `mapstructure:"logger"`
	Orchestrator orchestrator.Config `mapstructure:"orchestrator"`
	Health       health.Config       `mapstructure:"health"`
	Archive      ArchiveConfig       `mapstructure:"archive"`
	Agents       []AgentConfig       `mapstructure:"agents"`
}

// ServerConfig controls the inbound HTTP API listener.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	BodyLimit    int           `mapstructure:"body_limit"`
}

// Address returns the host:port the API listens on.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggerConfig selects the zap level, encoding and outputs.
type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// ArchiveConfig selects where terminal tasks are recorded. Driver is
// "memory" or "kuzu"; Path is the Kuzu database directory.
type ArchiveConfig struct {
	Driver       string `mapstructure:"driver"`
	Path         string `mapstructure:"path"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

// AgentConfig is a statically registered agent.
type AgentConfig struct {
	Name         string   `mapstructure:"name"`
	Address      string   `mapstructure:"address"`
	Capabilities []string `mapstructure:"capabilities"`
}

// Descriptors converts the static agent list for registration.
func (c *Config) Descriptors() []registry.Descriptor {
	out := make([]registry.Descriptor, 0, len(c.Agents))
	for _, a := range c.Agents {
		out = append(out, registry.Descriptor{
			Name:         a.Name,
			Address:      a.Address,
			Capabilities: append([]string(nil), a.Capabilities...),
		})
	}
	return out
}

// Load reads path (optional), applies MODUMIND_* environment overrides and
// fills unset keys with defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Orchestrator.DispatchTimeout <= 0 {
		errs = append(errs, errors.New("orchestrator.dispatch_timeout must be positive"))
	}
	if c.Orchestrator.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("orchestrator.retry.max_attempts must be at least 1"))
	}
	switch c.Archive.Driver {
	case "memory", "kuzu":
	default:
		errs = append(errs, fmt.Errorf("archive.driver %q is not memory or kuzu", c.Archive.Driver))
	}
	if c.Archive.Driver == "kuzu" && c.Archive.Path == "" {
		errs = append(errs, errors.New("archive.path is required for the kuzu driver"))
	}
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.Name == "" {
			errs = append(errs, fmt.Errorf("agents[%d] has no name", i))
			continue
		}
		if seen[a.Name] {
			errs = append(errs, fmt.Errorf("agents[%d] duplicates name %q", i, a.Name))
		}
		seen[a.Name] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	orch := orchestrator.DefaultConfig()
	hc := health.DefaultConfig()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.body_limit", 4<<20)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.output_paths", []string{"stderr"})
	v.SetDefault("logger.error_output_paths", []string{"stderr"})

	v.SetDefault("orchestrator.dispatch_timeout", orch.DispatchTimeout)
	v.SetDefault("orchestrator.retry.max_attempts", orch.Retry.MaxAttempts)
	v.SetDefault("orchestrator.retry.base_delay", orch.Retry.BaseDelay)
	v.SetDefault("orchestrator.retry.max_delay", orch.Retry.MaxDelay)
	v.SetDefault("orchestrator.progress_buffer", orch.ProgressBuffer)
	v.SetDefault("orchestrator.archive_timeout", orch.ArchiveTimeout)
	v.SetDefault("orchestrator.retain_terminal", orch.RetainTerminal)

	v.SetDefault("health.interval", hc.Interval)
	v.SetDefault("health.probe_timeout", hc.ProbeTimeout)
	v.SetDefault("health.concurrency", hc.Concurrency)
	v.SetDefault("health.unreachable_after", hc.UnreachableAfter)

	v.SetDefault("archive.driver", "memory")
	v.SetDefault("archive.path", "")
	v.SetDefault("archive.history_limit", 100)
}
