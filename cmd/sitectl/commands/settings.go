package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openfroyo/sitemodel/pkg/telemetry"
)

// Settings holds everything sitectl needs besides the declared model.
// Values come from sitectl.yaml, SITECTL_* environment variables and flags,
// in increasing order of precedence.
type Settings struct {
	// Model lists the declaration files or directories used when a command
	// is given no paths.
	Model []string `mapstructure:"model"`

	Database DatabaseSettings `mapstructure:"database"`

	// Actor is stamped on created and modified entities.
	Actor string `mapstructure:"actor"`

	// WebRoot is the directory css/js declarations and libraries resolve against.
	WebRoot string `mapstructure:"web_root"`

	// RevisionState is "final" or "initial".
	RevisionState string `mapstructure:"revision_state"`

	Policy    PolicySettings    `mapstructure:"policy"`
	Logging   LoggingSettings   `mapstructure:"logging"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
}

// DatabaseSettings configures the SQLite store.
type DatabaseSettings struct {
	Path string `mapstructure:"path"`
}

// PolicySettings configures pre-apply policy checks.
type PolicySettings struct {
	// Mode is "enforce", "warn" or "off".
	Mode    string   `mapstructure:"mode"`
	Paths   []string `mapstructure:"paths"`
	Disable []string `mapstructure:"disable"`

	// Environment is passed to policies as input.context.environment.
	Environment string `mapstructure:"environment"`
}

// LoggingSettings configures the reconciler's logger.
type LoggingSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetrySettings configures tracing, metrics and events.
type TelemetrySettings struct {
	// Tracing is "none", "stdout" or "otlp".
	Tracing        string  `mapstructure:"tracing"`
	Endpoint       string  `mapstructure:"endpoint"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
	Metrics        bool    `mapstructure:"metrics"`
	MetricsAddress string  `mapstructure:"metrics_address"`
	Events         bool    `mapstructure:"events"`
}

const (
	policyEnforce = "enforce"
	policyWarn    = "warn"
	policyOff     = "off"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("model", []string{"."})
	v.SetDefault("database.path", "./sitemodel.db")
	v.SetDefault("actor", "sitectl")
	v.SetDefault("web_root", ".")
	v.SetDefault("revision_state", "final")
	v.SetDefault("policy.mode", policyEnforce)
	v.SetDefault("policy.paths", []string{})
	v.SetDefault("policy.disable", []string{})
	v.SetDefault("policy.environment", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("telemetry.tracing", "none")
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.sampling_rate", 1.0)
	v.SetDefault("telemetry.metrics", false)
	v.SetDefault("telemetry.metrics_address", ":9464")
	v.SetDefault("telemetry.events", true)
}

// loadSettings reads settings for cmd. An explicitly named config file must
// exist; the default sitectl.yaml is optional.
func loadSettings(cmd *cobra.Command, file string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("sitectl")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SITECTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || file != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// settingFlags maps command flags to setting keys.
var settingFlags = map[string]string{
	"db":          "database.path",
	"actor":       "actor",
	"web-root":    "web_root",
	"policy-mode": "policy.mode",
	"policy":      "policy.paths",
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for flag, key := range settingFlags {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// Validate checks enumerated settings.
func (s *Settings) Validate() error {
	switch s.RevisionState {
	case "final", "initial":
	default:
		return fmt.Errorf("invalid revision_state %q (must be 'final' or 'initial')", s.RevisionState)
	}
	switch s.Policy.Mode {
	case policyEnforce, policyWarn, policyOff:
	default:
		return fmt.Errorf("invalid policy.mode %q (must be 'enforce', 'warn' or 'off')", s.Policy.Mode)
	}
	if s.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}

// TelemetryConfig builds the telemetry configuration for these settings.
func (s *Settings) TelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "sitectl"
	cfg.ServiceVersion = version
	if s.Policy.Environment != "" {
		cfg.Environment = s.Policy.Environment
	}

	cfg.Logging.Level = s.Logging.Level
	cfg.Logging.Format = s.Logging.Format

	cfg.Tracing.Enabled = s.Telemetry.Tracing != "" && s.Telemetry.Tracing != "none"
	cfg.Tracing.Exporter = s.Telemetry.Tracing
	cfg.Tracing.Endpoint = s.Telemetry.Endpoint
	cfg.Tracing.SamplingRate = s.Telemetry.SamplingRate

	cfg.Metrics.Enabled = s.Telemetry.Metrics
	cfg.Metrics.ListenAddress = s.Telemetry.MetricsAddress

	cfg.Events.Enabled = s.Telemetry.Events
	return cfg
}
