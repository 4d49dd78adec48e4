// Package config handles configuration loading for rudder.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for rudder.
type Config struct {
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Budget     BudgetConfig     `mapstructure:"budget"`
	Phases     PhasesConfig     `mapstructure:"phases"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	History    HistoryConfig    `mapstructure:"history"`
	Output     OutputConfig     `mapstructure:"output"`
	Approval   ApprovalConfig   `mapstructure:"approval"`
	Queue      QueueConfig      `mapstructure:"queue"`
	TUI        TUIConfig        `mapstructure:"tui"`
}

// AnthropicConfig holds model provider settings.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. Supports ${VAR} expansion.
	APIKey string `mapstructure:"api_key"`
	// Model is the model identifier to request.
	Model string `mapstructure:"model"`
	// UseBedrock routes requests through AWS Bedrock instead of the
	// direct API.
	UseBedrock bool `mapstructure:"use_bedrock"`
	// AWSRegion is the Bedrock region (e.g. "us-west-2").
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is the optional shared-config profile for Bedrock.
	AWSProfile string `mapstructure:"aws_profile"`
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	// Ceiling is the maximum conversation size in tokens.
	Ceiling int64 `mapstructure:"ceiling"`
	// WarningThreshold is the fraction of ceiling (0.0-1.0) at which
	// the tracker reports a warning.
	WarningThreshold float64 `mapstructure:"warning_threshold"`
	// EmergencyThreshold is the fraction of ceiling at which emergency
	// mode engages.
	EmergencyThreshold float64 `mapstructure:"emergency_threshold"`
	// EmergencyReserve is the token reserve that drives the emergency
	// strategy escalation tiers.
	EmergencyReserve int64 `mapstructure:"emergency_reserve"`
}

// PhasesConfig holds per-phase timeout and retry budgets.
type PhasesConfig struct {
	Assess  PhaseConfig `mapstructure:"assess"`
	Plan    PhaseConfig `mapstructure:"plan"`
	Execute PhaseConfig `mapstructure:"execute"`
	Test    PhaseConfig `mapstructure:"test"`
	Verify  PhaseConfig `mapstructure:"verify"`
	Confirm PhaseConfig `mapstructure:"confirm"`
	Commit  PhaseConfig `mapstructure:"commit"`
}

// PhaseConfig holds the budget for a single phase.
type PhaseConfig struct {
	// Timeout is the maximum duration for one attempt of the phase.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is how many times the phase may be retried after a
	// failure before the run is reported failed.
	MaxRetries int `mapstructure:"max_retries"`
}

// DispatcherConfig holds tool dispatch settings.
type DispatcherConfig struct {
	// Concurrency is the batch size for concurrent tool execution.
	Concurrency int `mapstructure:"concurrency"`
	// ToolTimeout is the per-tool execution deadline.
	ToolTimeout time.Duration `mapstructure:"tool_timeout"`
}

// HistoryConfig holds conversation compression settings.
type HistoryConfig struct {
	// KeepRecent is the number of most recent turns kept verbatim.
	KeepRecent int `mapstructure:"keep_recent"`
	// MaxGists is the number of role-tagged gists kept in the synopsis.
	MaxGists int `mapstructure:"max_gists"`
}

// OutputConfig holds tool output bounding settings.
type OutputConfig struct {
	// MaxChars is the default truncation limit for a tool result.
	MaxChars int `mapstructure:"max_chars"`
	// MinChars is the floor below which MaxChars is clamped.
	MinChars int `mapstructure:"min_chars"`
}

// ApprovalConfig holds approval gate settings.
type ApprovalConfig struct {
	// Retention is how long approval requests are kept before cleanup
	// purges them, decided or not.
	Retention time.Duration `mapstructure:"retention"`
}

// QueueConfig holds follow-up queue settings.
type QueueConfig struct {
	// PollInterval is how often the background poller attempts a dequeue.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
//  1. Environment variables (RUDDER_*, ANTHROPIC_API_KEY)
//  2. Project config (.rudder.yaml in current directory or a parent)
//  3. User config (~/.config/rudder/config.yaml)
//  4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("RUDDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("budget.ceiling", cfg.Budget.Ceiling)
	v.Set("budget.warning_threshold", cfg.Budget.WarningThreshold)
	v.Set("budget.emergency_threshold", cfg.Budget.EmergencyThreshold)
	v.Set("budget.emergency_reserve", cfg.Budget.EmergencyReserve)
	v.Set("dispatcher.concurrency", cfg.Dispatcher.Concurrency)
	v.Set("dispatcher.tool_timeout", cfg.Dispatcher.ToolTimeout.String())
	v.Set("history.keep_recent", cfg.History.KeepRecent)
	v.Set("history.max_gists", cfg.History.MaxGists)
	v.Set("output.max_chars", cfg.Output.MaxChars)
	v.Set("output.min_chars", cfg.Output.MinChars)
	v.Set("approval.retention", cfg.Approval.Retention.String())
	v.Set("queue.poll_interval", cfg.Queue.PollInterval.String())
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// fileConfig mirrors Config with yaml tags for writing starter files.
type fileConfig struct {
	Anthropic struct {
		APIKey     string `yaml:"api_key"`
		Model      string `yaml:"model"`
		UseBedrock bool   `yaml:"use_bedrock"`
		AWSRegion  string `yaml:"aws_region,omitempty"`
	} `yaml:"anthropic"`
	Budget struct {
		Ceiling            int64   `yaml:"ceiling"`
		WarningThreshold   float64 `yaml:"warning_threshold"`
		EmergencyThreshold float64 `yaml:"emergency_threshold"`
		EmergencyReserve   int64   `yaml:"emergency_reserve"`
	} `yaml:"budget"`
	Dispatcher struct {
		Concurrency int    `yaml:"concurrency"`
		ToolTimeout string `yaml:"tool_timeout"`
	} `yaml:"dispatcher"`
	History struct {
		KeepRecent int `yaml:"keep_recent"`
		MaxGists   int `yaml:"max_gists"`
	} `yaml:"history"`
	Output struct {
		MaxChars int `yaml:"max_chars"`
		MinChars int `yaml:"min_chars"`
	} `yaml:"output"`
	Approval struct {
		Retention string `yaml:"retention"`
	} `yaml:"approval"`
	Queue struct {
		PollInterval string `yaml:"poll_interval"`
	} `yaml:"queue"`
}

// WriteDefault writes a starter config file with the built-in defaults
// to path. It refuses to clobber an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	var fc fileConfig
	fc.Anthropic.APIKey = "${ANTHROPIC_API_KEY}"
	fc.Anthropic.Model = ""
	fc.Anthropic.UseBedrock = false
	fc.Budget.Ceiling = 1_000_000
	fc.Budget.WarningThreshold = 0.80
	fc.Budget.EmergencyThreshold = 0.90
	fc.Budget.EmergencyReserve = 20_000
	fc.Dispatcher.Concurrency = 4
	fc.Dispatcher.ToolTimeout = "5s"
	fc.History.KeepRecent = 10
	fc.History.MaxGists = 10
	fc.Output.MaxChars = 5000
	fc.Output.MinChars = 500
	fc.Approval.Retention = "1h"
	fc.Queue.PollInterval = "5s"

	data, err := yaml.Marshal(&fc)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if
// one exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_bedrock", false)

	v.SetDefault("budget.ceiling", 1_000_000)
	v.SetDefault("budget.warning_threshold", 0.80)
	v.SetDefault("budget.emergency_threshold", 0.90)
	v.SetDefault("budget.emergency_reserve", 20_000)

	v.SetDefault("phases.assess.timeout", "5s")
	v.SetDefault("phases.assess.max_retries", 1)
	v.SetDefault("phases.plan.timeout", "8s")
	v.SetDefault("phases.plan.max_retries", 1)
	v.SetDefault("phases.execute.timeout", "15s")
	v.SetDefault("phases.execute.max_retries", 2)
	v.SetDefault("phases.test.timeout", "10s")
	v.SetDefault("phases.test.max_retries", 1)
	v.SetDefault("phases.verify.timeout", "5s")
	v.SetDefault("phases.verify.max_retries", 0)
	v.SetDefault("phases.confirm.timeout", "10s")
	v.SetDefault("phases.confirm.max_retries", 1)
	v.SetDefault("phases.commit.timeout", "10s")
	v.SetDefault("phases.commit.max_retries", 0)

	v.SetDefault("dispatcher.concurrency", 4)
	v.SetDefault("dispatcher.tool_timeout", "5s")

	v.SetDefault("history.keep_recent", 10)
	v.SetDefault("history.max_gists", 10)

	v.SetDefault("output.max_chars", 5000)
	v.SetDefault("output.min_chars", 500)

	v.SetDefault("approval.retention", "1h")

	v.SetDefault("queue.poll_interval", "5s")

	v.SetDefault("tui.refresh_rate", "100ms")
}

// getUserConfigDir returns the XDG config directory for rudder.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "rudder")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "rudder")
	}
	return filepath.Join(home, ".config", "rudder")
}

// findProjectConfig searches for .rudder.yaml in the current directory
// and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".rudder.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a config value.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}
