package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/calder-ai/rudder/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify rudder configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/rudder/config.yaml
Project-specific overrides can be placed in .rudder.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file with the defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetUserConfigPath()
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	apiKeyDisplay := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKeyDisplay = "****"
	}

	fmt.Printf("anthropic.api_key: %s\n", apiKeyDisplay)
	fmt.Printf("anthropic.model: %s\n", cfg.Anthropic.Model)
	fmt.Printf("anthropic.use_bedrock: %t\n", cfg.Anthropic.UseBedrock)
	fmt.Printf("budget.ceiling: %d\n", cfg.Budget.Ceiling)
	fmt.Printf("budget.warning_threshold: %g\n", cfg.Budget.WarningThreshold)
	fmt.Printf("budget.emergency_threshold: %g\n", cfg.Budget.EmergencyThreshold)
	fmt.Printf("budget.emergency_reserve: %d\n", cfg.Budget.EmergencyReserve)
	fmt.Printf("dispatcher.concurrency: %d\n", cfg.Dispatcher.Concurrency)
	fmt.Printf("dispatcher.tool_timeout: %s\n", cfg.Dispatcher.ToolTimeout)
	fmt.Printf("history.keep_recent: %d\n", cfg.History.KeepRecent)
	fmt.Printf("history.max_gists: %d\n", cfg.History.MaxGists)
	fmt.Printf("output.max_chars: %d\n", cfg.Output.MaxChars)
	fmt.Printf("output.min_chars: %d\n", cfg.Output.MinChars)
	fmt.Printf("approval.retention: %s\n", cfg.Approval.Retention)
	fmt.Printf("queue.poll_interval: %s\n", cfg.Queue.PollInterval)
	fmt.Printf("tui.refresh_rate: %s\n", cfg.TUI.RefreshRate)
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		if cfg.Anthropic.APIKey == "" {
			return "(not set)", nil
		}
		return "****", nil
	case "anthropic.model":
		return cfg.Anthropic.Model, nil
	case "anthropic.use_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseBedrock), nil
	case "budget.ceiling":
		return strconv.FormatInt(cfg.Budget.Ceiling, 10), nil
	case "budget.warning_threshold":
		return strconv.FormatFloat(cfg.Budget.WarningThreshold, 'g', -1, 64), nil
	case "budget.emergency_threshold":
		return strconv.FormatFloat(cfg.Budget.EmergencyThreshold, 'g', -1, 64), nil
	case "budget.emergency_reserve":
		return strconv.FormatInt(cfg.Budget.EmergencyReserve, 10), nil
	case "dispatcher.concurrency":
		return strconv.Itoa(cfg.Dispatcher.Concurrency), nil
	case "dispatcher.tool_timeout":
		return cfg.Dispatcher.ToolTimeout.String(), nil
	case "history.keep_recent":
		return strconv.Itoa(cfg.History.KeepRecent), nil
	case "history.max_gists":
		return strconv.Itoa(cfg.History.MaxGists), nil
	case "output.max_chars":
		return strconv.Itoa(cfg.Output.MaxChars), nil
	case "output.min_chars":
		return strconv.Itoa(cfg.Output.MinChars), nil
	case "approval.retention":
		return cfg.Approval.Retention.String(), nil
	case "queue.poll_interval":
		return cfg.Queue.PollInterval.String(), nil
	case "tui.refresh_rate":
		return cfg.TUI.RefreshRate.String(), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "anthropic.use_bedrock":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for use_bedrock: %w", err)
		}
		cfg.Anthropic.UseBedrock = b
	case "budget.ceiling":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid value for ceiling: %w", err)
		}
		cfg.Budget.Ceiling = n
	case "budget.warning_threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for warning_threshold: %w", err)
		}
		cfg.Budget.WarningThreshold = f
	case "budget.emergency_threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for emergency_threshold: %w", err)
		}
		cfg.Budget.EmergencyThreshold = f
	case "budget.emergency_reserve":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid value for emergency_reserve: %w", err)
		}
		cfg.Budget.EmergencyReserve = n
	case "dispatcher.concurrency":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for concurrency: %w", err)
		}
		cfg.Dispatcher.Concurrency = n
	case "dispatcher.tool_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for tool_timeout: %w", err)
		}
		cfg.Dispatcher.ToolTimeout = d
	case "history.keep_recent":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for keep_recent: %w", err)
		}
		cfg.History.KeepRecent = n
	case "history.max_gists":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_gists: %w", err)
		}
		cfg.History.MaxGists = n
	case "output.max_chars":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_chars: %w", err)
		}
		cfg.Output.MaxChars = n
	case "output.min_chars":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for min_chars: %w", err)
		}
		cfg.Output.MinChars = n
	case "approval.retention":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for retention: %w", err)
		}
		cfg.Approval.Retention = d
	case "queue.poll_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for poll_interval: %w", err)
		}
		cfg.Queue.PollInterval = d
	case "tui.refresh_rate":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for refresh_rate: %w", err)
		}
		cfg.TUI.RefreshRate = d
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
