package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"enhanceswarm/log"
)

const ConfigFileName = "config.json"

// GetConfigDir returns the path to the application's configuration directory
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config home directory: %w", err)
	}
	return filepath.Join(homeDir, ".enhance-swarm"), nil
}

// WorktreeSetup describes optional setup steps run inside a fresh worktree
// before the agent process starts.
type WorktreeSetup struct {
	// CopyIgnored is a list of glob patterns for gitignored files to copy into
	// the worktree (e.g. ".env", "config/*.local.json").
	CopyIgnored []string `json:"copy_ignored,omitempty"`
	// Run is a list of shell commands executed in the worktree root.
	Run []string `json:"run,omitempty"`
}

// Config represents the application configuration
type Config struct {
	// AgentProgram is the command used to run one agent process.
	AgentProgram string `json:"agent_program"`
	// BranchPrefix is prepended to every agent branch name.
	BranchPrefix string `json:"branch_prefix"`
	// Concurrency caps the number of simultaneously running agents.
	Concurrency int `json:"concurrency"`
	// PollIntervalMS is the monitor poll interval in milliseconds.
	PollIntervalMS int `json:"poll_interval_ms"`
	// AgentTimeoutSec is the per-agent timeout in seconds.
	AgentTimeoutSec int `json:"agent_timeout_sec"`
	// RunTimeoutSec is the whole-run timeout in seconds. Zero disables it.
	RunTimeoutSec int `json:"run_timeout_sec"`
	// GracePeriodSec is how long to wait for an agent to exit voluntarily
	// after a termination request before it is force-killed.
	GracePeriodSec int `json:"grace_period_sec"`

	// RetryAttempts is the maximum number of attempts for retryable setup commands.
	RetryAttempts int `json:"retry_attempts"`
	// RetryBaseDelayMS is the delay before the second attempt in milliseconds.
	RetryBaseDelayMS int `json:"retry_base_delay_ms"`
	// RetryBackoffMultiplier scales the delay for each further attempt.
	RetryBackoffMultiplier float64 `json:"retry_backoff_multiplier"`
	// RetryJitterFraction randomizes each delay by +/- this fraction.
	RetryJitterFraction float64 `json:"retry_jitter_fraction"`

	// WebhookURL is an optional sink for lifecycle notifications.
	WebhookURL string `json:"webhook_url,omitempty"`
	// OutputRingLines bounds the per-agent output buffer kept in memory.
	OutputRingLines int `json:"output_ring_lines"`

	// WorktreeSetup configures optional per-worktree setup steps.
	WorktreeSetup *WorktreeSetup `json:"worktree_setup,omitempty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		AgentProgram:           "claude",
		BranchPrefix:           "enhance-swarm/",
		Concurrency:            4,
		PollIntervalMS:         1000,
		AgentTimeoutSec:        20 * 60,
		RunTimeoutSec:          0,
		GracePeriodSec:         10,
		RetryAttempts:          3,
		RetryBaseDelayMS:       1000,
		RetryBackoffMultiplier: 2.0,
		RetryJitterFraction:    0.1,
		OutputRingLines:        500,
	}
}

// PollInterval returns the monitor poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	if c.PollIntervalMS <= 0 {
		return time.Second
	}
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// AgentTimeout returns the per-agent timeout as a duration.
func (c *Config) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutSec) * time.Second
}

// RunTimeout returns the whole-run timeout as a duration. Zero means no limit.
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSec) * time.Second
}

// GracePeriod returns the termination grace period as a duration.
func (c *Config) GracePeriod() time.Duration {
	if c.GracePeriodSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.GracePeriodSec) * time.Second
}

// RetryBaseDelay returns the base retry delay as a duration.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

// LoadConfig loads the configuration from disk. If it cannot be done, we return the default configuration.
func LoadConfig() *Config {
	configDir, err := GetConfigDir()
	if err != nil {
		log.ErrorLog.Printf("failed to get config directory: %v", err)
		return DefaultConfig()
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Create and save default config if file doesn't exist
			defaultCfg := DefaultConfig()
			if saveErr := saveConfig(defaultCfg); saveErr != nil {
				log.WarningLog.Printf("failed to save default config: %v", saveErr)
			}
			return defaultCfg
		}

		log.WarningLog.Printf("failed to get config file: %v", err)
		return DefaultConfig()
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		log.ErrorLog.Printf("failed to parse config file: %v", err)
		return DefaultConfig()
	}

	return &config
}

// saveConfig saves the configuration to disk
func saveConfig(config *Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

// SaveConfig exports the saveConfig function for use by other packages
func SaveConfig(config *Config) error {
	return saveConfig(config)
}
