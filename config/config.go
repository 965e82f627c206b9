// Package config loads the session configuration. It is read once at process
// start and treated as immutable for the lifetime of the session.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderConfig names one LLM backend in fallback order.
type ProviderConfig struct {
	// Name is the backend identifier, e.g. "anthropic" or "openai".
	Name string `yaml:"name"`

	// Model overrides the backend's default model.
	Model string `yaml:"model,omitempty"`

	// APIKeyEnv names the environment variable holding the key. Empty means
	// the backend's conventional variable.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
}

// GatewayConfig tunes provider fallback and health tracking.
type GatewayConfig struct {
	StreakThreshold int           `yaml:"streak_threshold"`
	Cooldown        time.Duration `yaml:"cooldown"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
}

// SafetyConfig tunes the approval gate.
type SafetyConfig struct {
	ModifyRetries         int     `yaml:"modify_retries"`
	AutoApprove           bool    `yaml:"auto_approve"`
	AutoApproveThreshold  float64 `yaml:"auto_approve_threshold"`
	AutoApproveMinSamples int     `yaml:"auto_approve_min_samples"`
}

// ExecutorConfig tunes the plan executor.
type ExecutorConfig struct {
	StrictMode      bool          `yaml:"strict_mode"`
	HaltDependents  bool          `yaml:"halt_dependents"`
	HistorySize     int           `yaml:"history_size"`
	PerceiveTimeout time.Duration `yaml:"perceive_timeout"`
	RepeatWindow    int           `yaml:"repeat_window"`
}

// Config is the full session configuration.
type Config struct {
	// Workspace is the directory all tool side effects are confined to.
	// Empty means the current directory.
	Workspace string `yaml:"workspace,omitempty"`

	// Providers lists the gateway chain, primary first.
	Providers []ProviderConfig `yaml:"providers"`

	Gateway  GatewayConfig  `yaml:"gateway"`
	Safety   SafetyConfig   `yaml:"safety"`
	Executor ExecutorConfig `yaml:"executor"`

	// Tools is the enable-list of tool names. Empty enables everything.
	Tools []string `yaml:"tools,omitempty"`

	// MemoryDir is where the memory store lives. Empty means
	// ~/.tiller/memory.
	MemoryDir string `yaml:"memory_dir,omitempty"`

	// LogFile receives JSON logs. Empty disables logging.
	LogFile string `yaml:"log_file,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Providers: []ProviderConfig{
			{Name: "anthropic"},
			{Name: "openai"},
		},
		Gateway: GatewayConfig{
			StreakThreshold: 2,
			Cooldown:        30 * time.Second,
			CallTimeout:     60 * time.Second,
		},
		Safety: SafetyConfig{
			ModifyRetries:         1,
			AutoApprove:           false,
			AutoApproveThreshold:  0.8,
			AutoApproveMinSamples: 3,
		},
		Executor: ExecutorConfig{
			StrictMode:      false,
			HaltDependents:  true,
			HistorySize:     20,
			PerceiveTimeout: 3 * time.Second,
			RepeatWindow:    3,
		},
	}
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tiller.yaml"
	}
	return filepath.Join(home, ".tiller", "config.yaml")
}

// DefaultMemoryDir returns the conventional memory store location.
func DefaultMemoryDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tiller-memory"
	}
	return filepath.Join(home, ".tiller", "memory")
}

// Load reads path, falling back to defaults when the file does not exist.
// Explicit settings override defaults field by field.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	seen := map[string]bool{}
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("provider %q listed twice", p.Name)
		}
		seen[p.Name] = true
	}
	if c.Gateway.StreakThreshold < 1 {
		return fmt.Errorf("gateway.streak_threshold must be at least 1")
	}
	if c.Safety.ModifyRetries < 0 {
		return fmt.Errorf("safety.modify_retries must not be negative")
	}
	if c.Safety.AutoApproveThreshold < 0 || c.Safety.AutoApproveThreshold > 1 {
		return fmt.Errorf("safety.auto_approve_threshold must be within [0,1]")
	}
	return nil
}
