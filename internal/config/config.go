package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models checkline.yml. Generation policy only: recurrence rules
// themselves live on each schedule, not here.
type Config struct {
	Generation struct {
		// GraceDays is added to an instance's scheduled date to form its
		// due date.
		GraceDays int `yaml:"grace_days"`
		// Defaults applied when a schedule is created without explicit
		// lead/reminder values.
		DefaultLeadTimeDays int `yaml:"default_lead_time_days"`
		DefaultReminderDays int `yaml:"default_reminder_days"`
	} `yaml:"generation"`
	Departments []string `yaml:"departments"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Generation.GraceDays < 0 {
		return fmt.Errorf("config.generation.grace_days must be >= 0")
	}
	if c.Generation.DefaultLeadTimeDays < 0 {
		return fmt.Errorf("config.generation.default_lead_time_days must be >= 0")
	}
	if c.Generation.DefaultReminderDays < 0 {
		return fmt.Errorf("config.generation.default_reminder_days must be >= 0")
	}
	for _, d := range c.Departments {
		if d == "" {
			return fmt.Errorf("config.departments contains empty entry")
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "checkline.yml")
}

// Load reads and validates config from workspace, falling back to defaults
// when no file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in generation policy.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `generation:
  grace_days: 0
  default_lead_time_days: 0
  default_reminder_days: 3

departments: []
`
