package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file and expands environment variables. An
// empty path yields an empty config.
func Load(path string) (*DashboardConfig, error) {
	var cfg DashboardConfig
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config, applies environment overrides and
// default values, and resolves the hub token file.
func LoadWithDefaults(path string) (*DashboardConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.resolveToken(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*DashboardConfig, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *DashboardConfig) resolveToken() error {
	if c.Hub.Token != "" || c.Hub.TokenFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.Hub.TokenFile)
	if err != nil {
		return fmt.Errorf("read hub token file: %w", err)
	}
	c.Hub.Token = strings.TrimSpace(string(data))
	return nil
}
