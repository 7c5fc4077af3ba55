package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// backendEntry is one configured storage backend.
type backendEntry struct {
	Driver string            `yaml:"driver"`
	Config map[string]string `yaml:"config"`
}

// adminConfig is the on-disk tool configuration.
type adminConfig struct {
	Backends map[string]backendEntry `yaml:"backends"`
}

// loadConfig reads and parses the tool configuration.
func loadConfig(path string) (*adminConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Failed to read configuration: %w", err)
	}

	config := &adminConfig{}
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, fmt.Errorf("Failed to parse configuration: %w", err)
	}

	if len(config.Backends) == 0 {
		return nil, fmt.Errorf("Configuration defines no backends")
	}

	return config, nil
}
