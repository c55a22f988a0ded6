package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// overlayFile decodes the YAML document at path on top of cfg. Keys absent
// from the file keep their environment or default values.
func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
