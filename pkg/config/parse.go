package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParseDesignYAML parses a DesignConfig from YAML bytes on top of the defaults and
// validates it. This is used for APIs where the design is provided as payload (not via
// filesystem).
func ParseDesignYAML(data []byte) (*DesignConfig, error) {
	cfg := DefaultDesignConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse design yaml: %w", err)
	}

	if err := validateDesign(&cfg); err != nil {
		return nil, fmt.Errorf("invalid design: %w", err)
	}

	return &cfg, nil
}

// ParseDesignYAMLString parses a DesignConfig from a YAML string and validates it.
func ParseDesignYAMLString(yamlText string) (*DesignConfig, error) {
	return ParseDesignYAML([]byte(yamlText))
}

// Marshal renders cfg back to YAML.
func (c *DesignConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
