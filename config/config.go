// Package config loads and validates lumawatch YAML configuration.
//
// A configuration describes one sampler deployment: the instance
// identity, the static sampling regions to register at startup, and
// the optional MQTT emitter. Regions registered through the public API
// at runtime are unaffected by this file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete lumawatch configuration.
type Config struct {
	InstanceID string        `yaml:"instance_id"`
	LogLevel   string        `yaml:"log_level"` // debug, info, warn, error (default: info)
	Regions    RegionsConfig `yaml:"regions"`
	Emitter    EmitterConfig `yaml:"emitter"`
}

// RegionsConfig contains the sampling region definitions.
type RegionsConfig struct {
	// Active lists the region names registered at startup.
	Active []string `yaml:"active"`

	// Definitions maps region name to its geometry.
	Definitions map[string]RegionDefinition `yaml:"definitions"`
}

// RegionDefinition defines a single sampling region.
type RegionDefinition struct {
	// Rect is [left, top, right, bottom] in screen pixels.
	Rect [4]int `yaml:"rect"`

	// StopElement is an optional z-order cutoff element id (0 = none).
	StopElement uint64 `yaml:"stop_element,omitempty"`
}

// EmitterConfig contains MQTT emitter settings.
type EmitterConfig struct {
	// Enabled turns MQTT sample emission on.
	Enabled bool `yaml:"enabled"`

	// Broker is the host:port of the MQTT broker.
	Broker string `yaml:"broker"`

	// TopicPrefix is the topic root; samples publish under
	// <prefix>/<instance_id>/luma. Default: "display/luma".
	TopicPrefix string `yaml:"topic_prefix"`

	// QoS is the MQTT QoS level for sample messages (0-2, default 0).
	QoS byte `yaml:"qos"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
