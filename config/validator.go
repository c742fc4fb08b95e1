package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills in defaults.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	switch cfg.LogLevel {
	case "":
		cfg.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug/info/warn/error, got %q", cfg.LogLevel)
	}

	if err := ValidateRegions(cfg.Regions); err != nil {
		return fmt.Errorf("region validation failed: %w", err)
	}

	if cfg.Emitter.Enabled {
		if cfg.Emitter.Broker == "" {
			return fmt.Errorf("emitter.broker is required when emitter is enabled")
		}
		if cfg.Emitter.QoS > 2 {
			return fmt.Errorf("emitter.qos must be 0-2, got %d", cfg.Emitter.QoS)
		}
	}
	if cfg.Emitter.TopicPrefix == "" {
		cfg.Emitter.TopicPrefix = "display/luma"
	}

	return nil
}

// ValidateRegions validates the region definitions for correctness.
func ValidateRegions(regions RegionsConfig) error {
	for name, def := range regions.Definitions {
		left, top, right, bottom := def.Rect[0], def.Rect[1], def.Rect[2], def.Rect[3]
		if right <= left || bottom <= top {
			return fmt.Errorf("region %q: rect [%d,%d,%d,%d] has zero or negative area",
				name, left, top, right, bottom)
		}
		if left < 0 || top < 0 {
			return fmt.Errorf("region %q: rect origin must be non-negative", name)
		}
	}

	for _, active := range regions.Active {
		if _, exists := regions.Definitions[active]; !exists {
			return fmt.Errorf("active region %q not found in definitions", active)
		}
	}

	return nil
}
