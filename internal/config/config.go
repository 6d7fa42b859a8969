// Package config handles loading and validation of carrot.yaml project
// configuration, adapted from the teacher's internal/config.Load. The
// teacher's Load does a second YAML unmarshal pass to decode a
// provider-specific config section (Redis vs DynamoDB) behind an
// interface{} field; CARROT has exactly one store and one set of
// concrete, fully-typed config sections (carrottypes.ProjectConfig has no
// interface{} fields to disambiguate), so that second pass isn't needed
// here — a single yaml.Unmarshal plus the same validate-after-parse shape
// carries over.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

// Load reads and parses carrot.yaml from the given directory.
func Load(dir string) (*carrottypes.ProjectConfig, error) {
	path := filepath.Join(dir, "carrot.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg carrottypes.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *carrottypes.ProjectConfig) error {
	if cfg.Database.ConnectionURL == "" {
		return fmt.Errorf("database.connectionUrl is required")
	}
	if cfg.Engine.Address == "" {
		return fmt.Errorf("engine.address is required")
	}
	if cfg.API.Port == 0 {
		return fmt.Errorf("api.port is required")
	}
	if cfg.WDLStorage.LocalDirectory == "" && cfg.WDLStorage.ObjectStorePrefix == "" {
		return fmt.Errorf("one of wdlStorage.localDirectory or wdlStorage.objectStorePrefix is required")
	}
	if cfg.Email.Mode == carrottypes.EmailModeSMTP && cfg.Email.SMTPHost == "" {
		return fmt.Errorf("email.smtpHost is required when email.mode is smtp")
	}
	if cfg.GitHub.Enabled && cfg.GitHub.QueueURL == "" {
		return fmt.Errorf("github.queueUrl is required when github.enabled is true")
	}
	if cfg.CustomImageBuilds.Enabled && cfg.CustomImageBuilds.LocalRepoCachePath == "" {
		return fmt.Errorf("customImageBuilds.localRepoCachePath is required when customImageBuilds.enabled is true")
	}
	if cfg.CustomImageBuilds.Enabled && cfg.CustomImageBuilds.BuildWDLLocation == "" {
		return fmt.Errorf("customImageBuilds.buildWdlLocation is required when customImageBuilds.enabled is true")
	}
	if cfg.Reporting.Enabled && cfg.Reporting.GeneratorWDLLocation == "" {
		return fmt.Errorf("reporting.generatorWdlLocation is required when reporting.enabled is true")
	}
	return nil
}
