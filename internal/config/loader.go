// Package config loads qbmidi settings from QBMIDI_ environment variables.
package config

import (
	"fmt"
	"slices"

	"github.com/kelseyhightower/envconfig"
)

func Init() (*ServiceConfig, error) {
	cfg := &ServiceConfig{}

	err := envconfig.Process("", cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to parse service configuration: %w", err)
	}

	if len(ServiceVersion) != 0 {
		cfg.App.ServiceVersion = ServiceVersion
	}

	if len(CommitSHA) != 0 {
		cfg.App.CommitSHA = CommitSHA
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the enumerated settings.
func (c *ServiceConfig) Validate() error {
	if !slices.Contains([]string{BackendMemory, BackendRedis, BackendSQLite}, c.Store.Backend) {
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if !slices.Contains([]string{TransportSerial, TransportSimulator}, c.Transport.Kind) {
		return fmt.Errorf("unknown transport %q", c.Transport.Kind)
	}
	return nil
}
