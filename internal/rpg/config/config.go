// Package config resolves process-level settings. Flags provide defaults;
// FB_* environment variables override them, which keeps container deploys
// free of wrapper scripts.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr      string `env:"FB_ADDR"`
	DataDir   string `env:"FB_DATA_DIR"`
	ConfigDir string `env:"FB_CONFIG_DIR"`
	Tuning    string `env:"FB_TUNING"`
	DisableWS bool   `env:"FB_DISABLE_WS"`
}

// Resolve applies environment overrides on top of the flag-derived base.
func Resolve(base Config) (Config, error) {
	if err := env.Parse(&base); err != nil {
		return base, fmt.Errorf("env config: %w", err)
	}
	return base, nil
}
