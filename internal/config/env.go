package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Overrides are the environment variables that take precedence over the
// file. Unset variables leave the file value alone.
type Overrides struct {
	HostSocket string   `env:"POLICYD_HOST_SOCKET"`
	StatusAddr string   `env:"POLICYD_STATUS_ADDR"`
	LogLevel   string   `env:"POLICYD_LOG_LEVEL"`
	LogFile    string   `env:"POLICYD_LOG_FILE"`
	Seats      []string `env:"POLICYD_SEAT" envSeparator:","`
}

// parseEnvFn is a test seam.
var parseEnvFn = func(target *Overrides) error {
	return env.Parse(target)
}

// LoadOverrides parses the POLICYD_* environment.
func LoadOverrides() (Overrides, error) {
	var overrides Overrides
	if err := parseEnvFn(&overrides); err != nil {
		return Overrides{}, fmt.Errorf("parse env: %w", err)
	}
	return overrides, nil
}

// statusAddrOff disables the status hub from the environment.
const statusAddrOff = "off"

// Apply writes the set overrides into cfg and renormalizes it.
// POLICYD_STATUS_ADDR=off disables the status hub.
func (o Overrides) Apply(cfg *Config) {
	if v := strings.TrimSpace(o.HostSocket); v != "" {
		cfg.Host.Socket = v
	}
	switch v := strings.TrimSpace(o.StatusAddr); {
	case strings.EqualFold(v, statusAddrOff):
		cfg.Status.Addr = ""
	case v != "":
		cfg.Status.Addr = v
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(o.LogFile); v != "" {
		cfg.Log.File = v
	}
	if seats := normalizeNames(o.Seats); len(seats) > 0 {
		cfg.Seats = seats
	}
	applyDefaultsAndValidate(cfg)
}

// LoadWithEnv loads path and applies the environment overrides on top.
func LoadWithEnv(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	overrides, err := LoadOverrides()
	if err != nil {
		return cfg, err
	}
	overrides.Apply(&cfg)
	return cfg, nil
}
