/*
Package config loads the engine's YAML configuration.

PURPOSE:
  One file configures the HTTP server, the database path, the pricing
  tables, the settlement split, the scheduler cadence, and the
  cancellation cutoff. Load applies defaults first, so a partial file
  (or no file at all) yields a runnable configuration.

USAGE:
  cfg, err := config.Load("config.yaml")

SEE ALSO:
  - cmd/server/main.go: flag overrides and wiring
*/
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP         HTTPConfig         `yaml:"http"`
	Database     DatabaseConfig     `yaml:"database"`
	Pricing      PricingConfig      `yaml:"pricing"`
	Settlement   SettlementConfig   `yaml:"settlement"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Cancellation CancellationConfig `yaml:"cancellation"`
}

type HTTPConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type PricingConfig struct {
	PeakStartHour int    `yaml:"peak_start_hour"`
	PeakEndHour   int    `yaml:"peak_end_hour"`
	PeakRate      string `yaml:"peak_rate"`
	OffPeakRate   string `yaml:"off_peak_rate"`
	RacketFee     string `yaml:"racket_fee"`
	ShuttleSetFee string `yaml:"shuttle_set_fee"`
}

type SettlementConfig struct {
	// ProviderShare is the coach's fraction of a settled escrow sum,
	// e.g. "0.80". The platform keeps the remainder.
	ProviderShare string `yaml:"provider_share"`
}

type SchedulerConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
	PendingTTLHours int  `yaml:"pending_ttl_hours"`
}

func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

func (s SchedulerConfig) PendingTTL() time.Duration {
	return time.Duration(s.PendingTTLHours) * time.Hour
}

type CancellationConfig struct {
	CutoffHours int `yaml:"cutoff_hours"`
}

func (c CancellationConfig) Cutoff() time.Duration {
	return time.Duration(c.CutoffHours) * time.Hour
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Path: "./data/booking.db",
		},
		Pricing: PricingConfig{
			PeakStartHour: 17,
			PeakEndHour:   22,
			PeakRate:      "30.00",
			OffPeakRate:   "20.00",
			RacketFee:     "5.00",
			ShuttleSetFee: "8.00",
		},
		Settlement: SettlementConfig{
			ProviderShare: "0.80",
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			IntervalSeconds: 60,
			PendingTTLHours: 1,
		},
		Cancellation: CancellationConfig{
			CutoffHours: 24,
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is
// not an error; the defaults stand.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
