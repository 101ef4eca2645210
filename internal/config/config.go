package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level archiver configuration.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Run        RunConfig        `yaml:"run"`
	Backoff    BackoffConfig    `yaml:"backoff"`
	Fetcher    FetcherConfig    `yaml:"fetcher"`
	Markets    MarketsConfig    `yaml:"markets"`
	Validation ValidationConfig `yaml:"validation"`
}

// StorageConfig selects and configures the ledger/archive backend.
type StorageConfig struct {
	// Backend is "sqlite" (embedded single file) or "postgres".
	Backend string `yaml:"backend"`

	// Path is the SQLite database file (sqlite backend only).
	Path string `yaml:"path"`

	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RunConfig controls the reconciliation window and same-run retry cap.
type RunConfig struct {
	// AuctionLookbackDays is the window for dayahead/intraday tables and
	// aggregated curves. The source publishes roughly three trailing days.
	AuctionLookbackDays int `yaml:"auction_lookback_days"`

	// ContinuousLookbackDays is the window for continuous-trading tables.
	ContinuousLookbackDays int `yaml:"continuous_lookback_days"`

	// SameRunRetries caps extra fetch attempts for a key within one run.
	// Zero means a failed fetch waits for the next scheduled run.
	SameRunRetries int `yaml:"same_run_retries"`
}

// BackoffConfig controls pacing and retry delays toward the source.
type BackoffConfig struct {
	// Pace is the minimum spacing between consecutive key fetches.
	Pace time.Duration `yaml:"pace"`

	// Base/Max bound the exponential delay between same-run retries.
	Base time.Duration `yaml:"base"`
	Max  time.Duration `yaml:"max"`
}

// FetcherConfig configures the browser-automation sidecar client.
type FetcherConfig struct {
	SidecarURL string        `yaml:"sidecar_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// yaml.v3 has no native duration support, so the duration-bearing sections
// decode through shadow structs and time.ParseDuration.

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *BackoffConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Pace string `yaml:"pace"`
		Base string `yaml:"base"`
		Max  string `yaml:"max"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	var err error
	if b.Pace, err = parseDuration("backoff.pace", raw.Pace); err != nil {
		return err
	}
	if b.Base, err = parseDuration("backoff.base", raw.Base); err != nil {
		return err
	}
	if b.Max, err = parseDuration("backoff.max", raw.Max); err != nil {
		return err
	}
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *FetcherConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		SidecarURL string `yaml:"sidecar_url"`
		Timeout    string `yaml:"timeout"`
		MaxRetries int    `yaml:"max_retries"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	f.SidecarURL = raw.SidecarURL
	f.MaxRetries = raw.MaxRetries

	var err error
	if f.Timeout, err = parseDuration("fetcher.timeout", raw.Timeout); err != nil {
		return err
	}
	return nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

// MarketsConfig holds the static market-area dictionaries. Keys are market
// area codes; values are supported auction labels (dayahead/intraday) or
// contract granularities in minutes (continuous). Aggregated curves reuse
// the dayahead and intraday dictionaries.
type MarketsConfig struct {
	Dayahead   map[string][]string `yaml:"dayahead"`
	Intraday   map[string][]string `yaml:"intraday"`
	Continuous map[string][]int    `yaml:"continuous"`
}

// ValidationConfig tunes batch plausibility checks.
type ValidationConfig struct {
	// MaxAbsPrice bounds |price| in EUR/MWh for all products.
	MaxAbsPrice float64 `yaml:"max_abs_price"`

	// PeriodOverrides pins the hours-per-day for a market area, bypassing
	// the timezone-derived calendar (e.g. areas without DST transitions).
	PeriodOverrides map[string]int `yaml:"period_overrides"`
}
