package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the sqlite backend")
		}
	case "postgres":
		if err := c.Storage.Postgres.validate("storage.postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("storage.backend must be \"sqlite\" or \"postgres\", got %q", c.Storage.Backend)
	}

	if c.Run.AuctionLookbackDays < 1 {
		return errors.New("run.auction_lookback_days must be >= 1")
	}
	if c.Run.ContinuousLookbackDays < 1 {
		return errors.New("run.continuous_lookback_days must be >= 1")
	}
	if c.Run.SameRunRetries < 0 {
		return errors.New("run.same_run_retries must be >= 0")
	}

	if c.Backoff.Pace < 0 {
		return errors.New("backoff.pace must be >= 0")
	}
	if c.Backoff.Base <= 0 {
		return errors.New("backoff.base must be > 0")
	}
	if c.Backoff.Max < c.Backoff.Base {
		return fmt.Errorf("backoff.max (%v) cannot be below backoff.base (%v)", c.Backoff.Max, c.Backoff.Base)
	}

	if c.Fetcher.SidecarURL == "" {
		return errors.New("fetcher.sidecar_url is required")
	}
	if c.Fetcher.MaxRetries < 1 {
		return errors.New("fetcher.max_retries must be >= 1")
	}

	if len(c.Markets.Dayahead) == 0 && len(c.Markets.Intraday) == 0 && len(c.Markets.Continuous) == 0 {
		return errors.New("markets: at least one product dictionary is required")
	}
	for area, labels := range c.Markets.Dayahead {
		if area == "" || len(labels) == 0 {
			return fmt.Errorf("markets.dayahead: area %q needs at least one auction label", area)
		}
	}
	for area, labels := range c.Markets.Intraday {
		if area == "" || len(labels) == 0 {
			return fmt.Errorf("markets.intraday: area %q needs at least one auction label", area)
		}
	}
	for area, granularities := range c.Markets.Continuous {
		if area == "" || len(granularities) == 0 {
			return fmt.Errorf("markets.continuous: area %q needs at least one granularity", area)
		}
		for _, g := range granularities {
			switch g {
			case 15, 30, 60:
			default:
				return fmt.Errorf("markets.continuous: area %q has unsupported granularity %d (want 15, 30 or 60)", area, g)
			}
		}
	}

	if c.Validation.MaxAbsPrice <= 0 {
		return errors.New("validation.max_abs_price must be > 0")
	}
	for area, hours := range c.Validation.PeriodOverrides {
		if hours < 1 {
			return fmt.Errorf("validation.period_overrides: area %q must be >= 1 hour", area)
		}
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
