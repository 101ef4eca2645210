package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBackend                = "sqlite"
	DefaultSQLitePath             = "epex_archive.db"
	DefaultDBPort                 = 5432
	DefaultDBSSLMode              = "prefer"
	DefaultMaxConns               = 4
	DefaultMinConns               = 1
	DefaultAuctionLookbackDays    = 3
	DefaultContinuousLookbackDays = 2
	DefaultSameRunRetries         = 0
	DefaultPace                   = 800 * time.Millisecond
	DefaultBackoffBase            = 2 * time.Second
	DefaultBackoffMax             = 60 * time.Second
	DefaultFetchTimeout           = 90 * time.Second
	DefaultFetchMaxRetries        = 3
	DefaultMaxAbsPrice            = 10000.0
)

func (c *Config) applyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = DefaultBackend
	}
	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = DefaultSQLitePath
	}
	applyDBDefaults(&c.Storage.Postgres)

	if c.Run.AuctionLookbackDays == 0 {
		c.Run.AuctionLookbackDays = DefaultAuctionLookbackDays
	}
	if c.Run.ContinuousLookbackDays == 0 {
		c.Run.ContinuousLookbackDays = DefaultContinuousLookbackDays
	}

	if c.Backoff.Pace == 0 {
		c.Backoff.Pace = DefaultPace
	}
	if c.Backoff.Base == 0 {
		c.Backoff.Base = DefaultBackoffBase
	}
	if c.Backoff.Max == 0 {
		c.Backoff.Max = DefaultBackoffMax
	}

	if c.Fetcher.Timeout == 0 {
		c.Fetcher.Timeout = DefaultFetchTimeout
	}
	if c.Fetcher.MaxRetries == 0 {
		c.Fetcher.MaxRetries = DefaultFetchMaxRetries
	}

	if c.Validation.MaxAbsPrice == 0 {
		c.Validation.MaxAbsPrice = DefaultMaxAbsPrice
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
