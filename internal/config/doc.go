// Package config loads and validates the archiver's YAML configuration.
//
// Configuration covers the storage backend, the reconciliation run window,
// backoff/pacing toward the source, the extractor sidecar, and the static
// market-area/product dictionaries.
package config
