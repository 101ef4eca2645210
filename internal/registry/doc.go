// Package registry holds the immutable market-area/product dictionaries.
//
// The registry is built once at startup from configuration and read-only
// afterwards. It enumerates observation keys in a fixed deterministic order
// (market area, delivery date, sub-segment) so that run logs are
// reproducible across invocations.
package registry
