// Package model defines the shared domain types of the EPEX archive reconciler.
//
// Conventions:
//   - Calendar dates: time.Time at midnight UTC, formatted "2006-01-02"
//   - Prices: float64 EUR/MWh (the GB reference price columns are GBP/MWh)
//   - Volumes: float64 MWh
//   - IDs: string observation-key IDs, uuid.UUID for run IDs
package model
