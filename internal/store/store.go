package store

import (
	"context"
	"time"

	"github.com/mkoehler/epex-archive/internal/model"
)

// Ledger is the durable attempt record per observation key.
type Ledger interface {
	// GetEntry returns the entry for the key, with ok=false if none exists.
	GetEntry(ctx context.Context, key model.ObservationKey) (model.LedgerEntry, bool, error)

	// UpsertEntry atomically inserts or replaces the entry for its key.
	UpsertEntry(ctx context.Context, entry model.LedgerEntry) error

	// ListEntries returns all entries for the product whose delivery date
	// falls in [from, to], inclusive.
	ListEntries(ctx context.Context, product model.ProductType, from, to time.Time) ([]model.LedgerEntry, error)
}

// Archive holds the deduplicated observation records.
type Archive interface {
	// ExistingKeys returns the distinguishing keys already archived for the
	// (market area, product, delivery date) scope.
	ExistingKeys(ctx context.Context, area string, product model.ProductType, deliveryDate time.Time) (map[string]bool, error)

	// InsertRecords appends records in one transaction. Records whose
	// distinguishing key already exists are ignored rather than duplicated.
	InsertRecords(ctx context.Context, records []model.ArchiveRecord) error

	// UpsertBasePeak inserts or replaces the baseload/peakload summary row.
	UpsertBasePeak(ctx context.Context, rec model.BasePeakRecord) error
}

// Store combines both persistence concerns behind one handle.
type Store interface {
	Ledger
	Archive

	Close() error
}
