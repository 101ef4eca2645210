package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mkoehler/epex-archive/internal/model"
	"github.com/mkoehler/epex-archive/internal/store"
)

// Merger unions validated batches into the archive store.
type Merger struct {
	store  store.Archive
	logger *slog.Logger
}

// New creates a Merger over the given backend.
func New(st store.Archive, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{store: st, logger: logger}
}

// Result reports how a merge went.
type Result struct {
	Merged  int // records newly inserted
	Skipped int // duplicates of already-archived records
}

// Merge deduplicates the batch against the store (and within itself) and
// inserts the remainder in stable ascending order. Running Merge twice with
// the same batch leaves the store unchanged after the first call.
func (m *Merger) Merge(ctx context.Context, batch *model.Batch) (Result, error) {
	key := batch.Key

	existing, err := m.store.ExistingKeys(ctx, key.MarketArea, key.Product, key.DeliveryDate)
	if err != nil {
		return Result{}, fmt.Errorf("merge %s: %w", key, err)
	}

	records := flatten(batch)
	sort.Slice(records, func(i, j int) bool {
		if records[i].Period != records[j].Period {
			return records[i].Period < records[j].Period
		}
		if records[i].Side != records[j].Side {
			return records[i].Side < records[j].Side
		}
		return records[i].Price < records[j].Price
	})

	var result Result
	fresh := make([]model.ArchiveRecord, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		dk := rec.DistinguishingKey()
		if existing[dk] || seen[dk] {
			result.Skipped++
			continue
		}
		seen[dk] = true
		fresh = append(fresh, rec)
	}

	if err := m.store.InsertRecords(ctx, fresh); err != nil {
		return Result{}, fmt.Errorf("merge %s: %w", key, err)
	}
	result.Merged = len(fresh)

	if batch.HasBasePeak {
		if err := m.store.UpsertBasePeak(ctx, basePeakRecord(batch)); err != nil {
			return Result{}, fmt.Errorf("merge %s: %w", key, err)
		}
	}

	m.logger.Debug("batch merged",
		"key", key.String(),
		"merged", result.Merged,
		"skipped", result.Skipped,
	)
	return result, nil
}

func flatten(batch *model.Batch) []model.ArchiveRecord {
	key := batch.Key
	records := make([]model.ArchiveRecord, len(batch.Rows))
	for i, row := range batch.Rows {
		records[i] = model.ArchiveRecord{
			MarketArea:   key.MarketArea,
			Product:      key.Product,
			TradingDate:  key.TradingDate,
			DeliveryDate: key.DeliveryDate,
			SubSegment:   key.SubSegment,
			LastUpdate:   batch.LastUpdate,
			Observation:  row,
		}
	}
	return records
}

func basePeakRecord(batch *model.Batch) model.BasePeakRecord {
	key := batch.Key
	return model.BasePeakRecord{
		MarketArea:   key.MarketArea,
		Product:      key.Product,
		TradingDate:  key.TradingDate,
		DeliveryDate: key.DeliveryDate,
		SubSegment:   key.SubSegment,
		LastUpdate:   batch.LastUpdate,
		Baseload:     batch.Baseload,
		Peakload:     batch.Peakload,
	}
}
