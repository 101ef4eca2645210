package store

import (
	"context"
	"sync"
	"time"

	"github.com/mkoehler/epex-archive/internal/model"
)

// Memory is an in-memory Store used by tests. Error fields, when set, are
// returned by the corresponding operation to simulate storage failures.
type Memory struct {
	mu      sync.Mutex
	ledger  map[string]model.LedgerEntry
	archive map[string]model.ArchiveRecord
	summary map[string]model.BasePeakRecord

	UpsertEntryErr   error
	InsertRecordsErr error
	ListEntriesErr   error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		ledger:  make(map[string]model.LedgerEntry),
		archive: make(map[string]model.ArchiveRecord),
		summary: make(map[string]model.BasePeakRecord),
	}
}

func (m *Memory) Close() error { return nil }

func archiveScope(area string, product model.ProductType, rec string) string {
	return area + "|" + string(product) + "|" + rec
}

// GetEntry implements Ledger.
func (m *Memory) GetEntry(_ context.Context, key model.ObservationKey) (model.LedgerEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.ledger[key.ID()]
	return entry, ok, nil
}

// UpsertEntry implements Ledger.
func (m *Memory) UpsertEntry(_ context.Context, entry model.LedgerEntry) error {
	if m.UpsertEntryErr != nil {
		return m.UpsertEntryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger[entry.Key.ID()] = entry
	return nil
}

// ListEntries implements Ledger.
func (m *Memory) ListEntries(_ context.Context, product model.ProductType, from, to time.Time) ([]model.LedgerEntry, error) {
	if m.ListEntriesErr != nil {
		return nil, m.ListEntriesErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []model.LedgerEntry
	for _, entry := range m.ledger {
		if entry.Key.Product != product {
			continue
		}
		d := entry.Key.DeliveryDate
		if d.Before(from) || d.After(to) {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ExistingKeys implements Archive.
func (m *Memory) ExistingKeys(_ context.Context, area string, product model.ProductType, deliveryDate time.Time) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := make(map[string]bool)
	for _, rec := range m.archive {
		if rec.MarketArea != area || rec.Product != product || !rec.DeliveryDate.Equal(deliveryDate) {
			continue
		}
		existing[rec.DistinguishingKey()] = true
	}
	return existing, nil
}

// InsertRecords implements Archive.
func (m *Memory) InsertRecords(_ context.Context, records []model.ArchiveRecord) error {
	if m.InsertRecordsErr != nil {
		return m.InsertRecordsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		scope := archiveScope(rec.MarketArea, rec.Product, rec.DistinguishingKey())
		if _, ok := m.archive[scope]; ok {
			continue
		}
		m.archive[scope] = rec
	}
	return nil
}

// UpsertBasePeak implements Archive.
func (m *Memory) UpsertBasePeak(_ context.Context, rec model.BasePeakRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	scope := rec.MarketArea + "|" + string(rec.Product) + "|" +
		rec.DeliveryDate.Format(model.DateFormat) + "|" + rec.SubSegment
	m.summary[scope] = rec
	return nil
}

// ArchiveSize reports the number of stored archive records.
func (m *Memory) ArchiveSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.archive)
}

// BasePeakSize reports the number of stored base/peak summary rows.
func (m *Memory) BasePeakSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.summary)
}
