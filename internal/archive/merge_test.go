package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mkoehler/epex-archive/internal/model"
	"github.com/mkoehler/epex-archive/internal/store"
)

func auctionKey() model.ObservationKey {
	return model.ObservationKey{
		MarketArea:   "DE-LU",
		Product:      model.ProductDayahead,
		TradingDate:  model.Date(2025, time.August, 27),
		DeliveryDate: model.Date(2025, time.August, 28),
		SubSegment:   "SDAC",
	}
}

func auctionBatch() *model.Batch {
	return &model.Batch{
		Key:        auctionKey(),
		LastUpdate: "2025-08-27 13:05",
		Rows: []model.Observation{
			{Period: "00:00 - 01:00", Price: 81.2, Volume: 4500, BuyVolume: 4600, SellVolume: 4500},
			{Period: "01:00 - 02:00", Price: 76.9, Volume: 4200, BuyVolume: 4300, SellVolume: 4200},
		},
		Baseload:    79.05,
		Peakload:    92.4,
		HasBasePeak: true,
	}
}

func TestMergeInsertsFreshBatch(t *testing.T) {
	st := store.NewMemory()
	m := New(st, nil)

	result, err := m.Merge(context.Background(), auctionBatch())
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.Merged != 2 || result.Skipped != 0 {
		t.Errorf("result = %+v, want 2 merged, 0 skipped", result)
	}
	if st.ArchiveSize() != 2 {
		t.Errorf("archive size = %d, want 2", st.ArchiveSize())
	}
	if st.BasePeakSize() != 1 {
		t.Errorf("base/peak size = %d, want 1", st.BasePeakSize())
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	st := store.NewMemory()
	m := New(st, nil)
	ctx := context.Background()

	if _, err := m.Merge(ctx, auctionBatch()); err != nil {
		t.Fatalf("first merge: %v", err)
	}
	result, err := m.Merge(ctx, auctionBatch())
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if result.Merged != 0 || result.Skipped != 2 {
		t.Errorf("result = %+v, want 0 merged, 2 skipped", result)
	}
	if st.ArchiveSize() != 2 {
		t.Errorf("archive size = %d after re-merge, want 2", st.ArchiveSize())
	}
	if st.BasePeakSize() != 1 {
		t.Errorf("base/peak size = %d after re-merge, want 1", st.BasePeakSize())
	}
}

func TestMergePartialOverlap(t *testing.T) {
	st := store.NewMemory()
	m := New(st, nil)
	ctx := context.Background()

	if _, err := m.Merge(ctx, auctionBatch()); err != nil {
		t.Fatalf("first merge: %v", err)
	}

	// Same key re-fetched later with one extra row.
	grown := auctionBatch()
	grown.Rows = append(grown.Rows, model.Observation{
		Period: "02:00 - 03:00", Price: 74.0, Volume: 4100, BuyVolume: 4150, SellVolume: 4100,
	})

	result, err := m.Merge(ctx, grown)
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if result.Merged != 1 || result.Skipped != 2 {
		t.Errorf("result = %+v, want 1 merged, 2 skipped", result)
	}
	if st.ArchiveSize() != 3 {
		t.Errorf("archive size = %d, want 3", st.ArchiveSize())
	}
}

func TestMergeDeduplicatesWithinBatch(t *testing.T) {
	st := store.NewMemory()
	m := New(st, nil)

	batch := auctionBatch()
	batch.Rows = append(batch.Rows, batch.Rows[0])

	result, err := m.Merge(context.Background(), batch)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.Merged != 2 || result.Skipped != 1 {
		t.Errorf("result = %+v, want 2 merged, 1 skipped", result)
	}
}

func TestMergeCurvePointsPerPeriod(t *testing.T) {
	st := store.NewMemory()
	m := New(st, nil)

	key := auctionKey()
	key.Product = model.ProductCurvesDayahead
	batch := &model.Batch{
		Key:        key,
		LastUpdate: "2025-08-27 13:05",
		Rows: []model.Observation{
			{Period: "00:00 - 01:00", Side: "supply", Price: -500, Volume: 1000},
			{Period: "00:00 - 01:00", Side: "supply", Price: 10, Volume: 2500},
			{Period: "00:00 - 01:00", Side: "supply", Price: 120, Volume: 4000},
			{Period: "00:00 - 01:00", Side: "demand", Price: 3000, Volume: 900},
			{Period: "00:00 - 01:00", Side: "demand", Price: 50, Volume: 3800},
		},
	}

	result, err := m.Merge(context.Background(), batch)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.Merged != 5 || result.Skipped != 0 {
		t.Errorf("result = %+v, want all 5 curve points merged", result)
	}
	if st.BasePeakSize() != 0 {
		t.Errorf("base/peak size = %d, want 0 for curve batch", st.BasePeakSize())
	}
}

func TestMergeStorageError(t *testing.T) {
	st := store.NewMemory()
	st.InsertRecordsErr = errors.New("disk full")
	m := New(st, nil)

	if _, err := m.Merge(context.Background(), auctionBatch()); err == nil {
		t.Fatal("expected storage error to propagate")
	}
}
