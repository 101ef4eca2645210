package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mkoehler/epex-archive/internal/archive"
	"github.com/mkoehler/epex-archive/internal/config"
	"github.com/mkoehler/epex-archive/internal/extract"
	"github.com/mkoehler/epex-archive/internal/ledger"
	"github.com/mkoehler/epex-archive/internal/model"
	"github.com/mkoehler/epex-archive/internal/registry"
	"github.com/mkoehler/epex-archive/internal/store"
	"github.com/mkoehler/epex-archive/internal/validate"
)

var testToday = model.Date(2025, time.August, 28)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness bundles an engine over a memory store with a swappable extractor.
type harness struct {
	store  *store.Memory
	ledger *ledger.Ledger
	engine *Engine

	mu      sync.Mutex
	fetched []model.ObservationKey
}

func newHarness(t *testing.T, cfg Config, fetch func(key model.ObservationKey) (*model.Batch, error)) *harness {
	t.Helper()

	reg, err := registry.New(config.MarketsConfig{
		Dayahead:   map[string][]string{"DE-LU": {"SDAC"}},
		Intraday:   map[string][]string{},
		Continuous: map[string][]int{"DE-LU": {60}},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	val, err := validate.New(config.ValidationConfig{MaxAbsPrice: 10000}, discardLogger())
	if err != nil {
		t.Fatalf("validator: %v", err)
	}

	h := &harness{store: store.NewMemory()}
	h.ledger = ledger.New(h.store, discardLogger())
	merger := archive.New(h.store, discardLogger())

	ex := extract.Func(func(_ context.Context, key model.ObservationKey) (*model.Batch, error) {
		h.mu.Lock()
		h.fetched = append(h.fetched, key)
		h.mu.Unlock()
		return fetch(key)
	})

	h.engine = NewEngine(cfg, reg, h.ledger, val, merger, ex, discardLogger())
	h.engine.now = func() time.Time { return testToday }
	return h
}

func (h *harness) fetchCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.fetched)
}

// validBatch builds an acceptable batch for any product type.
func validBatch(key model.ObservationKey) (*model.Batch, error) {
	batch := &model.Batch{Key: key, LastUpdate: "2025-08-27 13:05"}
	switch {
	case key.Product.IsAuction():
		for hour := 0; hour < 24; hour++ {
			batch.Rows = append(batch.Rows, model.Observation{
				Period: fmt.Sprintf("%02d:00 - %02d:00", hour, hour+1),
				Price:  80, Volume: 4000, BuyVolume: 4100, SellVolume: 4000,
			})
		}
		batch.Baseload, batch.Peakload, batch.HasBasePeak = 79, 92, true
	case key.Product == model.ProductContinuous:
		batch.Rows = append(batch.Rows, model.Observation{
			Period: "07:00 - 08:00", Volume: 312,
			Continuous: &model.ContinuousStats{Low: 60, High: 95, Last: 88, WeightAvg: 82},
		})
	default:
		batch.Rows = append(batch.Rows,
			model.Observation{Period: "00:00 - 01:00", Side: "supply", Price: 10, Volume: 2500},
			model.Observation{Period: "00:00 - 01:00", Side: "demand", Price: 50, Volume: 3800},
		)
	}
	return batch, nil
}

func defaultConfig() Config {
	return Config{
		AuctionLookbackDays:    3,
		ContinuousLookbackDays: 2,
	}
}

func TestRunCapturesAllPending(t *testing.T) {
	h := newHarness(t, defaultConfig(), validBatch)

	summary, err := h.engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 3 dayahead + 2 continuous + 3 curve keys; no intraday areas configured.
	wants := map[model.ProductType]int{
		model.ProductDayahead:       3,
		model.ProductIntraday:       0,
		model.ProductContinuous:     2,
		model.ProductCurvesDayahead: 3,
		model.ProductCurvesIntraday: 0,
	}
	for product, want := range wants {
		ps := summary.Products[product]
		if ps.Attempted != want || ps.Succeeded != want || ps.Failed != 0 {
			t.Errorf("%s summary = %+v, want %d succeeded", product, ps, want)
		}
	}

	// Dayahead merges 24 rows per key.
	if got := summary.Products[model.ProductDayahead].RowsMerged; got != 72 {
		t.Errorf("dayahead rows merged = %d, want 72", got)
	}
	if h.store.BasePeakSize() != 3 {
		t.Errorf("base/peak rows = %d, want 3", h.store.BasePeakSize())
	}
}

func TestRunIsIdempotentAcrossRuns(t *testing.T) {
	h := newHarness(t, defaultConfig(), validBatch)
	ctx := context.Background()

	if _, err := h.engine.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	fetchedOnce := h.fetchCount()

	summary, err := h.engine.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if h.fetchCount() != fetchedOnce {
		t.Errorf("second run fetched %d more keys, want 0", h.fetchCount()-fetchedOnce)
	}
	for product, ps := range summary.Products {
		if ps.Attempted != 0 {
			t.Errorf("%s attempted %d keys on second run, want 0", product, ps.Attempted)
		}
	}
}

func TestRunRetriesPreviouslyFailedKey(t *testing.T) {
	h := newHarness(t, defaultConfig(), validBatch)
	ctx := context.Background()

	key := model.ObservationKey{
		MarketArea:   "DE-LU",
		Product:      model.ProductDayahead,
		TradingDate:  model.Date(2025, time.August, 25),
		DeliveryDate: model.Date(2025, time.August, 26),
		SubSegment:   "SDAC",
	}
	if err := h.ledger.RecordOutcome(ctx, key, model.StatusFailed, uuid.New(), "timeout"); err != nil {
		t.Fatal(err)
	}

	if _, err := h.engine.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	status, err := h.ledger.Status(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if status != model.StatusSuccess {
		t.Errorf("status = %s, want success", status)
	}
	attempts, err := h.ledger.AttemptCount(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 2 {
		t.Errorf("attempt count = %d, want 2", attempts)
	}
}

func TestRunSkipsSucceededKeys(t *testing.T) {
	h := newHarness(t, defaultConfig(), validBatch)
	ctx := context.Background()

	done := model.ObservationKey{
		MarketArea:   "DE-LU",
		Product:      model.ProductDayahead,
		TradingDate:  model.Date(2025, time.August, 27),
		DeliveryDate: model.Date(2025, time.August, 28),
		SubSegment:   "SDAC",
	}
	if err := h.ledger.RecordOutcome(ctx, done, model.StatusSuccess, uuid.New(), ""); err != nil {
		t.Fatal(err)
	}

	if _, err := h.engine.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, key := range h.fetched {
		if key.ID() == done.ID() {
			t.Error("succeeded key was fetched again")
		}
	}
}

func TestRunRecordsValidationFailure(t *testing.T) {
	h := newHarness(t, defaultConfig(), func(key model.ObservationKey) (*model.Batch, error) {
		batch, _ := validBatch(key)
		if key.Product == model.ProductDayahead {
			batch.Rows[0].Volume = -10
		}
		return batch, nil
	})
	ctx := context.Background()

	summary, err := h.engine.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	ps := summary.Products[model.ProductDayahead]
	if ps.Failed != 3 || ps.Succeeded != 0 {
		t.Errorf("dayahead summary = %+v, want 3 failed", ps)
	}
	if ps.RowsMerged != 0 {
		t.Errorf("rejected batches merged %d rows", ps.RowsMerged)
	}

	// Other products are unaffected.
	if got := summary.Products[model.ProductContinuous].Succeeded; got != 2 {
		t.Errorf("continuous succeeded = %d, want 2", got)
	}

	key := model.ObservationKey{
		MarketArea:   "DE-LU",
		Product:      model.ProductDayahead,
		TradingDate:  model.Date(2025, time.August, 28),
		DeliveryDate: model.Date(2025, time.August, 29),
		SubSegment:   "SDAC",
	}
	entry, ok, err := h.store.GetEntry(ctx, key)
	if err != nil || !ok {
		t.Fatalf("ledger entry missing: ok=%v err=%v", ok, err)
	}
	if entry.Status != model.StatusFailed {
		t.Errorf("status = %s, want failed", entry.Status)
	}
	if !strings.Contains(entry.LastError, "negative volume") {
		t.Errorf("last error = %q, want negative volume reason", entry.LastError)
	}
}

func TestRunContinuesAfterFetchError(t *testing.T) {
	h := newHarness(t, defaultConfig(), func(key model.ObservationKey) (*model.Batch, error) {
		if key.Product == model.ProductContinuous {
			return nil, errors.New("navigation timeout")
		}
		return validBatch(key)
	})

	summary, err := h.engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := summary.Products[model.ProductContinuous].Failed; got != 2 {
		t.Errorf("continuous failed = %d, want 2", got)
	}
	if got := summary.Products[model.ProductCurvesDayahead].Succeeded; got != 3 {
		t.Errorf("curves succeeded = %d, want 3", got)
	}
}

func TestRunSameRunRetry(t *testing.T) {
	cfg := defaultConfig()
	cfg.SameRunRetries = 1
	cfg.Backoff = Policy{Base: time.Millisecond, Max: time.Millisecond}

	h := newHarnessFlaky(t, cfg)

	summary, err := h.engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for product, ps := range summary.Products {
		if ps.Failed != 0 {
			t.Errorf("%s failed = %d after same-run retry, want 0", product, ps.Failed)
		}
	}
}

// newHarnessFlaky fails every key's first fetch and succeeds on the retry.
func newHarnessFlaky(t *testing.T, cfg Config) *harness {
	t.Helper()
	var mu sync.Mutex
	seen := make(map[string]bool)
	return newHarness(t, cfg, func(key model.ObservationKey) (*model.Batch, error) {
		mu.Lock()
		first := !seen[key.ID()]
		seen[key.ID()] = true
		mu.Unlock()
		if first {
			return nil, errors.New("flaky fetch")
		}
		return validBatch(key)
	})
}

func TestRunAbortsOnStorageError(t *testing.T) {
	h := newHarness(t, defaultConfig(), validBatch)
	h.store.InsertRecordsErr = errors.New("disk full")

	if _, err := h.engine.Run(context.Background()); err == nil {
		t.Fatal("expected storage error to abort the run")
	}
}

func TestRunAbortsOnLedgerScanError(t *testing.T) {
	h := newHarness(t, defaultConfig(), validBatch)
	h.store.ListEntriesErr = errors.New("table locked")

	if _, err := h.engine.Run(context.Background()); err == nil {
		t.Fatal("expected ledger scan error to abort the run")
	}
	if h.fetchCount() != 0 {
		t.Errorf("fetched %d keys despite scan error", h.fetchCount())
	}
}

func TestRunStopsBetweenKeysOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarnessCancelling(t, defaultConfig(), cancel)

	summary, err := h.engine.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}

	// Exactly the first key completed; its commit survived.
	if h.fetchCount() != 1 {
		t.Errorf("fetched %d keys, want 1", h.fetchCount())
	}
	if got := summary.Products[model.ProductDayahead].Succeeded; got != 1 {
		t.Errorf("dayahead succeeded = %d, want 1", got)
	}

	h.mu.Lock()
	first := h.fetched[0]
	h.mu.Unlock()
	status, err := h.ledger.Status(context.Background(), first)
	if err != nil {
		t.Fatal(err)
	}
	if status != model.StatusSuccess {
		t.Errorf("first key status = %s, want committed success", status)
	}
}

// newHarnessCancelling cancels the run context after the first fetch.
func newHarnessCancelling(t *testing.T, cfg Config, cancel context.CancelFunc) *harness {
	t.Helper()
	var once sync.Once
	return newHarness(t, cfg, func(key model.ObservationKey) (*model.Batch, error) {
		defer once.Do(cancel)
		return validBatch(key)
	})
}

func TestRunMergesOnlyMissingRows(t *testing.T) {
	h := newHarness(t, defaultConfig(), validBatch)
	ctx := context.Background()

	// Simulate a crash after a partial merge but before the ledger commit.
	key := model.ObservationKey{
		MarketArea:   "DE-LU",
		Product:      model.ProductDayahead,
		TradingDate:  model.Date(2025, time.August, 27),
		DeliveryDate: model.Date(2025, time.August, 28),
		SubSegment:   "SDAC",
	}
	batch, _ := validBatch(key)
	merger := archive.New(h.store, discardLogger())
	if _, err := merger.Merge(ctx, batch); err != nil {
		t.Fatal(err)
	}
	if err := h.ledger.RecordOutcome(ctx, key, model.StatusFailed, uuid.New(), "crashed"); err != nil {
		t.Fatal(err)
	}

	summary, err := h.engine.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	ps := summary.Products[model.ProductDayahead]
	// Two fresh keys merge 24 rows each; the recovered key skips all 24.
	if ps.RowsMerged != 48 || ps.RowsSkipped != 24 {
		t.Errorf("rows merged/skipped = %d/%d, want 48/24", ps.RowsMerged, ps.RowsSkipped)
	}
}

func TestDeliveryWindow(t *testing.T) {
	h := newHarness(t, defaultConfig(), validBatch)

	cases := []struct {
		product model.ProductType
		want    []string
	}{
		{model.ProductDayahead, []string{"2025-08-29", "2025-08-28", "2025-08-27"}},
		{model.ProductCurvesDayahead, []string{"2025-08-29", "2025-08-28", "2025-08-27"}},
		{model.ProductIntraday, []string{"2025-08-28", "2025-08-27", "2025-08-26"}},
		{model.ProductCurvesIntraday, []string{"2025-08-28", "2025-08-27", "2025-08-26"}},
		{model.ProductContinuous, []string{"2025-08-27", "2025-08-26"}},
	}
	for _, tc := range cases {
		dates := h.engine.deliveryWindow(tc.product, testToday)
		if len(dates) != len(tc.want) {
			t.Errorf("%s: got %d dates, want %d", tc.product, len(dates), len(tc.want))
			continue
		}
		for i, date := range dates {
			if got := date.Format(model.DateFormat); got != tc.want[i] {
				t.Errorf("%s[%d] = %s, want %s", tc.product, i, got, tc.want[i])
			}
		}
	}
}
