package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mkoehler/epex-archive/internal/archive"
	"github.com/mkoehler/epex-archive/internal/extract"
	"github.com/mkoehler/epex-archive/internal/ledger"
	"github.com/mkoehler/epex-archive/internal/model"
	"github.com/mkoehler/epex-archive/internal/registry"
	"github.com/mkoehler/epex-archive/internal/validate"
)

// Config holds the run parameters of the engine.
type Config struct {
	// AuctionLookbackDays is the delivery-date window for auctions and
	// aggregated curves; ContinuousLookbackDays for continuous trading.
	// Both match what the source still publishes.
	AuctionLookbackDays    int
	ContinuousLookbackDays int

	// SameRunRetries bounds extra fetch attempts for a key within one run.
	// Zero means a failed key waits for the next run.
	SameRunRetries int

	// Pace is the minimum gap between consecutive key fetches.
	Pace time.Duration

	// Backoff spaces same-run retries.
	Backoff Policy
}

// Engine orchestrates one end-to-end reconciliation run.
type Engine struct {
	cfg       Config
	registry  *registry.Registry
	ledger    *ledger.Ledger
	validator *validate.Validator
	merger    *archive.Merger
	extractor extract.Extractor
	limiter   *rate.Limiter
	logger    *slog.Logger

	// now is swapped in tests.
	now func() time.Time
}

// NewEngine wires the engine from its collaborators.
func NewEngine(cfg Config, reg *registry.Registry, led *ledger.Ledger,
	val *validate.Validator, merger *archive.Merger, ex extract.Extractor,
	logger *slog.Logger) *Engine {

	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.Pace > 0 {
		limit = rate.Every(cfg.Pace)
	}
	return &Engine{
		cfg:       cfg,
		registry:  reg,
		ledger:    led,
		validator: val,
		merger:    merger,
		extractor: ex,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes one reconciliation pass over every product type in fixed
// order. Per-key failures are recorded and skipped over; storage failures
// abort the run. Cancellation is honored between keys, never mid-key.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	start := e.now()
	runID := uuid.New()
	summary := newSummary(runID)
	today := model.Midnight(e.now())

	e.logger.Info("reconciliation run started",
		"run_id", runID.String(),
		"date", today.Format(model.DateFormat),
	)

	for _, product := range model.AllProductTypes {
		candidates := e.registry.Keys(product, e.deliveryWindow(product, today))
		pending, err := e.ledger.PendingKeys(ctx, candidates)
		if err != nil {
			return summary, fmt.Errorf("pending set for %s: %w", product, err)
		}
		e.logger.Info("pending keys computed",
			"product", string(product),
			"candidates", len(candidates),
			"pending", len(pending),
		)

		ps := summary.Products[product]
		for _, key := range pending {
			if err := e.limiter.Wait(ctx); err != nil {
				summary.Elapsed = e.now().Sub(start)
				return summary, err
			}

			result, ok, err := e.processKey(ctx, runID, key)
			if err != nil {
				summary.Elapsed = e.now().Sub(start)
				return summary, err
			}
			ps.Attempted++
			if ok {
				ps.Succeeded++
				ps.RowsMerged += result.Merged
				ps.RowsSkipped += result.Skipped
			} else {
				ps.Failed++
			}
		}
	}

	summary.Elapsed = e.now().Sub(start)
	return summary, nil
}

// processKey runs fetch, validate, merge and ledger commit for one key.
// The returned error is fatal (storage or cancellation); ordinary per-key
// failures are recorded in the ledger and reported through ok=false.
func (e *Engine) processKey(ctx context.Context, runID uuid.UUID, key model.ObservationKey) (archive.Result, bool, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.SameRunRetries; attempt++ {
		if attempt > 0 {
			delay := e.cfg.Backoff.Delay(attempt)
			e.logger.Debug("retrying key",
				"key", key.String(),
				"attempt", attempt,
				"delay", delay,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return archive.Result{}, false, ctx.Err()
			}
		}

		batch, err := e.extractor.Fetch(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return archive.Result{}, false, ctx.Err()
			}
			lastErr = err
			continue
		}

		if err := e.validator.Validate(batch); err != nil {
			// A rejected batch is not worth re-fetching within the run;
			// the next run sees the key as failed and tries again.
			lastErr = err
			break
		}

		result, err := e.merger.Merge(ctx, batch)
		if err != nil {
			return archive.Result{}, false, err
		}
		if err := e.ledger.RecordOutcome(ctx, key, model.StatusSuccess, runID, ""); err != nil {
			return archive.Result{}, false, err
		}
		e.logger.Info("key captured",
			"key", key.String(),
			"merged", result.Merged,
			"skipped", result.Skipped,
		)
		return result, true, nil
	}

	e.logger.Warn("key failed",
		"key", key.String(),
		"error", lastErr,
	)
	if err := e.ledger.RecordOutcome(ctx, key, model.StatusFailed, runID, lastErr.Error()); err != nil {
		return archive.Result{}, false, err
	}
	return archive.Result{}, false, nil
}

// deliveryWindow returns the delivery dates to reconcile for the product,
// newest first. Dayahead results appear the afternoon before delivery, so
// its window starts at tomorrow; intraday auctions settle through the
// delivery day itself; continuous tables are only complete once the
// delivery day has passed.
func (e *Engine) deliveryWindow(product model.ProductType, today time.Time) []time.Time {
	var (
		start time.Time
		days  int
	)
	switch product {
	case model.ProductDayahead, model.ProductCurvesDayahead:
		start, days = today.AddDate(0, 0, 1), e.cfg.AuctionLookbackDays
	case model.ProductIntraday, model.ProductCurvesIntraday:
		start, days = today, e.cfg.AuctionLookbackDays
	default:
		start, days = today.AddDate(0, 0, -1), e.cfg.ContinuousLookbackDays
	}

	dates := make([]time.Time, days)
	for i := range dates {
		dates[i] = start.AddDate(0, 0, -i)
	}
	return dates
}
