package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mkoehler/epex-archive/internal/model"
	"github.com/mkoehler/epex-archive/internal/store"
)

// Ledger records attempt outcomes and answers what is still pending.
type Ledger struct {
	store  store.Ledger
	logger *slog.Logger

	// now is swapped in tests.
	now func() time.Time
}

// New creates a Ledger over the given backend.
func New(st store.Ledger, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  st,
		logger: logger,
		now:    time.Now,
	}
}

// Status returns the recorded status for the key, StatusUnknown if no entry
// exists yet.
func (l *Ledger) Status(ctx context.Context, key model.ObservationKey) (model.Status, error) {
	entry, ok, err := l.store.GetEntry(ctx, key)
	if err != nil {
		return model.StatusUnknown, err
	}
	if !ok {
		return model.StatusUnknown, nil
	}
	return entry.Status, nil
}

// AttemptCount returns how many attempts have been recorded for the key.
func (l *Ledger) AttemptCount(ctx context.Context, key model.ObservationKey) (int, error) {
	entry, ok, err := l.store.GetEntry(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return entry.AttemptCount, nil
}

// RecordOutcome durably records the outcome of one attempt. Recording
// success twice is a no-op; recording a failure after success is rejected
// and logged, leaving the terminal status untouched.
func (l *Ledger) RecordOutcome(ctx context.Context, key model.ObservationKey, outcome model.Status, runID uuid.UUID, errText string) error {
	if outcome != model.StatusSuccess && outcome != model.StatusFailed {
		return fmt.Errorf("invalid outcome %q for %s", outcome, key)
	}

	prev, ok, err := l.store.GetEntry(ctx, key)
	if err != nil {
		return fmt.Errorf("load ledger entry %s: %w", key, err)
	}

	if ok && prev.Status == model.StatusSuccess {
		if outcome == model.StatusFailed {
			l.logger.Warn("consistency violation: refusing to fail a succeeded key",
				"key", key.String(),
				"run_id", runID,
			)
		}
		return nil
	}

	attempts := 1
	if ok {
		attempts = prev.AttemptCount + 1
	}

	entry := model.LedgerEntry{
		Key:          key,
		Status:       outcome,
		AttemptCount: attempts,
		LastAttempt:  l.now().UTC(),
		LastRunID:    runID,
		LastError:    errText,
	}
	if err := l.store.UpsertEntry(ctx, entry); err != nil {
		return fmt.Errorf("record outcome for %s: %w", key, err)
	}
	return nil
}

// PendingKeys filters the candidate keys down to those whose status is
// unknown or failed. Candidates must share a product type; their order is
// preserved.
func (l *Ledger) PendingKeys(ctx context.Context, candidates []model.ObservationKey) ([]model.ObservationKey, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	product := candidates[0].Product
	from, to := candidates[0].DeliveryDate, candidates[0].DeliveryDate
	for _, key := range candidates[1:] {
		if key.Product != product {
			return nil, fmt.Errorf("mixed product types in pending-set scan: %s vs %s", product, key.Product)
		}
		if key.DeliveryDate.Before(from) {
			from = key.DeliveryDate
		}
		if key.DeliveryDate.After(to) {
			to = key.DeliveryDate
		}
	}

	entries, err := l.store.ListEntries(ctx, product, from, to)
	if err != nil {
		return nil, fmt.Errorf("scan ledger for %s: %w", product, err)
	}
	byID := make(map[string]model.LedgerEntry, len(entries))
	for _, entry := range entries {
		byID[entry.Key.ID()] = entry
	}

	var pending []model.ObservationKey
	for _, key := range candidates {
		entry, ok := byID[key.ID()]
		if !ok || entry.Status == model.StatusFailed {
			pending = append(pending, key)
		}
	}
	return pending, nil
}
