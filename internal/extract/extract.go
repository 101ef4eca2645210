package extract

import (
	"context"

	"github.com/mkoehler/epex-archive/internal/model"
)

// Extractor produces the observation batch for one key. Implementations are
// expected to be slow and unreliable; callers handle retries and pacing.
type Extractor interface {
	Fetch(ctx context.Context, key model.ObservationKey) (*model.Batch, error)
}

// Func adapts an ordinary function to the Extractor interface.
type Func func(ctx context.Context, key model.ObservationKey) (*model.Batch, error)

// Fetch implements Extractor.
func (f Func) Fetch(ctx context.Context, key model.ObservationKey) (*model.Batch, error) {
	return f(ctx, key)
}
