package reconcile

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mkoehler/epex-archive/internal/model"
)

// ProductSummary counts outcomes for one product type within a run.
type ProductSummary struct {
	Attempted   int
	Succeeded   int
	Failed      int
	RowsMerged  int
	RowsSkipped int
}

// Summary is the end-of-run report.
type Summary struct {
	RunID    uuid.UUID
	Products map[model.ProductType]*ProductSummary
	Elapsed  time.Duration
}

func newSummary(runID uuid.UUID) *Summary {
	products := make(map[model.ProductType]*ProductSummary, len(model.AllProductTypes))
	for _, product := range model.AllProductTypes {
		products[product] = &ProductSummary{}
	}
	return &Summary{RunID: runID, Products: products}
}

// Log writes the per-product counters and the total elapsed time.
func (s *Summary) Log(logger *slog.Logger) {
	for _, product := range model.AllProductTypes {
		ps := s.Products[product]
		if ps == nil || ps.Attempted == 0 {
			continue
		}
		logger.Info("product summary",
			"product", string(product),
			"attempted", ps.Attempted,
			"succeeded", ps.Succeeded,
			"failed", ps.Failed,
			"rows_merged", ps.RowsMerged,
			"rows_skipped", ps.RowsSkipped,
		)
	}
	logger.Info("run finished",
		"run_id", s.RunID.String(),
		"elapsed", s.Elapsed.Round(time.Millisecond).String(),
	)
}
