package validate

import (
	"fmt"
	"log/slog"

	"github.com/mkoehler/epex-archive/internal/config"
	"github.com/mkoehler/epex-archive/internal/model"
)

// Validator checks whole batches for structural and plausibility soundness.
type Validator struct {
	periods     *PeriodCalendar
	maxAbsPrice float64
	logger      *slog.Logger
}

// New builds a Validator from configuration.
func New(cfg config.ValidationConfig, logger *slog.Logger) (*Validator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	calendar, err := NewPeriodCalendar(cfg.PeriodOverrides)
	if err != nil {
		return nil, err
	}
	return &Validator{
		periods:     calendar,
		maxAbsPrice: cfg.MaxAbsPrice,
		logger:      logger,
	}, nil
}

// Validate returns nil if the batch may be merged, or the rejection reason.
func (v *Validator) Validate(batch *model.Batch) error {
	if batch == nil || len(batch.Rows) == 0 {
		return fmt.Errorf("empty batch")
	}

	key := batch.Key
	for i, row := range batch.Rows {
		if err := v.checkRow(key, row); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}

	var err error
	switch {
	case key.Product.IsAuction():
		err = v.checkAuction(batch)
	case key.Product == model.ProductContinuous:
		err = v.checkContinuous(batch)
	case key.Product.IsAggregatedCurves():
		err = v.checkCurves(batch)
	default:
		err = fmt.Errorf("unknown product type %q", key.Product)
	}
	if err != nil {
		v.logger.Debug("batch rejected", "key", key.String(), "reason", err)
	}
	return err
}

func (v *Validator) checkRow(key model.ObservationKey, row model.Observation) error {
	if row.Period == "" {
		return fmt.Errorf("missing delivery period label")
	}
	if row.Volume < 0 || row.BuyVolume < 0 || row.SellVolume < 0 {
		return fmt.Errorf("negative volume (volume=%.2f buy=%.2f sell=%.2f)", row.Volume, row.BuyVolume, row.SellVolume)
	}
	if row.Price > v.maxAbsPrice || row.Price < -v.maxAbsPrice {
		return fmt.Errorf("price %.2f outside plausible bound ±%.0f", row.Price, v.maxAbsPrice)
	}

	if key.Product.IsAggregatedCurves() {
		if row.Side != "supply" && row.Side != "demand" {
			return fmt.Errorf("curve point with side %q, want supply or demand", row.Side)
		}
	} else if row.Side != "" {
		return fmt.Errorf("unexpected side %q on %s row", row.Side, key.Product)
	}

	if key.Product == model.ProductContinuous {
		if row.Continuous == nil {
			return fmt.Errorf("continuous row without price statistics")
		}
	} else if row.Continuous != nil {
		return fmt.Errorf("unexpected continuous statistics on %s row", key.Product)
	}

	return nil
}

func (v *Validator) checkAuction(batch *model.Batch) error {
	key := batch.Key
	expected := v.periods.ExpectedPeriods(key.MarketArea, key.DeliveryDate, GranularityMinutes(key))
	if len(batch.Rows) != expected {
		return fmt.Errorf("got %d delivery periods, want %d for %s on %s",
			len(batch.Rows), expected, key.MarketArea, key.DeliveryDate.Format(model.DateFormat))
	}
	if !batch.HasBasePeak {
		return fmt.Errorf("missing baseload/peakload values")
	}
	return nil
}

func (v *Validator) checkContinuous(batch *model.Batch) error {
	key := batch.Key
	expected := v.periods.ExpectedPeriods(key.MarketArea, key.DeliveryDate, GranularityMinutes(key))
	// Untraded periods are omitted from the published table, so fewer rows
	// than the calendar maximum is normal.
	if len(batch.Rows) > expected {
		return fmt.Errorf("got %d delivery periods, calendar maximum is %d", len(batch.Rows), expected)
	}
	return nil
}

func (v *Validator) checkCurves(batch *model.Batch) error {
	var supply, demand int
	for _, row := range batch.Rows {
		switch row.Side {
		case "supply":
			supply++
		case "demand":
			demand++
		}
	}
	if supply == 0 || demand == 0 {
		return fmt.Errorf("aggregated curves need both sides (supply=%d demand=%d points)", supply, demand)
	}
	return nil
}
