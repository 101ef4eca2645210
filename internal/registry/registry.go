package registry

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/mkoehler/epex-archive/internal/config"
	"github.com/mkoehler/epex-archive/internal/model"
)

// Registry maps each product type to the market areas that publish it and
// the sub-segment labels each area supports.
type Registry struct {
	labels map[model.ProductType]map[string][]string
	areas  map[model.ProductType][]string
}

// New builds a Registry from the configured market dictionaries. Aggregated
// curves reuse the dayahead and intraday dictionaries, matching how the
// source publishes them.
func New(cfg config.MarketsConfig) (*Registry, error) {
	r := &Registry{
		labels: make(map[model.ProductType]map[string][]string),
		areas:  make(map[model.ProductType][]string),
	}

	if err := r.add(model.ProductDayahead, cfg.Dayahead); err != nil {
		return nil, err
	}
	if err := r.add(model.ProductIntraday, cfg.Intraday); err != nil {
		return nil, err
	}

	continuous := make(map[string][]string, len(cfg.Continuous))
	for area, granularities := range cfg.Continuous {
		labels := make([]string, 0, len(granularities))
		for _, g := range granularities {
			labels = append(labels, strconv.Itoa(g))
		}
		continuous[area] = labels
	}
	if err := r.add(model.ProductContinuous, continuous); err != nil {
		return nil, err
	}

	if err := r.add(model.ProductCurvesDayahead, cfg.Dayahead); err != nil {
		return nil, err
	}
	if err := r.add(model.ProductCurvesIntraday, cfg.Intraday); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Registry) add(product model.ProductType, dict map[string][]string) error {
	byArea := make(map[string][]string, len(dict))
	areas := make([]string, 0, len(dict))

	for area, labels := range dict {
		if area == "" {
			return fmt.Errorf("%s: empty market area code", product)
		}
		if len(labels) == 0 {
			return fmt.Errorf("%s: market area %q has no labels", product, area)
		}
		copied := make([]string, len(labels))
		copy(copied, labels)
		sort.Strings(copied)
		byArea[area] = copied
		areas = append(areas, area)
	}
	sort.Strings(areas)

	r.labels[product] = byArea
	r.areas[product] = areas
	return nil
}

// Areas returns the market area codes supporting the product, sorted.
func (r *Registry) Areas(product model.ProductType) []string {
	areas := r.areas[product]
	out := make([]string, len(areas))
	copy(out, areas)
	return out
}

// Labels returns the sub-segment labels the area supports for the product,
// sorted. Nil if the area does not publish the product.
func (r *Registry) Labels(product model.ProductType, area string) []string {
	labels := r.labels[product][area]
	if labels == nil {
		return nil
	}
	out := make([]string, len(labels))
	copy(out, labels)
	return out
}

// Keys enumerates the observation keys for the product across the given
// delivery dates, ordered by market area, then delivery date, then
// sub-segment.
func (r *Registry) Keys(product model.ProductType, deliveryDates []time.Time) []model.ObservationKey {
	dates := make([]time.Time, len(deliveryDates))
	for i, d := range deliveryDates {
		dates[i] = model.Midnight(d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	var keys []model.ObservationKey
	for _, area := range r.areas[product] {
		for _, date := range dates {
			for _, label := range r.labels[product][area] {
				keys = append(keys, model.ObservationKey{
					MarketArea:   area,
					Product:      product,
					TradingDate:  TradingDateFor(product, date),
					DeliveryDate: date,
					SubSegment:   label,
				})
			}
		}
	}
	return keys
}

// TradingDateFor derives the trading date from a delivery date. Auctions and
// aggregated curves trade the day before delivery; continuous trading is
// archived under its delivery day.
func TradingDateFor(product model.ProductType, delivery time.Time) time.Time {
	if product == model.ProductContinuous {
		return delivery
	}
	return delivery.AddDate(0, 0, -1)
}
