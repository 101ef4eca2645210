package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DateFormat is the canonical layout for calendar dates in keys, storage
// and the sidecar protocol.
const DateFormat = "2006-01-02"

// ProductType identifies one published data category on the source.
type ProductType string

const (
	ProductDayahead        ProductType = "dayahead"
	ProductIntraday        ProductType = "intraday"
	ProductContinuous      ProductType = "continuous"
	ProductCurvesDayahead  ProductType = "aggregated_curves_dayahead"
	ProductCurvesIntraday  ProductType = "aggregated_curves_intraday"
)

// AllProductTypes lists every product type in the fixed processing order.
var AllProductTypes = []ProductType{
	ProductDayahead,
	ProductIntraday,
	ProductContinuous,
	ProductCurvesDayahead,
	ProductCurvesIntraday,
}

// Valid reports whether p is a known product type.
func (p ProductType) Valid() bool {
	switch p {
	case ProductDayahead, ProductIntraday, ProductContinuous,
		ProductCurvesDayahead, ProductCurvesIntraday:
		return true
	}
	return false
}

// IsAuction reports whether p is a dayahead or intraday auction table.
func (p ProductType) IsAuction() bool {
	return p == ProductDayahead || p == ProductIntraday
}

// IsAggregatedCurves reports whether p is an aggregated supply/demand curve.
func (p ProductType) IsAggregatedCurves() bool {
	return p == ProductCurvesDayahead || p == ProductCurvesIntraday
}

// Status is the recorded outcome of capturing one observation key.
type Status string

const (
	// StatusUnknown means no ledger entry exists for the key yet.
	StatusUnknown Status = "unknown"

	// StatusFailed means the last attempt failed; the key stays retryable.
	StatusFailed Status = "failed"

	// StatusSuccess is terminal: the key's data is in the archive.
	StatusSuccess Status = "success"
)

// ObservationKey identifies one capturable unit of work.
//
// TradingDate is derived from DeliveryDate per product type and therefore
// not part of the key's identity.
type ObservationKey struct {
	MarketArea   string
	Product      ProductType
	TradingDate  time.Time
	DeliveryDate time.Time

	// SubSegment is the auction label (e.g. "SDAC", "SIDC IDA1") or the
	// contract granularity in minutes for continuous trading (e.g. "15").
	SubSegment string
}

// ID returns the stable composite identity used for ledger lookups.
func (k ObservationKey) ID() string {
	return string(k.Product) + "|" + k.MarketArea + "|" +
		k.DeliveryDate.Format(DateFormat) + "|" + k.SubSegment
}

func (k ObservationKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s",
		k.Product, k.MarketArea, k.DeliveryDate.Format(DateFormat), k.SubSegment)
}

// Date returns a calendar date at midnight UTC.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Midnight truncates t to its calendar date at midnight UTC.
func Midnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return Date(y, m, d)
}

// ContinuousStats carries the extra price columns of a continuous-trading
// table row. Nil on all other product types.
type ContinuousStats struct {
	Low       float64
	High      float64
	Last      float64
	WeightAvg float64
	IDFull    float64
	ID1       float64
	ID3       float64
}

// Observation is one normalized row of market data for a single key.
type Observation struct {
	// Period is the delivery period label, e.g. "00:00 - 01:00".
	Period string

	// Side is "supply" or "demand" for aggregated curves, empty otherwise.
	Side string

	Price      float64
	Volume     float64
	BuyVolume  float64
	SellVolume float64

	Continuous *ContinuousStats
}

// Batch is the extractor's output for one key: the observation rows plus
// the page-level metadata published alongside them.
type Batch struct {
	Key        ObservationKey
	LastUpdate string // the page's "Last update" stamp
	Rows       []Observation

	// Baseload/Peakload day averages, published on auction result pages.
	Baseload    float64
	Peakload    float64
	HasBasePeak bool
}

// ArchiveRecord is a persisted observation, flattened with its key fields.
type ArchiveRecord struct {
	MarketArea   string
	Product      ProductType
	TradingDate  time.Time
	DeliveryDate time.Time
	SubSegment   string
	LastUpdate   string

	Observation
}

// DistinguishingKey returns the identity under which archive records are
// deduplicated. Two records with the same distinguishing key are the same
// observation.
func (r ArchiveRecord) DistinguishingKey() string {
	return DistinguishingKey(r.DeliveryDate.Format(DateFormat), r.SubSegment,
		r.Period, r.Side, r.Price, r.Volume)
}

// DistinguishingKey builds the archive identity from raw column values.
// Table products are identified by delivery date, sub-segment and period;
// curve points additionally by their (price, volume) coordinates, since one
// delivery period holds many points per side.
func DistinguishingKey(deliveryDate, subSegment, period, side string, price, volume float64) string {
	k := deliveryDate + "|" + subSegment + "|" + period + "|" + side
	if side != "" {
		k += fmt.Sprintf("|%g|%g", price, volume)
	}
	return k
}

// BasePeakRecord is the per-key baseload/peakload summary kept in the
// companion archive table.
type BasePeakRecord struct {
	MarketArea   string
	Product      ProductType
	TradingDate  time.Time
	DeliveryDate time.Time
	SubSegment   string
	LastUpdate   string
	Baseload     float64
	Peakload     float64
}

// LedgerEntry is the durable attempt record for one observation key.
type LedgerEntry struct {
	Key          ObservationKey
	Status       Status
	AttemptCount int
	LastAttempt  time.Time
	LastRunID    uuid.UUID
	LastError    string
}
