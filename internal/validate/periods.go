package validate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mkoehler/epex-archive/internal/model"
)

// PeriodCalendar answers how many delivery periods a market area publishes
// for a given date and granularity.
type PeriodCalendar struct {
	overrides map[string]int

	london *time.Location
	berlin *time.Location
}

// NewPeriodCalendar builds a calendar. Overrides pin the hours-per-day for
// a market area regardless of date.
func NewPeriodCalendar(overrides map[string]int) (*PeriodCalendar, error) {
	london, err := time.LoadLocation("Europe/London")
	if err != nil {
		return nil, fmt.Errorf("load Europe/London: %w", err)
	}
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		return nil, fmt.Errorf("load Europe/Berlin: %w", err)
	}
	copied := make(map[string]int, len(overrides))
	for area, hours := range overrides {
		copied[area] = hours
	}
	return &PeriodCalendar{overrides: copied, london: london, berlin: berlin}, nil
}

// HoursInDay returns the local-time length of the delivery day in hours:
// 24 normally, 23 on the spring-forward day, 25 on the fall-back day.
func (c *PeriodCalendar) HoursInDay(area string, date time.Time) int {
	if hours, ok := c.overrides[area]; ok {
		return hours
	}

	loc := c.berlin
	if strings.HasPrefix(area, "GB") {
		loc = c.london
	}

	y, m, d := date.UTC().Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return int(end.Sub(start).Round(time.Hour).Hours())
}

// ExpectedPeriods returns the number of delivery periods for the date at
// the given granularity in minutes.
func (c *PeriodCalendar) ExpectedPeriods(area string, date time.Time, granularityMin int) int {
	return c.HoursInDay(area, date) * 60 / granularityMin
}

// GranularityMinutes derives the delivery granularity from a key: the
// sub-segment itself for continuous products, 30 for the GB half-hourly
// auctions, 60 otherwise.
func GranularityMinutes(key model.ObservationKey) int {
	if key.Product == model.ProductContinuous {
		if g, err := strconv.Atoi(key.SubSegment); err == nil && g > 0 {
			return g
		}
		return 60
	}
	if strings.Contains(key.SubSegment, "30'") {
		return 30
	}
	return 60
}
