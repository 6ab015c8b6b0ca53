package services

import (
	"fmt"
	"math"
	"time"

	"mandi-tracker/internal/models"
)

// Per-record trend classification threshold, in percent day-over-day change.
// Distinct from the absolute-unit threshold the analytics engine uses for
// weekly/monthly trends.
const trendThresholdPct = 2.0

const trendWindowDays = 7

// TrendEngine revises price_change, percentage_change and trend on a
// commodity's recent records once neighboring-day context exists.
type TrendEngine struct {
	repo Repository
}

func NewTrendEngine(repo Repository) *TrendEngine {
	return &TrendEngine{repo: repo}
}

// Recalculate recomputes day-over-day changes for a commodity across the
// trailing 7-day window and persists the revised records.
func (e *TrendEngine) Recalculate(commodity string, now time.Time) error {
	since := now.AddDate(0, 0, -trendWindowDays)
	records, err := e.repo.PricesInWindow(commodity, since, now)
	if err != nil {
		return fmt.Errorf("trend window query failed for %s: %w", commodity, err)
	}
	if len(records) < 2 {
		return nil
	}

	// Records arrive newest first; the oldest record in the window has no
	// previous day to compare against and keeps its stored values.
	for i := 0; i < len(records)-1; i++ {
		current := &records[i]
		previous := records[i+1]

		priceChange := current.ModalPrice - previous.ModalPrice
		percentageChange := 0.0
		if previous.ModalPrice > 0 {
			percentageChange = priceChange / previous.ModalPrice * 100
		}

		current.PriceChange = round2(priceChange)
		current.PercentageChange = round2(percentageChange)
		current.Trend = classifyChange(percentageChange)

		if _, err := e.repo.UpsertPrice(current); err != nil {
			return fmt.Errorf("failed to persist trend for %s: %w", commodity, err)
		}
	}

	return nil
}

func classifyChange(percentageChange float64) string {
	switch {
	case percentageChange > trendThresholdPct:
		return models.TrendUp
	case percentageChange < -trendThresholdPct:
		return models.TrendDown
	default:
		return models.TrendStable
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
