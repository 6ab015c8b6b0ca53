package services

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"mandi-tracker/internal/models"
)

const (
	analyticsWindowDays = 30
	weeklyWindowDays    = 7

	// Weekly/monthly trends classify the average daily price delta in absolute
	// currency units, not percent. A broader aggregate shift needs a coarser
	// yardstick than the per-record day-over-day trend.
	aggregateTrendThreshold = 10.0

	priceHistoryPoints    = 30
	marketDistributionTop = 10
)

// AnalyticsEngine aggregates a commodity's rolling window into a
// MarketAnalytics snapshot: summary statistics, market distribution,
// multi-horizon trends and a linear-regression price forecast.
type AnalyticsEngine struct {
	repo Repository
}

func NewAnalyticsEngine(repo Repository) *AnalyticsEngine {
	return &AnalyticsEngine{repo: repo}
}

// Generate builds and persists the snapshot for one commodity, keyed on
// (commodity, today at midnight). Re-running for the same day overwrites.
func (e *AnalyticsEngine) Generate(commodity string, now time.Time) error {
	since := now.AddDate(0, 0, -analyticsWindowDays)
	records, err := e.repo.PricesInWindow(commodity, since, now)
	if err != nil {
		return fmt.Errorf("analytics window query failed for %s: %w", commodity, err)
	}
	if len(records) == 0 {
		return nil
	}

	prices := make([]float64, len(records))
	for i, r := range records {
		prices[i] = r.ModalPrice
	}
	avgPrice := mean(prices)
	highest, lowest := prices[0], prices[0]
	for _, p := range prices {
		if p > highest {
			highest = p
		}
		if p < lowest {
			lowest = p
		}
	}

	markets := make(map[[3]string]struct{})
	topIdx := 0
	for i, r := range records {
		markets[[3]string{r.State, r.District, r.Market}] = struct{}{}
		if r.ModalPrice > records[topIdx].ModalPrice {
			topIdx = i
		}
	}
	topMarket := records[topIdx]

	sorted := make([]models.MarketPrice, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ArrivalDate.Before(sorted[j].ArrivalDate)
	})

	weekly := make([]models.MarketPrice, 0, len(sorted))
	weekStart := now.AddDate(0, 0, -weeklyWindowDays)
	for _, r := range sorted {
		if !r.ArrivalDate.Before(weekStart) {
			weekly = append(weekly, r)
		}
	}
	weeklyTrend := trendDirection(weekly)
	monthlyTrend := trendDirection(sorted)

	predicted7d, predicted14d, confidence := forecastPrices(sorted)

	distribution, err := json.Marshal(marketDistribution(records))
	if err != nil {
		return fmt.Errorf("failed to encode market distribution: %w", err)
	}
	history, err := json.Marshal(priceHistory(records))
	if err != nil {
		return fmt.Errorf("failed to encode price history: %w", err)
	}
	recs, err := json.Marshal(recommendations(weeklyTrend, avgPrice, topMarket.ModalPrice))
	if err != nil {
		return fmt.Errorf("failed to encode recommendations: %w", err)
	}

	seasonalFactor := 1.0
	if overall, err := e.repo.OverallAveragePrice(commodity); err == nil && overall > 0 {
		seasonalFactor = round2(avgPrice / overall)
	}

	snapshot := &models.MarketAnalytics{
		Commodity:    commodity,
		AnalysisDate: midnight(now),

		AvgPrice:        round2(avgPrice),
		HighestPrice:    highest,
		LowestPrice:     lowest,
		PriceVolatility: round2(stdDev(prices)),

		TotalMarkets:   len(markets),
		ActiveMarkets:  len(records),
		TopMarket:      fmt.Sprintf("%s, %s", topMarket.Market, topMarket.District),
		TopMarketPrice: topMarket.ModalPrice,

		WeeklyTrend:    weeklyTrend,
		MonthlyTrend:   monthlyTrend,
		SeasonalFactor: seasonalFactor,

		PredictedPrice7d:     predicted7d,
		PredictedPrice14d:    predicted14d,
		PredictionConfidence: confidence,

		MarketDistribution: string(distribution),
		PriceHistory:       string(history),
		Recommendations:    string(recs),
	}

	if err := e.repo.SaveAnalytics(snapshot); err != nil {
		return fmt.Errorf("failed to save analytics for %s: %w", commodity, err)
	}
	return nil
}

// trendDirection classifies the average consecutive price delta across records
// sorted ascending by date.
func trendDirection(sorted []models.MarketPrice) string {
	if len(sorted) < 2 {
		return models.TrendStable
	}

	totalChange := 0.0
	for i := 1; i < len(sorted); i++ {
		totalChange += sorted[i].ModalPrice - sorted[i-1].ModalPrice
	}
	avgChange := totalChange / float64(len(sorted)-1)

	switch {
	case avgChange > aggregateTrendThreshold:
		return models.TrendUp
	case avgChange < -aggregateTrendThreshold:
		return models.TrendDown
	default:
		return models.TrendStable
	}
}

// forecastPrices fits an ordinary least-squares line through the modal prices
// against a 0-based day index and extrapolates 7 and 14 days past the window.
// Under 3 points the simple average stands in for both horizons at a fixed
// confidence of 50.
func forecastPrices(sorted []models.MarketPrice) (predicted7d, predicted14d, confidence float64) {
	n := len(sorted)
	if n < 3 {
		avg := 0.0
		for _, r := range sorted {
			avg += r.ModalPrice
		}
		if n > 0 {
			avg /= float64(n)
		}
		return round2(avg), round2(avg), 50.0
	}

	var sumX, sumY, sumXY, sumX2 float64
	for i, r := range sorted {
		x := float64(i)
		sumX += x
		sumY += r.ModalPrice
		sumXY += x * r.ModalPrice
		sumX2 += x * x
	}

	fn := float64(n)
	slope := (fn*sumXY - sumX*sumY) / (fn*sumX2 - sumX*sumX)
	intercept := (sumY - slope*sumX) / fn

	predicted7d = intercept + slope*float64(n+7)
	predicted14d = intercept + slope*float64(n+14)

	recent := sorted
	if len(recent) > 7 {
		recent = recent[len(recent)-7:]
	}
	recentPrices := make([]float64, len(recent))
	for i, r := range recent {
		recentPrices[i] = r.ModalPrice
	}
	confidence = math.Max(30, math.Min(90, 80-relativeVolatility(recentPrices)))

	return round2(predicted7d), round2(predicted14d), math.Round(confidence*10) / 10
}

// relativeVolatility is the population standard deviation normalized by the
// mean, in percent.
func relativeVolatility(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	avg := mean(prices)
	if avg <= 0 {
		return 0
	}
	return stdDev(prices) / avg * 100
}

func marketDistribution(records []models.MarketPrice) models.MarketDistribution {
	counts := make(map[string]int)
	for _, r := range records {
		counts[fmt.Sprintf("%s, %s", r.Market, r.District)]++
	}

	type marketCount struct {
		key   string
		count int
	}
	ranked := make([]marketCount, 0, len(counts))
	for k, c := range counts {
		ranked = append(ranked, marketCount{k, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].key < ranked[j].key
	})

	top := make(map[string]int)
	for i, mc := range ranked {
		if i >= marketDistributionTop {
			break
		}
		top[mc.key] = mc.count
	}

	return models.MarketDistribution{
		TopMarkets:   top,
		TotalMarkets: len(counts),
		TotalEntries: len(records),
	}
}

// priceHistory groups records by arrival date and averages the modal price per
// date, keeping the most recent 30 buckets sorted ascending.
func priceHistory(records []models.MarketPrice) []models.PricePoint {
	buckets := make(map[string][]float64)
	for _, r := range records {
		key := r.ArrivalDate.Format("2006-01-02")
		buckets[key] = append(buckets[key], r.ModalPrice)
	}

	dates := make([]string, 0, len(buckets))
	for d := range buckets {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	history := make([]models.PricePoint, 0, len(dates))
	for _, d := range dates {
		history = append(history, models.PricePoint{
			Date:  d,
			Price: round2(mean(buckets[d])),
			Count: len(buckets[d]),
		})
	}

	if len(history) > priceHistoryPoints {
		history = history[len(history)-priceHistoryPoints:]
	}
	return history
}

func recommendations(weeklyTrend string, avgPrice, topPrice float64) []string {
	var recs []string

	switch weeklyTrend {
	case models.TrendUp:
		recs = append(recs,
			"Prices are rising - good time to sell",
			"Demand is strong - focus on quality",
			"No need to store - sell immediately",
		)
	case models.TrendDown:
		recs = append(recs,
			"Prices are falling - wait if possible",
			"Look for a better market nearby",
			"Focus on maintaining produce quality",
		)
	default:
		recs = append(recs,
			"Prices are steady - sell at your usual pace",
			"Compare markets before selling",
			"Focus on reducing input costs",
		)
	}

	if avgPrice > 0 && (topPrice-avgPrice)/avgPrice > 0.2 {
		recs = append(recs, "The best market is paying over 20% above average - consider selling there")
	}

	return recs
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev is the population standard deviation.
func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	avg := mean(values)
	variance := 0.0
	for _, v := range values {
		variance += (v - avg) * (v - avg)
	}
	return math.Sqrt(variance / float64(len(values)))
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
