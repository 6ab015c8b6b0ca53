package models

import (
	"time"
)

// Trend labels shared by per-record trends and the aggregate weekly/monthly trends.
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

// Sync run types and statuses recorded in DataSyncLog.
const (
	SyncTypeFull        = "full"
	SyncTypeIncremental = "incremental"

	SyncStatusSuccess = "success"
	SyncStatusFailed  = "failed"
	SyncStatusPartial = "partial"
)

// MarketPrice is one commodity's quoted price at one market on one arrival date.
// The tuple (state, district, market, commodity, arrival_date) is unique; a sync
// that sees the same tuple again updates the existing row.
type MarketPrice struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	State       string    `json:"state" gorm:"size:100;not null;uniqueIndex:idx_price_identity"`
	District    string    `json:"district" gorm:"size:100;not null;uniqueIndex:idx_price_identity;index:idx_state_district"`
	Market      string    `json:"market" gorm:"size:200;not null;uniqueIndex:idx_price_identity"`
	Commodity   string    `json:"commodity" gorm:"size:100;not null;uniqueIndex:idx_price_identity;index:idx_commodity_date"`
	Variety     string    `json:"variety" gorm:"size:100"`
	Grade       string    `json:"grade" gorm:"size:50"`
	ArrivalDate time.Time `json:"arrival_date" gorm:"not null;uniqueIndex:idx_price_identity;index:idx_commodity_date"`

	// Prices in INR per quintal, as quoted by the feed.
	MinPrice   float64 `json:"min_price"`
	MaxPrice   float64 `json:"max_price"`
	ModalPrice float64 `json:"modal_price" gorm:"not null"`

	// Filled in by the trend engine once neighboring days exist.
	PriceChange      float64 `json:"price_change" gorm:"default:0"`
	PercentageChange float64 `json:"percentage_change" gorm:"default:0"`
	Trend            string  `json:"trend" gorm:"size:10;default:'stable'"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	IsActive  bool      `json:"is_active" gorm:"default:true"`
}

// MarketAnalytics is one commodity's daily aggregate over a rolling 30-day window,
// unique per (commodity, analysis_date). Re-running analytics for the same day
// overwrites the existing row.
type MarketAnalytics struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Commodity    string    `json:"commodity" gorm:"size:100;not null;uniqueIndex:idx_commodity_analysis_date"`
	AnalysisDate time.Time `json:"analysis_date" gorm:"not null;uniqueIndex:idx_commodity_analysis_date"`

	AvgPrice        float64 `json:"avg_price"`
	HighestPrice    float64 `json:"highest_price"`
	LowestPrice     float64 `json:"lowest_price"`
	PriceVolatility float64 `json:"price_volatility"` // population standard deviation

	TotalMarkets   int     `json:"total_markets"`  // distinct (state, district, market) triples
	ActiveMarkets  int     `json:"active_markets"` // record count in window
	TopMarket      string  `json:"top_market" gorm:"size:200"`
	TopMarketPrice float64 `json:"top_market_price"`

	WeeklyTrend    string  `json:"weekly_trend" gorm:"size:10"`
	MonthlyTrend   string  `json:"monthly_trend" gorm:"size:10"`
	SeasonalFactor float64 `json:"seasonal_factor"`

	PredictedPrice7d     float64 `json:"predicted_price_7d"`
	PredictedPrice14d    float64 `json:"predicted_price_14d"`
	PredictionConfidence float64 `json:"prediction_confidence"`

	// JSON payloads stored as text, decoded at the API boundary.
	MarketDistribution string `json:"market_distribution" gorm:"type:text"`
	PriceHistory       string `json:"price_history" gorm:"type:text"`
	Recommendations    string `json:"recommendations" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
}

// DataSyncLog is the append-only audit trail of sync runs. One row is written per
// invocation, success or failure, and never mutated afterward. The most recent
// successful row decides full-vs-incremental mode on the next run.
type DataSyncLog struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	SyncDate         time.Time `json:"sync_date" gorm:"not null;index"`
	SyncType         string    `json:"sync_type" gorm:"size:50;not null"` // full, incremental
	Status           string    `json:"status" gorm:"size:20;not null"`   // success, failed, partial
	RecordsProcessed int       `json:"records_processed" gorm:"default:0"`
	RecordsInserted  int       `json:"records_inserted" gorm:"default:0"`
	RecordsUpdated   int       `json:"records_updated" gorm:"default:0"`
	ErrorMessage     string    `json:"error_message" gorm:"type:text"`
	DurationSeconds  float64   `json:"duration_seconds"`
	CreatedAt        time.Time `json:"created_at"`
}

// MarketDistribution is the decoded form of MarketAnalytics.MarketDistribution.
type MarketDistribution struct {
	TopMarkets   map[string]int `json:"top_markets"`
	TotalMarkets int            `json:"total_markets"`
	TotalEntries int            `json:"total_entries"`
}

// PricePoint is one bucket of the decoded price history series.
type PricePoint struct {
	Date  string  `json:"date"`
	Price float64 `json:"price"`
	Count int     `json:"count"`
}
