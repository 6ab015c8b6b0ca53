package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"mandi-tracker/internal/models"
	"mandi-tracker/internal/services/feed"
)

// NormalizeRecord validates and coerces a raw feed record into a MarketPrice.
// It is pure: no I/O, no shared state. A rejected record returns a nil model
// and the reason for rejection.
func NormalizeRecord(raw feed.RawRecord) (*models.MarketPrice, error) {
	state := strings.TrimSpace(raw.State)
	district := strings.TrimSpace(raw.District)
	market := strings.TrimSpace(raw.Market)
	commodity := strings.TrimSpace(raw.Commodity)

	if state == "" || district == "" || market == "" || commodity == "" {
		return nil, fmt.Errorf("missing required field (state=%q district=%q market=%q commodity=%q)",
			state, district, market, commodity)
	}

	arrivalDate, err := time.Parse(feed.ArrivalDateLayout, strings.TrimSpace(raw.ArrivalDate))
	if err != nil {
		return nil, fmt.Errorf("invalid arrival_date %q: %w", raw.ArrivalDate, err)
	}

	minPrice, err := parsePrice(raw.MinPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid min_price %q: %w", raw.MinPrice, err)
	}
	maxPrice, err := parsePrice(raw.MaxPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid max_price %q: %w", raw.MaxPrice, err)
	}
	modalPrice, err := parsePrice(raw.ModalPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid modal_price %q: %w", raw.ModalPrice, err)
	}

	// A zero or missing modal price is a rejected record, not a zero-priced one.
	if modalPrice <= 0 {
		return nil, fmt.Errorf("modal_price must be positive, got %v", modalPrice)
	}

	return &models.MarketPrice{
		State:       state,
		District:    district,
		Market:      market,
		Commodity:   commodity,
		Variety:     strings.TrimSpace(raw.Variety),
		Grade:       strings.TrimSpace(raw.Grade),
		ArrivalDate: arrivalDate,
		MinPrice:    minPrice,
		MaxPrice:    maxPrice,
		ModalPrice:  modalPrice,
		Trend:       models.TrendStable,
		IsActive:    true,
	}, nil
}

// parsePrice parses a decimal price string, treating an absent value as 0.
func parsePrice(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "NR" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
