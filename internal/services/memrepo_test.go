package services

import (
	"fmt"
	"sort"
	"time"

	"mandi-tracker/internal/models"
)

// memRepo is an in-memory Repository honoring the same identity and ordering
// contracts as the MySQL implementation, so engine and orchestrator tests run
// without a database.
type memRepo struct {
	prices    map[string]*models.MarketPrice
	analytics map[string]*models.MarketAnalytics
	syncLogs  []models.DataSyncLog
	nextID    uint

	failLastSync error // injected fault for run-level fatal tests
}

func newMemRepo() *memRepo {
	return &memRepo{
		prices:    make(map[string]*models.MarketPrice),
		analytics: make(map[string]*models.MarketAnalytics),
	}
}

func priceKey(r *models.MarketPrice) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s",
		r.State, r.District, r.Market, r.Commodity, r.ArrivalDate.Format("2006-01-02"))
}

func (m *memRepo) UpsertPrice(record *models.MarketPrice) (UpsertResult, error) {
	key := priceKey(record)
	if existing, ok := m.prices[key]; ok {
		existing.Variety = record.Variety
		existing.Grade = record.Grade
		existing.MinPrice = record.MinPrice
		existing.MaxPrice = record.MaxPrice
		existing.ModalPrice = record.ModalPrice
		existing.PriceChange = record.PriceChange
		existing.PercentageChange = record.PercentageChange
		existing.Trend = record.Trend
		existing.UpdatedAt = time.Now()
		record.ID = existing.ID
		return Updated, nil
	}

	m.nextID++
	record.ID = m.nextID
	stored := *record
	m.prices[key] = &stored
	return Inserted, nil
}

func (m *memRepo) UpsertBatch(records []*models.MarketPrice) (BatchResult, error) {
	var result BatchResult
	for _, record := range records {
		outcome, err := m.UpsertPrice(record)
		if err != nil {
			result.Skipped++
			continue
		}
		if outcome == Inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}
	return result, nil
}

func (m *memRepo) PricesInWindow(commodity string, since, until time.Time) ([]models.MarketPrice, error) {
	var records []models.MarketPrice
	for _, r := range m.prices {
		if r.Commodity != commodity || !r.IsActive {
			continue
		}
		if r.ArrivalDate.Before(since) || r.ArrivalDate.After(until) {
			continue
		}
		records = append(records, *r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ArrivalDate.After(records[j].ArrivalDate)
	})
	return records, nil
}

func (m *memRepo) DistinctCommodities() ([]string, error) {
	seen := make(map[string]struct{})
	for _, r := range m.prices {
		seen[r.Commodity] = struct{}{}
	}
	commodities := make([]string, 0, len(seen))
	for c := range seen {
		commodities = append(commodities, c)
	}
	sort.Strings(commodities)
	return commodities, nil
}

func (m *memRepo) OverallAveragePrice(commodity string) (float64, error) {
	sum, count := 0.0, 0
	for _, r := range m.prices {
		if r.Commodity == commodity {
			sum += r.ModalPrice
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return sum / float64(count), nil
}

func (m *memRepo) SaveAnalytics(snapshot *models.MarketAnalytics) error {
	key := snapshot.Commodity + "|" + snapshot.AnalysisDate.Format("2006-01-02")
	stored := *snapshot
	m.analytics[key] = &stored
	return nil
}

func (m *memRepo) AppendSyncLog(entry *models.DataSyncLog) error {
	m.syncLogs = append(m.syncLogs, *entry)
	return nil
}

func (m *memRepo) LastSuccessfulSync() (*models.DataSyncLog, error) {
	if m.failLastSync != nil {
		return nil, m.failLastSync
	}
	var latest *models.DataSyncLog
	for i := range m.syncLogs {
		entry := &m.syncLogs[i]
		if entry.Status != models.SyncStatusSuccess {
			continue
		}
		if latest == nil || entry.SyncDate.After(latest.SyncDate) {
			latest = entry
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (m *memRepo) RecentSyncLogs(limit int) ([]models.DataSyncLog, error) {
	entries := make([]models.DataSyncLog, len(m.syncLogs))
	copy(entries, m.syncLogs)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SyncDate.After(entries[j].SyncDate)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *memRepo) RecentPrices(commodity, state, district string, limit int) ([]models.MarketPrice, error) {
	var records []models.MarketPrice
	for _, r := range m.prices {
		if r.Commodity != commodity || !r.IsActive {
			continue
		}
		if state != "" && r.State != state {
			continue
		}
		if district != "" && r.District != district {
			continue
		}
		records = append(records, *r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ArrivalDate.After(records[j].ArrivalDate)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (m *memRepo) LatestAnalytics(commodity string) (*models.MarketAnalytics, error) {
	var latest *models.MarketAnalytics
	for _, a := range m.analytics {
		if a.Commodity != commodity {
			continue
		}
		if latest == nil || a.AnalysisDate.After(latest.AnalysisDate) {
			latest = a
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}
