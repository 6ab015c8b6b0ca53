package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"mandi-tracker/internal/models"

	"gorm.io/gorm"
)

// UpsertResult reports whether an upsert created a new row or revised one.
type UpsertResult int

const (
	Inserted UpsertResult = iota
	Updated
)

// BatchResult aggregates the outcome of one batched upsert commit.
type BatchResult struct {
	Inserted int
	Updated  int
	Skipped  int // records dropped because their individual upsert failed
}

// Repository is the persistence boundary of the pipeline. Every write the
// pipeline performs goes through an upsert or append operation here, each of
// which is individually atomic; the run as a whole is not transactional.
type Repository interface {
	// UpsertPrice inserts the record or, when a row with the same
	// (state, district, market, commodity, arrival_date) tuple exists,
	// overwrites its mutable fields. Safe to call repeatedly with
	// identical input.
	UpsertPrice(record *models.MarketPrice) (UpsertResult, error)

	// UpsertBatch commits a batch of upserts in one transaction. A record
	// whose individual upsert fails is logged and skipped; the batch
	// continues.
	UpsertBatch(records []*models.MarketPrice) (BatchResult, error)

	// PricesInWindow returns a commodity's records with since <= arrival_date
	// <= until, ordered by arrival_date descending.
	PricesInWindow(commodity string, since, until time.Time) ([]models.MarketPrice, error)

	DistinctCommodities() ([]string, error)

	// OverallAveragePrice returns the all-time average modal price for a
	// commodity, 0 when no records exist.
	OverallAveragePrice(commodity string) (float64, error)

	// SaveAnalytics upserts a snapshot keyed on (commodity, analysis_date).
	SaveAnalytics(snapshot *models.MarketAnalytics) error

	// AppendSyncLog writes one audit row. Rows are never mutated afterward.
	AppendSyncLog(entry *models.DataSyncLog) error

	// LastSuccessfulSync returns the most recent success row, or nil when no
	// successful run has ever completed.
	LastSuccessfulSync() (*models.DataSyncLog, error)

	RecentSyncLogs(limit int) ([]models.DataSyncLog, error)

	// RecentPrices serves the read API: latest records for a commodity with
	// optional state/district filters.
	RecentPrices(commodity, state, district string, limit int) ([]models.MarketPrice, error)

	// LatestAnalytics returns the newest snapshot for a commodity, or nil.
	LatestAnalytics(commodity string) (*models.MarketAnalytics, error)
}

// GormRepository is the MySQL-backed Repository.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) UpsertPrice(record *models.MarketPrice) (UpsertResult, error) {
	return upsertPrice(r.db, record)
}

func upsertPrice(db *gorm.DB, record *models.MarketPrice) (UpsertResult, error) {
	var existing models.MarketPrice
	err := db.Where(
		"state = ? AND district = ? AND market = ? AND commodity = ? AND arrival_date = ?",
		record.State, record.District, record.Market, record.Commodity, record.ArrivalDate,
	).First(&existing).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := db.Create(record).Error; err != nil {
			return Inserted, fmt.Errorf("failed to insert price record: %w", err)
		}
		return Inserted, nil
	}
	if err != nil {
		return Updated, fmt.Errorf("failed to look up price record: %w", err)
	}

	updates := map[string]interface{}{
		"variety":           record.Variety,
		"grade":             record.Grade,
		"min_price":         record.MinPrice,
		"max_price":         record.MaxPrice,
		"modal_price":       record.ModalPrice,
		"price_change":      record.PriceChange,
		"percentage_change": record.PercentageChange,
		"trend":             record.Trend,
		"updated_at":        time.Now(),
	}
	if err := db.Model(&existing).Updates(updates).Error; err != nil {
		return Updated, fmt.Errorf("failed to update price record: %w", err)
	}
	record.ID = existing.ID
	return Updated, nil
}

func (r *GormRepository) UpsertBatch(records []*models.MarketPrice) (BatchResult, error) {
	var result BatchResult
	err := r.db.Transaction(func(tx *gorm.DB) error {
		for _, record := range records {
			outcome, err := upsertPrice(tx, record)
			if err != nil {
				log.Printf("[Price Repository] Skipping record %s/%s/%s: %v",
					record.Commodity, record.Market, record.ArrivalDate.Format("2006-01-02"), err)
				result.Skipped++
				continue
			}
			if outcome == Inserted {
				result.Inserted++
			} else {
				result.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return BatchResult{Skipped: len(records)}, fmt.Errorf("batch commit failed: %w", err)
	}
	return result, nil
}

func (r *GormRepository) PricesInWindow(commodity string, since, until time.Time) ([]models.MarketPrice, error) {
	var records []models.MarketPrice
	err := r.db.
		Where("commodity = ? AND arrival_date >= ? AND arrival_date <= ? AND is_active = ?",
			commodity, since, until, true).
		Order("arrival_date desc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("window query failed for %s: %w", commodity, err)
	}
	return records, nil
}

func (r *GormRepository) DistinctCommodities() ([]string, error) {
	var commodities []string
	err := r.db.Model(&models.MarketPrice{}).
		Where("is_active = ?", true).
		Distinct("commodity").
		Pluck("commodity", &commodities).Error
	if err != nil {
		return nil, fmt.Errorf("distinct commodity query failed: %w", err)
	}
	return commodities, nil
}

func (r *GormRepository) OverallAveragePrice(commodity string) (float64, error) {
	var avg *float64
	err := r.db.Model(&models.MarketPrice{}).
		Where("commodity = ? AND is_active = ?", commodity, true).
		Select("AVG(modal_price)").
		Scan(&avg).Error
	if err != nil {
		return 0, fmt.Errorf("average price query failed for %s: %w", commodity, err)
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}

func (r *GormRepository) SaveAnalytics(snapshot *models.MarketAnalytics) error {
	var existing models.MarketAnalytics
	err := r.db.Where("commodity = ? AND analysis_date = ?",
		snapshot.Commodity, snapshot.AnalysisDate).First(&existing).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := r.db.Create(snapshot).Error; err != nil {
			return fmt.Errorf("failed to insert analytics snapshot: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up analytics snapshot: %w", err)
	}

	snapshot.ID = existing.ID
	snapshot.CreatedAt = existing.CreatedAt
	if err := r.db.Model(&existing).Select("*").Omit("id", "created_at").Updates(snapshot).Error; err != nil {
		return fmt.Errorf("failed to update analytics snapshot: %w", err)
	}
	return nil
}

func (r *GormRepository) AppendSyncLog(entry *models.DataSyncLog) error {
	if err := r.db.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	return nil
}

func (r *GormRepository) LastSuccessfulSync() (*models.DataSyncLog, error) {
	var entry models.DataSyncLog
	err := r.db.Where("status = ?", models.SyncStatusSuccess).
		Order("sync_date desc").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last successful sync query failed: %w", err)
	}
	return &entry, nil
}

func (r *GormRepository) RecentSyncLogs(limit int) ([]models.DataSyncLog, error) {
	var entries []models.DataSyncLog
	err := r.db.Order("sync_date desc").Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("sync log query failed: %w", err)
	}
	return entries, nil
}

func (r *GormRepository) RecentPrices(commodity, state, district string, limit int) ([]models.MarketPrice, error) {
	q := r.db.Where("commodity = ? AND is_active = ?", commodity, true)
	if state != "" {
		q = q.Where("state = ?", state)
	}
	if district != "" {
		q = q.Where("district = ?", district)
	}

	var records []models.MarketPrice
	if err := q.Order("arrival_date desc").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("price query failed for %s: %w", commodity, err)
	}
	return records, nil
}

func (r *GormRepository) LatestAnalytics(commodity string) (*models.MarketAnalytics, error) {
	var snapshot models.MarketAnalytics
	err := r.db.Where("commodity = ?", commodity).
		Order("analysis_date desc").
		First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("analytics query failed for %s: %w", commodity, err)
	}
	return &snapshot, nil
}
