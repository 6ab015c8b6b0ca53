package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"mandi-tracker/internal/models"
	"mandi-tracker/internal/services/feed"
)

const (
	fullSyncDays    = 7
	upsertBatchSize = 100
)

// Fetcher is the slice of the feed client the orchestrator needs.
type Fetcher interface {
	FetchDay(ctx context.Context, dateFilter string) ([]feed.RawRecord, error)
}

// SyncEvent describes one step of a running sync, published to observers such
// as the websocket progress feed.
type SyncEvent struct {
	Stage     string `json:"stage"` // started, day_synced, day_failed, finished
	SyncType  string `json:"sync_type,omitempty"`
	Date      string `json:"date,omitempty"`
	Records   int    `json:"records,omitempty"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

// SyncResult aggregates one run's counters, mirroring the DataSyncLog row
// written for it.
type SyncResult struct {
	SyncType         string
	Status           string
	RecordsProcessed int
	RecordsInserted  int
	RecordsUpdated   int
	RecordsSkipped   int
	FailedDays       int
	Duration         time.Duration
}

// SyncService drives one pipeline run: mode selection, day-by-day fetch,
// normalization, batched upserts, trend and analytics recomputation, and the
// audit log write.
type SyncService struct {
	repo      Repository
	feed      Fetcher
	trend     *TrendEngine
	analytics *AnalyticsEngine

	// now is swappable so tests can pin the clock.
	now func() time.Time

	// progress receives lifecycle events; nil when nobody is listening.
	progress func(SyncEvent)
}

func NewSyncService(repo Repository, fetcher Fetcher) *SyncService {
	return &SyncService{
		repo:      repo,
		feed:      fetcher,
		trend:     NewTrendEngine(repo),
		analytics: NewAnalyticsEngine(repo),
		now:       time.Now,
	}
}

// SetProgressFunc registers an observer for sync lifecycle events.
func (s *SyncService) SetProgressFunc(fn func(SyncEvent)) {
	s.progress = fn
}

// Run executes one sync. A full sync walks the trailing 7-day window when no
// prior successful run exists or when forced; otherwise only the current day
// is fetched. Day-level and record-level failures are counted, not fatal; a
// run-level failure is logged to the audit trail and returned to the caller.
func (s *SyncService) Run(ctx context.Context, forceFull bool) (*SyncResult, error) {
	start := s.now()

	lastSync, err := s.repo.LastSuccessfulSync()
	if err != nil {
		return nil, s.failRun(start, models.SyncTypeFull, fmt.Errorf("failed to read sync history: %w", err))
	}

	syncType := models.SyncTypeIncremental
	if lastSync == nil || forceFull {
		syncType = models.SyncTypeFull
	}

	log.Printf("[Market Sync] Starting %s sync", syncType)
	s.emit(SyncEvent{Stage: "started", SyncType: syncType})

	result, err := s.runDates(ctx, syncType, s.targetDates(syncType, start))
	if err != nil {
		return nil, s.failRun(start, syncType, err)
	}

	result.SyncType = syncType
	result.Duration = s.now().Sub(start)

	entry := &models.DataSyncLog{
		SyncDate:         start,
		SyncType:         syncType,
		Status:           result.Status,
		RecordsProcessed: result.RecordsProcessed,
		RecordsInserted:  result.RecordsInserted,
		RecordsUpdated:   result.RecordsUpdated,
		DurationSeconds:  result.Duration.Seconds(),
	}
	if err := s.repo.AppendSyncLog(entry); err != nil {
		return nil, fmt.Errorf("sync completed but audit log write failed: %w", err)
	}

	log.Printf("[Market Sync] %s sync %s: %d processed, %d inserted, %d updated, %d skipped in %.1fs",
		syncType, result.Status, result.RecordsProcessed, result.RecordsInserted,
		result.RecordsUpdated, result.RecordsSkipped, result.Duration.Seconds())
	s.emit(SyncEvent{Stage: "finished", SyncType: syncType, Status: result.Status,
		Records: result.RecordsProcessed})

	return result, nil
}

// targetDates returns the run's dates oldest to newest.
func (s *SyncService) targetDates(syncType string, now time.Time) []time.Time {
	if syncType == models.SyncTypeIncremental {
		return []time.Time{now}
	}
	dates := make([]time.Time, 0, fullSyncDays+1)
	for d := fullSyncDays; d >= 0; d-- {
		dates = append(dates, now.AddDate(0, 0, -d))
	}
	return dates
}

func (s *SyncService) runDates(ctx context.Context, syncType string, dates []time.Time) (*SyncResult, error) {
	result := &SyncResult{}
	touched := make(map[string]struct{})
	var batch []*models.MarketPrice

	flush := func() {
		if len(batch) == 0 {
			return
		}
		outcome, err := s.repo.UpsertBatch(batch)
		if err != nil {
			// Earlier batches are already committed; losing one batch is a
			// counted partial failure, not a reason to abandon the run.
			log.Printf("[Market Sync] Batch of %d records failed: %v", len(batch), err)
			result.RecordsSkipped += len(batch)
		} else {
			result.RecordsInserted += outcome.Inserted
			result.RecordsUpdated += outcome.Updated
			result.RecordsSkipped += outcome.Skipped
		}
		batch = batch[:0]
	}

	for _, date := range dates {
		dateStr := date.Format(feed.ArrivalDateLayout)

		raws, err := s.feed.FetchDay(ctx, dateStr)
		if err != nil {
			log.Printf("[Market Sync] Failed to fetch data for %s: %v", dateStr, err)
			result.FailedDays++
			s.emit(SyncEvent{Stage: "day_failed", Date: dateStr, Message: err.Error()})
			continue
		}

		for _, raw := range raws {
			result.RecordsProcessed++
			record, err := NormalizeRecord(raw)
			if err != nil {
				result.RecordsSkipped++
				continue
			}
			touched[record.Commodity] = struct{}{}
			batch = append(batch, record)
			if len(batch) >= upsertBatchSize {
				flush()
			}
		}

		log.Printf("[Market Sync] Fetched %d records for %s", len(raws), dateStr)
		s.emit(SyncEvent{Stage: "day_synced", Date: dateStr, Records: len(raws)})
	}
	flush()

	// Trend revision needs the full date range committed first: a record's
	// price_change is derived from its now-present neighboring day.
	now := s.now()
	for commodity := range touched {
		if err := s.trend.Recalculate(commodity, now); err != nil {
			log.Printf("[Market Sync] Trend calculation failed for %s: %v", commodity, err)
		}
	}

	commodities, err := s.repo.DistinctCommodities()
	if err != nil {
		return nil, fmt.Errorf("failed to list commodities for analytics: %w", err)
	}
	for _, commodity := range commodities {
		if err := s.analytics.Generate(commodity, now); err != nil {
			log.Printf("[Market Sync] Analytics generation failed for %s: %v", commodity, err)
		}
	}

	// A subset of days failing still counts as success; only a run where every
	// target day failed is marked partial.
	result.Status = models.SyncStatusSuccess
	if len(dates) > 0 && result.FailedDays == len(dates) {
		result.Status = models.SyncStatusPartial
	}
	return result, nil
}

// failRun records a failed run in the audit trail and surfaces the error.
func (s *SyncService) failRun(start time.Time, syncType string, runErr error) error {
	log.Printf("[Market Sync] Sync failed: %v", runErr)
	s.emit(SyncEvent{Stage: "finished", SyncType: syncType,
		Status: models.SyncStatusFailed, Message: runErr.Error()})

	entry := &models.DataSyncLog{
		SyncDate:        start,
		SyncType:        syncType,
		Status:          models.SyncStatusFailed,
		ErrorMessage:    runErr.Error(),
		DurationSeconds: s.now().Sub(start).Seconds(),
	}
	if err := s.repo.AppendSyncLog(entry); err != nil {
		log.Printf("[Market Sync] Failed to record failed run: %v", err)
	}
	return runErr
}

func (s *SyncService) emit(event SyncEvent) {
	if s.progress == nil {
		return
	}
	event.Timestamp = s.now().Format(time.RFC3339)
	s.progress(event)
}
