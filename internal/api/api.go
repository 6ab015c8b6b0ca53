package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"mandi-tracker/internal/models"
	"mandi-tracker/internal/services"

	"github.com/gin-gonic/gin"
)

// APIHandler serves the read-side market endpoints and the on-demand sync
// trigger.
type APIHandler struct {
	repo    services.Repository
	sync    *services.SyncService
	running atomic.Bool
}

func SetupRoutes(r *gin.RouterGroup, repo services.Repository, syncSvc *services.SyncService) *APIHandler {
	h := &APIHandler{repo: repo, sync: syncSvc}

	r.GET("/prices", h.GetPrices)
	r.GET("/analytics/:commodity", h.GetAnalytics)
	r.GET("/sync/history", h.GetSyncHistory)
	r.POST("/sync", h.TriggerSync)

	return h
}

func (h *APIHandler) GetPrices(c *gin.Context) {
	commodity := c.Query("commodity")
	if commodity == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "commodity parameter is required"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	records, err := h.repo.RecentPrices(commodity, c.Query("state"), c.Query("district"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query prices"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"commodity": commodity,
		"count":     len(records),
		"prices":    records,
	})
}

// analyticsResponse is a MarketAnalytics row with its JSON text columns
// decoded for consumers.
type analyticsResponse struct {
	models.MarketAnalytics
	MarketDistribution *models.MarketDistribution `json:"market_distribution"`
	PriceHistory       []models.PricePoint        `json:"price_history"`
	Recommendations    []string                   `json:"recommendations"`
}

func (h *APIHandler) GetAnalytics(c *gin.Context) {
	commodity := c.Param("commodity")

	snapshot, err := h.repo.LatestAnalytics(commodity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query analytics"})
		return
	}
	if snapshot == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no analytics available for " + commodity})
		return
	}

	resp := analyticsResponse{MarketAnalytics: *snapshot}
	// Decoded copies replace the embedded raw text columns in the response.
	// A corrupt column is logged and omitted rather than failing the request.
	if snapshot.MarketDistribution != "" {
		var dist models.MarketDistribution
		if err := json.Unmarshal([]byte(snapshot.MarketDistribution), &dist); err != nil {
			log.Printf("[Market API] Corrupt market distribution for %s: %v", commodity, err)
		} else {
			resp.MarketDistribution = &dist
		}
	}
	if snapshot.PriceHistory != "" {
		if err := json.Unmarshal([]byte(snapshot.PriceHistory), &resp.PriceHistory); err != nil {
			log.Printf("[Market API] Corrupt price history for %s: %v", commodity, err)
		}
	}
	if snapshot.Recommendations != "" {
		if err := json.Unmarshal([]byte(snapshot.Recommendations), &resp.Recommendations); err != nil {
			log.Printf("[Market API] Corrupt recommendations for %s: %v", commodity, err)
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *APIHandler) GetSyncHistory(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	entries, err := h.repo.RecentSyncLogs(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query sync history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": len(entries), "history": entries})
}

// TriggerSync starts a sync run in the background. Only one run may be in
// flight at a time.
func (h *APIHandler) TriggerSync(c *gin.Context) {
	forceFull := c.Query("force") == "true"

	if !h.running.CompareAndSwap(false, true) {
		c.JSON(http.StatusConflict, gin.H{"error": "a sync is already running"})
		return
	}

	go func() {
		defer h.running.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		// Outcome lands in the sync log either way.
		_, _ = h.sync.Run(ctx, forceFull)
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "sync started", "force_full": forceFull})
}
