package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"mandi-tracker/internal/api"
	"mandi-tracker/internal/config"
	"mandi-tracker/internal/database"
	"mandi-tracker/internal/services"
	"mandi-tracker/internal/services/feed"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()

	if cfg.DataGovAPIKey == "" {
		log.Println("Warning: DATA_GOV_API_KEY not set, feed requests will be rejected upstream")
	}

	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	repo := services.NewGormRepository(db)
	feedClient := feed.NewClient(cfg.DataGovBaseURL, cfg.DataGovAPIKey, cfg.FeedPageSize)
	syncSvc := services.NewSyncService(repo, feedClient)

	hub := api.NewSyncHub()
	syncSvc.SetProgressFunc(hub.Broadcast)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws/sync", hub.Handle)

	api.SetupRoutes(r.Group("/api"), repo, syncSvc)

	// In-process scheduler; the standalone sync-daemon covers deployments
	// that run the pipeline separately from the API.
	if cfg.SyncInterval > 0 {
		go runScheduler(syncSvc, cfg.SyncInterval)
	}

	log.Printf("Server starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Server failed:", err)
	}
}

func runScheduler(syncSvc *services.SyncService, interval time.Duration) {
	log.Printf("[Scheduler] Running sync every %v", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		if _, err := syncSvc.Run(ctx, false); err != nil {
			log.Printf("[Scheduler] Sync run failed: %v", err)
		}
		cancel()
	}
}
