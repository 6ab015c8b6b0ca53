package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mandi-tracker/internal/config"
	"mandi-tracker/internal/database"
	"mandi-tracker/internal/services"
	"mandi-tracker/internal/services/feed"

	"github.com/joho/godotenv"
)

var (
	interval  = flag.Duration("interval", 24*time.Hour, "time between sync runs")
	forceFull = flag.Bool("force-full", false, "force a full 7-day sync on the first run")
	runOnce   = flag.Bool("once", false, "run a single sync and exit")
	runCtxTTL = flag.Duration("run-timeout", 30*time.Minute, "timeout for a single sync run")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.Load()

	db, err := database.Initialize(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	repo := services.NewGormRepository(db)
	feedClient := feed.NewClient(cfg.DataGovBaseURL, cfg.DataGovAPIKey, cfg.FeedPageSize)
	syncSvc := services.NewSyncService(repo, feedClient)

	log.Printf("[Sync Daemon] Started (PID %d), interval %v", os.Getpid(), *interval)

	runSync := func(force bool) {
		ctx, cancel := context.WithTimeout(context.Background(), *runCtxTTL)
		defer cancel()
		if _, err := syncSvc.Run(ctx, force); err != nil {
			log.Printf("[Sync Daemon] Sync run failed: %v", err)
		}
	}

	// First run happens immediately; subsequent runs follow the ticker.
	runSync(*forceFull)
	if *runOnce {
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			log.Println("[Sync Daemon] Shutdown signal received, stopping")
			return
		case <-ticker.C:
			runSync(false)
		}
	}
}
