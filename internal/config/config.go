package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL string
	Port        string
	Environment string

	// data.gov.in current daily price resource
	DataGovAPIKey     string
	DataGovResourceID string
	DataGovBaseURL    string
	FeedPageSize      int

	// Background sync scheduling; 0 disables the in-process scheduler.
	SyncInterval time.Duration
}

func Load() *Config {
	defaultDSN := "root:mandi@tcp(127.0.0.1:3306)/mandi_tracker?charset=utf8mb4&parseTime=True&loc=Local"

	resourceID := getEnv("DATA_GOV_RESOURCE_ID", "9ef84268-d588-465a-a308-a864a43d0070")

	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", defaultDSN),
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		DataGovAPIKey:     getEnv("DATA_GOV_API_KEY", ""),
		DataGovResourceID: resourceID,
		DataGovBaseURL:    getEnv("DATA_GOV_BASE_URL", "https://api.data.gov.in/resource/"+resourceID),
		FeedPageSize:      getEnvInt("FEED_PAGE_SIZE", 1000),

		SyncInterval: getEnvDuration("SYNC_INTERVAL", 0),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
