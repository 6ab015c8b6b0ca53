package database

import (
	"fmt"
	"log"
	"time"

	"mandi-tracker/internal/models"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func Initialize(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Connection pool parameters
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(
		&models.MarketPrice{},
		&models.MarketAnalytics{},
		&models.DataSyncLog{},
	); err != nil {
		return nil, fmt.Errorf("auto-migration failed: %w", err)
	}

	log.Println("Database initialized successfully")
	return db, nil
}
