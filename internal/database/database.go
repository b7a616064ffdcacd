package database

import (
	"fmt"
	"log/slog"

	"github.com/richjun-project/vibescan/internal/database/models"
	"github.com/richjun-project/vibescan/pkg/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Connect(cfg *config.DatabaseConfig, log *slog.Logger) (*gorm.DB, error) {
	gormLogger := logger.Default.LogMode(logger.Warn)
	if cfg.SSLMode == "disable" {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying db: %w", err)
	}

	// Connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	log.Info("connected to database", "host", cfg.Host, "database", cfg.Name)

	return db, nil
}

func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Subscription{},
		&models.BillingPlanMapping{},
		&models.QuotaPeriod{},
		&models.Scan{},
		&models.Vulnerability{},
	); err != nil {
		return err
	}

	// At most one pending or running scan per (owner, domain). The
	// admission path pre-checks for a friendly error; this index is
	// what actually holds under concurrent submits.
	return db.Exec(activeScanIndexDDL).Error
}

const activeScanIndexDDL = `CREATE UNIQUE INDEX IF NOT EXISTS idx_scans_owner_domain_active
ON scans (owner_id, domain)
WHERE status IN ('pending', 'running') AND deleted_at IS NULL`
