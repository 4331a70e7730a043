package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"payproof/models"
)

var errNoDSN = errors.New("DB_DSN is not set. This project requires a Postgres DSN in DB_DSN")

func openDB(cfg *Config) (*gorm.DB, error) {
	if cfg.DBDSN == "" {
		return nil, errNoDSN
	}
	gdb, err := gorm.Open(postgres.Open(cfg.DBDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return gdb, nil
}

// initDB connects and, unless DB_AUTO_MIGRATE is false, migrates the payment tables.
// Migration failures are logged and do not stop startup.
func initDB(cfg *Config, log *zap.Logger) (*gorm.DB, error) {
	gdb, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.DBAutoMigrate {
		migrate(gdb, log)
	}
	return gdb, nil
}

// migrate runs each model separately so one failure does not block the rest.
func migrate(gdb *gorm.DB, log *zap.Logger) {
	for _, m := range []struct {
		table string
		model any
	}{
		{"users", &models.User{}},
		{"payment_events", &models.PaymentEvent{}},
		{"screenshot_scans", &models.ScreenshotScan{}},
	} {
		if err := gdb.AutoMigrate(m.model); err != nil {
			log.Warn("migration warning", zap.String("table", m.table), zap.Error(err))
		}
	}
}
