package scan

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payproof/models"
)

// GormSink stores scans in the screenshot_scans table, one row per file.
type GormSink struct {
	db *gorm.DB
}

func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

func (g *GormSink) Known(ctx context.Context) (map[string]bool, error) {
	var names []string
	if err := g.db.WithContext(ctx).Model(&models.ScreenshotScan{}).Where("failed = ?", false).Pluck("file_name", &names).Error; err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	return known, nil
}

// Record upserts on file_name so a rescan replaces the earlier outcome.
func (g *GormSink) Record(ctx context.Context, scan models.ScreenshotScan) error {
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "file_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id", "content_type", "transaction_id", "rule", "status",
			"raw_text", "failed", "failed_reason", "updated_at",
		}),
	}).Create(&scan).Error
	if err != nil {
		return fmt.Errorf("upsert screenshot scan: %w", err)
	}
	return nil
}

// ByFile returns every stored scan keyed by file name.
func (g *GormSink) ByFile(ctx context.Context) (map[string]models.ScreenshotScan, error) {
	var rows []models.ScreenshotScan
	if err := g.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load screenshot scans: %w", err)
	}
	out := make(map[string]models.ScreenshotScan, len(rows))
	for _, r := range rows {
		out[r.FileName] = r
	}
	return out, nil
}
