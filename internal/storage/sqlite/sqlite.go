// internal/storage/sqlite/sqlite.go
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/rovshanmuradov/solsniperx/internal/storage"
	"github.com/rovshanmuradov/solsniperx/internal/storage/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Journal is the sqlite-backed storage.Journal.
type Journal struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ storage.Journal = (*Journal)(nil)

// Open creates (or reuses) the database at path and migrates the schema.
// ":memory:" opens a private in-memory database.
func Open(path string, zapLogger *zap.Logger) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	dsn := "file::memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	// sqlite allows one writer; a single connection also keeps :memory: shared.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := db.AutoMigrate(&models.Trade{}, &models.Alert{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	zapLogger.Info("Journal opened", zap.String("path", path))
	return &Journal{db: db, logger: zapLogger}, nil
}

func (j *Journal) SaveTrade(ctx context.Context, trade *models.Trade) error {
	return j.db.WithContext(ctx).Create(trade).Error
}

func (j *Journal) SaveAlert(ctx context.Context, alert *models.Alert) error {
	return j.db.WithContext(ctx).Create(alert).Error
}

func (j *Journal) ListTrades(ctx context.Context, limit int) ([]models.Trade, error) {
	var trades []models.Trade
	err := j.db.WithContext(ctx).
		Order("created_at desc").
		Order("id desc").
		Limit(clampLimit(limit)).
		Find(&trades).Error
	return trades, err
}

func (j *Journal) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	var alerts []models.Alert
	err := j.db.WithContext(ctx).
		Order("created_at desc").
		Order("id desc").
		Limit(clampLimit(limit)).
		Find(&alerts).Error
	return alerts, err
}

func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}
