// internal/storage/storage.go
package storage

import (
	"context"

	"github.com/rovshanmuradov/solsniperx/internal/storage/models"
)

// Journal is the append-only trade and alert history.
type Journal interface {
	SaveTrade(ctx context.Context, trade *models.Trade) error
	SaveAlert(ctx context.Context, alert *models.Alert) error
	// ListTrades returns the newest trades first.
	ListTrades(ctx context.Context, limit int) ([]models.Trade, error)
	ListAlerts(ctx context.Context, limit int) ([]models.Alert, error)
	Close() error
}
