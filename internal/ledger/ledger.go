// Package ledger remembers which file resources were already delivered.
//
// Membership is keyed by fingerprint and held in memory; every Add is
// persisted before it returns so the stored state never lags a confirmed
// delivery by more than the entry being written.
package ledger

import (
	"context"
	"fmt"

	"web_relay/internal/config"
	"web_relay/internal/logger"
	"web_relay/internal/models"
)

type Ledger interface {
	Contains(fingerprint string) bool
	Add(ctx context.Context, record models.DeliveryRecord) error
	Len() int
	Close(ctx context.Context) error
}

// Open builds the ledger backend selected in the configuration.
func Open(ctx context.Context, cfg config.LedgerConfig, log logger.Interface) (Ledger, error) {
	switch cfg.Backend {
	case "", "json":
		return OpenJSONStore(cfg.Path, log)
	case "mongo":
		return NewMongoStore(ctx, cfg.Mongo)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}
