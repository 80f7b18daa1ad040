package infra

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/wallet_ledger/internal/config"
	"github.com/congo-pay/wallet_ledger/internal/events"
	"github.com/congo-pay/wallet_ledger/internal/ledger"
)

// Backends holds the ledger store selected by configuration and whatever
// needs closing on shutdown.
type Backends struct {
	Store     ledger.Store
	DB        *pgxpool.Pool
	Publisher events.Publisher
	closers   []func() error
}

// Close releases every backend in reverse order of opening.
func (b *Backends) Close(logger *slog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Warn("close backend", "error", err)
		}
	}
	b.closers = nil
}

// OpenBackends opens the configured ledger store, applying the Postgres schema
// when needed, and picks the event publisher.
func OpenBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backends, error) {
	b := &Backends{}

	switch cfg.StoreBackend {
	case config.StorePostgres:
		db, err := NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() error { db.Close(); return nil })
		store := ledger.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			b.Close(logger)
			return nil, fmt.Errorf("migrate ledger schema: %w", err)
		}
		b.DB = db
		b.Store = store
	case config.StoreBadger:
		store, err := ledger.OpenBadger(cfg.BadgerDir)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, store.Close)
		b.Store = store
	case config.StoreMemory:
		logger.Warn("using in-memory ledger store; balances are lost on restart")
		b.Store = ledger.NewInMemory()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	if len(cfg.KafkaBrokers) > 0 {
		pub := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		b.closers = append(b.closers, pub.Close)
		b.Publisher = pub
	} else {
		b.Publisher = events.NewLoggerPublisher(logger)
	}

	return b, nil
}
