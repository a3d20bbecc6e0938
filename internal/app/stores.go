package app

import (
	"context"
	"fmt"
	"log/slog"

	"library-lending/internal/config"
	"library-lending/internal/database"
	"library-lending/internal/repository"
	"library-lending/internal/repository/memory"
	"library-lending/internal/repository/sqlite"
)

// Stores bundles one driver's implementation of every repository contract.
type Stores struct {
	Users  repository.UserStore
	Books  repository.BookStore
	Loans  repository.LoanStore
	Audit  repository.AuditStore
	Tx     repository.TxRunner
	Pinger repository.Pinger

	close func()
}

func (s *Stores) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStores connects the configured driver and makes sure its schema exists.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		slog.Info("connecting to PostgreSQL")
		db, err := database.New(ctx, database.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}

		loans := repository.NewLoanRepository(db.Pool)
		slog.Info("database ready", "driver", cfg.StoreDriver)
		return &Stores{
			Users:  repository.NewUserRepository(db.Pool),
			Books:  repository.NewBookRepository(db.Pool),
			Loans:  loans,
			Audit:  repository.NewAuditRepository(db.Pool),
			Tx:     loans,
			Pinger: db,
			close:  db.Close,
		}, nil

	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}

		slog.Info("database ready", "driver", cfg.StoreDriver, "path", cfg.SQLitePath)
		return &Stores{
			Users:  store.Users(),
			Books:  store.Books(),
			Loans:  store.Loans(),
			Audit:  store.Audit(),
			Tx:     store.Loans(),
			Pinger: store,
			close: func() {
				if err := store.Close(); err != nil {
					slog.Warn("sqlite close failed", "error", err)
				}
			},
		}, nil

	case config.DriverMemory:
		store := memory.NewStore()
		slog.Warn("using in-memory store: data is lost on exit")
		return &Stores{
			Users:  store.Users(),
			Books:  store.Books(),
			Loans:  store.Loans(),
			Audit:  store.Audit(),
			Tx:     store.Loans(),
			Pinger: store,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
