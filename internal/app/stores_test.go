package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-lending/internal/config"
	"library-lending/internal/model"
	"library-lending/internal/repository"
)

func TestOpenStores_Drivers(t *testing.T) {
	drivers := []*config.Config{
		{StoreDriver: config.DriverMemory},
		{StoreDriver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "nested", "lending.db")},
	}

	for _, cfg := range drivers {
		t.Run(cfg.StoreDriver, func(t *testing.T) {
			ctx := context.Background()
			stores, err := OpenStores(ctx, cfg)
			require.NoError(t, err)
			defer stores.Close()

			require.NoError(t, stores.Pinger.Ping(ctx))

			book, err := stores.Books.Create(ctx, model.Book{Title: "Dune", Author: "Herbert", Available: true})
			require.NoError(t, err)
			user, err := stores.Users.Create(ctx, model.User{Name: "Alice", Email: "alice@example.com", Role: model.RoleUser})
			require.NoError(t, err)

			require.NoError(t, stores.Tx.WithinTx(ctx, func(tx repository.LendingTx) error {
				if _, err := tx.LockBook(ctx, book.ID); err != nil {
					return err
				}
				_, err := tx.InsertLoan(ctx, model.Loan{BookID: book.ID, BorrowerID: user.ID})
				return err
			}))

			n, err := stores.Loans.CountByBook(ctx, book.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestOpenStores_UnknownDriver(t *testing.T) {
	_, err := OpenStores(context.Background(), &config.Config{StoreDriver: "mongo"})
	assert.ErrorContains(t, err, "unknown store driver")
}
