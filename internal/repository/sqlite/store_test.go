package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-lending/internal/model"
	"library-lending/internal/repository"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *Store) (model.User, model.Book) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	u, err := s.Users().Create(ctx, model.User{
		Name: "Alice", Email: "Alice@Example.com", PasswordHash: "x",
		Role: model.RoleUser, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	b, err := s.Books().Create(ctx, model.Book{
		Title: "Dune", Author: "Herbert", Available: true, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	return u, b
}

func TestOpen(t *testing.T) {
	s := newTestStore(t)

	var journalMode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var fk int
	require.NoError(t, s.db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	require.NoError(t, s.Ping(context.Background()))
}

func TestUserStore_CreateAndFind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u, _ := seed(t, s)

	assert.Equal(t, "alice@example.com", u.Email)

	got, err := s.Users().FindByEmail(ctx, "ALICE@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, model.RoleUser, got.Role)
	assert.False(t, got.Approved)

	exists, err := s.Users().ExistsByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = s.Users().Create(ctx, model.User{Name: "Dup", Email: "alice@example.com", Role: model.RoleUser})
	assert.ErrorIs(t, err, model.ErrEmailTaken)

	got.Approved = true
	got.UpdatedAt = time.Now()
	require.NoError(t, s.Users().Update(ctx, got))

	approved, err := s.Users().List(ctx, model.UserFilter{Approved: model.BoolPtr(true)})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, u.ID, approved[0].ID)

	_, err = s.Users().FindByID(ctx, 999)
	assert.ErrorIs(t, err, model.ErrUserNotFound)
}

func TestLendingTx_OpenAndClose(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u, b := seed(t, s)

	var loan model.Loan
	err := s.Loans().WithinTx(ctx, func(tx repository.LendingTx) error {
		if _, err := tx.LockBook(ctx, b.ID); err != nil {
			return err
		}
		if _, err := tx.FindBorrower(ctx, u.ID); err != nil {
			return err
		}
		var err error
		loan, err = tx.InsertLoan(ctx, model.Loan{BookID: b.ID, BorrowerID: u.ID, LoanDate: time.Now()})
		if err != nil {
			return err
		}
		return tx.SetBookAvailable(ctx, b.ID, false)
	})
	require.NoError(t, err)

	book, err := s.Books().FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, book.Available)

	err = s.Loans().WithinTx(ctx, func(tx repository.LendingTx) error {
		_, err := tx.InsertLoan(ctx, model.Loan{BookID: b.ID, BorrowerID: u.ID, LoanDate: time.Now()})
		return err
	})
	assert.ErrorIs(t, err, model.ErrBookUnavailable)

	err = s.Loans().WithinTx(ctx, func(tx repository.LendingTx) error {
		if err := tx.MarkReturned(ctx, loan.ID, time.Now()); err != nil {
			return err
		}
		return tx.SetBookAvailable(ctx, b.ID, true)
	})
	require.NoError(t, err)

	got, err := s.Loans().FindByID(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, got.Returned)
	assert.NotNil(t, got.ReturnDate)

	err = s.Loans().WithinTx(ctx, func(tx repository.LendingTx) error {
		return tx.MarkReturned(ctx, loan.ID, time.Now())
	})
	assert.ErrorIs(t, err, model.ErrAlreadyReturned)
}

func TestLendingTx_MissingRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Loans().WithinTx(ctx, func(tx repository.LendingTx) error {
		_, err := tx.LockBook(ctx, 42)
		return err
	})
	assert.ErrorIs(t, err, model.ErrBookNotFound)

	err = s.Loans().WithinTx(ctx, func(tx repository.LendingTx) error {
		_, err := tx.FindBorrower(ctx, 42)
		return err
	})
	assert.ErrorIs(t, err, model.ErrBorrowerNotFound)

	err = s.Loans().WithinTx(ctx, func(tx repository.LendingTx) error {
		_, err := tx.LockLoan(ctx, 42)
		return err
	})
	assert.ErrorIs(t, err, model.ErrLoanNotFound)
}

func TestDeleteWithLoanHistoryRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u, b := seed(t, s)

	require.NoError(t, s.Loans().WithinTx(ctx, func(tx repository.LendingTx) error {
		_, err := tx.InsertLoan(ctx, model.Loan{BookID: b.ID, BorrowerID: u.ID, LoanDate: time.Now()})
		return err
	}))

	assert.ErrorIs(t, s.Books().Delete(ctx, b.ID), model.ErrBookHasLoans)
	assert.ErrorIs(t, s.Users().Delete(ctx, u.ID), model.ErrUserHasLoans)

	count, err := s.Loans().CountByBook(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAuditStore_LogAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, action := range []string{"loan.opened", "loan.closed", "loan.opened"} {
		require.NoError(t, s.Audit().Log(ctx, model.AuditEntry{
			ID:         string(rune('a' + i)),
			Action:     action,
			OccurredAt: base.Add(time.Duration(i) * time.Second),
			Actor:      "admin@example.com",
			Resource:   "loan",
			Details:    map[string]any{"loan_id": i},
		}))
	}

	items, meta, err := s.Audit().Query(ctx, model.AuditQuery{Action: "loan.opened"})
	require.NoError(t, err)
	assert.Equal(t, 2, meta.Total)
	require.Len(t, items, 2)
	assert.Equal(t, "c", items[0].ID)
	assert.Equal(t, map[string]any{"loan_id": float64(2)}, items[0].Details)
}
