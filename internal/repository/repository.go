// Package repository defines the persistence contracts of the lending backend and
// their PostgreSQL implementation. The memory and sqlite subpackages provide the
// other drivers.
//
// Adapters are dumb: they never decide availability or loan state. They map
// missing rows to the model sentinels and wrap every driver failure with
// model.ErrStorageUnavailable.
package repository

import (
	"context"
	"time"

	"library-lending/internal/model"
)

type UserStore interface {
	FindByID(ctx context.Context, id int64) (model.User, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	// Create returns model.ErrEmailTaken on a duplicate email.
	Create(ctx context.Context, u model.User) (model.User, error)
	Update(ctx context.Context, u model.User) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, filter model.UserFilter) ([]model.User, error)
}

type BookStore interface {
	FindByID(ctx context.Context, id int64) (model.Book, error)
	List(ctx context.Context, filter model.BookFilter) ([]model.Book, error)
	Create(ctx context.Context, b model.Book) (model.Book, error)
	// Update writes title, author and isbn only.
	Update(ctx context.Context, b model.Book) error
	Delete(ctx context.Context, id int64) error
}

type LoanStore interface {
	FindByID(ctx context.Context, id int64) (model.Loan, error)
	List(ctx context.Context, filter model.LoanFilter) ([]model.Loan, error)
	CountByBook(ctx context.Context, bookID int64) (int, error)
	CountByBorrower(ctx context.Context, borrowerID int64) (int, error)
}

type AuditStore interface {
	Log(ctx context.Context, entry model.AuditEntry) error
	Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error)
}

// LendingTx is the unit of work of the lending critical section. Every write
// issued through it commits or rolls back together.
type LendingTx interface {
	// LockBook reads the book and holds a row lock on it until the unit ends.
	LockBook(ctx context.Context, bookID int64) (model.Book, error)
	// FindBorrower returns model.ErrBorrowerNotFound when the identity is absent.
	FindBorrower(ctx context.Context, userID int64) (model.User, error)
	ActiveLoanForBook(ctx context.Context, bookID int64) (model.Loan, bool, error)
	LockLoan(ctx context.Context, loanID int64) (model.Loan, error)
	// InsertLoan returns model.ErrBookUnavailable if the store already holds an open loan on the book.
	InsertLoan(ctx context.Context, loan model.Loan) (model.Loan, error)
	MarkReturned(ctx context.Context, loanID int64, returnedAt time.Time) error
	SetBookAvailable(ctx context.Context, bookID int64, available bool) error
}

type TxRunner interface {
	WithinTx(ctx context.Context, fn func(tx LendingTx) error) error
}

// Pinger reports store health for the /health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}
