package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"library-lending/internal/event"
	"library-lending/internal/model"
	"library-lending/internal/repository"
)

// LendingService owns the book availability and loan lifecycle state machine.
//
// Every openLoan/closeLoan on a book runs under that book's in-process lock and
// inside one store transaction that also holds the book's row lock. The
// in-process lock keeps same-book callers off the database; the row lock and the
// one-open-loan index keep the invariant when several processes share a store.
type LendingService struct {
	loans repository.LoanStore
	users repository.UserStore
	tx    repository.TxRunner
	bus   event.Bus
	locks *bookLocks
	now   func() time.Time
}

func NewLendingService(loans repository.LoanStore, users repository.UserStore, tx repository.TxRunner, bus event.Bus) *LendingService {
	return &LendingService{
		loans: loans,
		users: users,
		tx:    tx,
		bus:   bus,
		locks: newBookLocks(),
		now:   time.Now,
	}
}

func (s *LendingService) OpenLoan(ctx context.Context, bookID int64, borrowerID int64) (model.Loan, error) {
	release := s.locks.lock(bookID)
	defer release()

	var opened model.Loan
	err := s.tx.WithinTx(ctx, func(tx repository.LendingTx) error {
		book, err := tx.LockBook(ctx, bookID)
		if err != nil {
			return err
		}
		if _, err := tx.FindBorrower(ctx, borrowerID); err != nil {
			return err
		}

		_, active, err := tx.ActiveLoanForBook(ctx, bookID)
		if err != nil {
			return err
		}
		if active || !book.Available {
			return model.ErrBookUnavailable
		}

		opened, err = tx.InsertLoan(ctx, model.Loan{
			BookID:     bookID,
			BorrowerID: borrowerID,
			LoanDate:   s.now().UTC(),
		})
		if err != nil {
			return err
		}
		return tx.SetBookAvailable(ctx, bookID, false)
	})
	if err != nil {
		s.logFailure("open loan", err, "book_id", bookID, "borrower_id", borrowerID)
		return model.Loan{}, err
	}

	slog.Info("loan opened", "loan_id", opened.ID, "book_id", bookID, "borrower_id", borrowerID)
	event.Emit(ctx, s.bus, event.TypeLoanOpened, "loan", opened)
	return opened, nil
}

// CloseLoan rejects a second close with ErrAlreadyReturned.
func (s *LendingService) CloseLoan(ctx context.Context, loanID int64) (model.Loan, error) {
	// The book id never changes for a loan, so reading it before locking is safe.
	current, err := s.loans.FindByID(ctx, loanID)
	if err != nil {
		return model.Loan{}, err
	}

	release := s.locks.lock(current.BookID)
	defer release()

	var closed model.Loan
	err = s.tx.WithinTx(ctx, func(tx repository.LendingTx) error {
		loan, err := tx.LockLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.Returned {
			return model.ErrAlreadyReturned
		}
		if _, err := tx.LockBook(ctx, loan.BookID); err != nil {
			return err
		}

		returnedAt := s.now().UTC()
		if err := tx.MarkReturned(ctx, loanID, returnedAt); err != nil {
			return err
		}
		if err := tx.SetBookAvailable(ctx, loan.BookID, true); err != nil {
			return err
		}

		loan.Returned = true
		loan.ReturnDate = &returnedAt
		closed = loan
		return nil
	})
	if err != nil {
		s.logFailure("close loan", err, "loan_id", loanID)
		return model.Loan{}, err
	}

	slog.Info("loan closed", "loan_id", closed.ID, "book_id", closed.BookID)
	event.Emit(ctx, s.bus, event.TypeLoanClosed, "loan", closed)
	return closed, nil
}

func (s *LendingService) Get(ctx context.Context, loanID int64) (model.Loan, error) {
	return s.loans.FindByID(ctx, loanID)
}

func (s *LendingService) FindAll(ctx context.Context) ([]model.Loan, error) {
	return s.loans.List(ctx, model.LoanFilter{})
}

func (s *LendingService) FindActive(ctx context.Context) ([]model.Loan, error) {
	return s.loans.List(ctx, model.LoanFilter{Returned: model.BoolPtr(false)})
}

func (s *LendingService) FindReturned(ctx context.Context) ([]model.Loan, error) {
	return s.loans.List(ctx, model.LoanFilter{Returned: model.BoolPtr(true)})
}

func (s *LendingService) FindByBook(ctx context.Context, bookID int64) ([]model.Loan, error) {
	return s.loans.List(ctx, model.LoanFilter{BookID: bookID})
}

func (s *LendingService) FindByBorrower(ctx context.Context, borrowerID int64) ([]model.Loan, error) {
	return s.loans.List(ctx, model.LoanFilter{BorrowerID: borrowerID})
}

// FindByBorrowerEmail lists the loans of the borrower registered under email.
func (s *LendingService) FindByBorrowerEmail(ctx context.Context, email string) ([]model.Loan, error) {
	user, err := s.users.FindByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	return s.FindByBorrower(ctx, user.ID)
}

// LoanOwner returns the email of the loan's borrower, the subject the policy
// compares against for ownership reads.
func (s *LendingService) LoanOwner(ctx context.Context, loanID int64) (string, error) {
	loan, err := s.loans.FindByID(ctx, loanID)
	if err != nil {
		return "", err
	}
	return s.BorrowerEmail(ctx, loan.BorrowerID)
}

func (s *LendingService) BorrowerEmail(ctx context.Context, userID int64) (string, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.Email, nil
}

func (s *LendingService) logFailure(op string, err error, attrs ...any) {
	if errors.Is(err, model.ErrStorageUnavailable) {
		slog.Error(fmt.Sprintf("%s failed", op), append(attrs, "error", err)...)
		return
	}
	slog.Debug(fmt.Sprintf("%s rejected", op), append(attrs, "error", err)...)
}
