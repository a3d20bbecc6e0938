package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"library-lending/internal/model"
	"library-lending/internal/repository"
)

const loanColumns = `id, book_id, borrower_id, loan_date, return_date, returned`

type LoanStore struct {
	s *Store
}

var (
	_ repository.LoanStore = (*LoanStore)(nil)
	_ repository.TxRunner  = (*LoanStore)(nil)
)

func scanLoan(row scanner) (model.Loan, error) {
	var (
		l          model.Loan
		loanDate   string
		returnDate sql.NullString
		returned   int
	)
	if err := row.Scan(&l.ID, &l.BookID, &l.BorrowerID, &loanDate, &returnDate, &returned); err != nil {
		return model.Loan{}, err
	}
	l.Returned = returned == 1

	var err error
	if l.LoanDate, err = parseTime(loanDate); err != nil {
		return model.Loan{}, fmt.Errorf("parse loan_date: %w", err)
	}
	if l.ReturnDate, err = parseNullableTime(returnDate); err != nil {
		return model.Loan{}, fmt.Errorf("parse return_date: %w", err)
	}
	return l, nil
}

func (r *LoanStore) FindByID(ctx context.Context, id int64) (model.Loan, error) {
	l, err := scanLoan(r.s.db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id))
	if isNoRows(err) {
		return model.Loan{}, model.ErrLoanNotFound
	}
	if err != nil {
		return model.Loan{}, storageErr("find loan", err)
	}
	return l, nil
}

func (r *LoanStore) List(ctx context.Context, filter model.LoanFilter) ([]model.Loan, error) {
	where := make([]string, 0, 3)
	args := make([]any, 0, 3)

	if filter.BookID > 0 {
		where = append(where, "book_id = ?")
		args = append(args, filter.BookID)
	}
	if filter.BorrowerID > 0 {
		where = append(where, "borrower_id = ?")
		args = append(args, filter.BorrowerID)
	}
	if filter.Returned != nil {
		where = append(where, "returned = ?")
		args = append(args, boolToInt(*filter.Returned))
	}

	query := `SELECT ` + loanColumns + ` FROM loans`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY loan_date DESC, id DESC"

	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list loans", err)
	}
	defer rows.Close()

	loans := make([]model.Loan, 0)
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, storageErr("scan loan", err)
		}
		loans = append(loans, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list loans", err)
	}
	return loans, nil
}

func (r *LoanStore) CountByBook(ctx context.Context, bookID int64) (int, error) {
	var count int
	if err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM loans WHERE book_id = ?`, bookID).Scan(&count); err != nil {
		return 0, storageErr("count loans by book", err)
	}
	return count, nil
}

func (r *LoanStore) CountByBorrower(ctx context.Context, borrowerID int64) (int, error) {
	var count int
	if err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM loans WHERE borrower_id = ?`, borrowerID).Scan(&count); err != nil {
		return 0, storageErr("count loans by borrower", err)
	}
	return count, nil
}

// WithinTx runs fn in one transaction. Lending units are serialized in-process
// because SQLite only admits one writer.
func (r *LoanStore) WithinTx(ctx context.Context, fn func(tx repository.LendingTx) error) error {
	r.s.txMu.Lock()
	defer r.s.txMu.Unlock()

	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin lending tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqliteLendingTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit lending tx", err)
	}
	return nil
}

type sqliteLendingTx struct {
	tx *sql.Tx
}

// LockBook touches the row first so the transaction takes the write lock
// before it reads, the SQLite stand-in for SELECT ... FOR UPDATE.
func (t *sqliteLendingTx) LockBook(ctx context.Context, bookID int64) (model.Book, error) {
	res, err := t.tx.ExecContext(ctx, `UPDATE books SET updated_at = updated_at WHERE id = ?`, bookID)
	if err != nil {
		return model.Book{}, storageErr("lock book", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Book{}, model.ErrBookNotFound
	}
	return findBookByID(ctx, t.tx, bookID)
}

func (t *sqliteLendingTx) FindBorrower(ctx context.Context, userID int64) (model.User, error) {
	u, err := findUserByID(ctx, t.tx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.User{}, model.ErrBorrowerNotFound
	}
	return u, err
}

func (t *sqliteLendingTx) ActiveLoanForBook(ctx context.Context, bookID int64) (model.Loan, bool, error) {
	l, err := scanLoan(t.tx.QueryRowContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE book_id = ? AND returned = 0`, bookID))
	if isNoRows(err) {
		return model.Loan{}, false, nil
	}
	if err != nil {
		return model.Loan{}, false, storageErr("find active loan", err)
	}
	return l, true, nil
}

func (t *sqliteLendingTx) LockLoan(ctx context.Context, loanID int64) (model.Loan, error) {
	res, err := t.tx.ExecContext(ctx, `UPDATE loans SET returned = returned WHERE id = ?`, loanID)
	if err != nil {
		return model.Loan{}, storageErr("lock loan", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Loan{}, model.ErrLoanNotFound
	}

	l, err := scanLoan(t.tx.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, loanID))
	if err != nil {
		return model.Loan{}, storageErr("lock loan", err)
	}
	return l, nil
}

func (t *sqliteLendingTx) InsertLoan(ctx context.Context, loan model.Loan) (model.Loan, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO loans (book_id, borrower_id, loan_date, return_date, returned)
		 VALUES (?, ?, ?, NULL, 0)`,
		loan.BookID, loan.BorrowerID, formatTime(loan.LoanDate))
	if isUniqueViolation(err, "loans.book_id") {
		return model.Loan{}, model.ErrBookUnavailable
	}
	if err != nil {
		return model.Loan{}, storageErr("insert loan", err)
	}
	if loan.ID, err = res.LastInsertId(); err != nil {
		return model.Loan{}, storageErr("insert loan", err)
	}
	loan.Returned = false
	loan.ReturnDate = nil
	return loan, nil
}

func (t *sqliteLendingTx) MarkReturned(ctx context.Context, loanID int64, returnedAt time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE loans SET returned = 1, return_date = ? WHERE id = ? AND returned = 0`,
		formatTime(returnedAt), loanID)
	if err != nil {
		return storageErr("mark loan returned", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrAlreadyReturned
	}
	return nil
}

func (t *sqliteLendingTx) SetBookAvailable(ctx context.Context, bookID int64, available bool) error {
	return setBookAvailable(ctx, t.tx, bookID, available)
}
