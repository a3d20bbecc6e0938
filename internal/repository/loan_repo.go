package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"library-lending/internal/model"
)

const loanColumns = `id, book_id, borrower_id, loan_date, return_date, returned`

type LoanRepository struct {
	pool *pgxpool.Pool
}

func NewLoanRepository(pool *pgxpool.Pool) *LoanRepository {
	return &LoanRepository{pool: pool}
}

func scanLoan(row pgx.Row) (model.Loan, error) {
	var l model.Loan
	err := row.Scan(&l.ID, &l.BookID, &l.BorrowerID, &l.LoanDate, &l.ReturnDate, &l.Returned)
	return l, err
}

func (r *LoanRepository) FindByID(ctx context.Context, id int64) (model.Loan, error) {
	l, err := scanLoan(r.pool.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Loan{}, model.ErrLoanNotFound
	}
	if err != nil {
		return model.Loan{}, storageErr("find loan", err)
	}
	return l, nil
}

func (r *LoanRepository) List(ctx context.Context, filter model.LoanFilter) ([]model.Loan, error) {
	where := make([]string, 0, 3)
	args := make([]any, 0, 3)

	if filter.BookID > 0 {
		args = append(args, filter.BookID)
		where = append(where, fmt.Sprintf("book_id = $%d", len(args)))
	}
	if filter.BorrowerID > 0 {
		args = append(args, filter.BorrowerID)
		where = append(where, fmt.Sprintf("borrower_id = $%d", len(args)))
	}
	if filter.Returned != nil {
		args = append(args, *filter.Returned)
		where = append(where, fmt.Sprintf("returned = $%d", len(args)))
	}

	query := `SELECT ` + loanColumns + ` FROM loans`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY loan_date DESC, id DESC"

	rows, err := r.pool.Query(ctx, query, args...)
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

func (r *LoanRepository) CountByBook(ctx context.Context, bookID int64) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM loans WHERE book_id = $1`, bookID).Scan(&count); err != nil {
		return 0, storageErr("count loans by book", err)
	}
	return count, nil
}

func (r *LoanRepository) CountByBorrower(ctx context.Context, borrowerID int64) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM loans WHERE borrower_id = $1`, borrowerID).Scan(&count); err != nil {
		return 0, storageErr("count loans by borrower", err)
	}
	return count, nil
}

// WithinTx runs fn inside one READ COMMITTED transaction. Row locks taken through
// the LendingTx are held until commit or rollback.
func (r *LoanRepository) WithinTx(ctx context.Context, fn func(tx LendingTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return storageErr("begin lending tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgLendingTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit lending tx", err)
	}
	return nil
}

type pgLendingTx struct {
	tx pgx.Tx
}

func (t *pgLendingTx) LockBook(ctx context.Context, bookID int64) (model.Book, error) {
	b, err := scanBook(t.tx.QueryRow(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = $1 FOR UPDATE`, bookID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Book{}, model.ErrBookNotFound
	}
	if err != nil {
		return model.Book{}, storageErr("lock book", err)
	}
	return b, nil
}

func (t *pgLendingTx) FindBorrower(ctx context.Context, userID int64) (model.User, error) {
	u, err := findUserByID(ctx, t.tx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.User{}, model.ErrBorrowerNotFound
	}
	return u, err
}

func (t *pgLendingTx) ActiveLoanForBook(ctx context.Context, bookID int64) (model.Loan, bool, error) {
	l, err := scanLoan(t.tx.QueryRow(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE book_id = $1 AND returned = false`, bookID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Loan{}, false, nil
	}
	if err != nil {
		return model.Loan{}, false, storageErr("find active loan", err)
	}
	return l, true, nil
}

func (t *pgLendingTx) LockLoan(ctx context.Context, loanID int64) (model.Loan, error) {
	l, err := scanLoan(t.tx.QueryRow(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, loanID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Loan{}, model.ErrLoanNotFound
	}
	if err != nil {
		return model.Loan{}, storageErr("lock loan", err)
	}
	return l, nil
}

func (t *pgLendingTx) InsertLoan(ctx context.Context, loan model.Loan) (model.Loan, error) {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO loans (book_id, borrower_id, loan_date, return_date, returned)
		 VALUES ($1, $2, $3, NULL, false)
		 RETURNING id`,
		loan.BookID, loan.BorrowerID, loan.LoanDate).Scan(&loan.ID)
	if isUniqueViolation(err, constraintOneActiveLoan) {
		return model.Loan{}, model.ErrBookUnavailable
	}
	if err != nil {
		return model.Loan{}, storageErr("insert loan", err)
	}
	loan.Returned = false
	loan.ReturnDate = nil
	return loan, nil
}

func (t *pgLendingTx) MarkReturned(ctx context.Context, loanID int64, returnedAt time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE loans SET returned = true, return_date = $2 WHERE id = $1 AND returned = false`,
		loanID, returnedAt)
	if err != nil {
		return storageErr("mark loan returned", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrAlreadyReturned
	}
	return nil
}

func (t *pgLendingTx) SetBookAvailable(ctx context.Context, bookID int64, available bool) error {
	return setBookAvailable(ctx, t.tx, bookID, available)
}
