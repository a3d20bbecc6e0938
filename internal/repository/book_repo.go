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

const bookColumns = `id, title, author, isbn, available, created_at, updated_at`

type BookRepository struct {
	pool *pgxpool.Pool
}

func NewBookRepository(pool *pgxpool.Pool) *BookRepository {
	return &BookRepository{pool: pool}
}

func scanBook(row pgx.Row) (model.Book, error) {
	var b model.Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Available, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (r *BookRepository) FindByID(ctx context.Context, id int64) (model.Book, error) {
	b, err := scanBook(r.pool.QueryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Book{}, model.ErrBookNotFound
	}
	if err != nil {
		return model.Book{}, storageErr("find book", err)
	}
	return b, nil
}

func (r *BookRepository) List(ctx context.Context, filter model.BookFilter) ([]model.Book, error) {
	where := make([]string, 0, 3)
	args := make([]any, 0, 3)

	if title := strings.TrimSpace(filter.Title); title != "" {
		args = append(args, title)
		where = append(where, fmt.Sprintf("lower(title) = lower($%d)", len(args)))
	}
	if author := strings.TrimSpace(filter.Author); author != "" {
		args = append(args, author)
		where = append(where, fmt.Sprintf("lower(author) = lower($%d)", len(args)))
	}
	if filter.Available != nil {
		args = append(args, *filter.Available)
		where = append(where, fmt.Sprintf("available = $%d", len(args)))
	}

	query := `SELECT ` + bookColumns + ` FROM books`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list books", err)
	}
	defer rows.Close()

	books := make([]model.Book, 0)
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, storageErr("scan book", err)
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list books", err)
	}
	return books, nil
}

func (r *BookRepository) Create(ctx context.Context, b model.Book) (model.Book, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO books (title, author, isbn, available, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		b.Title, b.Author, b.ISBN, b.Available, b.CreatedAt, b.UpdatedAt).Scan(&b.ID)
	if err != nil {
		return model.Book{}, storageErr("create book", err)
	}
	return b, nil
}

func (r *BookRepository) Update(ctx context.Context, b model.Book) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE books SET title = $2, author = $3, isbn = $4, updated_at = $5 WHERE id = $1`,
		b.ID, b.Title, b.Author, b.ISBN, b.UpdatedAt)
	if err != nil {
		return storageErr("update book", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrBookNotFound
	}
	return nil
}

func (r *BookRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM books WHERE id = $1`, id)
	if isForeignKeyViolation(err) {
		return model.ErrBookHasLoans
	}
	if err != nil {
		return storageErr("delete book", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrBookNotFound
	}
	return nil
}

func setBookAvailable(ctx context.Context, q querier, bookID int64, available bool) error {
	tag, err := q.Exec(ctx,
		`UPDATE books SET available = $2, updated_at = $3 WHERE id = $1`,
		bookID, available, time.Now().UTC())
	if err != nil {
		return storageErr("set book availability", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrBookNotFound
	}
	return nil
}
