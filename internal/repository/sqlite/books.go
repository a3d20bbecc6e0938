package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"library-lending/internal/model"
	"library-lending/internal/repository"
)

const bookColumns = `id, title, author, isbn, available, created_at, updated_at`

type BookStore struct {
	s *Store
}

var _ repository.BookStore = (*BookStore)(nil)

func scanBook(row scanner) (model.Book, error) {
	var (
		b         model.Book
		available int
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &available, &createdAt, &updatedAt); err != nil {
		return model.Book{}, err
	}
	b.Available = available == 1

	var err error
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Book{}, fmt.Errorf("parse created_at: %w", err)
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.Book{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return b, nil
}

func findBookByID(ctx context.Context, q queryer, id int64) (model.Book, error) {
	b, err := scanBook(q.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id))
	if isNoRows(err) {
		return model.Book{}, model.ErrBookNotFound
	}
	if err != nil {
		return model.Book{}, storageErr("find book", err)
	}
	return b, nil
}

func (r *BookStore) FindByID(ctx context.Context, id int64) (model.Book, error) {
	return findBookByID(ctx, r.s.db, id)
}

func (r *BookStore) List(ctx context.Context, filter model.BookFilter) ([]model.Book, error) {
	where := make([]string, 0, 3)
	args := make([]any, 0, 3)

	if title := strings.TrimSpace(filter.Title); title != "" {
		where = append(where, "lower(title) = lower(?)")
		args = append(args, title)
	}
	if author := strings.TrimSpace(filter.Author); author != "" {
		where = append(where, "lower(author) = lower(?)")
		args = append(args, author)
	}
	if filter.Available != nil {
		where = append(where, "available = ?")
		args = append(args, boolToInt(*filter.Available))
	}

	query := `SELECT ` + bookColumns + ` FROM books`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := r.s.db.QueryContext(ctx, query, args...)
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

func (r *BookStore) Create(ctx context.Context, b model.Book) (model.Book, error) {
	res, err := r.s.db.ExecContext(ctx,
		`INSERT INTO books (title, author, isbn, available, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		b.Title, b.Author, b.ISBN, boolToInt(b.Available), formatTime(b.CreatedAt), formatTime(b.UpdatedAt))
	if err != nil {
		return model.Book{}, storageErr("create book", err)
	}
	if b.ID, err = res.LastInsertId(); err != nil {
		return model.Book{}, storageErr("create book", err)
	}
	return b, nil
}

func (r *BookStore) Update(ctx context.Context, b model.Book) error {
	res, err := r.s.db.ExecContext(ctx,
		`UPDATE books SET title = ?, author = ?, isbn = ?, updated_at = ? WHERE id = ?`,
		b.Title, b.Author, b.ISBN, formatTime(b.UpdatedAt), b.ID)
	if err != nil {
		return storageErr("update book", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrBookNotFound
	}
	return nil
}

func (r *BookStore) Delete(ctx context.Context, id int64) error {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id)
	if isForeignKeyViolation(err) {
		return model.ErrBookHasLoans
	}
	if err != nil {
		return storageErr("delete book", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrBookNotFound
	}
	return nil
}

func setBookAvailable(ctx context.Context, q queryer, bookID int64, available bool) error {
	res, err := q.ExecContext(ctx,
		`UPDATE books SET available = ?, updated_at = ? WHERE id = ?`,
		boolToInt(available), formatTime(time.Now()), bookID)
	if err != nil {
		return storageErr("set book availability", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrBookNotFound
	}
	return nil
}
