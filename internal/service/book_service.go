package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"library-lending/internal/event"
	"library-lending/internal/model"
	"library-lending/internal/repository"
)

// BookService is catalog CRUD. Availability is never written here; only the
// lending engine flips it.
type BookService struct {
	books repository.BookStore
	loans repository.LoanStore
	bus   event.Bus
	now   func() time.Time
}

func NewBookService(books repository.BookStore, loans repository.LoanStore, bus event.Bus) *BookService {
	return &BookService{books: books, loans: loans, bus: bus, now: time.Now}
}

func (s *BookService) List(ctx context.Context, filter model.BookFilter) ([]model.Book, error) {
	return s.books.List(ctx, filter)
}

func (s *BookService) Get(ctx context.Context, id int64) (model.Book, error) {
	return s.books.FindByID(ctx, id)
}

func (s *BookService) Create(ctx context.Context, req model.CreateBookRequest) (model.Book, error) {
	title := strings.TrimSpace(req.Title)
	author := strings.TrimSpace(req.Author)
	if title == "" || author == "" {
		return model.Book{}, fmt.Errorf("%w: title and author are required", model.ErrInvalidInput)
	}

	now := s.now().UTC()
	book, err := s.books.Create(ctx, model.Book{
		Title:     title,
		Author:    author,
		ISBN:      strings.TrimSpace(req.ISBN),
		Available: true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return model.Book{}, err
	}

	event.Emit(ctx, s.bus, event.TypeBookCreated, "book", book)
	return book, nil
}

// Update applies only the fields present in req.
func (s *BookService) Update(ctx context.Context, id int64, req model.UpdateBookRequest) (model.Book, error) {
	if req.Empty() {
		return model.Book{}, fmt.Errorf("%w: no fields to update", model.ErrInvalidInput)
	}

	book, err := s.books.FindByID(ctx, id)
	if err != nil {
		return model.Book{}, err
	}

	if req.Title != nil {
		if book.Title = strings.TrimSpace(*req.Title); book.Title == "" {
			return model.Book{}, fmt.Errorf("%w: title cannot be empty", model.ErrInvalidInput)
		}
	}
	if req.Author != nil {
		if book.Author = strings.TrimSpace(*req.Author); book.Author == "" {
			return model.Book{}, fmt.Errorf("%w: author cannot be empty", model.ErrInvalidInput)
		}
	}
	if req.ISBN != nil {
		book.ISBN = strings.TrimSpace(*req.ISBN)
	}
	book.UpdatedAt = s.now().UTC()

	if err := s.books.Update(ctx, book); err != nil {
		return model.Book{}, err
	}

	// Availability belongs to the lending engine and may have moved since the
	// first read.
	updated, err := s.books.FindByID(ctx, id)
	if err != nil {
		return model.Book{}, err
	}

	event.Emit(ctx, s.bus, event.TypeBookUpdated, "book", updated)
	return updated, nil
}

// Delete refuses books with any loan history so loans never dangle.
func (s *BookService) Delete(ctx context.Context, id int64) error {
	if _, err := s.books.FindByID(ctx, id); err != nil {
		return err
	}

	count, err := s.loans.CountByBook(ctx, id)
	if err != nil {
		return fmt.Errorf("count book loans: %w", err)
	}
	if count > 0 {
		return model.ErrBookHasLoans
	}

	if err := s.books.Delete(ctx, id); err != nil {
		return err
	}

	event.Emit(ctx, s.bus, event.TypeBookDeleted, "book", map[string]any{"book_id": id})
	return nil
}
