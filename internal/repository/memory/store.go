// Package memory is a process-local implementation of the repository contracts.
// It backs tests and the STORE_DRIVER=memory development mode.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"library-lending/internal/model"
	"library-lending/internal/repository"
)

type Store struct {
	mu sync.RWMutex

	users map[int64]model.User
	books map[int64]model.Book
	loans map[int64]model.Loan
	audit []model.AuditEntry

	nextUserID int64
	nextBookID int64
	nextLoanID int64
}

func NewStore() *Store {
	return &Store{
		users: make(map[int64]model.User),
		books: make(map[int64]model.Book),
		loans: make(map[int64]model.Loan),
	}
}

func (s *Store) Users() *UserStore { return &UserStore{s: s} }

func (s *Store) Books() *BookStore { return &BookStore{s: s} }

func (s *Store) Loans() *LoanStore { return &LoanStore{s: s} }

func (s *Store) Audit() *AuditStore { return &AuditStore{s: s} }

func (s *Store) Ping(context.Context) error { return nil }

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

type UserStore struct {
	s *Store
}

var _ repository.UserStore = (*UserStore)(nil)

func (u *UserStore) FindByID(_ context.Context, id int64) (model.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	user, ok := u.s.users[id]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return user, nil
}

func (u *UserStore) FindByEmail(_ context.Context, email string) (model.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	user, ok := u.s.userByEmailLocked(model.NormalizeEmail(email))
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return user, nil
}

func (u *UserStore) ExistsByEmail(_ context.Context, email string) (bool, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	_, ok := u.s.userByEmailLocked(model.NormalizeEmail(email))
	return ok, nil
}

func (u *UserStore) Create(_ context.Context, user model.User) (model.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	user.Email = model.NormalizeEmail(user.Email)
	if _, taken := u.s.userByEmailLocked(user.Email); taken {
		return model.User{}, model.ErrEmailTaken
	}
	u.s.nextUserID++
	user.ID = u.s.nextUserID
	u.s.users[user.ID] = user
	return user, nil
}

func (u *UserStore) Update(_ context.Context, user model.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	existing, ok := u.s.users[user.ID]
	if !ok {
		return model.ErrUserNotFound
	}
	existing.Name = user.Name
	existing.Role = user.Role
	existing.Approved = user.Approved
	existing.UpdatedAt = user.UpdatedAt
	u.s.users[user.ID] = existing
	return nil
}

func (u *UserStore) Delete(_ context.Context, id int64) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	if _, ok := u.s.users[id]; !ok {
		return model.ErrUserNotFound
	}
	for _, loan := range u.s.loans {
		if loan.BorrowerID == id {
			return model.ErrUserHasLoans
		}
	}
	delete(u.s.users, id)
	return nil
}

func (u *UserStore) List(_ context.Context, filter model.UserFilter) ([]model.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	name := strings.TrimSpace(filter.Name)
	email := model.NormalizeEmail(filter.Email)

	out := make([]model.User, 0, len(u.s.users))
	for _, user := range u.s.users {
		if name != "" && !strings.EqualFold(user.Name, name) {
			continue
		}
		if email != "" && user.Email != email {
			continue
		}
		if filter.Role != "" && user.Role != filter.Role {
			continue
		}
		if filter.Approved != nil && user.Approved != *filter.Approved {
			continue
		}
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) userByEmailLocked(email string) (model.User, bool) {
	for _, user := range s.users {
		if user.Email == email {
			return user, true
		}
	}
	return model.User{}, false
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

type BookStore struct {
	s *Store
}

var _ repository.BookStore = (*BookStore)(nil)

func (b *BookStore) FindByID(_ context.Context, id int64) (model.Book, error) {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()

	book, ok := b.s.books[id]
	if !ok {
		return model.Book{}, model.ErrBookNotFound
	}
	return book, nil
}

func (b *BookStore) List(_ context.Context, filter model.BookFilter) ([]model.Book, error) {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()

	title := strings.TrimSpace(filter.Title)
	author := strings.TrimSpace(filter.Author)

	out := make([]model.Book, 0, len(b.s.books))
	for _, book := range b.s.books {
		if title != "" && !strings.EqualFold(book.Title, title) {
			continue
		}
		if author != "" && !strings.EqualFold(book.Author, author) {
			continue
		}
		if filter.Available != nil && book.Available != *filter.Available {
			continue
		}
		out = append(out, book)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *BookStore) Create(_ context.Context, book model.Book) (model.Book, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	b.s.nextBookID++
	book.ID = b.s.nextBookID
	b.s.books[book.ID] = book
	return book, nil
}

func (b *BookStore) Update(_ context.Context, book model.Book) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	existing, ok := b.s.books[book.ID]
	if !ok {
		return model.ErrBookNotFound
	}
	existing.Title = book.Title
	existing.Author = book.Author
	existing.ISBN = book.ISBN
	existing.UpdatedAt = book.UpdatedAt
	b.s.books[book.ID] = existing
	return nil
}

func (b *BookStore) Delete(_ context.Context, id int64) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	if _, ok := b.s.books[id]; !ok {
		return model.ErrBookNotFound
	}
	for _, loan := range b.s.loans {
		if loan.BookID == id {
			return model.ErrBookHasLoans
		}
	}
	delete(b.s.books, id)
	return nil
}

// ---------------------------------------------------------------------------
// Loans
// ---------------------------------------------------------------------------

type LoanStore struct {
	s *Store
}

var (
	_ repository.LoanStore = (*LoanStore)(nil)
	_ repository.TxRunner  = (*LoanStore)(nil)
)

func (l *LoanStore) FindByID(_ context.Context, id int64) (model.Loan, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	loan, ok := l.s.loans[id]
	if !ok {
		return model.Loan{}, model.ErrLoanNotFound
	}
	return loan, nil
}

func (l *LoanStore) List(_ context.Context, filter model.LoanFilter) ([]model.Loan, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	out := make([]model.Loan, 0)
	for _, loan := range l.s.loans {
		if filter.BookID > 0 && loan.BookID != filter.BookID {
			continue
		}
		if filter.BorrowerID > 0 && loan.BorrowerID != filter.BorrowerID {
			continue
		}
		if filter.Returned != nil && loan.Returned != *filter.Returned {
			continue
		}
		out = append(out, loan)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LoanDate.Equal(out[j].LoanDate) {
			return out[i].ID > out[j].ID
		}
		return out[i].LoanDate.After(out[j].LoanDate)
	})
	return out, nil
}

func (l *LoanStore) CountByBook(_ context.Context, bookID int64) (int, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	count := 0
	for _, loan := range l.s.loans {
		if loan.BookID == bookID {
			count++
		}
	}
	return count, nil
}

func (l *LoanStore) CountByBorrower(_ context.Context, borrowerID int64) (int, error) {
	l.s.mu.RLock()
	defer l.s.mu.RUnlock()

	count := 0
	for _, loan := range l.s.loans {
		if loan.BorrowerID == borrowerID {
			count++
		}
	}
	return count, nil
}

// WithinTx holds the store's write lock for the whole unit and replays an undo
// log when fn fails, so a failed unit leaves no partial writes behind.
func (l *LoanStore) WithinTx(_ context.Context, fn func(tx repository.LendingTx) error) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	tx := &memTx{s: l.s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) LockBook(_ context.Context, bookID int64) (model.Book, error) {
	book, ok := t.s.books[bookID]
	if !ok {
		return model.Book{}, model.ErrBookNotFound
	}
	return book, nil
}

func (t *memTx) FindBorrower(_ context.Context, userID int64) (model.User, error) {
	user, ok := t.s.users[userID]
	if !ok {
		return model.User{}, model.ErrBorrowerNotFound
	}
	return user, nil
}

func (t *memTx) ActiveLoanForBook(_ context.Context, bookID int64) (model.Loan, bool, error) {
	for _, loan := range t.s.loans {
		if loan.BookID == bookID && !loan.Returned {
			return loan, true, nil
		}
	}
	return model.Loan{}, false, nil
}

func (t *memTx) LockLoan(_ context.Context, loanID int64) (model.Loan, error) {
	loan, ok := t.s.loans[loanID]
	if !ok {
		return model.Loan{}, model.ErrLoanNotFound
	}
	return loan, nil
}

func (t *memTx) InsertLoan(ctx context.Context, loan model.Loan) (model.Loan, error) {
	if _, active, _ := t.ActiveLoanForBook(ctx, loan.BookID); active {
		return model.Loan{}, model.ErrBookUnavailable
	}

	prevID := t.s.nextLoanID
	t.s.nextLoanID++
	loan.ID = t.s.nextLoanID
	loan.Returned = false
	loan.ReturnDate = nil
	t.s.loans[loan.ID] = loan

	id := loan.ID
	t.undo = append(t.undo, func() {
		delete(t.s.loans, id)
		t.s.nextLoanID = prevID
	})
	return loan, nil
}

func (t *memTx) MarkReturned(_ context.Context, loanID int64, returnedAt time.Time) error {
	loan, ok := t.s.loans[loanID]
	if !ok {
		return model.ErrLoanNotFound
	}
	if loan.Returned {
		return model.ErrAlreadyReturned
	}

	previous := loan
	at := returnedAt
	loan.Returned = true
	loan.ReturnDate = &at
	t.s.loans[loanID] = loan

	t.undo = append(t.undo, func() { t.s.loans[loanID] = previous })
	return nil
}

func (t *memTx) SetBookAvailable(_ context.Context, bookID int64, available bool) error {
	book, ok := t.s.books[bookID]
	if !ok {
		return model.ErrBookNotFound
	}

	previous := book
	book.Available = available
	book.UpdatedAt = time.Now().UTC()
	t.s.books[bookID] = book

	t.undo = append(t.undo, func() { t.s.books[bookID] = previous })
	return nil
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

type AuditStore struct {
	s *Store
}

var _ repository.AuditStore = (*AuditStore)(nil)

func (a *AuditStore) Log(_ context.Context, entry model.AuditEntry) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	a.s.audit = append(a.s.audit, entry)
	return nil
}

func (a *AuditStore) Query(_ context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	query = query.Normalize()

	a.s.mu.RLock()
	items := make([]model.AuditEntry, 0, len(a.s.audit))
	for _, entry := range a.s.audit {
		if query.Action != "" && !strings.EqualFold(entry.Action, strings.TrimSpace(query.Action)) {
			continue
		}
		if query.Actor != "" && !strings.EqualFold(entry.Actor, strings.TrimSpace(query.Actor)) {
			continue
		}
		if !query.From.IsZero() && entry.OccurredAt.Before(query.From) {
			continue
		}
		if !query.To.IsZero() && entry.OccurredAt.After(query.To) {
			continue
		}
		items = append(items, entry)
	}
	a.s.mu.RUnlock()

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].OccurredAt.After(items[j].OccurredAt)
	})

	total := len(items)
	start := min((query.Page-1)*query.Limit, total)
	end := min(start+query.Limit, total)

	return items[start:end], model.NewMeta(query.Page, query.Limit, total), nil
}
