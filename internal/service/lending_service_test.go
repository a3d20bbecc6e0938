package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"library-lending/internal/event"
	"library-lending/internal/model"
	"library-lending/internal/repository"
	"library-lending/internal/repository/memory"
)

type lendingFixture struct {
	store   *memory.Store
	lending *LendingService
	books   *BookService
	bus     *event.InMemoryBus
}

func newLendingFixture(t *testing.T) *lendingFixture {
	t.Helper()
	store := memory.NewStore()
	bus := event.NewBus()
	return &lendingFixture{
		store:   store,
		lending: NewLendingService(store.Loans(), store.Users(), store.Loans(), bus),
		books:   NewBookService(store.Books(), store.Loans(), bus),
		bus:     bus,
	}
}

func (f *lendingFixture) addBook(t *testing.T, title string) model.Book {
	t.Helper()
	book, err := f.books.Create(context.Background(), model.CreateBookRequest{Title: title, Author: "Anon"})
	require.NoError(t, err)
	return book
}

func (f *lendingFixture) addBorrower(t *testing.T, email string) model.User {
	t.Helper()
	user, err := f.store.Users().Create(context.Background(), model.User{Name: email, Email: email, Role: model.RoleUser})
	require.NoError(t, err)
	return user
}

// assertAvailabilityMatchesLoans checks available == false iff an open loan exists, for every book.
func (f *lendingFixture) assertAvailabilityMatchesLoans(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	books, err := f.store.Books().List(ctx, model.BookFilter{})
	require.NoError(t, err)
	for _, book := range books {
		open, err := f.store.Loans().List(ctx, model.LoanFilter{BookID: book.ID, Returned: model.BoolPtr(false)})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(open), 1, "book %d has more than one open loan", book.ID)
		assert.Equal(t, len(open) == 0, book.Available, "book %d availability disagrees with loans", book.ID)
	}
}

func TestLendingService_OpenLoan(t *testing.T) {
	f := newLendingFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Dune")
	alice := f.addBorrower(t, "alice@example.com")

	loan, err := f.lending.OpenLoan(ctx, book.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, book.ID, loan.BookID)
	assert.Equal(t, alice.ID, loan.BorrowerID)
	assert.False(t, loan.Returned)
	assert.Nil(t, loan.ReturnDate)
	assert.False(t, loan.LoanDate.IsZero())

	got, err := f.store.Books().FindByID(ctx, book.ID)
	require.NoError(t, err)
	assert.False(t, got.Available)
	f.assertAvailabilityMatchesLoans(t)
}

func TestLendingService_OpenLoanErrors(t *testing.T) {
	f := newLendingFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Dune")
	alice := f.addBorrower(t, "alice@example.com")

	_, err := f.lending.OpenLoan(ctx, 999, alice.ID)
	assert.ErrorIs(t, err, model.ErrBookNotFound)

	_, err = f.lending.OpenLoan(ctx, book.ID, 999)
	assert.ErrorIs(t, err, model.ErrBorrowerNotFound)

	_, err = f.lending.OpenLoan(ctx, book.ID, alice.ID)
	require.NoError(t, err)

	_, err = f.lending.OpenLoan(ctx, book.ID, alice.ID)
	assert.ErrorIs(t, err, model.ErrBookUnavailable)
	f.assertAvailabilityMatchesLoans(t)
}

func TestLendingService_ReopenAfterReturn(t *testing.T) {
	f := newLendingFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Dune")
	borrower := f.addBorrower(t, "seven@example.com")
	other := f.addBorrower(t, "eight@example.com")

	first, err := f.lending.OpenLoan(ctx, book.ID, other.ID)
	require.NoError(t, err)

	_, err = f.lending.OpenLoan(ctx, book.ID, borrower.ID)
	assert.ErrorIs(t, err, model.ErrBookUnavailable)

	_, err = f.lending.CloseLoan(ctx, first.ID)
	require.NoError(t, err)

	second, err := f.lending.OpenLoan(ctx, book.ID, borrower.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	f.assertAvailabilityMatchesLoans(t)
}

func TestLendingService_CloseLoan(t *testing.T) {
	f := newLendingFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Dune")
	alice := f.addBorrower(t, "alice@example.com")

	loan, err := f.lending.OpenLoan(ctx, book.ID, alice.ID)
	require.NoError(t, err)

	closed, err := f.lending.CloseLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, closed.Returned)
	require.NotNil(t, closed.ReturnDate)

	got, err := f.store.Books().FindByID(ctx, book.ID)
	require.NoError(t, err)
	assert.True(t, got.Available)

	_, err = f.lending.CloseLoan(ctx, loan.ID)
	assert.ErrorIs(t, err, model.ErrAlreadyReturned)

	_, err = f.lending.CloseLoan(ctx, 999)
	assert.ErrorIs(t, err, model.ErrLoanNotFound)
	f.assertAvailabilityMatchesLoans(t)
}

func TestLendingService_ConcurrentOpenSameBook(t *testing.T) {
	f := newLendingFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Dune")

	const callers = 16
	borrowers := make([]model.User, callers)
	for i := range borrowers {
		borrowers[i] = f.addBorrower(t, fmt.Sprintf("b%d@example.com", i))
	}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		successes   int
		unavailable int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(borrowerID int64) {
			defer wg.Done()
			<-start
			_, err := f.lending.OpenLoan(ctx, book.ID, borrowerID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, model.ErrBookUnavailable):
				unavailable++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(borrowers[i].ID)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, unavailable)
	f.assertAvailabilityMatchesLoans(t)
	assert.Zero(t, f.lending.locks.size())
}

func TestLendingService_ConcurrentCloseSameLoan(t *testing.T) {
	f := newLendingFixture(t)
	ctx := context.Background()
	book := f.addBook(t, "Dune")
	alice := f.addBorrower(t, "alice@example.com")

	loan, err := f.lending.OpenLoan(ctx, book.ID, alice.ID)
	require.NoError(t, err)

	const callers = 8
	results := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.lending.CloseLoan(ctx, loan.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, model.ErrAlreadyReturned)
	}
	assert.Equal(t, 1, ok)
	f.assertAvailabilityMatchesLoans(t)
}

func TestLendingService_MixedConcurrentTraffic(t *testing.T) {
	f := newLendingFixture(t)
	ctx := context.Background()

	books := []model.Book{f.addBook(t, "A"), f.addBook(t, "B"), f.addBook(t, "C")}
	borrower := f.addBorrower(t, "alice@example.com")

	var wg sync.WaitGroup
	for round := 0; round < 20; round++ {
		for _, book := range books {
			wg.Add(1)
			go func(bookID int64) {
				defer wg.Done()
				loan, err := f.lending.OpenLoan(ctx, bookID, borrower.ID)
				if err != nil {
					return
				}
				_, _ = f.lending.CloseLoan(ctx, loan.ID)
			}(book.ID)
		}
	}
	wg.Wait()

	f.assertAvailabilityMatchesLoans(t)
}

func TestLendingService_Queries(t *testing.T) {
	f := newLendingFixture(t)
	ctx := context.Background()
	dune := f.addBook(t, "Dune")
	emma := f.addBook(t, "Emma")
	alice := f.addBorrower(t, "alice@example.com")
	bob := f.addBorrower(t, "bob@example.com")

	first, err := f.lending.OpenLoan(ctx, dune.ID, alice.ID)
	require.NoError(t, err)
	_, err = f.lending.CloseLoan(ctx, first.ID)
	require.NoError(t, err)
	_, err = f.lending.OpenLoan(ctx, dune.ID, bob.ID)
	require.NoError(t, err)
	_, err = f.lending.OpenLoan(ctx, emma.ID, alice.ID)
	require.NoError(t, err)

	active, err := f.lending.FindActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	returned, err := f.lending.FindReturned(ctx)
	require.NoError(t, err)
	require.Len(t, returned, 1)
	assert.Equal(t, first.ID, returned[0].ID)

	byBook, err := f.lending.FindByBook(ctx, dune.ID)
	require.NoError(t, err)
	assert.Len(t, byBook, 2)

	byAlice, err := f.lending.FindByBorrower(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, byAlice, 2)

	byEmail, err := f.lending.FindByBorrowerEmail(ctx, " BOB@example.com")
	require.NoError(t, err)
	assert.Len(t, byEmail, 1)

	_, err = f.lending.FindByBorrowerEmail(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, model.ErrUserNotFound)

	all, err := f.lending.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	owner, err := f.lending.LoanOwner(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", owner)
}

func TestLendingService_EmitsEvents(t *testing.T) {
	f := newLendingFixture(t)
	events, unsubscribe := f.bus.Subscribe()
	defer unsubscribe()

	ctx := event.WithActor(context.Background(), "admin@example.com")
	book := f.addBook(t, "Dune")
	<-events // book.created

	alice := f.addBorrower(t, "alice@example.com")
	loan, err := f.lending.OpenLoan(ctx, book.ID, alice.ID)
	require.NoError(t, err)

	opened := <-events
	assert.Equal(t, event.TypeLoanOpened, opened.Type)
	assert.Equal(t, "admin@example.com", opened.Actor)
	assert.Equal(t, loan, opened.Payload)

	_, err = f.lending.CloseLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, event.TypeLoanClosed, (<-events).Type)
}

func TestLendingService_StorageUnavailablePropagates(t *testing.T) {
	ctx := context.Background()
	outage := fmt.Errorf("begin lending tx: %w: %w", model.ErrStorageUnavailable, errors.New("connection refused"))

	loans := &repository.MockLoanStore{}
	users := &repository.MockUserStore{}
	tx := &repository.MockTxRunner{}
	tx.On("WithinTx", mock.Anything).Return(outage)
	loans.On("FindByID", mock.Anything, int64(5)).Return(model.Loan{ID: 5, BookID: 42, BorrowerID: 7}, nil)

	svc := NewLendingService(loans, users, tx, nil)

	_, err := svc.OpenLoan(ctx, 42, 7)
	assert.ErrorIs(t, err, model.ErrStorageUnavailable)

	_, err = svc.CloseLoan(ctx, 5)
	assert.ErrorIs(t, err, model.ErrStorageUnavailable)

	tx.AssertNumberOfCalls(t, "WithinTx", 2)
	loans.AssertExpectations(t)
}

func TestBookLocks_ReleasesEntries(t *testing.T) {
	locks := newBookLocks()

	release := locks.lock(1)
	assert.Equal(t, 1, locks.size())

	acquired := make(chan struct{})
	go func() {
		r := locks.lock(1)
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held lock")
	default:
	}

	other := locks.lock(2)
	assert.Equal(t, 2, locks.size())
	other()

	release()
	<-acquired
	assert.Eventually(t, func() bool { return locks.size() == 0 }, time.Second, 5*time.Millisecond)
}
