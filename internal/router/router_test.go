package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"library-lending/internal/config"
	"library-lending/internal/event"
	"library-lending/internal/handler"
	"library-lending/internal/middleware"
	"library-lending/internal/model"
	"library-lending/internal/repository/memory"
	"library-lending/internal/service"
)

const adminEmail = "root@example.com"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *model.APIError `json:"error"`
	Meta    *model.Meta     `json:"meta"`
}

type testServer struct {
	t       *testing.T
	handler http.Handler
	audit   *service.AuditService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memory.NewStore()
	bus := event.NewBus()

	tokens, err := service.NewTokenService(service.DefaultRSAKeyBits, 30*time.Minute, service.DefaultTokenIssuer)
	require.NoError(t, err)

	authService := service.NewAuthService(store.Users(), tokens, bus, bcrypt.MinCost)
	userService := service.NewUserService(store.Users(), store.Loans(), bus)
	bookService := service.NewBookService(store.Books(), store.Loans(), bus)
	lendingService := service.NewLendingService(store.Loans(), store.Users(), store.Loans(), bus)
	auditService := service.NewAuditService(store.Audit(), bus)
	auditService.Start(context.Background())
	t.Cleanup(auditService.Stop)

	_, _, err = authService.EnsureAdmin(context.Background(), "Root", adminEmail, "admin-password")
	require.NoError(t, err)

	cfg := &config.Config{
		RequestTimeout:   5 * time.Second,
		CORSOrigins:      []string{"*"},
		AuthRateLimitRPM: 10000,
	}

	h := New(cfg, middleware.NewAuthMiddleware(tokens), Handlers{
		Auth:   handler.NewAuthHandler(authService),
		Book:   handler.NewBookHandler(bookService),
		User:   handler.NewUserHandler(userService, authService, lendingService),
		Loan:   handler.NewLoanHandler(lendingService),
		Audit:  handler.NewAuditHandler(auditService),
		Health: handler.NewHealthHandler(store, config.DriverMemory),
	})

	return &testServer{t: t, handler: h, audit: auditService}
}

func (s *testServer) do(method string, path string, token string, body any) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()

	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else if raw, ok := body.(string); ok {
		reader = bytes.NewReader([]byte(raw))
	} else {
		encoded, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func (s *testServer) login(email string, password string) string {
	s.t.Helper()

	rec, env := s.do(http.MethodPost, "/api/v1/auth/login", "", model.LoginRequest{Email: email, Password: password})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())

	var token model.TokenResponse
	require.NoError(s.t, json.Unmarshal(env.Data, &token))
	assert.Equal(s.t, "Bearer", token.TokenType)
	assert.EqualValues(s.t, 1800, token.ExpiresIn)
	return token.AccessToken
}

// registerApproved registers a borrower, approves it as admin and returns its id and token.
func (s *testServer) registerApproved(adminToken string, name string, email string) (int64, string) {
	s.t.Helper()

	rec, env := s.do(http.MethodPost, "/api/v1/auth/register", "", model.RegisterRequest{Name: name, Email: email, Password: "password-" + name})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var user model.User
	require.NoError(s.t, json.Unmarshal(env.Data, &user))

	rec, _ = s.do(http.MethodPost, fmt.Sprintf("/api/v1/users/%d/approve", user.ID), adminToken, nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())

	return user.ID, s.login(email, "password-"+name)
}

func (s *testServer) createBook(adminToken string, title string) model.Book {
	s.t.Helper()

	rec, env := s.do(http.MethodPost, "/api/v1/books", adminToken, model.CreateBookRequest{Title: title, Author: "Anon"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var book model.Book
	require.NoError(s.t, json.Unmarshal(env.Data, &book))
	return book
}

func TestRegistrationRequiresApproval(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(http.MethodPost, "/api/v1/auth/register", "", model.RegisterRequest{Name: "Alice", Email: "Alice@Example.com", Password: "alice-password"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var user model.User
	require.NoError(t, json.Unmarshal(env.Data, &user))
	assert.Equal(t, "alice@example.com", user.Email)
	assert.False(t, user.Approved)
	assert.NotContains(t, rec.Body.String(), "password")

	rec, env = s.do(http.MethodPost, "/api/v1/auth/login", "", model.LoginRequest{Email: "alice@example.com", Password: "alice-password"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_APPROVED", env.Error.Code)

	rec, env = s.do(http.MethodPost, "/api/v1/auth/register", "", model.RegisterRequest{Name: "Alice", Email: "alice@example.com", Password: "other-password"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "EMAIL_TAKEN", env.Error.Code)

	rec, env = s.do(http.MethodPost, "/api/v1/auth/login", "", model.LoginRequest{Email: "nobody@example.com", Password: "whatever"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)

	rec, env = s.do(http.MethodPost, "/api/v1/auth/register", "", `{"name":"x","email":"not-an-email","password":"short"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	rec, env = s.do(http.MethodPost, "/api/v1/auth/register", "", model.RegisterRequest{Name: "Eve", Email: "eve@example.com", Password: strings.Repeat("é", 40)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", env.Error.Code)

	adminToken := s.login(adminEmail, "admin-password")
	rec, _ = s.do(http.MethodPost, fmt.Sprintf("/api/v1/users/%d/approve", user.ID), adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	token := s.login("alice@example.com", "alice-password")
	rec, env = s.do(http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me model.User
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, user.ID, me.ID)

	rec, _ = s.do(http.MethodGet, "/api/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCatalogAccess(t *testing.T) {
	s := newTestServer(t)
	adminToken := s.login(adminEmail, "admin-password")
	_, aliceToken := s.registerApproved(adminToken, "alice", "alice@example.com")

	book := s.createBook(adminToken, "Dune")
	assert.True(t, book.Available)

	rec, env := s.do(http.MethodGet, "/api/v1/books", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "authentication required", env.Error.Message)

	rec, env = s.do(http.MethodGet, "/api/v1/books", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing or invalid authorization header", env.Error.Message)

	rec, env = s.do(http.MethodGet, "/api/v1/books?available=true", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list model.BookList
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list.Books, 1)

	rec, env = s.do(http.MethodPost, "/api/v1/books", aliceToken, model.CreateBookRequest{Title: "Emma", Author: "Austen"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	path := fmt.Sprintf("/api/v1/books/%d", book.ID)
	rec, _ = s.do(http.MethodPut, path, adminToken, `{"available":false}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(http.MethodPut, path, adminToken, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = s.do(http.MethodPut, path, adminToken, `{"title":"Dune Messiah"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated model.Book
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, "Dune Messiah", updated.Title)
	assert.Equal(t, "Anon", updated.Author)

	rec, env = s.do(http.MethodGet, "/api/v1/books/999", aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "BOOK_NOT_FOUND", env.Error.Code)

	rec, _ = s.do(http.MethodGet, "/api/v1/books/abc", aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(http.MethodGet, "/api/v1/users", aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLendingLifecycle(t *testing.T) {
	s := newTestServer(t)
	adminToken := s.login(adminEmail, "admin-password")
	aliceID, aliceToken := s.registerApproved(adminToken, "alice", "alice@example.com")
	bobID, bobToken := s.registerApproved(adminToken, "bob", "bob@example.com")
	book := s.createBook(adminToken, "Dune")

	rec, _ := s.do(http.MethodPost, "/api/v1/loans", aliceToken, model.OpenLoanRequest{BookID: book.ID, BorrowerID: aliceID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env := s.do(http.MethodPost, "/api/v1/loans", adminToken, model.OpenLoanRequest{BookID: book.ID, BorrowerID: aliceID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var loan model.Loan
	require.NoError(t, json.Unmarshal(env.Data, &loan))
	assert.False(t, loan.Returned)

	rec, env = s.do(http.MethodPost, "/api/v1/loans", adminToken, model.OpenLoanRequest{BookID: book.ID, BorrowerID: bobID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "BOOK_UNAVAILABLE", env.Error.Code)

	rec, env = s.do(http.MethodPost, "/api/v1/loans", adminToken, model.OpenLoanRequest{BookID: 999, BorrowerID: bobID})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "BOOK_NOT_FOUND", env.Error.Code)

	rec, env = s.do(http.MethodGet, fmt.Sprintf("/api/v1/books/%d", book.ID), aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var lent model.Book
	require.NoError(t, json.Unmarshal(env.Data, &lent))
	assert.False(t, lent.Available)

	loanPath := fmt.Sprintf("/api/v1/loans/%d", loan.ID)
	rec, _ = s.do(http.MethodGet, loanPath, aliceToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = s.do(http.MethodGet, loanPath, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = s.do(http.MethodGet, loanPath, adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(http.MethodGet, "/api/v1/loans/999", aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, env = s.do(http.MethodGet, "/api/v1/loans/999", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "LOAN_NOT_FOUND", env.Error.Code)

	byBorrower := fmt.Sprintf("/api/v1/loans/by-borrower?id=%d", aliceID)
	rec, env = s.do(http.MethodGet, byBorrower, aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list model.LoanList
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list.Loans, 1)
	rec, _ = s.do(http.MethodGet, byBorrower, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = s.do(http.MethodGet, "/api/v1/loans/by-borrower-email?email=Alice@Example.com", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list.Loans, 1)
	rec, _ = s.do(http.MethodGet, "/api/v1/loans/by-borrower-email?email=alice@example.com", bobToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = s.do(http.MethodGet, "/api/v1/loans/by-borrower-email", bobToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = s.do(http.MethodGet, "/api/v1/loans/by-borrower-email", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, env = s.do(http.MethodGet, "/api/v1/loans/by-borrower-email?email=ghost@example.com", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "USER_NOT_FOUND", env.Error.Code)
	rec, env = s.do(http.MethodGet, "/api/v1/loans/by-borrower-email?email=bob@example.com", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Empty(t, list.Loans)

	rec, _ = s.do(http.MethodGet, fmt.Sprintf("/api/v1/loans/by-book?id=%d", book.ID), aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = s.do(http.MethodGet, fmt.Sprintf("/api/v1/loans/by-book?id=%d", book.ID), adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(http.MethodGet, "/api/v1/loans", aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = s.do(http.MethodGet, "/api/v1/loans?status=lost", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = s.do(http.MethodGet, "/api/v1/loans/active", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list.Loans, 1)

	rec, _ = s.do(http.MethodPost, loanPath+"/return", aliceToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = s.do(http.MethodPost, loanPath+"/return", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var closed model.Loan
	require.NoError(t, json.Unmarshal(env.Data, &closed))
	assert.True(t, closed.Returned)
	require.NotNil(t, closed.ReturnDate)

	rec, env = s.do(http.MethodPost, loanPath+"/return", adminToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_RETURNED", env.Error.Code)

	rec, env = s.do(http.MethodGet, "/api/v1/loans?status=returned", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list.Loans, 1)

	rec, env = s.do(http.MethodDelete, fmt.Sprintf("/api/v1/users/%d", aliceID), adminToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "User is referenced by loans", env.Error.Message)

	rec, env = s.do(http.MethodGet, fmt.Sprintf("/api/v1/users/%d/loans", aliceID), adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list.Loans, 1)
}

func TestUserAdministration(t *testing.T) {
	s := newTestServer(t)
	adminToken := s.login(adminEmail, "admin-password")
	aliceID, aliceToken := s.registerApproved(adminToken, "alice", "alice@example.com")

	carol := model.CreateUserRequest{Name: "Carol", Email: "carol@example.com", Password: "carol-password", Approved: true}
	rec, _ := s.do(http.MethodPost, "/api/v1/users", aliceToken, carol)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env := s.do(http.MethodPost, "/api/v1/users", adminToken, carol)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created model.User
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, model.RoleUser, created.Role)
	assert.True(t, created.Approved)
	assert.NotContains(t, rec.Body.String(), "carol-password")
	s.login("carol@example.com", "carol-password")

	rec, env = s.do(http.MethodPost, "/api/v1/users", adminToken, carol)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "EMAIL_TAKEN", env.Error.Code)

	rec, _ = s.do(http.MethodPost, "/api/v1/users", adminToken, model.CreateUserRequest{Name: "Dan", Email: "dan@example.com", Password: "dan-password", Role: "librarian"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = s.do(http.MethodGet, "/api/v1/users?role=admin", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var users model.UserList
	require.NoError(t, json.Unmarshal(env.Data, &users))
	require.Len(t, users.Users, 1)
	assert.Equal(t, adminEmail, users.Users[0].Email)

	rec, _ = s.do(http.MethodGet, "/api/v1/users?approved=maybe", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	userPath := fmt.Sprintf("/api/v1/users/%d", aliceID)
	rec, _ = s.do(http.MethodPut, userPath+"/role", adminToken, model.ChangeRoleRequest{Role: "librarian"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = s.do(http.MethodPut, userPath+"/role", adminToken, model.ChangeRoleRequest{Role: "ADMIN"})
	require.Equal(t, http.StatusOK, rec.Code)
	var promoted model.User
	require.NoError(t, json.Unmarshal(env.Data, &promoted))
	assert.Equal(t, model.RoleAdmin, promoted.Role)

	rec, _ = s.do(http.MethodPut, userPath, adminToken, model.UpdateUserRequest{Name: "Alice Liddell"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(http.MethodDelete, userPath, adminToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, env = s.do(http.MethodGet, userPath, adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "USER_NOT_FOUND", env.Error.Code)
}

func TestAuditTrail(t *testing.T) {
	s := newTestServer(t)
	adminToken := s.login(adminEmail, "admin-password")
	s.createBook(adminToken, "Dune")

	require.Eventually(t, func() bool {
		rec, env := s.do(http.MethodGet, "/api/v1/audit?action=book.created", adminToken, nil)
		return rec.Code == http.StatusOK && env.Meta != nil && env.Meta.Total == 1
	}, time.Second, 10*time.Millisecond)

	rec, env := s.do(http.MethodGet, "/api/v1/audit?actor="+adminEmail, adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var data model.AuditListData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.Items)
	assert.Equal(t, adminEmail, data.Items[0].Actor)

	rec, _ = s.do(http.MethodGet, "/api/v1/audit?from=yesterday", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublicKeyAndHealth(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(http.MethodGet, "/api/v1/auth/public-key", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-pem-file", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "BEGIN PUBLIC KEY")

	rec, _ = s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
