//go:build integration

// Package integration runs the HTTP API against a real PostgreSQL database.
// Set TEST_DATABASE_URL to a disposable database; every test truncates it.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"library-lending/internal/config"
	"library-lending/internal/database"
	"library-lending/internal/event"
	"library-lending/internal/handler"
	"library-lending/internal/middleware"
	"library-lending/internal/model"
	"library-lending/internal/repository"
	"library-lending/internal/router"
	"library-lending/internal/service"
)

const (
	adminEmail    = "root@example.com"
	adminPassword = "admin-password"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *model.APIError `json:"error"`
}

type testEnv struct {
	server *httptest.Server
	db     *database.DB
}

func openDB(t *testing.T) *database.DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.New(ctx, database.PoolConfig{URL: url, MaxConns: 20})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.EnsureSchema(ctx))
	_, err = db.Pool.Exec(ctx, `TRUNCATE audit_entries, loans, books, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return db
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()

	db := openDB(t)
	ctx := context.Background()

	users := repository.NewUserRepository(db.Pool)
	books := repository.NewBookRepository(db.Pool)
	loans := repository.NewLoanRepository(db.Pool)

	tokens, err := service.NewTokenService(service.DefaultRSAKeyBits, 30*time.Minute, service.DefaultTokenIssuer)
	require.NoError(t, err)

	bus := event.NewBus()
	auditService := service.NewAuditService(repository.NewAuditRepository(db.Pool), bus)
	auditService.Start(ctx)
	t.Cleanup(auditService.Stop)

	authService := service.NewAuthService(users, tokens, bus, bcrypt.MinCost)
	lendingService := service.NewLendingService(loans, users, loans, bus)
	_, _, err = authService.EnsureAdmin(ctx, "Root", adminEmail, adminPassword)
	require.NoError(t, err)

	if cfg == nil {
		cfg = &config.Config{RateLimitRPM: 0, AuthRateLimitRPM: 1000}
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.CORSOrigins == nil {
		cfg.CORSOrigins = []string{"*"}
	}

	server := httptest.NewServer(router.New(cfg, middleware.NewAuthMiddleware(tokens), router.Handlers{
		Auth:   handler.NewAuthHandler(authService),
		Book:   handler.NewBookHandler(service.NewBookService(books, loans, bus)),
		User:   handler.NewUserHandler(service.NewUserService(users, loans, bus), authService, lendingService),
		Loan:   handler.NewLoanHandler(lendingService),
		Audit:  handler.NewAuditHandler(auditService),
		Health: handler.NewHealthHandler(db, config.DriverPostgres),
	}))
	t.Cleanup(server.Close)

	return &testEnv{server: server, db: db}
}

func (e *testEnv) do(t *testing.T, method string, path string, token string, body any) (int, envelope) {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req, err := http.NewRequest(method, e.server.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, env
}

func (e *testEnv) login(t *testing.T, email string, password string) string {
	t.Helper()

	status, env := e.do(t, http.MethodPost, "/api/v1/auth/login", "", model.LoginRequest{Email: email, Password: password})
	require.Equal(t, http.StatusOK, status)

	var token model.TokenResponse
	require.NoError(t, json.Unmarshal(env.Data, &token))
	require.NotEmpty(t, token.AccessToken)
	return token.AccessToken
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}
