package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"library-lending/internal/config"
	"library-lending/internal/event"
	"library-lending/internal/handler"
	"library-lending/internal/middleware"
	"library-lending/internal/router"
	"library-lending/internal/service"
)

type App struct {
	server       *http.Server
	cleanupFuncs []func()
}

func New(cfg *config.Config) (*App, error) {
	ctx := context.Background()

	stores, err := OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tokens, err := service.NewTokenService(cfg.RSAKeyBits, cfg.TokenTTL, cfg.TokenIssuer)
	if err != nil {
		stores.Close()
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}
	slog.Info("signing key generated", "bits", cfg.RSAKeyBits, "ttl", cfg.TokenTTL)

	bus := event.NewBus()
	auditService := service.NewAuditService(stores.Audit, bus)
	auditService.Start(ctx)

	authService := service.NewAuthService(stores.Users, tokens, bus, cfg.BcryptCost)
	userService := service.NewUserService(stores.Users, stores.Loans, bus)
	bookService := service.NewBookService(stores.Books, stores.Loans, bus)
	lendingService := service.NewLendingService(stores.Loans, stores.Users, stores.Tx, bus)

	if cfg.BootstrapAdminEnabled() {
		if _, _, err := authService.EnsureAdmin(ctx, cfg.BootstrapAdminName, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword); err != nil {
			auditService.Stop()
			stores.Close()
			return nil, fmt.Errorf("failed to seed bootstrap admin: %w", err)
		}
	}

	appRouter := router.New(cfg, middleware.NewAuthMiddleware(tokens), router.Handlers{
		Auth:   handler.NewAuthHandler(authService),
		Book:   handler.NewBookHandler(bookService),
		User:   handler.NewUserHandler(userService, authService, lendingService),
		Loan:   handler.NewLoanHandler(lendingService),
		Audit:  handler.NewAuditHandler(auditService),
		Health: handler.NewHealthHandler(stores.Pinger, cfg.StoreDriver),
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return &App{
		server: server,
		cleanupFuncs: []func(){
			auditService.Stop,
			stores.Close,
		},
	}, nil
}

func (a *App) Run() error {
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-serveErr:
		a.cleanup()
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		slog.Info("shutdown requested", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownErr := a.server.Shutdown(ctx)
	a.cleanup()
	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("server stopped")
	return nil
}

// cleanup runs after the server stopped accepting requests, so in-flight
// lending units finish before the store closes.
func (a *App) cleanup() {
	for _, fn := range a.cleanupFuncs {
		fn()
	}
}
