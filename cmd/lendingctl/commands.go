package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-lending/internal/app"
	"library-lending/internal/config"
	"library-lending/internal/event"
	"library-lending/internal/logger"
	"library-lending/internal/service"
)

const cliActor = "lendingctl"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "lendingctl",
		Short:        "Administrative tasks for the library lending backend",
		SilenceUsage: true,
	}

	root.AddCommand(newMigrateCmd(), newCreateAdminCmd(), newApproveCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema of the configured store if it is missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStores(cmd, func(ctx context.Context, stores *app.Stores, _ *event.InMemoryBus, cfg *config.Config) error {
				if err := stores.Pinger.Ping(ctx); err != nil {
					return fmt.Errorf("store not reachable: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", cfg.StoreDriver)
				return nil
			})
		},
	}
}

func newCreateAdminCmd() *cobra.Command {
	var (
		name  string
		email string
	)

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an approved ADMIN account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(email) == "" {
				return errors.New("--email is required")
			}

			password, err := readPassword(cmd)
			if err != nil {
				return err
			}

			return withStores(cmd, func(ctx context.Context, stores *app.Stores, bus *event.InMemoryBus, cfg *config.Config) error {
				auth := service.NewAuthService(stores.Users, nil, bus, cfg.BcryptCost)
				user, created, err := auth.EnsureAdmin(ctx, name, email, password)
				if err != nil {
					return err
				}
				if !created {
					fmt.Fprintf(cmd.OutOrStdout(), "account %s already exists (role %s)\n", user.Email, user.Role)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (id %d)\n", user.Email, user.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "Administrator", "display name of the account")
	cmd.Flags().StringVar(&email, "email", "", "login email of the account")
	return cmd
}

func newApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <email>",
		Short: "Approve a pending registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, func(ctx context.Context, stores *app.Stores, bus *event.InMemoryBus, _ *config.Config) error {
				users := service.NewUserService(stores.Users, stores.Loans, bus)
				user, err := users.ApproveByEmail(ctx, args[0])
				if err != nil {
					return fmt.Errorf("approve %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "approved %s (id %d)\n", user.Email, user.ID)
				return nil
			})
		},
	}
}

// withStores loads configuration, opens the configured store and records the
// command's state changes in the audit trail before closing it.
func withStores(cmd *cobra.Command, fn func(ctx context.Context, stores *app.Stores, bus *event.InMemoryBus, cfg *config.Config) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(logger.New(cmd.ErrOrStderr(), cfg.LogFormat, level))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = event.WithActor(ctx, cliActor)

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	bus := event.NewBus()
	audit := service.NewAuditService(stores.Audit, bus)
	audit.Start(ctx)
	defer audit.Stop()

	return fn(ctx, stores, bus, cfg)
}

// readPassword prompts twice on a terminal and reads a single line otherwise.
func readPassword(cmd *cobra.Command) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		first, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}

		fmt.Fprint(cmd.ErrOrStderr(), "Confirm password: ")
		second, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}

		if string(first) != string(second) {
			return "", errors.New("passwords do not match")
		}
		return validatePassword(string(first))
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return validatePassword(strings.TrimRight(line, "\r\n"))
}

func validatePassword(password string) (string, error) {
	if len(password) < 8 {
		return "", errors.New("password must be at least 8 characters")
	}
	if len(password) > 72 {
		return "", errors.New("password must be at most 72 bytes")
	}
	return password, nil
}
