package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"library-lending/internal/event"
	"library-lending/internal/model"
	"library-lending/internal/repository"
)

// UserService is the admin surface over borrower accounts.
type UserService struct {
	users repository.UserStore
	loans repository.LoanStore
	bus   event.Bus
	now   func() time.Time
}

func NewUserService(users repository.UserStore, loans repository.LoanStore, bus event.Bus) *UserService {
	return &UserService{users: users, loans: loans, bus: bus, now: time.Now}
}

func (s *UserService) List(ctx context.Context, filter model.UserFilter) ([]model.User, error) {
	return s.users.List(ctx, filter)
}

func (s *UserService) Get(ctx context.Context, id int64) (model.User, error) {
	return s.users.FindByID(ctx, id)
}

func (s *UserService) UpdateName(ctx context.Context, id int64, name string) (model.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.User{}, fmt.Errorf("%w: name is required", model.ErrInvalidInput)
	}

	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	user.Name = name
	user.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, user); err != nil {
		return model.User{}, err
	}

	event.Emit(ctx, s.bus, event.TypeUserUpdated, "user", user)
	return user, nil
}

// Approve is idempotent: approving an approved account is a no-op success.
func (s *UserService) Approve(ctx context.Context, id int64) (model.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	return s.approve(ctx, user)
}

func (s *UserService) ApproveByEmail(ctx context.Context, email string) (model.User, error) {
	user, err := s.users.FindByEmail(ctx, model.NormalizeEmail(email))
	if err != nil {
		return model.User{}, err
	}
	return s.approve(ctx, user)
}

func (s *UserService) approve(ctx context.Context, user model.User) (model.User, error) {
	if user.Approved {
		return user, nil
	}
	user.Approved = true
	user.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, user); err != nil {
		return model.User{}, err
	}

	slog.Info("user approved", "user_id", user.ID, "email", user.Email, "actor", event.ActorFrom(ctx))
	event.Emit(ctx, s.bus, event.TypeUserApproved, "user", user)
	return user, nil
}

func (s *UserService) ChangeRole(ctx context.Context, id int64, raw string) (model.User, error) {
	role, ok := model.ParseRole(raw)
	if !ok {
		return model.User{}, fmt.Errorf("%w: unknown role %q", model.ErrInvalidInput, raw)
	}

	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	if user.Role == role {
		return user, nil
	}

	previous := user.Role
	user.Role = role
	user.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, user); err != nil {
		return model.User{}, err
	}

	slog.Info("user role changed", "user_id", user.ID, "from", previous, "to", role, "actor", event.ActorFrom(ctx))
	event.Emit(ctx, s.bus, event.TypeUserRoleChanged, "user", map[string]any{
		"user_id": user.ID,
		"from":    previous,
		"to":      role,
	})
	return user, nil
}

// Delete refuses accounts that any loan, open or returned, still references.
func (s *UserService) Delete(ctx context.Context, id int64) error {
	if _, err := s.users.FindByID(ctx, id); err != nil {
		return err
	}

	count, err := s.loans.CountByBorrower(ctx, id)
	if err != nil {
		return fmt.Errorf("count borrower loans: %w", err)
	}
	if count > 0 {
		return model.ErrUserHasLoans
	}

	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}

	event.Emit(ctx, s.bus, event.TypeUserDeleted, "user", map[string]any{"user_id": id})
	return nil
}
