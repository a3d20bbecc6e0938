package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"library-lending/internal/event"
	"library-lending/internal/model"
	"library-lending/internal/repository"
)

// maxPasswordBytes is the bcrypt input limit. It counts bytes, not runes.
const maxPasswordBytes = 72

type AuthService struct {
	users      repository.UserStore
	tokens     *TokenService
	bus        event.Bus
	bcryptCost int
	now        func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

func NewAuthService(users repository.UserStore, tokens *TokenService, bus event.Bus, bcryptCost int) *AuthService {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AuthService{
		users:      users,
		tokens:     tokens,
		bus:        bus,
		bcryptCost: bcryptCost,
		now:        time.Now,
	}
}

// Login never tells a missing account apart from a wrong password. Approval is
// checked only after the password matched.
func (s *AuthService) Login(ctx context.Context, email string, password string) (model.TokenResponse, error) {
	user, err := s.users.FindByEmail(ctx, model.NormalizeEmail(email))
	if errors.Is(err, model.ErrUserNotFound) {
		s.burnCompare(password)
		return model.TokenResponse{}, model.ErrInvalidCredentials
	}
	if err != nil {
		return model.TokenResponse{}, fmt.Errorf("login: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return model.TokenResponse{}, model.ErrInvalidCredentials
	}
	if !user.Approved {
		return model.TokenResponse{}, model.ErrNotApproved
	}

	token, err := s.tokens.Issue(user.Email, []string{user.Role.Claim()})
	if err != nil {
		return model.TokenResponse{}, err
	}

	return model.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.tokens.TTL().Seconds()),
	}, nil
}

// Register stores a pending USER identity. It never issues a token.
func (s *AuthService) Register(ctx context.Context, name string, email string, password string) (model.User, error) {
	user, err := s.createUser(ctx, name, email, password, model.RoleUser, false)
	if err != nil {
		return model.User{}, err
	}

	slog.Info("user registered", "user_id", user.ID, "email", user.Email)
	event.Emit(ctx, s.bus, event.TypeUserRegistered, "user", user)
	return user, nil
}

// EnsureAdmin seeds an approved ADMIN identity. An existing account with the
// same email is returned unchanged.
func (s *AuthService) EnsureAdmin(ctx context.Context, name string, email string, password string) (model.User, bool, error) {
	existing, err := s.users.FindByEmail(ctx, model.NormalizeEmail(email))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, model.ErrUserNotFound) {
		return model.User{}, false, fmt.Errorf("ensure admin: %w", err)
	}

	user, err := s.createUser(ctx, name, email, password, model.RoleAdmin, true)
	if errors.Is(err, model.ErrEmailTaken) {
		existing, findErr := s.users.FindByEmail(ctx, model.NormalizeEmail(email))
		return existing, false, findErr
	}
	if err != nil {
		return model.User{}, false, err
	}

	slog.Info("admin account created", "user_id", user.ID, "email", user.Email)
	return user, true, nil
}

// CreateUser stores an account on behalf of an administrator, with the role
// and approval chosen up front.
func (s *AuthService) CreateUser(ctx context.Context, name string, email string, password string, role model.Role, approved bool) (model.User, error) {
	user, err := s.createUser(ctx, name, email, password, role, approved)
	if err != nil {
		return model.User{}, err
	}

	slog.Info("user created", "user_id", user.ID, "email", user.Email, "role", user.Role, "approved", user.Approved)
	event.Emit(ctx, s.bus, event.TypeUserCreated, "user", user)
	return user, nil
}

// Me resolves the stored account behind a verified identity.
func (s *AuthService) Me(ctx context.Context, identity model.Identity) (model.User, error) {
	user, err := s.users.FindByEmail(ctx, identity.Subject)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.User{}, model.ErrUnauthorized
	}
	return user, err
}

func (s *AuthService) PublicKeyPEM() ([]byte, error) {
	return s.tokens.PublicKeyPEM()
}

func (s *AuthService) createUser(ctx context.Context, name string, email string, password string, role model.Role, approved bool) (model.User, error) {
	name = strings.TrimSpace(name)
	email = model.NormalizeEmail(email)
	if name == "" || email == "" || password == "" {
		return model.User{}, fmt.Errorf("%w: name, email and password are required", model.ErrInvalidInput)
	}
	if len(password) > maxPasswordBytes {
		return model.User{}, fmt.Errorf("%w: password must be at most %d bytes", model.ErrInvalidInput, maxPasswordBytes)
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return model.User{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return model.User{}, model.ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	return s.users.Create(ctx, model.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		Approved:     approved,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// burnCompare spends one bcrypt comparison so unknown emails take as long as
// wrong passwords.
func (s *AuthService) burnCompare(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), s.bcryptCost)
	})
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
}
