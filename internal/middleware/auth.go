package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"library-lending/internal/event"
	"library-lending/internal/model"
	"library-lending/internal/policy"
)

type tokenVerifier interface {
	Verify(tokenString string) (model.Identity, error)
}

// OwnerResolver returns the subject that owns the resource a request targets.
// Returning a not-found error means "no owner"; any other error aborts the request.
type OwnerResolver func(r *http.Request) (string, error)

type contextKey string

const (
	identityContextKey   contextKey = "identity"
	tokenErrorContextKey contextKey = "token_error"
)

type AuthMiddleware struct {
	verifier tokenVerifier
}

func NewAuthMiddleware(verifier tokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Authenticate resolves a bearer token into an identity. A missing or invalid
// token is not rejected here: the request simply carries no identity.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			ctx := context.WithValue(r.Context(), tokenErrorContextKey, model.ErrTokenMalformed)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		identity, err := m.verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			slog.Debug("bearer token rejected", "path", r.URL.Path, "error", err)
			ctx := context.WithValue(r.Context(), tokenErrorContextKey, err)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		ctx := context.WithValue(r.Context(), identityContextKey, &identity)
		ctx = event.WithActor(ctx, identity.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authorize gates a route through the policy table. owner may be nil for
// resources without ownership.
func (m *AuthMiddleware) Authorize(resource policy.Resource, action policy.Action, owner OwnerResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, _ := IdentityFromContext(r.Context())

			req := policy.Request{Resource: resource, Action: action}
			if identity != nil && owner != nil && !identity.HasRole(model.RoleAdmin) {
				subject, err := owner(r)
				switch {
				case err == nil:
					req.Owner = subject
				case isNotFound(err):
					// unknown target: no owner
				case errors.Is(err, model.ErrStorageUnavailable):
					slog.Error("owner lookup failed", "path", r.URL.Path, "error", err)
					w.Header().Set("Retry-After", "1")
					writeJSONError(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "storage temporarily unavailable")
					return
				default:
					slog.Error("owner lookup failed", "path", r.URL.Path, "error", err)
					writeJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Unexpected server error")
					return
				}
			}

			if policy.Authorize(identity, req) == policy.Allow {
				next.ServeHTTP(w, r)
				return
			}

			if identity == nil {
				message := "authentication required"
				if tokenErr, ok := r.Context().Value(tokenErrorContextKey).(error); ok {
					message = tokenErrorMessage(tokenErr)
				}
				writeJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
				return
			}
			writeJSONError(w, http.StatusForbidden, "FORBIDDEN", "insufficient permissions")
		})
	}
}

func IdentityFromContext(ctx context.Context) (*model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	return identity, ok && identity != nil
}

func tokenErrorMessage(err error) string {
	switch {
	case errors.Is(err, model.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, model.ErrTokenBadSignature):
		return "token signature is invalid"
	default:
		return "missing or invalid authorization header"
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrLoanNotFound) ||
		errors.Is(err, model.ErrUserNotFound) ||
		errors.Is(err, model.ErrBookNotFound) ||
		errors.Is(err, model.ErrBorrowerNotFound) ||
		errors.Is(err, model.ErrInvalidInput)
}
