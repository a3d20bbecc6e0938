package model

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// RoleClaimPrefix is prepended to a role name to form the scope claim.
const RoleClaimPrefix = "ROLE_"

func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleUser:
		return RoleUser, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// Claim returns the role claim string, e.g. "ROLE_ADMIN".
func (r Role) Claim() string {
	return RoleClaimPrefix + string(r)
}

// User is a borrower or staff identity.
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Approved     bool      `json:"approved"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NormalizeEmail is the single case-normalization rule for identity emails.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type UserFilter struct {
	Name     string
	Email    string
	Role     Role
	Approved *bool
}

// Identity is a verified caller as carried by a token.
type Identity struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles"`
}

func (i Identity) HasRole(role Role) bool {
	claim := role.Claim()
	for _, r := range i.Roles {
		if r == claim {
			return true
		}
	}
	return false
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}
