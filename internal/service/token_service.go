package service

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"library-lending/internal/model"
)

const (
	DefaultTokenTTL    = 30 * time.Minute
	DefaultTokenIssuer = "self"
	DefaultRSAKeyBits  = 2048
)

type tokenClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies RS256 identity tokens. The key pair lives
// for the lifetime of the process and is never persisted.
type TokenService struct {
	privateKey *rsa.PrivateKey
	ttl        time.Duration
	issuer     string
	now        func() time.Time
}

// NewTokenService generates a fresh key pair of the given size.
func NewTokenService(keyBits int, ttl time.Duration, issuer string) (*TokenService, error) {
	if keyBits <= 0 {
		keyBits = DefaultRSAKeyBits
	}
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return NewTokenServiceWithKey(key, ttl, issuer), nil
}

func NewTokenServiceWithKey(key *rsa.PrivateKey, ttl time.Duration, issuer string) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if strings.TrimSpace(issuer) == "" {
		issuer = DefaultTokenIssuer
	}
	return &TokenService{
		privateKey: key,
		ttl:        ttl,
		issuer:     issuer,
		now:        time.Now,
	}
}

// SetClock replaces the time source. Tests use it to move past expiry.
func (s *TokenService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

func (s *TokenService) Issue(subject string, roleClaims []string) (string, error) {
	now := s.now().UTC()
	claims := tokenClaims{
		Scope: strings.Join(roleClaims, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry only. It never consults a store.
func (s *TokenService) Verify(tokenString string) (model.Identity, error) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (any, error) {
			return &s.privateKey.PublicKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return model.Identity{}, model.ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return model.Identity{}, model.ErrTokenBadSignature
		default:
			return model.Identity{}, fmt.Errorf("%w: %w", model.ErrTokenMalformed, err)
		}
	}
	if !parsed.Valid || claims.Subject == "" {
		return model.Identity{}, model.ErrTokenMalformed
	}

	return model.Identity{
		Subject: claims.Subject,
		Roles:   strings.Fields(claims.Scope),
	}, nil
}

// PublicKeyPEM encodes the verification key as a PKIX "PUBLIC KEY" block.
func (s *TokenService) PublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&s.privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
