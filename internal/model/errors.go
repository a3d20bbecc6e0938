package model

import "errors"

var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotApproved        = errors.New("account is not approved yet")
	ErrEmailTaken         = errors.New("email already registered")

	// Token verification errors
	ErrTokenMalformed    = errors.New("token is malformed")
	ErrTokenBadSignature = errors.New("token signature is invalid")
	ErrTokenExpired      = errors.New("token expired")

	// Lending errors
	ErrBookNotFound     = errors.New("book not found")
	ErrBorrowerNotFound = errors.New("borrower not found")
	ErrBookUnavailable  = errors.New("book is currently on loan")
	ErrLoanNotFound     = errors.New("loan not found")
	ErrAlreadyReturned  = errors.New("loan already returned")

	// Catalog / borrower administration errors
	ErrUserNotFound = errors.New("user not found")
	ErrBookHasLoans = errors.New("book is referenced by loans")
	ErrUserHasLoans = errors.New("user is referenced by loans")

	// Access errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// The only retryable class. Adapters wrap driver failures with it.
	ErrStorageUnavailable = errors.New("storage unavailable")

	ErrInvalidInput = errors.New("invalid input")
)
