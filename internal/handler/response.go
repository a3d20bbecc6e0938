package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"library-lending/internal/model"
	"library-lending/pkg/apierror"
)

func writeSuccess(w http.ResponseWriter, status int, data any, meta *model.Meta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := &model.APIError{
		Code:    "INTERNAL_ERROR",
		Message: "Unexpected server error",
	}

	if apiErr, ok := apierror.As(err); ok {
		status = apiErr.HTTPStatus
		body.Code = apiErr.Code
		body.Message = apiErr.Message
		body.Details = apiErr.Details
	} else if errors.Is(err, model.ErrStorageUnavailable) {
		status = http.StatusServiceUnavailable
		body.Code = "STORAGE_UNAVAILABLE"
		body.Message = "Storage temporarily unavailable"
		w.Header().Set("Retry-After", "1")
		slog.Error("storage unavailable", "error", err.Error())
	} else if errors.Is(err, model.ErrInvalidCredentials) {
		status = http.StatusUnauthorized
		body.Code = "INVALID_CREDENTIALS"
		body.Message = "Invalid credentials"
	} else if errors.Is(err, model.ErrNotApproved) {
		status = http.StatusForbidden
		body.Code = "NOT_APPROVED"
		body.Message = "Account is not approved yet"
	} else if errors.Is(err, model.ErrEmailTaken) {
		status = http.StatusConflict
		body.Code = "EMAIL_TAKEN"
		body.Message = "Email already registered"
	} else if errors.Is(err, model.ErrTokenExpired) {
		status = http.StatusUnauthorized
		body.Code = "UNAUTHORIZED"
		body.Message = "Token expired"
	} else if errors.Is(err, model.ErrTokenBadSignature) || errors.Is(err, model.ErrTokenMalformed) {
		status = http.StatusUnauthorized
		body.Code = "UNAUTHORIZED"
		body.Message = "Invalid token"
	} else if errors.Is(err, model.ErrUnauthorized) {
		status = http.StatusUnauthorized
		body.Code = "UNAUTHORIZED"
		body.Message = "Authentication required"
	} else if errors.Is(err, model.ErrForbidden) {
		status = http.StatusForbidden
		body.Code = "FORBIDDEN"
		body.Message = "Access denied"
	} else if errors.Is(err, model.ErrBookNotFound) {
		status = http.StatusNotFound
		body.Code = "BOOK_NOT_FOUND"
		body.Message = "Book not found"
	} else if errors.Is(err, model.ErrBorrowerNotFound) {
		status = http.StatusNotFound
		body.Code = "BORROWER_NOT_FOUND"
		body.Message = "Borrower not found"
	} else if errors.Is(err, model.ErrLoanNotFound) {
		status = http.StatusNotFound
		body.Code = "LOAN_NOT_FOUND"
		body.Message = "Loan not found"
	} else if errors.Is(err, model.ErrUserNotFound) {
		status = http.StatusNotFound
		body.Code = "USER_NOT_FOUND"
		body.Message = "User not found"
	} else if errors.Is(err, model.ErrBookUnavailable) {
		status = http.StatusConflict
		body.Code = "BOOK_UNAVAILABLE"
		body.Message = "Book is currently on loan"
	} else if errors.Is(err, model.ErrAlreadyReturned) {
		status = http.StatusConflict
		body.Code = "ALREADY_RETURNED"
		body.Message = "Loan already returned"
	} else if errors.Is(err, model.ErrBookHasLoans) {
		status = http.StatusConflict
		body.Code = "CONFLICT"
		body.Message = "Book is referenced by loans"
	} else if errors.Is(err, model.ErrUserHasLoans) {
		status = http.StatusConflict
		body.Code = "CONFLICT"
		body.Message = "User is referenced by loans"
	} else if errors.Is(err, model.ErrInvalidInput) {
		status = http.StatusBadRequest
		body.Code = "BAD_REQUEST"
		body.Message = "Invalid input"
		body.Details = err.Error()
	} else {
		slog.Error("unhandled error in writeError", "error", err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error:   body,
	})
}
