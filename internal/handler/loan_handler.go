package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"library-lending/internal/model"
	"library-lending/internal/service"
	"library-lending/pkg/apierror"
)

type LoanHandler struct {
	service *service.LendingService
}

func NewLoanHandler(service *service.LendingService) *LoanHandler {
	return &LoanHandler{service: service}
}

func (h *LoanHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		loans []model.Loan
		err   error
	)

	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))) {
	case "":
		loans, err = h.service.FindAll(r.Context())
	case "active":
		loans, err = h.service.FindActive(r.Context())
	case "returned":
		loans, err = h.service.FindReturned(r.Context())
	default:
		err = apierror.BadRequest("status must be active or returned", "status")
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.LoanList{Loans: loans}, nil)
}

func (h *LoanHandler) Active(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.FindActive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.LoanList{Loans: loans}, nil)
}

func (h *LoanHandler) Returned(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.FindReturned(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.LoanList{Loans: loans}, nil)
}

func (h *LoanHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	loan, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, loan, nil)
}

func (h *LoanHandler) ByBorrower(w http.ResponseWriter, r *http.Request) {
	id, err := parseQueryID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	loans, err := h.service.FindByBorrower(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.LoanList{Loans: loans}, nil)
}

func (h *LoanHandler) ByBorrowerEmail(w http.ResponseWriter, r *http.Request) {
	email, err := parseQueryEmail(r)
	if err != nil {
		writeError(w, err)
		return
	}

	loans, err := h.service.FindByBorrowerEmail(r.Context(), email)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.LoanList{Loans: loans}, nil)
}

func (h *LoanHandler) ByBook(w http.ResponseWriter, r *http.Request) {
	id, err := parseQueryID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	loans, err := h.service.FindByBook(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.LoanList{Loans: loans}, nil)
}

func (h *LoanHandler) Open(w http.ResponseWriter, r *http.Request) {
	var payload model.OpenLoanRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	loan, err := h.service.OpenLoan(r.Context(), payload.BookID, payload.BorrowerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, loan, nil)
}

func (h *LoanHandler) Return(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	loan, err := h.service.CloseLoan(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, loan, nil)
}

// LoanOwner resolves the borrower email of the loan addressed by the {id}
// path parameter.
func (h *LoanHandler) LoanOwner(r *http.Request) (string, error) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		return "", fmt.Errorf("loan owner: %w", model.ErrInvalidInput)
	}
	return h.service.LoanOwner(r.Context(), id)
}

// BorrowerOwner resolves the email of the borrower addressed by the id query
// parameter.
func (h *LoanHandler) BorrowerOwner(r *http.Request) (string, error) {
	id, err := parseQueryID(r)
	if err != nil {
		return "", fmt.Errorf("borrower owner: %w", model.ErrInvalidInput)
	}
	return h.service.BorrowerEmail(r.Context(), id)
}

// BorrowerEmailOwner resolves the owner straight from the email query
// parameter. The subject of a token is the normalized email.
func (h *LoanHandler) BorrowerEmailOwner(r *http.Request) (string, error) {
	email, err := parseQueryEmail(r)
	if err != nil {
		return "", fmt.Errorf("borrower owner: %w", model.ErrInvalidInput)
	}
	return email, nil
}

func parseQueryEmail(r *http.Request) (string, error) {
	email := model.NormalizeEmail(r.URL.Query().Get("email"))
	if email == "" {
		return "", apierror.BadRequest("email is required", "email")
	}
	return email, nil
}

func parseQueryID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("id")), 10, 64)
	if err != nil || id <= 0 {
		return 0, apierror.BadRequest("id must be a positive integer", "id")
	}
	return id, nil
}
