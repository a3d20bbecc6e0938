package handler

import (
	"net/http"
	"strings"

	"library-lending/internal/model"
	"library-lending/internal/service"
	"library-lending/pkg/apierror"
)

type UserHandler struct {
	users   *service.UserService
	auth    *service.AuthService
	lending *service.LendingService
}

func NewUserHandler(users *service.UserService, auth *service.AuthService, lending *service.LendingService) *UserHandler {
	return &UserHandler{users: users, auth: auth, lending: lending}
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	approved, err := parseOptionalBool(query.Get("approved"), "approved")
	if err != nil {
		writeError(w, err)
		return
	}

	filter := model.UserFilter{
		Name:     strings.TrimSpace(query.Get("name")),
		Email:    strings.TrimSpace(query.Get("email")),
		Approved: approved,
	}
	if raw := strings.TrimSpace(query.Get("role")); raw != "" {
		role, ok := model.ParseRole(raw)
		if !ok {
			writeError(w, apierror.BadRequest("role must be USER or ADMIN", "role"))
			return
		}
		filter.Role = role
	}

	users, err := h.users.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.UserList{Users: users}, nil)
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload model.CreateUserRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	role := model.RoleUser
	if payload.Role != "" {
		parsed, ok := model.ParseRole(payload.Role)
		if !ok {
			writeError(w, apierror.BadRequest("role must be USER or ADMIN", "role"))
			return
		}
		role = parsed
	}

	user, err := h.auth.CreateUser(r.Context(), payload.Name, payload.Email, payload.Password, role, payload.Approved)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, user, nil)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, user, nil)
}

func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var payload model.UpdateUserRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.users.UpdateName(r.Context(), id, payload.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, user, nil)
}

func (h *UserHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	user, err := h.users.Approve(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, user, nil)
}

func (h *UserHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	var payload model.ChangeRoleRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.users.ChangeRole(r.Context(), id, payload.Role)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, user, nil)
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.users.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"deleted": true, "id": id}, nil)
}

// Loans lists the loan history of one borrower.
func (h *UserHandler) Loans(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.users.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	loans, err := h.lending.FindByBorrower(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.LoanList{Loans: loans}, nil)
}
