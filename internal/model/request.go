package model

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// CreateUserRequest is the admin form of registration. Role defaults to USER.
type CreateUserRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     string `json:"role" validate:"omitempty,oneof=USER ADMIN user admin"`
	Approved bool   `json:"approved"`
}

type CreateBookRequest struct {
	Title  string `json:"title" validate:"required,max=500"`
	Author string `json:"author" validate:"required,max=300"`
	ISBN   string `json:"isbn" validate:"omitempty,max=20"`
}

// UpdateBookRequest names the only catalog fields CRUD may change.
// Availability is owned by the lending engine and cannot be set here.
type UpdateBookRequest struct {
	Title  *string `json:"title,omitempty" validate:"omitempty,min=1,max=500"`
	Author *string `json:"author,omitempty" validate:"omitempty,min=1,max=300"`
	ISBN   *string `json:"isbn,omitempty" validate:"omitempty,max=20"`
}

func (r UpdateBookRequest) Empty() bool {
	return r.Title == nil && r.Author == nil && r.ISBN == nil
}

type UpdateUserRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

type ChangeRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=USER ADMIN user admin"`
}

type OpenLoanRequest struct {
	BookID     int64 `json:"book_id" validate:"required,gt=0"`
	BorrowerID int64 `json:"borrower_id" validate:"required,gt=0"`
}
