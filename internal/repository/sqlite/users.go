package sqlite

import (
	"context"
	"fmt"
	"strings"

	"library-lending/internal/model"
	"library-lending/internal/repository"
)

const userColumns = `id, name, email, password_hash, role, approved, created_at, updated_at`

type UserStore struct {
	s *Store
}

var _ repository.UserStore = (*UserStore)(nil)

func scanUser(row scanner) (model.User, error) {
	var (
		u         model.User
		role      string
		approved  int
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &approved, &createdAt, &updatedAt); err != nil {
		return model.User{}, err
	}
	u.Role = model.Role(role)
	u.Approved = approved == 1

	var err error
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.User{}, fmt.Errorf("parse created_at: %w", err)
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.User{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return u, nil
}

func findUserByID(ctx context.Context, q queryer, id int64) (model.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if isNoRows(err) {
		return model.User{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, storageErr("find user", err)
	}
	return u, nil
}

func (r *UserStore) FindByID(ctx context.Context, id int64) (model.User, error) {
	return findUserByID(ctx, r.s.db, id)
}

func (r *UserStore) FindByEmail(ctx context.Context, email string) (model.User, error) {
	u, err := scanUser(r.s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, model.NormalizeEmail(email)))
	if isNoRows(err) {
		return model.User{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, storageErr("find user by email", err)
	}
	return u, nil
}

func (r *UserStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists int
	err := r.s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)`, model.NormalizeEmail(email)).Scan(&exists)
	if err != nil {
		return false, storageErr("check user email", err)
	}
	return exists == 1, nil
}

func (r *UserStore) Create(ctx context.Context, u model.User) (model.User, error) {
	u.Email = model.NormalizeEmail(u.Email)
	res, err := r.s.db.ExecContext(ctx,
		`INSERT INTO users (name, email, password_hash, role, approved, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.Name, u.Email, u.PasswordHash, string(u.Role), boolToInt(u.Approved),
		formatTime(u.CreatedAt), formatTime(u.UpdatedAt))
	if isUniqueViolation(err, "users.email") {
		return model.User{}, model.ErrEmailTaken
	}
	if err != nil {
		return model.User{}, storageErr("create user", err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return model.User{}, storageErr("create user", err)
	}
	return u, nil
}

func (r *UserStore) Update(ctx context.Context, u model.User) error {
	res, err := r.s.db.ExecContext(ctx,
		`UPDATE users SET name = ?, role = ?, approved = ?, updated_at = ? WHERE id = ?`,
		u.Name, string(u.Role), boolToInt(u.Approved), formatTime(u.UpdatedAt), u.ID)
	if err != nil {
		return storageErr("update user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

func (r *UserStore) Delete(ctx context.Context, id int64) error {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if isForeignKeyViolation(err) {
		return model.ErrUserHasLoans
	}
	if err != nil {
		return storageErr("delete user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

func (r *UserStore) List(ctx context.Context, filter model.UserFilter) ([]model.User, error) {
	where := make([]string, 0, 4)
	args := make([]any, 0, 4)

	if name := strings.TrimSpace(filter.Name); name != "" {
		where = append(where, "lower(name) = lower(?)")
		args = append(args, name)
	}
	if email := model.NormalizeEmail(filter.Email); email != "" {
		where = append(where, "email = ?")
		args = append(args, email)
	}
	if filter.Role != "" {
		where = append(where, "role = ?")
		args = append(args, string(filter.Role))
	}
	if filter.Approved != nil {
		where = append(where, "approved = ?")
		args = append(args, boolToInt(*filter.Approved))
	}

	query := `SELECT ` + userColumns + ` FROM users`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := r.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list users", err)
	}
	defer rows.Close()

	users := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, storageErr("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list users", err)
	}
	return users, nil
}
