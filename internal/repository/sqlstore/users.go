package sqlstore

import (
	"context"

	"github.com/nadmax/forecastd/internal/repository"
	"github.com/nadmax/forecastd/internal/repository/models"
	"gopkg.in/guregu/null.v3"
)

const userColumns = `id, username, email, password_hash, is_admin, created_at, last_login`

type userRepo struct {
	q queryer
}

func (r *userRepo) Create(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (username, email, password_hash, is_admin, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`
	err := r.q.QueryRowxContext(ctx, r.q.Rebind(query),
		u.Username,
		u.Email,
		u.PasswordHash,
		u.IsAdmin,
		u.CreatedAt,
	).Scan(&u.ID)

	return duplicate(err)
}

func (r *userRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	if err := r.q.GetContext(ctx, &u, r.q.Rebind(query), id); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ?`
	if err := r.q.GetContext(ctx, &u, r.q.Rebind(query), username); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *userRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	n, err := count(ctx, r.q, `SELECT COUNT(*) FROM users WHERE username = ?`, username)
	return n > 0, err
}

func (r *userRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	n, err := count(ctx, r.q, `SELECT COUNT(*) FROM users WHERE email = ?`, email)
	return n > 0, err
}

func (r *userRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`UPDATE users SET password_hash = ? WHERE id = ?`), hash, id)
	if err != nil {
		return err
	}
	return affectedOne(res, repository.ErrNotFound)
}

func (r *userRepo) TouchLastLogin(ctx context.Context, id int64, at null.Time) error {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`UPDATE users SET last_login = ? WHERE id = ?`), at, id)
	if err != nil {
		return err
	}
	return affectedOne(res, repository.ErrNotFound)
}

func (r *userRepo) List(ctx context.Context, page repository.Pagination) ([]models.User, int, error) {
	page = page.Normalize()
	total, err := r.Count(ctx)
	if err != nil {
		return nil, 0, err
	}

	users := []models.User{}
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id ASC LIMIT ? OFFSET ?`
	if err := r.q.SelectContext(ctx, &users, r.q.Rebind(query), page.PerPage, page.Offset()); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *userRepo) Count(ctx context.Context) (int, error) {
	return count(ctx, r.q, `SELECT COUNT(*) FROM users`)
}

func (r *userRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return affectedOne(res, repository.ErrNotFound)
}
