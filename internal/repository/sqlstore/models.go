package sqlstore

import (
	"context"

	"github.com/nadmax/forecastd/internal/repository"
	"github.com/nadmax/forecastd/internal/repository/models"
)

const modelColumns = `id, name, description, model_type, default_params, created_at`

type modelRepo struct {
	q queryer
}

func (r *modelRepo) Create(ctx context.Context, m *models.Model) error {
	query := `
		INSERT INTO models (name, description, model_type, default_params, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`
	return r.q.QueryRowxContext(ctx, r.q.Rebind(query),
		m.Name,
		m.Description,
		m.ModelType,
		m.DefaultParams,
		m.CreatedAt,
	).Scan(&m.ID)
}

func (r *modelRepo) Get(ctx context.Context, id int64) (*models.Model, error) {
	var m models.Model
	query := `SELECT ` + modelColumns + ` FROM models WHERE id = ?`
	if err := r.q.GetContext(ctx, &m, r.q.Rebind(query), id); err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (r *modelRepo) FirstByType(ctx context.Context, modelType string) (*models.Model, error) {
	var m models.Model
	query := `SELECT ` + modelColumns + ` FROM models WHERE model_type = ? ORDER BY id ASC LIMIT 1`
	if err := r.q.GetContext(ctx, &m, r.q.Rebind(query), modelType); err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (r *modelRepo) List(ctx context.Context, filter repository.ModelFilter) ([]models.Model, int, error) {
	filter.Pagination = filter.Pagination.Normalize()
	where := ""
	var args []any
	if filter.ModelType != "" {
		where = " WHERE model_type = ?"
		args = append(args, filter.ModelType)
	}

	total, err := count(ctx, r.q, `SELECT COUNT(*) FROM models`+where, args...)
	if err != nil {
		return nil, 0, err
	}

	list := []models.Model{}
	query := `SELECT ` + modelColumns + ` FROM models` + where + ` ORDER BY id ASC LIMIT ? OFFSET ?`
	args = append(args, filter.PerPage, filter.Offset())
	if err := r.q.SelectContext(ctx, &list, r.q.Rebind(query), args...); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *modelRepo) Types(ctx context.Context) ([]string, error) {
	types := []string{}
	query := `SELECT DISTINCT model_type FROM models ORDER BY model_type`
	if err := r.q.SelectContext(ctx, &types, query); err != nil {
		return nil, err
	}
	return types, nil
}

func (r *modelRepo) Update(ctx context.Context, m *models.Model) error {
	query := `UPDATE models SET name = ?, description = ?, default_params = ? WHERE id = ?`
	res, err := r.q.ExecContext(ctx, r.q.Rebind(query), m.Name, m.Description, m.DefaultParams, m.ID)
	if err != nil {
		return err
	}
	return affectedOne(res, repository.ErrNotFound)
}

func (r *modelRepo) Count(ctx context.Context) (int, error) {
	return count(ctx, r.q, `SELECT COUNT(*) FROM models`)
}

func (r *modelRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`DELETE FROM models WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return affectedOne(res, repository.ErrNotFound)
}
