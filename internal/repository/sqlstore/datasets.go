package sqlstore

import (
	"context"
	"strings"

	"github.com/nadmax/forecastd/internal/repository"
	"github.com/nadmax/forecastd/internal/repository/models"
)

const datasetColumns = `id, name, description, category, file_path, row_count, column_count,
	time_column, value_column, is_preset, owner_id, created_at`

type datasetRepo struct {
	q queryer
}

func (r *datasetRepo) Create(ctx context.Context, d *models.Dataset) error {
	query := `
		INSERT INTO datasets (
			name, description, category, file_path, row_count, column_count,
			time_column, value_column, is_preset, owner_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	return r.q.QueryRowxContext(ctx, r.q.Rebind(query),
		d.Name,
		d.Description,
		d.Category,
		d.FilePath,
		d.Rows,
		d.Columns,
		d.TimeColumn,
		d.ValueColumn,
		d.IsPreset,
		d.OwnerID,
		d.CreatedAt,
	).Scan(&d.ID)
}

func (r *datasetRepo) Get(ctx context.Context, id int64) (*models.Dataset, error) {
	var d models.Dataset
	query := `SELECT ` + datasetColumns + ` FROM datasets WHERE id = ?`
	if err := r.q.GetContext(ctx, &d, r.q.Rebind(query), id); err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *datasetRepo) List(ctx context.Context, filter repository.DatasetFilter) ([]models.Dataset, int, error) {
	filter.Pagination = filter.Pagination.Normalize()

	var (
		conds []string
		args  []any
	)
	if filter.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.IsPreset != nil {
		conds = append(conds, "is_preset = ?")
		args = append(args, *filter.IsPreset)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	total, err := count(ctx, r.q, `SELECT COUNT(*) FROM datasets`+where, args...)
	if err != nil {
		return nil, 0, err
	}

	datasets := []models.Dataset{}
	query := `SELECT ` + datasetColumns + ` FROM datasets` + where + ` ORDER BY id ASC LIMIT ? OFFSET ?`
	args = append(args, filter.PerPage, filter.Offset())
	if err := r.q.SelectContext(ctx, &datasets, r.q.Rebind(query), args...); err != nil {
		return nil, 0, err
	}
	return datasets, total, nil
}

func (r *datasetRepo) Count(ctx context.Context) (int, error) {
	return count(ctx, r.q, `SELECT COUNT(*) FROM datasets`)
}

func (r *datasetRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`DELETE FROM datasets WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return affectedOne(res, repository.ErrNotFound)
}
