package sqlstore

import (
	"context"

	"github.com/nadmax/forecastd/internal/repository"
	"github.com/nadmax/forecastd/internal/repository/models"
)

type logRepo struct {
	q queryer
}

func (r *logRepo) Append(ctx context.Context, l *models.SystemLog) error {
	query := `
		INSERT INTO system_logs (level, message, source, user_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`
	return r.q.QueryRowxContext(ctx, r.q.Rebind(query),
		l.Level,
		l.Message,
		l.Source,
		l.UserID,
		l.CreatedAt,
	).Scan(&l.ID)
}

func (r *logRepo) List(ctx context.Context, page repository.Pagination) ([]models.SystemLog, int, error) {
	page = page.Normalize()
	total, err := count(ctx, r.q, `SELECT COUNT(*) FROM system_logs`)
	if err != nil {
		return nil, 0, err
	}

	logs := []models.SystemLog{}
	query := `
		SELECT id, level, message, source, user_id, created_at
		FROM system_logs
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	if err := r.q.SelectContext(ctx, &logs, r.q.Rebind(query), page.PerPage, page.Offset()); err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
