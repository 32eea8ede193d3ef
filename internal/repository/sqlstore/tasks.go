package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/nadmax/forecastd/internal/repository"
	"github.com/nadmax/forecastd/internal/repository/models"
	"github.com/nadmax/forecastd/internal/task"
)

const taskSelect = `
	SELECT
		t.id, t.name, t.user_id, u.username, t.dataset_id, t.dataset_name,
		t.model_id, t.model_name, t.model_type, t.source_path, t.status,
		t.hyperparams, t.result_path, t.metrics, t.failure_reason,
		t.created_at, t.completed_at, t.duration, t.version
	FROM tasks t
	LEFT JOIN users u ON u.id = t.user_id
`

type taskRepo struct {
	q queryer
}

// nullableSortColumns sort their NULLs last in either direction.
var nullableSortColumns = map[string]bool{
	"completed_at": true,
	"duration":     true,
	"user_id":      true,
	"dataset_id":   true,
	"model_id":     true,
}

func (r *taskRepo) Create(ctx context.Context, t *task.Task) error {
	query := `
		INSERT INTO tasks (
			name, user_id, dataset_id, dataset_name, model_id, model_name,
			model_type, source_path, status, hyperparams, created_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	return r.q.QueryRowxContext(ctx, r.q.Rebind(query),
		t.Name,
		t.UserID,
		t.DatasetID,
		t.DatasetName,
		t.ModelID,
		t.ModelName,
		t.ModelType,
		t.SourcePath,
		t.Status,
		t.Hyperparams,
		t.CreatedAt,
		t.Version,
	).Scan(&t.ID)
}

func (r *taskRepo) Get(ctx context.Context, id int64) (*task.Task, error) {
	var t task.Task
	if err := r.q.GetContext(ctx, &t, r.q.Rebind(taskSelect+` WHERE t.id = ?`), id); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (r *taskRepo) Transition(ctx context.Context, t *task.Task, from task.TaskStatus) error {
	query := `
		UPDATE tasks
		SET status = ?, version = version + 1
		WHERE id = ? AND version = ? AND status = ?
	`
	res, err := r.q.ExecContext(ctx, r.q.Rebind(query), t.Status, t.ID, t.Version, from)
	if err != nil {
		return err
	}
	if err := affectedOne(res, repository.ErrStale); err != nil {
		return err
	}

	t.Version++
	return nil
}

func (r *taskRepo) Finish(ctx context.Context, t *task.Task) error {
	if !t.Status.Terminal() {
		return fmt.Errorf("%w: finish with status %s", task.ErrInvalidTransition, t.Status)
	}

	query := `
		UPDATE tasks
		SET status = ?,
		    completed_at = ?,
		    duration = ?,
		    metrics = ?,
		    result_path = ?,
		    failure_reason = ?,
		    version = version + 1
		WHERE id = ? AND version = ? AND status = ?
	`
	res, err := r.q.ExecContext(ctx, r.q.Rebind(query),
		t.Status,
		t.CompletedAt,
		t.Duration,
		t.Metrics,
		t.ResultPath,
		t.FailureReason,
		t.ID,
		t.Version,
		task.RunningStatus,
	)
	if err != nil {
		return err
	}
	if err := affectedOne(res, repository.ErrStale); err != nil {
		return err
	}

	t.Version++
	return nil
}

func (r *taskRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`DELETE FROM tasks WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return affectedOne(res, repository.ErrNotFound)
}

func scopeClause(scope repository.Scope) (string, []any) {
	switch {
	case scope.All:
		return "", nil
	case scope.UserID.Valid:
		return "t.user_id = ?", []any{scope.UserID.Int64}
	default:
		return "t.user_id IS NULL", nil
	}
}

func (r *taskRepo) List(ctx context.Context, q repository.TaskQuery) ([]task.Task, int, error) {
	q = q.Normalize()

	var conds []string
	var args []any
	if clause, scopeArgs := scopeClause(q.Scope); clause != "" {
		conds = append(conds, clause)
		args = append(args, scopeArgs...)
	}
	if q.Status != "" {
		conds = append(conds, "t.status = ?")
		args = append(args, q.Status)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	total, err := count(ctx, r.q, `SELECT COUNT(*) FROM tasks t`+where, args...)
	if err != nil {
		return nil, 0, err
	}

	column := repository.TaskSortFields[q.SortBy]
	direction := strings.ToUpper(string(q.SortOrder))
	order := fmt.Sprintf("t.%s %s, t.id %s", column, direction, direction)
	if nullableSortColumns[column] {
		order = fmt.Sprintf("(t.%s IS NULL), ", column) + order
	}
	query := taskSelect + where + " ORDER BY " + order + " LIMIT ? OFFSET ?"
	args = append(args, q.PerPage, q.Offset())

	tasks := []task.Task{}
	if err := r.q.SelectContext(ctx, &tasks, r.q.Rebind(query), args...); err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func (r *taskRepo) Stats(ctx context.Context, scope repository.Scope) (*models.TaskStats, error) {
	stats := models.NewTaskStats()

	clause, args := scopeClause(scope)
	where := ""
	if clause != "" {
		where = " WHERE " + clause
	}

	var byStatus []struct {
		Status task.TaskStatus `db:"status"`
		Count  int             `db:"count"`
	}
	query := `SELECT t.status AS status, COUNT(*) AS count FROM tasks t` + where + ` GROUP BY t.status`
	if err := r.q.SelectContext(ctx, &byStatus, r.q.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, row := range byStatus {
		stats.StatusCounts[row.Status] = row.Count
		stats.Total += row.Count
	}

	usageWhere := " WHERE t.model_name IS NOT NULL"
	if clause != "" {
		usageWhere += " AND " + clause
	}
	query = `
		SELECT t.model_name AS model, COUNT(*) AS count
		FROM tasks t` + usageWhere + `
		GROUP BY t.model_name
		ORDER BY count DESC, model ASC
	`
	if err := r.q.SelectContext(ctx, &stats.ModelUsage, r.q.Rebind(query), args...); err != nil {
		return nil, err
	}

	return stats, nil
}

func (r *taskRepo) ClearDataset(ctx context.Context, datasetID int64) error {
	_, err := r.q.ExecContext(ctx, r.q.Rebind(`UPDATE tasks SET dataset_id = NULL WHERE dataset_id = ?`), datasetID)
	return err
}

func (r *taskRepo) ClearModel(ctx context.Context, modelID int64) error {
	_, err := r.q.ExecContext(ctx, r.q.Rebind(`UPDATE tasks SET model_id = NULL WHERE model_id = ?`), modelID)
	return err
}

func (r *taskRepo) CountBySourcePath(ctx context.Context, path string) (int, error) {
	return count(ctx, r.q, `SELECT COUNT(*) FROM tasks WHERE source_path = ?`, path)
}
