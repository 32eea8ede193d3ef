// Package repository declares the persistence contracts for users, datasets,
// models, tasks and system logs, plus the query types shared by every store.
package repository

import (
	"context"
	"errors"

	"github.com/nadmax/forecastd/internal/repository/models"
	"github.com/nadmax/forecastd/internal/task"
	"gopkg.in/guregu/null.v3"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	// ErrStale is returned when an optimistic update matched no row because
	// the version or status changed underneath it.
	ErrStale = errors.New("stale record version")
)

const (
	DefaultPerPage = 10
	MaxPerPage     = 100
)

type Pagination struct {
	Page    int
	PerPage int
}

// Normalize clamps page and per-page into their valid ranges.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Pages returns the number of pages needed for total items.
func (p Pagination) Pages(total int) int {
	if total == 0 {
		return 0
	}
	return (total + p.PerPage - 1) / p.PerPage
}

// Scope restricts task reads. All wins over UserID; a zero UserID with All
// unset means anonymous tasks only.
type Scope struct {
	All    bool
	UserID null.Int
}

func (s Scope) Includes(t *task.Task) bool {
	if s.All {
		return true
	}
	if !s.UserID.Valid {
		return !t.UserID.Valid
	}
	return t.UserID.Valid && t.UserID.Int64 == s.UserID.Int64
}

type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// TaskSortFields maps accepted sort keys to task columns.
var TaskSortFields = map[string]string{
	"id":           "id",
	"name":         "name",
	"status":       "status",
	"created_at":   "created_at",
	"completed_at": "completed_at",
	"duration":     "duration",
	"user_id":      "user_id",
	"dataset_id":   "dataset_id",
	"model_id":     "model_id",
}

type TaskQuery struct {
	Scope     Scope
	Status    task.TaskStatus
	SortBy    string
	SortOrder SortOrder
	Pagination
}

// Normalize applies defaults. Unknown sort fields fall back to created_at.
func (q TaskQuery) Normalize() TaskQuery {
	if _, ok := TaskSortFields[q.SortBy]; !ok {
		q.SortBy = "created_at"
	}
	if q.SortOrder != Asc {
		q.SortOrder = Desc
	}
	q.Pagination = q.Pagination.Normalize()
	return q
}

type DatasetFilter struct {
	Category string
	IsPreset *bool
	Pagination
}

type ModelFilter struct {
	ModelType string
	Pagination
}

type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	UpdatePassword(ctx context.Context, id int64, hash string) error
	TouchLastLogin(ctx context.Context, id int64, at null.Time) error
	List(ctx context.Context, page Pagination) ([]models.User, int, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, id int64) error
}

type DatasetRepository interface {
	Create(ctx context.Context, d *models.Dataset) error
	Get(ctx context.Context, id int64) (*models.Dataset, error)
	List(ctx context.Context, filter DatasetFilter) ([]models.Dataset, int, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, id int64) error
}

type ModelRepository interface {
	Create(ctx context.Context, m *models.Model) error
	Get(ctx context.Context, id int64) (*models.Model, error)
	FirstByType(ctx context.Context, modelType string) (*models.Model, error)
	List(ctx context.Context, filter ModelFilter) ([]models.Model, int, error)
	Types(ctx context.Context) ([]string, error)
	Update(ctx context.Context, m *models.Model) error
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, id int64) error
}

type TaskRepository interface {
	Create(ctx context.Context, t *task.Task) error
	Get(ctx context.Context, id int64) (*task.Task, error)
	// Transition moves a task between statuses if its version and status
	// still match, then bumps the version.
	Transition(ctx context.Context, t *task.Task, from task.TaskStatus) error
	// Finish persists the terminal outcome of a running task.
	Finish(ctx context.Context, t *task.Task) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, q TaskQuery) ([]task.Task, int, error)
	Stats(ctx context.Context, scope Scope) (*models.TaskStats, error)
	ClearDataset(ctx context.Context, datasetID int64) error
	ClearModel(ctx context.Context, modelID int64) error
	// CountBySourcePath counts tasks reading from path, e.g. an upload shared
	// by a task and its reruns.
	CountBySourcePath(ctx context.Context, path string) (int, error)
}

type LogRepository interface {
	Append(ctx context.Context, l *models.SystemLog) error
	List(ctx context.Context, page Pagination) ([]models.SystemLog, int, error)
}

// Store bundles the repositories behind one handle. WithTx runs fn against a
// transactional Store and commits only if fn returns nil.
type Store interface {
	Users() UserRepository
	Datasets() DatasetRepository
	Models() ModelRepository
	Tasks() TaskRepository
	Logs() LogRepository
	WithTx(ctx context.Context, fn func(Store) error) error
	Ping(ctx context.Context) error
	Close() error
}
