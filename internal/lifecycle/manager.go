// Package lifecycle creates, executes, reruns and deletes prediction tasks.
//
// Execution is two-phase: the task is committed as running before the
// engine is called, the result artifact is written next, and the terminal
// row is committed last. A failed final commit removes the artifact again.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nadmax/forecastd/internal/apperr"
	"github.com/nadmax/forecastd/internal/audit"
	"github.com/nadmax/forecastd/internal/datafile"
	"github.com/nadmax/forecastd/internal/engine"
	"github.com/nadmax/forecastd/internal/metrics"
	"github.com/nadmax/forecastd/internal/notify"
	"github.com/nadmax/forecastd/internal/policy"
	"github.com/nadmax/forecastd/internal/repository"
	"github.com/nadmax/forecastd/internal/repository/models"
	"github.com/nadmax/forecastd/internal/task"
	"go.uber.org/zap"
	"gopkg.in/guregu/null.v3"
)

type Engines interface {
	For(modelType string) engine.Engine
}

type Artifacts interface {
	Write(taskID int64, result *engine.Result) (string, error)
	Read(path string) (*engine.Result, error)
	Remove(path string) error
}

type Uploads interface {
	Save(filename string, r io.Reader) (string, error)
	Contains(path string) bool
}

type Manager struct {
	store     repository.Store
	engines   Engines
	artifacts Artifacts
	uploads   Uploads
	audit     audit.Recorder
	notifier  notify.Notifier
	readTable func(path string) (*datafile.Table, error)
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Manager)

func WithAudit(r audit.Recorder) Option {
	return func(m *Manager) { m.audit = r }
}

func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(store repository.Store, engines Engines, artifacts Artifacts, uploads Uploads, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		engines:   engines,
		artifacts: artifacts,
		uploads:   uploads,
		notifier:  notify.Noop{},
		readTable: datafile.ReadTable,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.audit == nil {
		m.audit = audit.NewSink(store.Logs(), m.logger)
	}
	m.logger = m.logger.With(zap.String("component", "lifecycle"))
	return m
}

type Upload struct {
	Filename string
	Body     io.Reader
}

// CreateInput describes a new task. Exactly one of DatasetID and Upload
// must be set. The model is taken from ModelID when set, otherwise from the
// first model registered for ModelType; a type with no model leaves the
// task without a model reference.
type CreateInput struct {
	Name        string
	DatasetID   null.Int
	Upload      *Upload
	ModelID     null.Int
	ModelType   string
	Hyperparams task.Params
}

// Create validates in and persists a pending task owned by the caller.
func (m *Manager) Create(ctx context.Context, subject policy.Subject, in CreateInput) (*task.Task, error) {
	t, err := m.create(ctx, subject, in)
	if err != nil {
		return nil, err
	}
	m.audit.Record(ctx, models.LevelInfo, fmt.Sprintf("created prediction task: %s", t.Name), "task.create", t.UserID)
	return t, nil
}

func (m *Manager) create(ctx context.Context, subject policy.Subject, in CreateInput) (*task.Task, error) {
	if in.Name == "" {
		return nil, apperr.Validation("task name is required")
	}
	if in.DatasetID.Valid == (in.Upload != nil) {
		return nil, apperr.Validation("exactly one data source is required: a dataset id or an uploaded file")
	}

	t := task.NewTask(in.Name, nil)
	t.CreatedAt = m.now().UTC()
	t.UserID = subject.UserID()

	defaults, err := m.resolveModel(ctx, t, in)
	if err != nil {
		return nil, err
	}
	t.Hyperparams = mergeParams(defaults, in.Hyperparams)

	source := "dataset"
	if in.DatasetID.Valid {
		ds, err := m.store.Datasets().Get(ctx, in.DatasetID.Int64)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("dataset not found")
		}
		if err != nil {
			return nil, apperr.StoreFailure("failed to load dataset", err)
		}
		t.DatasetID = null.IntFrom(ds.ID)
		t.DatasetName = null.StringFrom(ds.Name)
		t.SourcePath = ds.FilePath
	} else {
		source = "upload"
		path, err := m.uploads.Save(in.Upload.Filename, in.Upload.Body)
		if errors.Is(err, datafile.ErrNotCSV) {
			return nil, apperr.Validation(err.Error())
		}
		if err != nil {
			return nil, apperr.StoreFailure("failed to store upload", err)
		}
		t.SourcePath = path
	}

	if err := m.store.Tasks().Create(ctx, t); err != nil {
		if source == "upload" {
			_ = datafile.Remove(t.SourcePath)
		}
		return nil, apperr.StoreFailure("failed to save task", err)
	}

	metrics.RecordTaskCreated(t.ModelType.String, source)
	m.logger.Info("task created",
		zap.Int64("task_id", t.ID),
		zap.String("source", source),
		zap.String("model_type", t.ModelType.String),
	)
	return t, nil
}

func (m *Manager) resolveModel(ctx context.Context, t *task.Task, in CreateInput) (task.Params, error) {
	var (
		model *models.Model
		err   error
	)
	switch {
	case in.ModelID.Valid:
		model, err = m.store.Models().Get(ctx, in.ModelID.Int64)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("model not found")
		}
	case in.ModelType != "":
		t.ModelType = null.StringFrom(in.ModelType)
		model, err = m.store.Models().FirstByType(ctx, in.ModelType)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
	default:
		return nil, nil
	}
	if err != nil {
		return nil, apperr.StoreFailure("failed to load model", err)
	}

	t.ModelID = null.IntFrom(model.ID)
	t.ModelName = null.StringFrom(model.Name)
	t.ModelType = null.StringFrom(model.ModelType)
	return model.DefaultParams, nil
}

// mergeParams overlays explicit on defaults without mutating either.
func mergeParams(defaults, explicit task.Params) task.Params {
	out := make(task.Params, len(defaults)+len(explicit))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range explicit {
		out[k] = v
	}
	return out
}

// Execute runs a pending task to completion. The returned error is an
// EngineFailure when the engine failed; the task is then stored as failed
// and t reflects that.
func (m *Manager) Execute(ctx context.Context, t *task.Task) (*engine.Result, error) {
	return m.execute(ctx, t, "task.run")
}

// execute writes a single audit entry under source once the outcome is
// stored.
func (m *Manager) execute(ctx context.Context, t *task.Task, source string) (*engine.Result, error) {
	if err := t.Transition(task.RunningStatus); err != nil {
		return nil, apperr.Conflict(fmt.Sprintf("task %d is %s, not pending", t.ID, t.Status))
	}
	if err := m.store.Tasks().Transition(ctx, t, task.PendingStatus); err != nil {
		t.Status = task.PendingStatus
		return nil, m.persistError(ctx, t.ID, "failed to start task", err)
	}

	start := m.now()
	result, runErr := m.run(ctx, t)
	finishedAt := m.now()
	elapsed := finishedAt.Sub(start)

	// The terminal state must be stored even if the request was cancelled
	// while the engine ran.
	ctx = context.WithoutCancel(ctx)

	if runErr != nil {
		return nil, m.fail(ctx, t, finishedAt.UTC(), elapsed, runErr, source)
	}

	path, err := m.artifacts.Write(t.ID, result)
	if err != nil {
		_ = m.fail(ctx, t, finishedAt.UTC(), elapsed, errors.New("failed to store result"), source)
		return nil, apperr.StoreFailure("failed to store result", err)
	}

	if err := t.Complete(finishedAt.UTC(), elapsed.Seconds(), result.Metrics, path); err != nil {
		m.removeArtifact(t.ID, path)
		return nil, err
	}
	if err := m.store.Tasks().Finish(ctx, t); err != nil {
		m.removeArtifact(t.ID, path)
		return nil, m.persistError(ctx, t.ID, "failed to save task result", err)
	}

	metrics.RecordTaskCompleted(t.ModelType.String, elapsed)
	m.audit.Record(ctx, models.LevelInfo, fmt.Sprintf("prediction completed: %s", t.Name), source, t.UserID)
	m.logger.Info("task completed",
		zap.Int64("task_id", t.ID),
		zap.Duration("elapsed", elapsed),
		zap.Float64("mse", result.Metrics.MSE),
	)
	m.notifyOwner(ctx, t)
	return result, nil
}

func (m *Manager) run(ctx context.Context, t *task.Task) (*engine.Result, error) {
	table, err := m.readTable(t.SourcePath)
	if err != nil {
		return nil, err
	}
	return m.engines.For(t.ModelType.String).Run(ctx, table, t.Hyperparams)
}

func (m *Manager) fail(ctx context.Context, t *task.Task, at time.Time, elapsed time.Duration, cause error, source string) error {
	if err := t.Fail(at, elapsed.Seconds(), cause.Error()); err != nil {
		return err
	}
	if err := m.store.Tasks().Finish(ctx, t); err != nil {
		return m.persistError(ctx, t.ID, "failed to save task failure", err)
	}

	metrics.RecordTaskFailed(t.ModelType.String, elapsed)
	m.audit.Record(ctx, models.LevelError, fmt.Sprintf("prediction failed: %s: %v", t.Name, cause), source, t.UserID)
	m.logger.Warn("task failed", zap.Int64("task_id", t.ID), zap.Error(cause))
	m.notifyOwner(ctx, t)
	return apperr.EngineFailure(cause)
}

// persistError classifies a failed task write. A stale write means another
// request deleted or advanced the row first.
func (m *Manager) persistError(ctx context.Context, id int64, msg string, err error) error {
	if !errors.Is(err, repository.ErrStale) {
		return apperr.StoreFailure(msg, err)
	}
	if _, getErr := m.store.Tasks().Get(ctx, id); errors.Is(getErr, repository.ErrNotFound) {
		return apperr.NotFound("task not found")
	}
	return apperr.Conflict("task was modified concurrently")
}

func (m *Manager) removeArtifact(taskID int64, path string) {
	if err := m.artifacts.Remove(path); err != nil {
		metrics.RecordArtifactCleanupFailure()
		m.logger.Error("failed to remove result artifact",
			zap.Int64("task_id", taskID),
			zap.String("path", path),
			zap.Error(err),
		)
	}
}

func (m *Manager) notifyOwner(ctx context.Context, t *task.Task) {
	if !t.UserID.Valid {
		return
	}
	if _, noop := m.notifier.(notify.Noop); noop {
		return
	}

	user, err := m.store.Users().GetByID(ctx, t.UserID.Int64)
	if err != nil {
		m.logger.Warn("failed to load task owner for notification", zap.Int64("task_id", t.ID), zap.Error(err))
		return
	}
	if err := m.notifier.TaskFinished(ctx, notify.Recipient{Name: user.Username, Address: user.Email}, t); err != nil {
		m.logger.Warn("failed to send task notification", zap.Int64("task_id", t.ID), zap.Error(err))
	}
}

// Predict creates a task and executes it within the same call, recording
// one audit entry for the outcome. On engine failure the failed task is
// returned together with the error.
func (m *Manager) Predict(ctx context.Context, subject policy.Subject, in CreateInput) (*task.Task, *engine.Result, error) {
	t, err := m.create(ctx, subject, in)
	if err != nil {
		return nil, nil, err
	}

	result, err := m.execute(ctx, t, "prediction.predict")
	if err != nil {
		return t, nil, err
	}
	return t, result, nil
}

func (m *Manager) load(ctx context.Context, id int64) (*task.Task, error) {
	t, err := m.store.Tasks().Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("task not found")
	}
	if err != nil {
		return nil, apperr.StoreFailure("failed to load task", err)
	}
	return t, nil
}

// Run executes an existing pending task, e.g. one produced by Rerun.
func (m *Manager) Run(ctx context.Context, subject policy.Subject, id int64) (*task.Task, *engine.Result, error) {
	if err := policy.Check(subject, policy.RequireAuth()); err != nil {
		return nil, nil, err
	}
	t, err := m.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := policy.Check(subject, policy.RequireOwnerOrAdmin(t.UserID)); err != nil {
		return nil, nil, err
	}

	result, err := m.Execute(ctx, t)
	if err != nil {
		if apperr.Is(err, apperr.KindEngineFailure) {
			return t, nil, err
		}
		return nil, nil, err
	}
	return t, result, nil
}

// Rerun copies a task into a new pending task owned by the caller. The
// source task is not modified.
func (m *Manager) Rerun(ctx context.Context, subject policy.Subject, id int64) (*task.Task, error) {
	if err := policy.Check(subject, policy.RequireAuth()); err != nil {
		return nil, err
	}
	src, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policy.Check(subject, policy.RequireOwnerOrAdmin(src.UserID)); err != nil {
		return nil, err
	}

	next := src.Rerun(subject.UserID())
	next.CreatedAt = m.now().UTC()
	if err := m.store.Tasks().Create(ctx, next); err != nil {
		return nil, apperr.StoreFailure("failed to save task", err)
	}

	metrics.RecordTaskCreated(next.ModelType.String, "rerun")
	m.audit.Record(ctx, models.LevelInfo, fmt.Sprintf("rerun task: %s", src.Name), "task.rerun", subject.UserID())
	m.logger.Info("task rerun", zap.Int64("source_id", src.ID), zap.Int64("task_id", next.ID))
	return next, nil
}

type DeleteResult struct {
	ArtifactRemoved bool
	// ArtifactError is set when the result file could not be removed. The
	// task row is deleted regardless.
	ArtifactError error
}

// Delete removes the task's result artifact and then the task itself. An
// uploaded source file goes with its last referencing task.
func (m *Manager) Delete(ctx context.Context, subject policy.Subject, id int64) (*DeleteResult, error) {
	if err := policy.Check(subject, policy.RequireAuth()); err != nil {
		return nil, err
	}
	t, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policy.Check(subject, policy.RequireOwnerOrAdmin(t.UserID)); err != nil {
		return nil, err
	}

	res := &DeleteResult{}
	if t.ResultPath.Valid {
		if err := m.artifacts.Remove(t.ResultPath.String); err != nil {
			res.ArtifactError = err
			metrics.RecordArtifactCleanupFailure()
			m.logger.Error("failed to remove result artifact",
				zap.Int64("task_id", t.ID),
				zap.String("path", t.ResultPath.String),
				zap.Error(err),
			)
		} else {
			res.ArtifactRemoved = true
		}
	}

	if err := m.store.Tasks().Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("task not found")
		}
		return nil, apperr.StoreFailure("failed to delete task", err)
	}
	m.releaseUpload(ctx, t)

	level := models.LevelInfo
	if res.ArtifactError != nil {
		level = models.LevelWarning
	}
	m.audit.Record(ctx, level, fmt.Sprintf("deleted task: %s", t.Name), "task.delete", subject.UserID())
	return res, nil
}

// releaseUpload removes the task's uploaded source once no task reads it.
// Dataset files are never touched, including those of deleted datasets.
func (m *Manager) releaseUpload(ctx context.Context, t *task.Task) {
	if t.DatasetID.Valid || !m.uploads.Contains(t.SourcePath) {
		return
	}

	n, err := m.store.Tasks().CountBySourcePath(ctx, t.SourcePath)
	if err != nil {
		m.logger.Warn("failed to count upload references", zap.Int64("task_id", t.ID), zap.Error(err))
		return
	}
	if n > 0 {
		return
	}
	if err := datafile.Remove(t.SourcePath); err != nil {
		m.logger.Warn("failed to remove uploaded source",
			zap.Int64("task_id", t.ID),
			zap.String("path", t.SourcePath),
			zap.Error(err),
		)
	}
}

type Detail struct {
	Task   *task.Task
	Result *engine.Result
}

// Get returns a task with its stored result. Owned tasks are visible to
// their owner and admins only; anonymous tasks are visible to everyone.
func (m *Manager) Get(ctx context.Context, subject policy.Subject, id int64) (*Detail, error) {
	t, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.UserID.Valid {
		if err := policy.Check(subject, policy.RequireOwnerOrAdmin(t.UserID)); err != nil {
			return nil, err
		}
	}

	detail := &Detail{Task: t}
	if t.ResultPath.Valid {
		result, err := m.artifacts.Read(t.ResultPath.String)
		if err != nil {
			m.logger.Warn("failed to read result artifact", zap.Int64("task_id", t.ID), zap.Error(err))
		}
		detail.Result = result
	}
	return detail, nil
}

type Page struct {
	Tasks   []task.Task
	Total   int
	Page    int
	PerPage int
	Pages   int
}

// List returns the tasks visible to subject. Unknown sort fields fall back
// to created_at.
func (m *Manager) List(ctx context.Context, subject policy.Subject, q repository.TaskQuery) (*Page, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, apperr.Validation(fmt.Sprintf("unknown status %q", q.Status))
	}
	q.Scope = policy.TaskScope(subject)
	q = q.Normalize()

	tasks, total, err := m.store.Tasks().List(ctx, q)
	if err != nil {
		return nil, apperr.StoreFailure("failed to list tasks", err)
	}
	return &Page{
		Tasks:   tasks,
		Total:   total,
		Page:    q.Page,
		PerPage: q.PerPage,
		Pages:   q.Pages(total),
	}, nil
}

// Statistics aggregates the tasks visible to subject.
func (m *Manager) Statistics(ctx context.Context, subject policy.Subject) (*models.TaskStats, error) {
	stats, err := m.store.Tasks().Stats(ctx, policy.TaskScope(subject))
	if err != nil {
		return nil, apperr.StoreFailure("failed to compute statistics", err)
	}
	return stats, nil
}
