// Package task defines the prediction task domain model used by the lifecycle manager and persistence layers.
// It contains task metadata, status definitions and transitions, and the JSON column types for
// hyperparameters and metrics.
package task

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gopkg.in/guregu/null.v3"
)

type (
	TaskStatus string
	Task       struct {
		ID            int64       `db:"id" json:"id"`
		Name          string      `db:"name" json:"name"`
		UserID        null.Int    `db:"user_id" json:"user_id"`
		Username      null.String `db:"username" json:"username"`
		DatasetID     null.Int    `db:"dataset_id" json:"dataset_id"`
		DatasetName   null.String `db:"dataset_name" json:"dataset"`
		ModelID       null.Int    `db:"model_id" json:"model_id"`
		ModelName     null.String `db:"model_name" json:"model"`
		ModelType     null.String `db:"model_type" json:"model_type"`
		SourcePath    string      `db:"source_path" json:"-"`
		Status        TaskStatus  `db:"status" json:"status"`
		Hyperparams   Params      `db:"hyperparams" json:"hyperparams"`
		ResultPath    null.String `db:"result_path" json:"-"`
		Metrics       *Metrics    `db:"metrics" json:"metrics"`
		FailureReason null.String `db:"failure_reason" json:"failure_reason,omitempty"`
		CreatedAt     time.Time   `db:"created_at" json:"created_at"`
		CompletedAt   null.Time   `db:"completed_at" json:"completed_at"`
		Duration      null.Float  `db:"duration" json:"duration"`
		Version       int         `db:"version" json:"-"`
	}
)

const (
	PendingStatus   TaskStatus = "pending"
	RunningStatus   TaskStatus = "running"
	CompletedStatus TaskStatus = "completed"
	FailedStatus    TaskStatus = "failed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []TaskStatus{PendingStatus, RunningStatus, CompletedStatus, FailedStatus}

var ErrInvalidTransition = errors.New("invalid status transition")

func (s TaskStatus) Valid() bool {
	switch s {
	case PendingStatus, RunningStatus, CompletedStatus, FailedStatus:
		return true
	}
	return false
}

func (s TaskStatus) Terminal() bool {
	return s == CompletedStatus || s == FailedStatus
}

// CanTransitionTo reports whether next follows s within one execution.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case PendingStatus:
		return next == RunningStatus
	case RunningStatus:
		return next == CompletedStatus || next == FailedStatus
	}
	return false
}

func NewTask(name string, hyperparams Params) *Task {
	if hyperparams == nil {
		hyperparams = Params{}
	}

	return &Task{
		Name:        name,
		Status:      PendingStatus,
		Hyperparams: hyperparams,
		CreatedAt:   time.Now().UTC(),
	}
}

// Transition moves the task to next, enforcing the status machine.
func (t *Task) Transition(next TaskStatus) error {
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}
	t.Status = next
	return nil
}

// Complete records a successful execution.
func (t *Task) Complete(at time.Time, duration float64, metrics Metrics, resultPath string) error {
	if err := t.Transition(CompletedStatus); err != nil {
		return err
	}
	t.CompletedAt = null.TimeFrom(at)
	t.Duration = null.FloatFrom(duration)
	t.Metrics = &metrics
	t.ResultPath = null.StringFrom(resultPath)
	t.FailureReason = null.String{}
	return nil
}

// Fail records a failed execution. Metrics and result stay absent.
func (t *Task) Fail(at time.Time, duration float64, reason string) error {
	if err := t.Transition(FailedStatus); err != nil {
		return err
	}
	t.CompletedAt = null.TimeFrom(at)
	t.Duration = null.FloatFrom(duration)
	t.Metrics = nil
	t.ResultPath = null.String{}
	t.FailureReason = null.StringFrom(reason)
	return nil
}

// Rerun builds a fresh pending task from t. Status, timestamps, metrics and
// result location are not carried over.
func (t *Task) Rerun(ownerID null.Int) *Task {
	params := make(Params, len(t.Hyperparams))
	for k, v := range t.Hyperparams {
		params[k] = v
	}

	next := NewTask(t.Name+" (rerun)", params)
	next.UserID = ownerID
	next.DatasetID = t.DatasetID
	next.DatasetName = t.DatasetName
	next.ModelID = t.ModelID
	next.ModelName = t.ModelName
	next.ModelType = t.ModelType
	next.SourcePath = t.SourcePath
	return next
}

// Params is the opaque hyperparameter mapping, stored as a JSON column.
type Params map[string]any

func (p Params) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

func (p *Params) Scan(src any) error {
	data, err := jsonBytes(src)
	if err != nil {
		return err
	}
	if data == nil {
		*p = Params{}
		return nil
	}
	return json.Unmarshal(data, p)
}

// Metrics holds the error metrics produced by a prediction engine.
type Metrics struct {
	MSE        float64 `json:"mse"`
	MAE        float64 `json:"mae"`
	RMSE       float64 `json:"rmse"`
	Duration   float64 `json:"duration"`
	DataPoints int     `json:"dataPoints"`
	Confidence float64 `json:"confidence"`
}

func (m Metrics) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *Metrics) Scan(src any) error {
	data, err := jsonBytes(src)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	return json.Unmarshal(data, m)
}

func jsonBytes(src any) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported JSON column type %T", src)
	}
}
