// Package models contains data structures used by the repository layer.
package models

import (
	"time"

	"github.com/nadmax/forecastd/internal/task"
	"gopkg.in/guregu/null.v3"
)

type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	IsAdmin      bool      `db:"is_admin" json:"is_admin"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	LastLogin    null.Time `db:"last_login" json:"last_login"`
}

type Dataset struct {
	ID          int64       `db:"id" json:"id"`
	Name        string      `db:"name" json:"name"`
	Description string      `db:"description" json:"description"`
	Category    string      `db:"category" json:"category"`
	FilePath    string      `db:"file_path" json:"-"`
	Rows        int         `db:"row_count" json:"rows"`
	Columns     int         `db:"column_count" json:"columns"`
	TimeColumn  null.String `db:"time_column" json:"time_column"`
	ValueColumn null.String `db:"value_column" json:"value_column"`
	IsPreset    bool        `db:"is_preset" json:"is_preset"`
	OwnerID     null.Int    `db:"owner_id" json:"owner_id"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

type Model struct {
	ID            int64       `db:"id" json:"id"`
	Name          string      `db:"name" json:"name"`
	Description   string      `db:"description" json:"description"`
	ModelType     string      `db:"model_type" json:"model_type"`
	DefaultParams task.Params `db:"default_params" json:"default_params"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
}

const (
	LevelInfo    = "INFO"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
)

type SystemLog struct {
	ID        int64     `db:"id" json:"id"`
	Level     string    `db:"level" json:"level"`
	Message   string    `db:"message" json:"message"`
	Source    string    `db:"source" json:"source"`
	UserID    null.Int  `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type ModelUsage struct {
	Model string `db:"model" json:"model"`
	Count int    `db:"count" json:"count"`
}

type TaskStats struct {
	Total        int                     `json:"total_tasks"`
	StatusCounts map[task.TaskStatus]int `json:"status_counts"`
	ModelUsage   []ModelUsage            `json:"model_usage"`
}

// NewTaskStats returns stats with a zero count for every status.
func NewTaskStats() *TaskStats {
	counts := make(map[task.TaskStatus]int, len(task.Statuses))
	for _, s := range task.Statuses {
		counts[s] = 0
	}
	return &TaskStats{StatusCounts: counts, ModelUsage: []ModelUsage{}}
}
