package sqlstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username VARCHAR(50) UNIQUE NOT NULL,
		email VARCHAR(100) UNIQUE NOT NULL,
		password_hash VARCHAR(512) NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		last_login TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS datasets (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category VARCHAR(50) NOT NULL DEFAULT '',
		file_path VARCHAR(255) NOT NULL,
		row_count INTEGER NOT NULL DEFAULT 0,
		column_count INTEGER NOT NULL DEFAULT 0,
		time_column VARCHAR(50),
		value_column VARCHAR(50),
		is_preset BOOLEAN NOT NULL DEFAULT FALSE,
		owner_id BIGINT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS models (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		model_type VARCHAR(50) NOT NULL,
		default_params JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_models_model_type ON models(model_type)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		user_id BIGINT,
		dataset_id BIGINT,
		dataset_name VARCHAR(100),
		model_id BIGINT,
		model_name VARCHAR(100),
		model_type VARCHAR(50),
		source_path VARCHAR(255) NOT NULL DEFAULT '',
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		hyperparams JSONB NOT NULL DEFAULT '{}',
		result_path VARCHAR(255),
		metrics JSONB,
		failure_reason TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		duration DOUBLE PRECISION,
		version INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_user_id ON tasks(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
	`CREATE TABLE IF NOT EXISTS system_logs (
		id BIGSERIAL PRIMARY KEY,
		level VARCHAR(20) NOT NULL,
		message TEXT NOT NULL,
		source VARCHAR(100) NOT NULL,
		user_id BIGINT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_system_logs_created_at ON system_logs(created_at)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		last_login DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS datasets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		file_path TEXT NOT NULL,
		row_count INTEGER NOT NULL DEFAULT 0,
		column_count INTEGER NOT NULL DEFAULT 0,
		time_column TEXT,
		value_column TEXT,
		is_preset BOOLEAN NOT NULL DEFAULT 0,
		owner_id INTEGER,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS models (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		model_type TEXT NOT NULL,
		default_params TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_models_model_type ON models(model_type)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		user_id INTEGER,
		dataset_id INTEGER,
		dataset_name TEXT,
		model_id INTEGER,
		model_name TEXT,
		model_type TEXT,
		source_path TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		hyperparams TEXT NOT NULL DEFAULT '{}',
		result_path TEXT,
		metrics TEXT,
		failure_reason TEXT,
		created_at DATETIME NOT NULL,
		completed_at DATETIME,
		duration REAL,
		version INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_user_id ON tasks(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
	`CREATE TABLE IF NOT EXISTS system_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		source TEXT NOT NULL,
		user_id INTEGER,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_system_logs_created_at ON system_logs(created_at)`,
}

// Migrate creates all tables if they don't exist.
func (s *Store) Migrate(ctx context.Context) error {
	statements := postgresSchema
	if s.db.DriverName() == DriverSQLite {
		statements = sqliteSchema
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	s.logger.Info("database schema ready", zap.String("driver", s.db.DriverName()))
	return nil
}
