// Package audit records state changes as system log entries.
package audit

import (
	"context"
	"time"

	"github.com/nadmax/forecastd/internal/metrics"
	"github.com/nadmax/forecastd/internal/repository"
	"github.com/nadmax/forecastd/internal/repository/models"
	"go.uber.org/zap"
	"gopkg.in/guregu/null.v3"
)

// Recorder is the contract services use to emit audit entries.
type Recorder interface {
	Record(ctx context.Context, level, message, source string, actor null.Int)
}

// Sink writes entries to the system log table. Write failures are logged
// and counted but never returned to the caller.
type Sink struct {
	logs   repository.LogRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewSink(logs repository.LogRepository, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{logs: logs, logger: logger, now: time.Now}
}

func (s *Sink) Record(ctx context.Context, level, message, source string, actor null.Int) {
	entry := &models.SystemLog{
		Level:     level,
		Message:   message,
		Source:    source,
		UserID:    actor,
		CreatedAt: s.now().UTC(),
	}

	if err := s.logs.Append(ctx, entry); err != nil {
		metrics.RecordAuditFailure()
		s.logger.Error("failed to write system log",
			zap.String("source", source),
			zap.String("message", message),
			zap.Error(err),
		)
	}
}
