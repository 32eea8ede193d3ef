package main

import (
	"context"
	"time"

	"github.com/nadmax/forecastd/internal/metrics"
	"github.com/nadmax/forecastd/internal/repository"
	"go.uber.org/zap"
)

var updateTaskGauges = metrics.UpdateTaskGauges

type statsCollector struct {
	store    repository.Store
	interval time.Duration
	logger   *zap.Logger
}

func newStatsCollector(store repository.Store, interval time.Duration, logger *zap.Logger) *statsCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &statsCollector{store: store, interval: interval, logger: logger}
}

// Run refreshes the task gauges until ctx is done.
func (s *statsCollector) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.update(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.update(ctx)
		}
	}
}

func (s *statsCollector) update(ctx context.Context) {
	stats, err := s.store.Tasks().Stats(ctx, repository.Scope{All: true})
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("failed to get task statistics for metrics", zap.Error(err))
		}
		return
	}
	updateTaskGauges(stats.StatusCounts)
}
