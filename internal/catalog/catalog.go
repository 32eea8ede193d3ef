// Package catalog manages the dataset and model catalogues.
package catalog

import (
	"time"

	"github.com/nadmax/forecastd/internal/audit"
	"github.com/nadmax/forecastd/internal/datafile"
	"github.com/nadmax/forecastd/internal/repository"
	"go.uber.org/zap"
)

const (
	DefaultCategory = "other"
	previewRows     = 10
)

type Service struct {
	store  repository.Store
	files  *datafile.Store
	audit  audit.Recorder
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithAudit(r audit.Recorder) Option {
	return func(s *Service) { s.audit = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a catalog service storing uploaded dataset files in files.
func NewService(store repository.Store, files *datafile.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		files:  files,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.audit == nil {
		s.audit = audit.NewSink(store.Logs(), s.logger)
	}
	s.logger = s.logger.With(zap.String("component", "catalog"))
	return s
}

type Page[T any] struct {
	Items   []T
	Total   int
	Page    int
	PerPage int
	Pages   int
}

func newPage[T any](items []T, total int, p repository.Pagination) *Page[T] {
	return &Page[T]{
		Items:   items,
		Total:   total,
		Page:    p.Page,
		PerPage: p.PerPage,
		Pages:   p.Pages(total),
	}
}
