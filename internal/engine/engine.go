// Package engine defines the prediction engine contract and the engines
// shipped with the service.
package engine

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/nadmax/forecastd/internal/datafile"
	"github.com/nadmax/forecastd/internal/task"
)

var ErrEmptyDataset = errors.New("dataset has no rows")

// Series holds the per-point output of a prediction.
type Series struct {
	Timestamps      []string  `json:"timestamps"`
	RealValues      []float64 `json:"real_values"`
	PredictedValues []float64 `json:"predicted_values"`
	UpperBound      []float64 `json:"upper_bound"`
	LowerBound      []float64 `json:"lower_bound"`
}

// Result is the document persisted as a task's result artifact.
type Result struct {
	Data    Series       `json:"data"`
	Metrics task.Metrics `json:"metrics"`
}

// Engine runs a prediction over a dataset table. Implementations may block
// and must honour ctx cancellation.
type Engine interface {
	Run(ctx context.Context, table *datafile.Table, params task.Params) (*Result, error)
}

// Registry maps model types to engines. Types without an entry use the
// fallback engine.
type Registry struct {
	mu       sync.RWMutex
	engines  map[string]Engine
	fallback Engine
}

func NewRegistry(fallback Engine) *Registry {
	return &Registry{
		engines:  make(map[string]Engine),
		fallback: fallback,
	}
}

func (r *Registry) Register(modelType string, e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[modelType] = e
}

func (r *Registry) For(modelType string) Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.engines[modelType]; ok {
		return e
	}
	return r.fallback
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
