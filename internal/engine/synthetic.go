package engine

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nadmax/forecastd/internal/datafile"
	"github.com/nadmax/forecastd/internal/task"
)

const boundWidth = 0.2

// Synthetic produces a sine-wave stand-in forecast sized to the dataset.
// Confidence and the reported duration are random and not reproducible.
type Synthetic struct {
	delay time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSynthetic(delay time.Duration, seed uint64) *Synthetic {
	return &Synthetic{
		delay: delay,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (s *Synthetic) Run(ctx context.Context, table *datafile.Table, params task.Params) (*Result, error) {
	if table == nil || table.Len() == 0 {
		return nil, ErrEmptyDataset
	}

	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	n := table.Len()
	actual := sineSpace(0, 10, n)
	predicted := sineSpace(0.1, 10.1, n)

	upper := make([]float64, n)
	lower := make([]float64, n)
	var sumSq, sumAbs float64
	for i := range predicted {
		upper[i] = predicted[i] + boundWidth
		lower[i] = predicted[i] - boundWidth
		diff := math.Abs(actual[i] - predicted[i])
		sumAbs += diff
		sumSq += diff * diff
	}
	mse := sumSq / float64(n)
	mae := sumAbs / float64(n)

	s.mu.Lock()
	duration := 1.5 + s.rng.Float64()*3.5
	confidence := 0.85 + s.rng.Float64()*0.13
	s.mu.Unlock()

	return &Result{
		Data: Series{
			Timestamps:      table.Column(0),
			RealValues:      actual,
			PredictedValues: predicted,
			UpperBound:      upper,
			LowerBound:      lower,
		},
		Metrics: task.Metrics{
			MSE:        round(mse, 4),
			MAE:        round(mae, 4),
			RMSE:       round(math.Sqrt(mse), 4),
			Duration:   round(duration, 2),
			DataPoints: n,
			Confidence: round(confidence, 2),
		},
	}, nil
}

// sineSpace returns sin over n evenly spaced points in [start, stop].
func sineSpace(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = math.Sin(start)
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = math.Sin(start + step*float64(i))
	}
	return out
}
