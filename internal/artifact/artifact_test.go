package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nadmax/forecastd/internal/engine"
	"github.com/nadmax/forecastd/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRead(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "results"))
	result := &engine.Result{
		Data:    engine.Series{Timestamps: []string{"t0"}, RealValues: []float64{0}, PredictedValues: []float64{0.1}},
		Metrics: task.Metrics{MSE: 0.01, DataPoints: 1},
	}

	path, err := store.Write(9, result)
	require.NoError(t, err)
	assert.Equal(t, "task_9_result.json", filepath.Base(path))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")

	got, err := store.Read(path)
	require.NoError(t, err)
	assert.Equal(t, result, got)
}

func TestRead_Missing(t *testing.T) {
	store := NewStore(t.TempDir())

	got, err := store.Read(filepath.Join(t.TempDir(), "absent.json"))

	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestRead_Corrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))

	_, err := NewStore(dir).Read(path)

	assert.Error(t, err)
}

func TestRemove(t *testing.T) {
	store := NewStore(t.TempDir())
	path, err := store.Write(1, &engine.Result{})
	require.NoError(t, err)

	require.NoError(t, store.Remove(path))
	assert.NoFileExists(t, path)
	assert.NoError(t, store.Remove(path))
}
