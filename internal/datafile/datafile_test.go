package datafile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `date,OT,HUFL
2016-07-01 00:00:00,30.5,5.8
2016-07-01 01:00:00,27.8,5.7
2016-07-01 02:00:00,27.7,5.1
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestStoreSave(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "uploads"))
	store.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }

	path, err := store.Save("../../etc/electricity.csv", strings.NewReader(sample))

	require.NoError(t, err)
	assert.True(t, store.Contains(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "20240301100000_"))
	assert.True(t, strings.HasSuffix(path, "_electricity.csv"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sample, string(data))
}

func TestStoreSave_RejectsNonCSV(t *testing.T) {
	store := NewStore(t.TempDir())

	_, err := store.Save("data.xlsx", strings.NewReader("x"))

	assert.ErrorIs(t, err, ErrNotCSV)
}

func TestParseShape(t *testing.T) {
	t.Run("time and value columns", func(t *testing.T) {
		shape, err := ParseShape(writeFile(t, sample))
		require.NoError(t, err)
		assert.Equal(t, Shape{Rows: 3, Columns: 3, TimeColumn: "date", ValueColumn: "OT"}, shape)
	})

	t.Run("single column", func(t *testing.T) {
		shape, err := ParseShape(writeFile(t, "ts\n1\n2\n"))
		require.NoError(t, err)
		assert.Equal(t, "ts", shape.TimeColumn)
		assert.Empty(t, shape.ValueColumn)
		assert.Equal(t, 2, shape.Rows)
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := ParseShape(writeFile(t, ""))
		assert.ErrorIs(t, err, ErrNoHeader)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ParseShape(filepath.Join(t.TempDir(), "absent.csv"))
		assert.Error(t, err)
	})
}

func TestPreview(t *testing.T) {
	rows, err := Preview(writeFile(t, sample), 2)

	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2016-07-01 00:00:00", rows[0]["date"])
	assert.Equal(t, 30.5, rows[0]["OT"])
	assert.Equal(t, 5.7, rows[1]["HUFL"])
}

func TestTableColumn(t *testing.T) {
	table, err := ReadTable(writeFile(t, sample))
	require.NoError(t, err)

	assert.Equal(t, []string{"30.5", "27.8", "27.7"}, table.Column(1))
	assert.Nil(t, table.Column(5))
}

func TestStoreContains(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	assert.True(t, store.Contains(filepath.Join(dir, "upload.csv")))
	assert.False(t, store.Contains(filepath.Join(dir, "nested", "upload.csv")))
	assert.False(t, store.Contains(filepath.Join(t.TempDir(), "upload.csv")))
	assert.False(t, store.Contains(""))
}

func TestRemove(t *testing.T) {
	path := writeFile(t, sample)

	require.NoError(t, Remove(path))
	assert.NoFileExists(t, path)
	assert.NoError(t, Remove(path))
	assert.NoError(t, Remove(""))
}
