// Package datafile stores uploaded CSV datasets on disk and reads them back
// as tables.
package datafile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotCSV   = errors.New("only CSV files are supported")
	ErrNoHeader = errors.New("csv file has no header row")
)

// Shape describes a dataset file. The first column is taken as the time
// column and the second, when present, as the value column.
type Shape struct {
	Rows        int
	Columns     int
	TimeColumn  string
	ValueColumn string
}

type Table struct {
	Header  []string
	Records [][]string
}

func (t *Table) Len() int {
	return len(t.Records)
}

// Column returns the values of column i, or nil when i is out of range.
func (t *Table) Column(i int) []string {
	if i < 0 || i >= len(t.Header) {
		return nil
	}
	out := make([]string, 0, len(t.Records))
	for _, rec := range t.Records {
		if i < len(rec) {
			out = append(out, rec[i])
		} else {
			out = append(out, "")
		}
	}
	return out
}

type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Contains reports whether path names a file directly inside the store.
func (s *Store) Contains(path string) bool {
	if path == "" {
		return false
	}
	dir, err := filepath.Abs(s.dir)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == dir
}

// Save copies r into the store under a unique name derived from filename.
// Only .csv files are accepted.
func (s *Store) Save(filename string, r io.Reader) (string, error) {
	base := filepath.Base(filename)
	if !strings.EqualFold(filepath.Ext(base), ".csv") {
		return "", ErrNotCSV
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", s.dir, err)
	}

	name := fmt.Sprintf("%s_%s_%s", s.now().UTC().Format("20060102150405"), uuid.NewString()[:8], base)
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	return path, nil
}

// Remove deletes path. A missing file is not an error.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func ReadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv header: %w", err)
	}

	table := &Table{Header: header}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse csv: %w", err)
		}
		table.Records = append(table.Records, rec)
	}
	return table, nil
}

func ParseShape(path string) (Shape, error) {
	table, err := ReadTable(path)
	if err != nil {
		return Shape{}, err
	}

	shape := Shape{
		Rows:       table.Len(),
		Columns:    len(table.Header),
		TimeColumn: table.Header[0],
	}
	if len(table.Header) > 1 {
		shape.ValueColumn = table.Header[1]
	}
	return shape, nil
}

// Preview returns up to limit records keyed by header name. Numeric cells
// are returned as numbers.
func Preview(path string, limit int) ([]map[string]any, error) {
	table, err := ReadTable(path)
	if err != nil {
		return nil, err
	}

	n := min(limit, table.Len())
	rows := make([]map[string]any, 0, n)
	for _, rec := range table.Records[:n] {
		row := make(map[string]any, len(table.Header))
		for i, col := range table.Header {
			if i >= len(rec) {
				row[col] = nil
				continue
			}
			row[col] = cell(rec[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func cell(v string) any {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
