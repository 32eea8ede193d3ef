package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/nadmax/forecastd/internal/apperr"
	"github.com/nadmax/forecastd/internal/datafile"
	"github.com/nadmax/forecastd/internal/policy"
	"github.com/nadmax/forecastd/internal/repository"
	"github.com/nadmax/forecastd/internal/repository/models"
	"go.uber.org/zap"
	"gopkg.in/guregu/null.v3"
)

func (s *Service) ListDatasets(ctx context.Context, filter repository.DatasetFilter) (*Page[models.Dataset], error) {
	filter.Pagination = filter.Pagination.Normalize()

	items, total, err := s.store.Datasets().List(ctx, filter)
	if err != nil {
		return nil, apperr.StoreFailure("failed to list datasets", err)
	}
	return newPage(items, total, filter.Pagination), nil
}

type DatasetDetail struct {
	Dataset *models.Dataset
	Preview []map[string]any
}

// GetDataset returns a dataset with the first rows of its file. An
// unreadable file yields an empty preview rather than an error.
func (s *Service) GetDataset(ctx context.Context, id int64) (*DatasetDetail, error) {
	ds, err := s.dataset(ctx, id)
	if err != nil {
		return nil, err
	}

	preview, err := datafile.Preview(ds.FilePath, previewRows)
	if err != nil {
		s.logger.Warn("failed to read dataset preview", zap.Int64("dataset_id", id), zap.Error(err))
		preview = []map[string]any{}
	}
	return &DatasetDetail{Dataset: ds, Preview: preview}, nil
}

func (s *Service) dataset(ctx context.Context, id int64) (*models.Dataset, error) {
	ds, err := s.store.Datasets().Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("dataset not found")
	}
	if err != nil {
		return nil, apperr.StoreFailure("failed to load dataset", err)
	}
	return ds, nil
}

type UploadInput struct {
	Name        string
	Description string
	Category    string
	Filename    string
	Body        io.Reader
}

// UploadDataset stores a CSV file and registers it as a dataset owned by
// the caller. The file is removed again if it cannot be parsed or saved.
func (s *Service) UploadDataset(ctx context.Context, subject policy.Subject, in UploadInput) (*models.Dataset, error) {
	if err := policy.Check(subject, policy.RequireAuth()); err != nil {
		return nil, err
	}
	if in.Filename == "" || in.Body == nil {
		return nil, apperr.Validation("no file provided")
	}

	path, err := s.files.Save(in.Filename, in.Body)
	if errors.Is(err, datafile.ErrNotCSV) {
		return nil, apperr.Validation(err.Error())
	}
	if err != nil {
		return nil, apperr.StoreFailure("failed to store dataset file", err)
	}

	shape, err := datafile.ParseShape(path)
	if err != nil {
		s.removeFile(path)
		return nil, apperr.Validation(fmt.Sprintf("failed to parse CSV file: %v", err))
	}

	ds := &models.Dataset{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Category:    in.Category,
		FilePath:    path,
		Rows:        shape.Rows,
		Columns:     shape.Columns,
		TimeColumn:  null.NewString(shape.TimeColumn, shape.TimeColumn != ""),
		ValueColumn: null.NewString(shape.ValueColumn, shape.ValueColumn != ""),
		OwnerID:     subject.UserID(),
		CreatedAt:   s.now().UTC(),
	}
	if ds.Name == "" {
		ds.Name = filepath.Base(in.Filename)
	}
	if ds.Category == "" {
		ds.Category = DefaultCategory
	}

	if err := s.store.Datasets().Create(ctx, ds); err != nil {
		s.removeFile(path)
		return nil, apperr.StoreFailure("failed to save dataset", err)
	}

	s.audit.Record(ctx, models.LevelInfo, fmt.Sprintf("uploaded dataset: %s", ds.Name), "dataset.create_dataset", subject.UserID())
	s.logger.Info("dataset uploaded", zap.Int64("dataset_id", ds.ID), zap.Int("rows", ds.Rows))
	return ds, nil
}

// DeleteDataset removes a dataset and detaches its tasks. Preset datasets
// need an admin; uploads need their owner or an admin. Preset files stay on
// disk.
func (s *Service) DeleteDataset(ctx context.Context, subject policy.Subject, id int64) error {
	if err := policy.Check(subject, policy.RequireAuth()); err != nil {
		return err
	}
	ds, err := s.dataset(ctx, id)
	if err != nil {
		return err
	}

	p := policy.RequireOwnerOrAdmin(ds.OwnerID)
	if ds.IsPreset {
		p = policy.RequireAdmin()
	}
	if err := policy.Check(subject, p); err != nil {
		if ds.IsPreset {
			return apperr.Forbidden(apperr.ReasonPreset, "preset datasets can only be deleted by an admin")
		}
		return err
	}

	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Tasks().ClearDataset(ctx, id); err != nil {
			return err
		}
		return tx.Datasets().Delete(ctx, id)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("dataset not found")
	}
	if err != nil {
		return apperr.StoreFailure("failed to delete dataset", err)
	}

	if !ds.IsPreset {
		s.removeFile(ds.FilePath)
	}
	s.audit.Record(ctx, models.LevelInfo, fmt.Sprintf("deleted dataset: %s", ds.Name), "dataset.delete_dataset", subject.UserID())
	return nil
}

func (s *Service) removeFile(path string) {
	if err := datafile.Remove(path); err != nil {
		s.logger.Warn("failed to remove dataset file", zap.String("path", path), zap.Error(err))
	}
}
