package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nadmax/forecastd/internal/apperr"
	"github.com/nadmax/forecastd/internal/policy"
	"github.com/nadmax/forecastd/internal/repository"
	"github.com/nadmax/forecastd/internal/repository/models"
	"github.com/nadmax/forecastd/internal/task"
	"go.uber.org/zap"
)

func (s *Service) ListModels(ctx context.Context, filter repository.ModelFilter) (*Page[models.Model], error) {
	filter.Pagination = filter.Pagination.Normalize()

	items, total, err := s.store.Models().List(ctx, filter)
	if err != nil {
		return nil, apperr.StoreFailure("failed to list models", err)
	}
	return newPage(items, total, filter.Pagination), nil
}

func (s *Service) GetModel(ctx context.Context, id int64) (*models.Model, error) {
	m, err := s.store.Models().Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("model not found")
	}
	if err != nil {
		return nil, apperr.StoreFailure("failed to load model", err)
	}
	return m, nil
}

func (s *Service) ModelTypes(ctx context.Context) ([]string, error) {
	types, err := s.store.Models().Types(ctx)
	if err != nil {
		return nil, apperr.StoreFailure("failed to list model types", err)
	}
	return types, nil
}

type ModelInput struct {
	Name          string
	Description   string
	ModelType     string
	DefaultParams task.Params
}

func (s *Service) CreateModel(ctx context.Context, subject policy.Subject, in ModelInput) (*models.Model, error) {
	if err := policy.Check(subject, policy.RequireAdmin()); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.ModelType = strings.TrimSpace(in.ModelType)
	if in.Name == "" || in.ModelType == "" {
		return nil, apperr.Validation("name and model_type are required")
	}
	if in.DefaultParams == nil {
		in.DefaultParams = task.Params{}
	}

	m := &models.Model{
		Name:          in.Name,
		Description:   in.Description,
		ModelType:     in.ModelType,
		DefaultParams: in.DefaultParams,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.Models().Create(ctx, m); err != nil {
		return nil, apperr.StoreFailure("failed to create model", err)
	}

	s.audit.Record(ctx, models.LevelInfo, fmt.Sprintf("created model: %s", m.Name), "model.create_model", subject.UserID())
	s.logger.Info("model created", zap.Int64("model_id", m.ID), zap.String("model_type", m.ModelType))
	return m, nil
}

// ModelPatch holds the updatable model fields. Nil fields are left as is;
// the model type is fixed at creation.
type ModelPatch struct {
	Name          *string
	Description   *string
	DefaultParams task.Params
}

func (s *Service) UpdateModel(ctx context.Context, subject policy.Subject, id int64, patch ModelPatch) (*models.Model, error) {
	if err := policy.Check(subject, policy.RequireAdmin()); err != nil {
		return nil, err
	}
	m, err := s.GetModel(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, apperr.Validation("name cannot be empty")
		}
		m.Name = name
	}
	if patch.Description != nil {
		m.Description = *patch.Description
	}
	if patch.DefaultParams != nil {
		m.DefaultParams = patch.DefaultParams
	}

	if err := s.store.Models().Update(ctx, m); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("model not found")
		}
		return nil, apperr.StoreFailure("failed to update model", err)
	}

	s.audit.Record(ctx, models.LevelInfo, fmt.Sprintf("updated model: %s", m.Name), "model.update_model", subject.UserID())
	return m, nil
}

// DeleteModel removes a model and detaches its tasks in one transaction.
func (s *Service) DeleteModel(ctx context.Context, subject policy.Subject, id int64) error {
	if err := policy.Check(subject, policy.RequireAdmin()); err != nil {
		return err
	}
	m, err := s.GetModel(ctx, id)
	if err != nil {
		return err
	}

	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Tasks().ClearModel(ctx, id); err != nil {
			return err
		}
		return tx.Models().Delete(ctx, id)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("model not found")
	}
	if err != nil {
		return apperr.StoreFailure("failed to delete model", err)
	}

	s.audit.Record(ctx, models.LevelInfo, fmt.Sprintf("deleted model: %s", m.Name), "model.delete_model", subject.UserID())
	return nil
}
