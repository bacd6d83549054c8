package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/examsift/grading-engine/internal/store/model"
)

type Run interface {
	Create(ctx context.Context, run model.Run) (*model.Run, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Run, error)
	GetActiveByKey(ctx context.Context, workflow, idempotencyKey string) (*model.Run, error)
	Update(ctx context.Context, run model.Run) (*model.Run, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.RunStatus, errorMessage string) (*model.Run, error)
	List(ctx context.Context, statuses ...model.RunStatus) (model.RunList, error)
}

type RunStore struct {
	db *gorm.DB
}

// Make sure we conform to Run interface
var _ Run = (*RunStore)(nil)

func NewRunStore(db *gorm.DB) Run {
	return &RunStore{db: db}
}

func (s *RunStore) Create(ctx context.Context, run model.Run) (*model.Run, error) {
	result := s.getDB(ctx).Clauses(clause.Returning{}).Create(&run)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating run: %w", result.Error)
	}
	return &run, nil
}

func (s *RunStore) Get(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	var run model.Run
	result := s.getDB(ctx).First(&run, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying run: %w", result.Error)
	}
	return &run, nil
}

func (s *RunStore) GetActiveByKey(ctx context.Context, workflow, idempotencyKey string) (*model.Run, error) {
	if idempotencyKey == "" {
		return nil, ErrRecordNotFound
	}
	var run model.Run
	result := s.getDB(ctx).
		Where("workflow = ? AND idempotency_key = ? AND status IN ?",
			workflow, idempotencyKey,
			[]model.RunStatus{model.RunStatusPending, model.RunStatusRunning, model.RunStatusPaused}).
		Order("created_at ASC").
		First(&run)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying run by idempotency key: %w", result.Error)
	}
	return &run, nil
}

func (s *RunStore) Update(ctx context.Context, run model.Run) (*model.Run, error) {
	result := s.getDB(ctx).Model(&model.Run{}).
		Where("id = ?", run.ID).
		Updates(map[string]any{
			"status": run.Status,
			"output": run.Output,
			"error":  run.Error,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("updating run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return s.Get(ctx, run.ID)
}

// UpdateStatus performs a compare-and-swap on the status column so concurrent
// transitions cannot race past the state machine.
func (s *RunStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to model.RunStatus, errorMessage string) (*model.Run, error) {
	updates := map[string]any{"status": to}
	if errorMessage != "" {
		updates["error"] = errorMessage
	}
	result := s.getDB(ctx).Model(&model.Run{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("updating run status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return s.Get(ctx, id)
}

func (s *RunStore) List(ctx context.Context, statuses ...model.RunStatus) (model.RunList, error) {
	var runs model.RunList
	tx := s.getDB(ctx).Model(&runs).Order("created_at ASC")
	if len(statuses) > 0 {
		tx = tx.Where("status IN ?", statuses)
	}
	if result := tx.Find(&runs); result.Error != nil {
		return nil, result.Error
	}
	return runs, nil
}

func (s *RunStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
