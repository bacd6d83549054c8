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

type Checkpoint interface {
	Put(ctx context.Context, checkpoint model.Checkpoint) (*model.Checkpoint, error)
	Get(ctx context.Context, runID uuid.UUID) (*model.Checkpoint, error)
	Delete(ctx context.Context, runID uuid.UUID) error
}

type CheckpointStore struct {
	db *gorm.DB
}

// Make sure we conform to Checkpoint interface
var _ Checkpoint = (*CheckpointStore)(nil)

func NewCheckpointStore(db *gorm.DB) Checkpoint {
	return &CheckpointStore{db: db}
}

// Put upserts the checkpoint for the run; a run has at most one.
func (s *CheckpointStore) Put(ctx context.Context, checkpoint model.Checkpoint) (*model.Checkpoint, error) {
	result := s.getDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"stage_index", "state", "interrupt", "updated_at"}),
	}).Create(&checkpoint)
	if result.Error != nil {
		return nil, fmt.Errorf("writing checkpoint: %w", result.Error)
	}
	return &checkpoint, nil
}

func (s *CheckpointStore) Get(ctx context.Context, runID uuid.UUID) (*model.Checkpoint, error) {
	var checkpoint model.Checkpoint
	result := s.getDB(ctx).First(&checkpoint, "run_id = ?", runID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying checkpoint: %w", result.Error)
	}
	return &checkpoint, nil
}

func (s *CheckpointStore) Delete(ctx context.Context, runID uuid.UUID) error {
	result := s.getDB(ctx).Delete(&model.Checkpoint{}, "run_id = ?", runID)
	if result.Error != nil {
		return fmt.Errorf("deleting checkpoint: %w", result.Error)
	}
	return nil
}

func (s *CheckpointStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
