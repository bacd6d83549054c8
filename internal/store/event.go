package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/examsift/grading-engine/internal/store/model"
)

type Event interface {
	Append(ctx context.Context, event model.RunEvent) (*model.RunEvent, error)
	ListAfter(ctx context.Context, runID uuid.UUID, afterSequence uint64, limit int) (model.RunEventList, error)
	LastSequence(ctx context.Context, runID uuid.UUID) (uint64, error)
}

type EventStore struct {
	db *gorm.DB
}

// Make sure we conform to Event interface
var _ Event = (*EventStore)(nil)

func NewEventStore(db *gorm.DB) Event {
	return &EventStore{db: db}
}

func (s *EventStore) Append(ctx context.Context, event model.RunEvent) (*model.RunEvent, error) {
	result := s.getDB(ctx).Create(&event)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("appending run event: %w", result.Error)
	}
	return &event, nil
}

func (s *EventStore) ListAfter(ctx context.Context, runID uuid.UUID, afterSequence uint64, limit int) (model.RunEventList, error) {
	var events model.RunEventList
	tx := s.getDB(ctx).
		Where("run_id = ? AND sequence > ?", runID, afterSequence).
		Order("sequence ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if result := tx.Find(&events); result.Error != nil {
		return nil, fmt.Errorf("querying run events: %w", result.Error)
	}
	return events, nil
}

func (s *EventStore) LastSequence(ctx context.Context, runID uuid.UUID) (uint64, error) {
	var seq *uint64
	result := s.getDB(ctx).Model(&model.RunEvent{}).
		Where("run_id = ?", runID).
		Select("MAX(sequence)").
		Scan(&seq)
	if result.Error != nil {
		return 0, fmt.Errorf("querying last sequence: %w", result.Error)
	}
	if seq == nil {
		return 0, nil
	}
	return *seq, nil
}

func (s *EventStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
