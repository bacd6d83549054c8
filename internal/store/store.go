package store

import (
	"context"

	"github.com/examsift/grading-engine/internal/store/model"
	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Run() Run
	Event() Event
	Checkpoint() Checkpoint
	Migrate() error
	Close() error
}

type DataStore struct {
	db         *gorm.DB
	run        Run
	event      Event
	checkpoint Checkpoint
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:         db,
		run:        NewRunStore(db),
		event:      NewEventStore(db),
		checkpoint: NewCheckpointStore(db),
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Run() Run {
	return s.run
}

func (s *DataStore) Event() Event {
	return s.event
}

func (s *DataStore) Checkpoint() Checkpoint {
	return s.checkpoint
}

// Migrate creates the schema directly from the models. The postgres deployment
// runs the goose migrations instead; this path serves sqlite and dev setups.
func (s *DataStore) Migrate() error {
	return s.db.AutoMigrate(&model.Run{}, &model.RunEvent{}, &model.Checkpoint{})
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
