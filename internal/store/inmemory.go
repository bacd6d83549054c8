package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/examsift/grading-engine/internal/store/model"
)

// InMemoryStore implements Store over plain maps. It backs unit tests and the
// dev server; the durable deployment uses the gorm DataStore instead.
type InMemoryStore struct {
	mu          sync.RWMutex
	runs        map[uuid.UUID]model.Run
	events      map[uuid.UUID][]model.RunEvent
	checkpoints map[uuid.UUID]model.Checkpoint
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		runs:        make(map[uuid.UUID]model.Run),
		events:      make(map[uuid.UUID][]model.RunEvent),
		checkpoints: make(map[uuid.UUID]model.Checkpoint),
	}
}

func (s *InMemoryStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return ctx, nil
}

func (s *InMemoryStore) Run() Run               { return (*inMemoryRun)(s) }
func (s *InMemoryStore) Event() Event           { return (*inMemoryEvent)(s) }
func (s *InMemoryStore) Checkpoint() Checkpoint { return (*inMemoryCheckpoint)(s) }
func (s *InMemoryStore) Migrate() error         { return nil }
func (s *InMemoryStore) Close() error           { return nil }

type inMemoryRun InMemoryStore

var _ Run = (*inMemoryRun)(nil)

func (s *inMemoryRun) Create(_ context.Context, run model.Run) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return nil, ErrDuplicateKey
	}
	now := time.Now().UTC()
	run.CreatedAt, run.UpdatedAt = now, now
	s.runs[run.ID] = run
	out := run
	return &out, nil
}

func (s *inMemoryRun) Get(_ context.Context, id uuid.UUID) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	out := run
	return &out, nil
}

func (s *inMemoryRun) GetActiveByKey(_ context.Context, workflow, idempotencyKey string) (*model.Run, error) {
	if idempotencyKey == "" {
		return nil, ErrRecordNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *model.Run
	for _, run := range s.runs {
		if run.Workflow != workflow || run.IdempotencyKey != idempotencyKey || !run.Status.Active() {
			continue
		}
		if found == nil || run.CreatedAt.Before(found.CreatedAt) {
			r := run
			found = &r
		}
	}
	if found == nil {
		return nil, ErrRecordNotFound
	}
	return found, nil
}

func (s *inMemoryRun) Update(_ context.Context, run model.Run) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.runs[run.ID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cur.Status = run.Status
	cur.Output = run.Output
	cur.Error = run.Error
	cur.UpdatedAt = time.Now().UTC()
	s.runs[run.ID] = cur
	out := cur
	return &out, nil
}

func (s *inMemoryRun) UpdateStatus(_ context.Context, id uuid.UUID, from, to model.RunStatus, errorMessage string) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.runs[id]
	if !ok || cur.Status != from {
		return nil, ErrRecordNotFound
	}
	cur.Status = to
	if errorMessage != "" {
		cur.Error = errorMessage
	}
	cur.UpdatedAt = time.Now().UTC()
	s.runs[id] = cur
	out := cur
	return &out, nil
}

func (s *inMemoryRun) List(_ context.Context, statuses ...model.RunStatus) (model.RunList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var runs model.RunList
	for _, run := range s.runs {
		if len(statuses) > 0 {
			match := false
			for _, st := range statuses {
				if run.Status == st {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
	return runs, nil
}

type inMemoryEvent InMemoryStore

var _ Event = (*inMemoryEvent)(nil)

func (s *inMemoryEvent) Append(_ context.Context, event model.RunEvent) (*model.RunEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events[event.RunID] {
		if e.Sequence == event.Sequence {
			return nil, ErrDuplicateKey
		}
	}
	event.CreatedAt = time.Now().UTC()
	s.events[event.RunID] = append(s.events[event.RunID], event)
	out := event
	return &out, nil
}

func (s *inMemoryEvent) ListAfter(_ context.Context, runID uuid.UUID, afterSequence uint64, limit int) (model.RunEventList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var events model.RunEventList
	for _, e := range s.events[runID] {
		if e.Sequence > afterSequence {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Sequence < events[j].Sequence })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *inMemoryEvent) LastSequence(_ context.Context, runID uuid.UUID) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last uint64
	for _, e := range s.events[runID] {
		if e.Sequence > last {
			last = e.Sequence
		}
	}
	return last, nil
}

type inMemoryCheckpoint InMemoryStore

var _ Checkpoint = (*inMemoryCheckpoint)(nil)

func (s *inMemoryCheckpoint) Put(_ context.Context, checkpoint model.Checkpoint) (*model.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	checkpoint.UpdatedAt = time.Now().UTC()
	s.checkpoints[checkpoint.RunID] = checkpoint
	out := checkpoint
	return &out, nil
}

func (s *inMemoryCheckpoint) Get(_ context.Context, runID uuid.UUID) (*model.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	checkpoint, ok := s.checkpoints[runID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	out := checkpoint
	return &out, nil
}

func (s *inMemoryCheckpoint) Delete(_ context.Context, runID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, runID)
	return nil
}
