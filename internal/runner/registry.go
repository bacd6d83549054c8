package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/examsift/grading-engine/internal/store"
	"github.com/examsift/grading-engine/internal/store/model"
)

// ErrIllegalTransition is returned when a requested status change is not
// permitted by the run state machine.
var ErrIllegalTransition = errors.New("illegal run status transition")

// legal transitions; terminal states are final.
var transitions = map[model.RunStatus][]model.RunStatus{
	model.RunStatusPending: {model.RunStatusRunning, model.RunStatusCancelled},
	model.RunStatusRunning: {model.RunStatusPaused, model.RunStatusCompleted, model.RunStatusFailed, model.RunStatusCancelled},
	model.RunStatusPaused:  {model.RunStatusRunning, model.RunStatusCancelled},
}

// CanTransition reports whether from → to is legal.
func CanTransition(from, to model.RunStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Registry owns run records and enforces the state machine on every status
// change.
type Registry struct {
	store store.Store
}

func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s}
}

// Create registers a new pending run, or returns the existing one unchanged
// when an active run already holds the idempotency key.
func (r *Registry) Create(ctx context.Context, workflow string, input []byte, idempotencyKey string) (*model.Run, bool, error) {
	if existing, err := r.store.Run().GetActiveByKey(ctx, workflow, idempotencyKey); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, store.ErrRecordNotFound) {
		return nil, false, err
	}

	run, err := r.store.Run().Create(ctx, model.Run{
		ID:             uuid.New(),
		Workflow:       workflow,
		Status:         model.RunStatusPending,
		IdempotencyKey: idempotencyKey,
		Input:          input,
	})
	if err != nil {
		return nil, false, err
	}
	return run, true, nil
}

func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	return r.store.Run().Get(ctx, id)
}

// Transition moves a run from → to after validating the state machine. The
// underlying update is a compare-and-swap, so a concurrent transition makes
// this return store.ErrRecordNotFound rather than overwrite.
func (r *Registry) Transition(ctx context.Context, id uuid.UUID, from, to model.RunStatus, errorMessage string) (*model.Run, error) {
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return r.store.Run().UpdateStatus(ctx, id, from, to, errorMessage)
}
