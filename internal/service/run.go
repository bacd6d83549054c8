package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/examsift/grading-engine/internal/events"
	"github.com/examsift/grading-engine/internal/runner"
	"github.com/examsift/grading-engine/internal/store"
	"github.com/examsift/grading-engine/internal/store/model"
)

type RunService struct {
	store    store.Store
	registry *runner.Registry
	driver   *runner.Driver
	bus      *events.Bus
	logger   *zap.SugaredLogger
}

func NewRunService(s store.Store, registry *runner.Registry, driver *runner.Driver, bus *events.Bus) *RunService {
	return &RunService{
		store:    s,
		registry: registry,
		driver:   driver,
		bus:      bus,
		logger:   zap.S().Named("run_service"),
	}
}

// RunCreateForm is the validated submission of a new run.
type RunCreateForm struct {
	Workflow       string
	Input          json.RawMessage
	IdempotencyKey string
}

// RunState is the latest accumulated state of a run. For a live run it comes
// from the checkpoint; once the checkpoint is gone it falls back to the
// persisted output.
type RunState struct {
	RunID      uuid.UUID       `json:"run_id"`
	Status     model.RunStatus `json:"status"`
	StageIndex int             `json:"stage_index"`
	State      json.RawMessage `json:"state,omitempty"`
	Interrupt  json.RawMessage `json:"interrupt,omitempty"`
}

// RunProgress reports how far a run has advanced through its workflow stages.
type RunProgress struct {
	StagesCompleted int `json:"stages_completed"`
	StageCount      int `json:"stage_count"`
}

// CreateRun registers and launches a run. When the idempotency key matches an
// active run, that run is returned and nothing is launched.
func (rs *RunService) CreateRun(ctx context.Context, form RunCreateForm) (*model.Run, bool, error) {
	if _, ok := rs.driver.Workflow(form.Workflow); !ok {
		return nil, false, NewErrUnknownWorkflow(form.Workflow)
	}

	run, created, err := rs.registry.Create(ctx, form.Workflow, form.Input, form.IdempotencyKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create run: %w", err)
	}
	if !created {
		rs.logger.Infow("idempotent create returned existing run", "run_id", run.ID, "key", form.IdempotencyKey)
		return run, false, nil
	}

	rs.driver.Start(run.ID)
	rs.logger.Infow("run submitted", "run_id", run.ID, "workflow", form.Workflow)
	return run, true, nil
}

func (rs *RunService) GetRun(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	run, err := rs.registry.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrRunNotFound(id)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetRunProgress derives stage progress for a run. Completed runs report the
// full stage count; live runs read the checkpoint, which records how many
// stages have finished.
func (rs *RunService) GetRunProgress(ctx context.Context, run *model.Run) (*RunProgress, error) {
	progress := &RunProgress{}
	if workflow, ok := rs.driver.Workflow(run.Workflow); ok {
		progress.StageCount = len(workflow.Stages)
	}

	switch run.Status {
	case model.RunStatusCompleted:
		progress.StagesCompleted = progress.StageCount
	case model.RunStatusPending:
	default:
		checkpoint, err := rs.store.Checkpoint().Get(ctx, run.ID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return progress, nil
			}
			return nil, fmt.Errorf("failed to get checkpoint: %w", err)
		}
		progress.StagesCompleted = checkpoint.StageIndex
	}
	return progress, nil
}

func (rs *RunService) ListRuns(ctx context.Context, statuses ...model.RunStatus) (model.RunList, error) {
	runs, err := rs.store.Run().List(ctx, statuses...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// GetRunState reads the run's accumulated state, preferring the live
// checkpoint over the persisted output.
func (rs *RunService) GetRunState(ctx context.Context, id uuid.UUID) (*RunState, error) {
	run, err := rs.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}

	cp, err := rs.store.Checkpoint().Get(ctx, id)
	if err == nil {
		return &RunState{
			RunID:      run.ID,
			Status:     run.Status,
			StageIndex: cp.StageIndex,
			State:      json.RawMessage(cp.State),
			Interrupt:  json.RawMessage(cp.Interrupt),
		}, nil
	}
	if !errors.Is(err, store.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	return &RunState{
		RunID:  run.ID,
		Status: run.Status,
		State:  json.RawMessage(run.Output),
	}, nil
}

// GetRunOutput returns the final output snapshot of a completed run.
func (rs *RunService) GetRunOutput(ctx context.Context, id uuid.UUID) (json.RawMessage, error) {
	run, err := rs.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status != model.RunStatusCompleted {
		return nil, NewErrRunNotCompleted(id, string(run.Status))
	}
	return json.RawMessage(run.Output), nil
}

// CancelRun marks the run cancelled and signals its execution to stop. The
// signal is best-effort; in-flight work finishes in the background and its
// output is discarded.
func (rs *RunService) CancelRun(ctx context.Context, id uuid.UUID) (bool, error) {
	if _, err := rs.GetRun(ctx, id); err != nil {
		return false, err
	}
	cancelled := rs.driver.Cancel(ctx, id)
	rs.logger.Infow("run cancellation requested", "run_id", id, "cancelled", cancelled)
	return cancelled, nil
}

// RetryRun re-submits a finished run's original input as a brand-new run. The
// original run is never mutated.
func (rs *RunService) RetryRun(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	run, err := rs.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if !run.Status.Terminal() {
		return nil, NewErrRunNotTerminal(id, string(run.Status))
	}

	fresh, _, err := rs.registry.Create(ctx, run.Workflow, run.Input, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create retry run: %w", err)
	}
	rs.driver.Start(fresh.ID)
	rs.logger.Infow("run retried", "run_id", id, "new_run_id", fresh.ID)
	return fresh, nil
}

// SendEvent satisfies a paused run's pending interrupt and resumes it. The
// token must match the interrupt recorded in the checkpoint.
func (rs *RunService) SendEvent(ctx context.Context, id uuid.UUID, token string, payload map[string]any) error {
	run, err := rs.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if run.Status != model.RunStatusPaused {
		return NewErrRunNotPaused(id, string(run.Status))
	}

	cp, err := rs.store.Checkpoint().Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get checkpoint: %w", err)
	}
	var intr runner.Interrupt
	if len(cp.Interrupt) > 0 {
		if err := json.Unmarshal(cp.Interrupt, &intr); err != nil {
			return fmt.Errorf("failed to decode pending interrupt: %w", err)
		}
	}
	if token != "" && intr.Token != "" && token != intr.Token {
		return NewErrInterruptMismatch(id, token, intr.Token)
	}

	rs.driver.Resume(id, payload)
	rs.logger.Infow("run resumed", "run_id", id, "token", intr.Token)
	return nil
}

// WatchEvents streams the run's events starting strictly after the given
// sequence. The stream ends only on the end-of-stream marker or context end.
func (rs *RunService) WatchEvents(ctx context.Context, id uuid.UUID, afterSequence uint64) (*events.Watcher, error) {
	if _, err := rs.GetRun(ctx, id); err != nil {
		return nil, err
	}
	return rs.bus.Watch(ctx, id, afterSequence), nil
}

// ListEvents reads a page of the durable event log.
func (rs *RunService) ListEvents(ctx context.Context, id uuid.UUID, afterSequence uint64, limit int) ([]events.Event, error) {
	if _, err := rs.GetRun(ctx, id); err != nil {
		return nil, err
	}
	stored, err := rs.store.Event().ListAfter(ctx, id, afterSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	out := make([]events.Event, 0, len(stored))
	for _, m := range stored {
		out = append(out, events.FromModel(m))
	}
	return out, nil
}
