package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/examsift/grading-engine/internal/events"
	"github.com/examsift/grading-engine/internal/store"
	"github.com/examsift/grading-engine/internal/store/model"
	"github.com/examsift/grading-engine/pkg/metrics"
)

const progressKind = events.KindStageProgress

// Driver advances runs stage-by-stage under the governor's admission control,
// merges stage outputs into accumulated state, emits events and persists
// checkpoints. It is the sole producer on the event bus.
type Driver struct {
	store     store.Store
	registry  *Registry
	governor  *Governor
	bus       *events.Bus
	workflows map[string]*Workflow

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

func NewDriver(s store.Store, registry *Registry, governor *Governor, bus *events.Bus) *Driver {
	return &Driver{
		store:     s,
		registry:  registry,
		governor:  governor,
		bus:       bus,
		workflows: make(map[string]*Workflow),
		cancels:   make(map[uuid.UUID]context.CancelFunc),
	}
}

// Register adds a workflow definition.
func (d *Driver) Register(w *Workflow) {
	d.workflows[w.Name] = w
}

// Workflow returns the registered definition, if any.
func (d *Driver) Workflow(name string) (*Workflow, bool) {
	w, ok := d.workflows[name]
	return w, ok
}

// Start launches the run's execution. The goroutine first waits for a global
// run slot, so an excess run simply stays pending.
func (d *Driver) Start(runID uuid.UUID) {
	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancels[runID] = cancel
	d.mu.Unlock()

	go func() {
		defer d.forget(runID)
		d.execute(ctx, runID, nil)
	}()
}

// Resume continues a paused run with the supplied external input. Execution
// restarts from the last checkpoint; earlier stages never replay.
func (d *Driver) Resume(runID uuid.UUID, input map[string]any) {
	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancels[runID] = cancel
	d.mu.Unlock()

	go func() {
		defer d.forget(runID)
		d.execute(ctx, runID, input)
	}()
}

// Cancel is best-effort: it marks the run cancelled immediately and signals
// the underlying execution to stop. In-flight grading calls are not guaranteed
// to halt; their late output is discarded.
func (d *Driver) Cancel(ctx context.Context, runID uuid.UUID) bool {
	for attempt := 0; attempt < 2; attempt++ {
		run, err := d.registry.Get(ctx, runID)
		if err != nil || run.Status.Terminal() {
			return false
		}
		if _, err := d.registry.Transition(ctx, runID, run.Status, model.RunStatusCancelled, ""); err != nil {
			// a concurrent transition moved the run; re-read and retry once
			continue
		}

		d.mu.Lock()
		if cancel, ok := d.cancels[runID]; ok {
			cancel()
		}
		d.mu.Unlock()

		metrics.ObserveRunStatus(string(model.RunStatusCancelled))
		if _, err := d.bus.Publish(ctx, runID, events.KindRunFinished, "", map[string]any{"status": model.RunStatusCancelled}); err != nil {
			zap.S().Named("driver").Errorw("failed to publish cancellation marker", "run_id", runID, "error", err)
		}
		return true
	}
	return false
}

func (d *Driver) forget(runID uuid.UUID) {
	d.mu.Lock()
	delete(d.cancels, runID)
	d.mu.Unlock()
}

func (d *Driver) execute(ctx context.Context, runID uuid.UUID, resumeInput map[string]any) {
	log := zap.S().Named("driver").With("run_id", runID)

	if err := d.governor.AcquireRunSlot(ctx); err != nil {
		// cancelled while queued; the canceller already marked the run
		log.Infow("run left admission queue", "error", err)
		return
	}
	defer d.governor.ReleaseRunSlot()

	run, err := d.registry.Get(ctx, runID)
	if err != nil {
		log.Errorw("failed to load run", "error", err)
		return
	}
	if run.Status.Terminal() {
		return
	}

	resuming := run.Status == model.RunStatusPaused
	if _, err := d.registry.Transition(ctx, runID, run.Status, model.RunStatusRunning, ""); err != nil {
		// lost the race against a cancellation
		log.Infow("run not admitted", "error", err)
		return
	}
	metrics.ObserveRunStatus(string(model.RunStatusRunning))

	wf, ok := d.workflows[run.Workflow]
	if !ok {
		d.fail(run, fmt.Sprintf("unknown workflow %q", run.Workflow))
		return
	}

	state, stageIdx, pendingIntr, err := d.loadCheckpoint(ctx, runID)
	if err != nil {
		d.fail(run, pkgerrors.Wrap(err, "loading checkpoint").Error())
		return
	}

	startKind := events.KindRunStarted
	if resuming {
		startKind = events.KindRunResumed
	}
	d.publish(runID, startKind, "", map[string]any{"workflow": run.Workflow, "stage_index": stageIdx})

	var input map[string]any
	if len(run.Input) > 0 {
		if err := json.Unmarshal(run.Input, &input); err != nil {
			d.fail(run, pkgerrors.Wrap(err, "decoding input snapshot").Error())
			return
		}
	}

	limiter := d.governor.GradingLimiter(run.Workflow)

	for i := stageIdx; i < len(wf.Stages); i++ {
		stage := wf.Stages[i]
		midStageResume := resuming && i == stageIdx && pendingIntr != nil

		sc := &StageContext{
			RunID:    runID,
			Workflow: run.Workflow,
			Stage:    stage.Name(),
			input:    input,
			state:    state,
			limiter:  limiter,
			log:      log.With("stage", stage.Name()),
			emit: func(kind string, payload any) {
				d.publish(runID, kind, stage.Name(), payload)
			},
		}
		if midStageResume {
			sc.Resume = resumeInput
		} else {
			// a fresh pass over the stage; announce it
			d.publish(runID, events.KindStageStarted, stage.Name(), map[string]any{"stage_index": i})
		}

		timer := metrics.NewStageTimer(run.Workflow, stage.Name())
		out, stageErr := stage.Execute(ctx, sc)
		timer.ObserveDuration()

		if d.discarded(ctx, runID) {
			// cancelled mid-stage: late output is discardable
			log.Infow("discarding output of cancelled run", "stage", stage.Name())
			return
		}
		if stageErr != nil {
			d.publish(runID, events.KindStageFailed, stage.Name(), map[string]any{"error": stageErr.Error()})
			d.fail(run, stageErr.Error())
			return
		}

		if err := applyDeltas(state, out.Deltas); err != nil {
			d.fail(run, err.Error())
			return
		}

		// Pause detection is deliberately two-path: the explicit interrupt
		// marker in the stage output, or a leftover unresolved continuation
		// when that marker was dropped. Either alone suffices.
		intr := out.Interrupt
		if intr == nil {
			intr = sc.pendingInterrupt()
		}
		if intr != nil {
			if err := d.saveCheckpoint(ctx, runID, i, state, intr); err != nil {
				d.fail(run, pkgerrors.Wrap(err, "persisting pause checkpoint").Error())
				return
			}
			if _, err := d.registry.Transition(ctx, runID, model.RunStatusRunning, model.RunStatusPaused, ""); err != nil {
				log.Errorw("failed to pause run", "error", err)
				return
			}
			metrics.ObserveRunStatus(string(model.RunStatusPaused))
			// no end-of-stream marker: consumers keep waiting through the pause
			d.publish(runID, events.KindRunPaused, stage.Name(), intr)
			return
		}

		d.publish(runID, events.KindStageCompleted, stage.Name(), map[string]any{"stage_index": i})
		if err := d.saveCheckpoint(ctx, runID, i+1, state, nil); err != nil {
			d.fail(run, pkgerrors.Wrap(err, "persisting checkpoint").Error())
			return
		}
	}

	output, err := json.Marshal(state)
	if err != nil {
		d.fail(run, pkgerrors.Wrap(err, "encoding output snapshot").Error())
		return
	}
	run.Output = output
	run.Status = model.RunStatusCompleted
	if _, err := d.store.Run().Update(ctx, *run); err != nil {
		log.Errorw("failed to persist output", "error", err)
		return
	}
	metrics.ObserveRunStatus(string(model.RunStatusCompleted))

	d.publish(runID, events.KindRunSnapshot, "", state)
	d.publish(runID, events.KindRunFinished, "", map[string]any{"status": model.RunStatusCompleted})

	if err := d.store.Checkpoint().Delete(ctx, runID); err != nil {
		log.Warnw("failed to delete checkpoint", "error", err)
	}
	log.Infow("run completed", "workflow", run.Workflow)
}

// discarded reports whether the run lost ownership of its execution, either
// through context cancellation or an external cancelled marking.
func (d *Driver) discarded(ctx context.Context, runID uuid.UUID) bool {
	if ctx.Err() != nil {
		return true
	}
	run, err := d.registry.Get(context.Background(), runID)
	if err != nil {
		return true
	}
	return run.Status == model.RunStatusCancelled
}

func (d *Driver) fail(run *model.Run, message string) {
	zap.S().Named("driver").Errorw("run failed", "run_id", run.ID, "error", message)
	// partial state stays checkpointed for diagnostics; no automatic retry
	if _, err := d.registry.Transition(context.Background(), run.ID, model.RunStatusRunning, model.RunStatusFailed, message); err != nil {
		zap.S().Named("driver").Errorw("failed to mark run failed", "run_id", run.ID, "error", err)
		return
	}
	metrics.ObserveRunStatus(string(model.RunStatusFailed))
	d.publish(run.ID, events.KindRunFinished, "", map[string]any{"status": model.RunStatusFailed, "error": message})
}

// publish appends to the durable log on a background context so that a
// cancelled run can still emit its terminal marker.
func (d *Driver) publish(runID uuid.UUID, kind, stage string, payload any) {
	if _, err := d.bus.Publish(context.Background(), runID, kind, stage, payload); err != nil {
		zap.S().Named("driver").Errorw("failed to publish event", "run_id", runID, "kind", kind, "error", err)
	}
}

func (d *Driver) loadCheckpoint(ctx context.Context, runID uuid.UUID) (map[string]any, int, *Interrupt, error) {
	cp, err := d.store.Checkpoint().Get(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return make(map[string]any), 0, nil, nil
		}
		return nil, 0, nil, err
	}

	state := make(map[string]any)
	if len(cp.State) > 0 {
		if err := json.Unmarshal(cp.State, &state); err != nil {
			return nil, 0, nil, err
		}
	}
	var intr *Interrupt
	if len(cp.Interrupt) > 0 {
		intr = &Interrupt{}
		if err := json.Unmarshal(cp.Interrupt, intr); err != nil {
			return nil, 0, nil, err
		}
	}
	return state, cp.StageIndex, intr, nil
}

func (d *Driver) saveCheckpoint(ctx context.Context, runID uuid.UUID, stageIndex int, state map[string]any, intr *Interrupt) error {
	stateData, err := json.Marshal(state)
	if err != nil {
		return err
	}
	var intrData []byte
	if intr != nil {
		if intrData, err = json.Marshal(intr); err != nil {
			return err
		}
	}
	_, err = d.store.Checkpoint().Put(ctx, model.Checkpoint{
		RunID:      runID,
		StageIndex: stageIndex,
		State:      stateData,
		Interrupt:  intrData,
	})
	return err
}
