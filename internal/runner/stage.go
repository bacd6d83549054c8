package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// MergeStrategy declares how a stage output field folds into accumulated state.
type MergeStrategy string

const (
	// MergeAppend concatenates onto the existing list; accumulator fields keep
	// append semantics even under concurrent partial fan-out.
	MergeAppend MergeStrategy = "append"
	// MergeOverwrite replaces the field.
	MergeOverwrite MergeStrategy = "overwrite"
)

// Delta is one tagged state mutation produced by a stage, applied
// deterministically by the driver.
type Delta struct {
	Field    string
	Strategy MergeStrategy
	Value    any
}

// Interrupt is a stage-raised request for external input that suspends the run.
type Interrupt struct {
	Token   string         `json:"token"`
	Stage   string         `json:"stage"`
	Reason  string         `json:"reason"`
	Payload map[string]any `json:"payload,omitempty"`
}

// StageOutput carries a stage's deltas and, when the stage requests external
// input, the explicit interrupt marker.
type StageOutput struct {
	Deltas    []Delta
	Interrupt *Interrupt
}

// Stage is a named unit of work in a workflow's execution graph.
type Stage interface {
	Name() string
	Execute(ctx context.Context, sc *StageContext) (StageOutput, error)
}

// Workflow is an ordered stage graph registered under a name.
type Workflow struct {
	Name   string
	Stages []Stage
}

// StageContext is the read view of a run handed to an executing stage. The
// accumulated state is exclusively owned by the run's execution; stages read
// through it and mutate only via deltas.
type StageContext struct {
	RunID    uuid.UUID
	Workflow string
	Stage    string
	// Resume holds the payload supplied to satisfy this stage's interrupt;
	// nil unless the run is resuming into this stage.
	Resume map[string]any

	input   map[string]any
	state   map[string]any
	limiter *semaphore.Weighted
	emit    func(kind string, payload any)
	log     *zap.SugaredLogger

	mu      sync.Mutex
	pending []Interrupt
}

// Input decodes the run's input snapshot into out.
func (sc *StageContext) Input(out any) error {
	return roundTrip(sc.input, out)
}

// State decodes a named accumulated-state field into out. Absent fields leave
// out untouched.
func (sc *StageContext) State(field string, out any) error {
	raw, ok := sc.state[field]
	if !ok {
		return nil
	}
	return roundTrip(raw, out)
}

// GradingLimiter bounds the stage's concurrent outbound grading calls.
func (sc *StageContext) GradingLimiter() *semaphore.Weighted {
	return sc.limiter
}

// Progress emits a stage progress event through the driver, the bus's sole
// producer.
func (sc *StageContext) Progress(payload any) {
	sc.emit(progressKind, payload)
}

// Log is the run-scoped logger.
func (sc *StageContext) Log() *zap.SugaredLogger {
	return sc.log
}

// AwaitInput registers an unresolved continuation for this stage. The driver
// treats a leftover continuation as a pause signal even when the explicit
// interrupt marker went missing from the stage output.
func (sc *StageContext) AwaitInput(token, reason string, payload map[string]any) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.pending = append(sc.pending, Interrupt{
		Token:   token,
		Stage:   sc.Stage,
		Reason:  reason,
		Payload: payload,
	})
}

func (sc *StageContext) pendingInterrupt() *Interrupt {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if len(sc.pending) == 0 {
		return nil
	}
	intr := sc.pending[0]
	return &intr
}

// roundTrip forces a value through JSON so state always holds plain JSON
// shapes, byte-identical across checkpoint reload and re-aggregation.
func roundTrip(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding value: %w", err)
	}
	return nil
}

// decodeResume unpacks the external input a resumed stage received.
func decodeResume(resume map[string]any, out any) error {
	if resume == nil {
		return fmt.Errorf("no resume input")
	}
	return roundTrip(resume, out)
}

// applyDeltas folds stage deltas into accumulated state under the declared
// per-field policy. Values are normalized through JSON first so the merge is
// deterministic regardless of the Go types a stage produced.
func applyDeltas(state map[string]any, deltas []Delta) error {
	for _, d := range deltas {
		var norm any
		if err := roundTrip(d.Value, &norm); err != nil {
			return fmt.Errorf("normalizing delta %q: %w", d.Field, err)
		}
		switch d.Strategy {
		case MergeAppend:
			existing, _ := state[d.Field].([]any)
			items, ok := norm.([]any)
			if !ok {
				items = []any{norm}
			}
			state[d.Field] = append(existing, items...)
		case MergeOverwrite:
			state[d.Field] = norm
		default:
			return fmt.Errorf("delta %q: unknown merge strategy %q", d.Field, d.Strategy)
		}
	}
	return nil
}
