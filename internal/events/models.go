package events

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/examsift/grading-engine/internal/store/model"
)

// Event kinds emitted by the execution driver, the bus's single producer.
const (
	KindRunStarted     = "run.started"
	KindStageStarted   = "stage.started"
	KindStageProgress  = "stage.progress"
	KindStageCompleted = "stage.completed"
	KindStageFailed    = "stage.failed"
	KindRunPaused      = "run.paused"
	KindRunResumed     = "run.resumed"
	KindRunSnapshot    = "run.snapshot"

	// KindRunFinished is the end-of-stream marker, appended only on true
	// termination. A paused run never emits it, so blocked consumers keep
	// waiting across a pause/resume cycle.
	KindRunFinished = "run.finished"
)

// Event is one immutable, ordered entry of a run's event stream.
type Event struct {
	RunID    uuid.UUID       `json:"run_id"`
	Sequence uint64          `json:"sequence"`
	Kind     string          `json:"kind"`
	Stage    string          `json:"stage,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// EndOfStream reports whether the event terminates its run's stream.
func (e Event) EndOfStream() bool {
	return e.Kind == KindRunFinished
}

func FromModel(m model.RunEvent) Event {
	return Event{
		RunID:    m.RunID,
		Sequence: m.Sequence,
		Kind:     m.Kind,
		Stage:    m.Stage,
		Payload:  json.RawMessage(m.Payload),
	}
}
