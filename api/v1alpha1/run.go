// Package v1alpha1 holds the wire types of the grading engine HTTP API.
package v1alpha1

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the externally visible lifecycle state of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

func StringToRunStatus(s string) RunStatus {
	switch s {
	case string(RunStatusPending):
		return RunStatusPending
	case string(RunStatusRunning):
		return RunStatusRunning
	case string(RunStatusPaused):
		return RunStatusPaused
	case string(RunStatusCompleted):
		return RunStatusCompleted
	case string(RunStatusFailed):
		return RunStatusFailed
	case string(RunStatusCancelled):
		return RunStatusCancelled
	default:
		return RunStatusPending
	}
}

// CreateRunRequest submits a batch for grading.
type CreateRunRequest struct {
	Workflow       string          `json:"workflow" validate:"required,min=1,max=128"`
	Input          json.RawMessage `json:"input" validate:"required"`
	IdempotencyKey string          `json:"idempotency_key,omitempty" validate:"omitempty,max=256"`
}

// SendEventRequest satisfies a paused run's pending interrupt.
type SendEventRequest struct {
	Token   string         `json:"token,omitempty" validate:"omitempty,max=256"`
	Payload map[string]any `json:"payload" validate:"required"`
}

// RunProgress is stage progress through the run's workflow.
type RunProgress struct {
	StagesCompleted int `json:"stages_completed"`
	StageCount      int `json:"stage_count"`
}

// Run is the API view of a run record. Progress is populated on the status
// endpoint only.
type Run struct {
	ID        uuid.UUID    `json:"id"`
	Workflow  string       `json:"workflow"`
	Status    RunStatus    `json:"status"`
	Progress  *RunProgress `json:"progress,omitempty"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type RunList struct {
	Items []Run `json:"items"`
	Total int   `json:"total"`
}

// RunState is the latest accumulated state of a run, checkpoint-backed while
// the run is live.
type RunState struct {
	RunID      uuid.UUID       `json:"run_id"`
	Status     RunStatus       `json:"status"`
	StageIndex int             `json:"stage_index"`
	State      json.RawMessage `json:"state,omitempty"`
	Interrupt  json.RawMessage `json:"interrupt,omitempty"`
}

// RunEvent is one entry of a run's ordered event stream.
type RunEvent struct {
	RunID    uuid.UUID       `json:"run_id"`
	Sequence uint64          `json:"sequence"`
	Kind     string          `json:"kind"`
	Stage    string          `json:"stage,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Error is the uniform error envelope.
type Error struct {
	Message   string  `json:"message"`
	RequestId *string `json:"request_id,omitempty"`
}
