package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Active reports whether a run in this status still owns its idempotency key.
func (s RunStatus) Active() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusPaused:
		return true
	}
	return false
}

func StringToRunStatus(s string) RunStatus {
	switch RunStatus(s) {
	case RunStatusPending, RunStatusRunning, RunStatusPaused, RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return RunStatus(s)
	default:
		return RunStatusPending
	}
}

// Run is one execution instance of a workflow. While running, the record is
// exclusively owned by its own execution; everyone else reads.
type Run struct {
	ID             uuid.UUID `gorm:"primaryKey"`
	Workflow       string    `gorm:"not null;index"`
	Status         RunStatus `gorm:"not null;index"`
	IdempotencyKey string    `gorm:"index"`
	Input          []byte    `gorm:"type:jsonb"`
	Output         []byte    `gorm:"type:jsonb"`
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type RunList []Run

func (r Run) String() string {
	val, _ := json.Marshal(r)
	return string(val)
}
