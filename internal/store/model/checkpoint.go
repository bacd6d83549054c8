package model

import (
	"time"

	"github.com/google/uuid"
)

// Checkpoint is the durable snapshot of a run's accumulated state, sufficient
// to resume execution exactly: the next stage index, the state map and, when
// the run is paused, the pending interrupt awaiting external input.
type Checkpoint struct {
	RunID      uuid.UUID `gorm:"primaryKey"`
	StageIndex int       `gorm:"not null"`
	State      []byte    `gorm:"type:jsonb"`
	Interrupt  []byte    `gorm:"type:jsonb"`
	UpdatedAt  time.Time
}
