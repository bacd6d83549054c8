package model

import (
	"time"

	"github.com/google/uuid"
)

// RunEvent is one immutable entry of a run's append-only event log, totally
// ordered by sequence within the run.
type RunEvent struct {
	RunID     uuid.UUID `gorm:"primaryKey"`
	Sequence  uint64    `gorm:"primaryKey;autoIncrement:false"`
	Kind      string    `gorm:"not null"`
	Stage     string
	Payload   []byte `gorm:"type:jsonb"`
	CreatedAt time.Time
}

type RunEventList []RunEvent
