package service

import (
	"fmt"

	"github.com/google/uuid"
)

type ErrResourceNotFound struct {
	error
}

func NewErrResourceNotFound(id uuid.UUID, resourceType string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("%s %s not found", resourceType, id)}
}

func NewErrRunNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "run")
}

type ErrUnknownWorkflow struct {
	error
}

func NewErrUnknownWorkflow(workflow string) *ErrUnknownWorkflow {
	return &ErrUnknownWorkflow{fmt.Errorf("unknown workflow %q", workflow)}
}

type ErrRunNotPaused struct {
	error
}

func NewErrRunNotPaused(id uuid.UUID, status string) *ErrRunNotPaused {
	return &ErrRunNotPaused{fmt.Errorf("run %s is %s, external input is only accepted while paused", id, status)}
}

type ErrRunNotTerminal struct {
	error
}

func NewErrRunNotTerminal(id uuid.UUID, status string) *ErrRunNotTerminal {
	return &ErrRunNotTerminal{fmt.Errorf("run %s is %s, retry requires a finished run", id, status)}
}

type ErrRunNotCompleted struct {
	error
}

func NewErrRunNotCompleted(id uuid.UUID, status string) *ErrRunNotCompleted {
	return &ErrRunNotCompleted{fmt.Errorf("run %s is %s, output exists only for completed runs", id, status)}
}

type ErrInterruptMismatch struct {
	error
}

func NewErrInterruptMismatch(id uuid.UUID, got, want string) *ErrInterruptMismatch {
	return &ErrInterruptMismatch{fmt.Errorf("run %s awaits token %q, got %q", id, want, got)}
}

type ErrInvalidInput struct {
	error
}

func NewErrInvalidInput(message string) *ErrInvalidInput {
	return &ErrInvalidInput{fmt.Errorf("bad request: %s", message)}
}
