package validator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type createRunForm struct {
	Workflow string `validate:"required,workflow_name"`
	Token    string `validate:"interrupt_token"`
}

func newRunValidator() *Validator {
	v := NewValidator()
	v.Register(NewRunValidationRules()...)
	return v
}

func TestWorkflowNameRule(t *testing.T) {
	tests := []struct {
		name     string
		workflow string
		wantErr  bool
	}{
		{"plain name", "batch_grading", false},
		{"single word", "echo", false},
		{"digits allowed after first char", "wf2", false},
		{"empty", "", true},
		{"leading digit", "2wf", true},
		{"uppercase", "BatchGrading", true},
		{"spaces", "batch grading", true},
		{"path traversal", "../etc", true},
	}

	v := newRunValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(createRunForm{Workflow: tt.workflow})
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestInterruptTokenRule(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"empty token allowed", "", false},
		{"plain token", "manual_review", false},
		{"dotted token", "review.page-3", false},
		{"whitespace rejected", "manual review", true},
		{"control characters rejected", "tok\nen", true},
	}

	v := newRunValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(createRunForm{Workflow: "echo", Token: tt.token})
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
