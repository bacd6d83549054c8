package grading

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuestionNumber(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		expected int
		ok       bool
	}{
		{name: "plain digits", id: "12", expected: 12, ok: true},
		{name: "trailing dot", id: "3.", expected: 3, ok: true},
		{name: "trailing paren", id: "7)", expected: 7, ok: true},
		{name: "parenthetical", id: "(4)", expected: 4, ok: true},
		{name: "bracket", id: "[9]", expected: 9, ok: true},
		{name: "q prefix", id: "Q5", expected: 5, ok: true},
		{name: "lowercase q prefix", id: "q11", expected: 11, ok: true},
		{name: "sub question keeps leading integer", id: "Q3.2", expected: 3, ok: true},
		{name: "fullwidth digits", id: "１２", expected: 12, ok: true},
		{name: "circled digit", id: "③", expected: 3, ok: true},
		{name: "cjk single", id: "七", expected: 7, ok: true},
		{name: "cjk ten", id: "十", expected: 10, ok: true},
		{name: "cjk compound", id: "二十一", expected: 21, ok: true},
		{name: "cjk exam form", id: "第十二题", expected: 12, ok: true},
		{name: "ascii exam form", id: "第3题", expected: 3, ok: true},
		{name: "whitespace", id: "  8 ", expected: 8, ok: true},
		{name: "empty", id: "", ok: false},
		{name: "no number", id: "essay", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := QuestionNumber(tt.id)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, n)
			}
		})
	}
}
