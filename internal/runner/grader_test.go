package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticGraderExtractsIdentityMarker(t *testing.T) {
	g := StaticGrader{}

	result, err := g.GradePage(context.Background(), 0, map[string]any{
		"student_name":      "Alice",
		"marker_confidence": 0.93,
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, result.Identity)
	assert.Equal(t, "Alice", result.Identity.Value)
	assert.Equal(t, 0.93, result.Identity.Confidence)

	result, err = g.GradePage(context.Background(), 1, map[string]any{
		"student_name": "Bob",
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, result.Identity)
	assert.Equal(t, 0.9, result.Identity.Confidence)

	result, err = g.GradePage(context.Background(), 2, map[string]any{}, nil)
	require.NoError(t, err)
	assert.Nil(t, result.Identity)
}

func TestStaticGraderScoresDeterministically(t *testing.T) {
	g := StaticGrader{}
	page := map[string]any{
		"questions": []any{
			map[string]any{"id": "1", "max_score": 8.0, "continues_next": true},
			map[string]any{"id": "2"},
		},
	}

	first, err := g.GradePage(context.Background(), 4, page, nil)
	require.NoError(t, err)
	second, err := g.GradePage(context.Background(), 4, page, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.Len(t, first.Questions, 2)
	assert.Equal(t, 8.0, first.Questions[0].MaxScore)
	assert.True(t, first.Questions[0].ContinuesNext)
	assert.Equal(t, 10.0, first.Questions[1].MaxScore, "max score defaults when absent")
	assert.LessOrEqual(t, first.Questions[0].Score, first.Questions[0].MaxScore)
	assert.Equal(t, []int{4}, first.Questions[0].PageIndices)
}
