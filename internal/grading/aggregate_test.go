package grading

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateSumsDeduplicatedSet(t *testing.T) {
	b := Boundary{StudentKey: "Alice", StartPage: 0, EndPage: 2}
	pages := []PageResult{
		{PageIndex: 0, Questions: []QuestionResult{
			{QuestionID: "1", Score: 2, MaxScore: 3, Confidence: 0.9},
			{QuestionID: "2", Score: 1, MaxScore: 2, Confidence: 0.5},
		}},
		{PageIndex: 1, Questions: []QuestionResult{
			// duplicate of question 2, higher confidence: preferred
			{QuestionID: "2", Score: 2, MaxScore: 2, Confidence: 0.8},
		}},
		{PageIndex: 2, Questions: []QuestionResult{
			{QuestionID: "3", Score: 0, MaxScore: 5, Confidence: 0.7},
		}},
		// outside the boundary, ignored
		{PageIndex: 3, Questions: []QuestionResult{
			{QuestionID: "4", Score: 5, MaxScore: 5, Confidence: 0.9},
		}},
	}

	res := Aggregate(b, pages)

	require.Len(t, res.Questions, 3)
	assert.Equal(t, "Alice", res.StudentKey)
	assert.Equal(t, 4.0, res.TotalScore)
	assert.Equal(t, 10.0, res.TotalMax)
	assert.Equal(t, 2.0, res.Questions[1].Score, "higher-confidence duplicate must win")
}

func TestAggregatePrefersMergedCrossPageVariant(t *testing.T) {
	b := Boundary{StudentKey: "s", StartPage: 0, EndPage: 1}
	pages := []PageResult{
		{PageIndex: 0, Questions: []QuestionResult{
			{QuestionID: "5", Score: 5, MaxScore: 5, Confidence: 0.99},
			{QuestionID: "5", Score: 3, MaxScore: 5, Confidence: 0.6, IsCrossPage: true, PageIndices: []int{0, 1}},
		}},
	}

	res := Aggregate(b, pages)
	require.Len(t, res.Questions, 1)
	assert.True(t, res.Questions[0].IsCrossPage, "merged variant preferred over higher confidence")
	assert.Equal(t, 3.0, res.Questions[0].Score)
}

func TestAggregateSortsByNumericQuestionOrder(t *testing.T) {
	b := Boundary{StudentKey: "s", StartPage: 0, EndPage: 0}
	pages := []PageResult{
		{PageIndex: 0, Questions: []QuestionResult{
			{QuestionID: "10"},
			{QuestionID: "2"},
			{QuestionID: "第一题"},
		}},
	}

	res := Aggregate(b, pages)
	require.Len(t, res.Questions, 3)
	assert.Equal(t, "第一题", res.Questions[0].QuestionID)
	assert.Equal(t, "2", res.Questions[1].QuestionID)
	assert.Equal(t, "10", res.Questions[2].QuestionID)
}

func TestAggregateIsIdempotent(t *testing.T) {
	boundaries := []Boundary{
		{StudentKey: "Alice", StartPage: 0, EndPage: 1, Confidence: 0.9},
		{StudentKey: "Bob", StartPage: 2, EndPage: 3, Confidence: 0.7, NeedsConfirmation: true},
	}
	pages := []PageResult{
		{PageIndex: 2, Questions: []QuestionResult{{QuestionID: "1", Score: 1, MaxScore: 2, Confidence: 0.8}}},
		{PageIndex: 0, Questions: []QuestionResult{
			{QuestionID: "2", Score: 2, MaxScore: 2, Confidence: 0.9},
			{QuestionID: "1", Score: 0, MaxScore: 2, Confidence: 0.4},
		}},
		{PageIndex: 1, Questions: []QuestionResult{{QuestionID: "1", Score: 1, MaxScore: 2, Confidence: 0.6}}},
		{PageIndex: 3, Questions: []QuestionResult{{QuestionID: "2", Score: 2, MaxScore: 2, Confidence: 0.9}}},
	}

	first, err := json.Marshal(AggregateAll(boundaries, pages))
	require.NoError(t, err)
	second, err := json.Marshal(AggregateAll(boundaries, pages))
	require.NoError(t, err)

	assert.Equal(t, first, second, "re-aggregation must be byte-identical")
}

func TestQuestionsFromRawToleratesHistoricalShapes(t *testing.T) {
	for _, field := range []string{"questions", "question_results", "results"} {
		page := map[string]any{
			"page_index": 0,
			field: []any{
				map[string]any{"question_id": "1", "score": 1.5, "max_score": 2.0},
			},
		}
		qs := QuestionsFromRaw(page)
		require.Len(t, qs, 1, "field %s", field)
		assert.Equal(t, "1", qs[0].QuestionID)
		assert.Equal(t, 1.5, qs[0].Score)
	}
}
