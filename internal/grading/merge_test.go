package grading

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findQuestion(t *testing.T, pages []PageResult, id string) QuestionResult {
	t.Helper()
	for _, p := range pages {
		for _, q := range p.Questions {
			if q.QuestionID == id {
				return q
			}
		}
	}
	t.Fatalf("question %s not found", id)
	return QuestionResult{}
}

func countQuestion(pages []PageResult, id string) int {
	n := 0
	for _, p := range pages {
		for _, q := range p.Questions {
			if q.QuestionID == id {
				n++
			}
		}
	}
	return n
}

func TestMergeCrossPageScoringPointUnion(t *testing.T) {
	// Q5 on page 4 marked continued, reappearing on page 5
	pages := []PageResult{
		{PageIndex: 4, Questions: []QuestionResult{{
			QuestionID:    "Q5",
			Score:         2,
			MaxScore:      2,
			Confidence:    0.9,
			ContinuesNext: true,
			ScoringPoints: []ScoringPoint{{Description: "A", Awarded: 2, Max: 2}},
		}}},
		{PageIndex: 5, Questions: []QuestionResult{{
			QuestionID:    "Q5",
			Score:         3,
			MaxScore:      5,
			Confidence:    0.7,
			ScoringPoints: []ScoringPoint{{Description: "B", Awarded: 3, Max: 5}},
		}}},
	}

	merged := MergeCrossPage(pages)

	require.Equal(t, 1, countQuestion(merged, "Q5"))
	q := findQuestion(t, merged, "Q5")

	assert.True(t, q.IsCrossPage)
	assert.Equal(t, 5.0, q.MaxScore, "max score is the larger side, never the sum")
	assert.Equal(t, 5.0, q.Score, "score is the sum of the unioned scoring points")
	assert.Equal(t, []int{4, 5}, q.PageIndices)
	assert.InDelta(t, 0.8, q.Confidence, 1e-9)
	assert.Contains(t, q.Provenance, ProvenanceCrossPageMerge)
	require.Len(t, q.ScoringPoints, 2)
}

func TestMergeCrossPageDuplicateScoringPointDiscarded(t *testing.T) {
	pages := []PageResult{
		{PageIndex: 0, Questions: []QuestionResult{{
			QuestionID:    "2",
			ContinuesNext: true,
			ScoringPoints: []ScoringPoint{{Description: "steps", Awarded: 1, Max: 2}},
		}}},
		{PageIndex: 1, Questions: []QuestionResult{{
			QuestionID: "2",
			ScoringPoints: []ScoringPoint{
				{Description: "steps", Awarded: 2, Max: 2}, // later duplicate, dropped
				{Description: "result", Awarded: 1, Max: 1},
			},
		}}},
	}

	q := findQuestion(t, MergeCrossPage(pages), "2")
	require.Len(t, q.ScoringPoints, 2)
	assert.Equal(t, 1.0, q.ScoringPoints[0].Awarded, "earlier side wins on duplicate description")
	assert.Equal(t, 2.0, q.Score)
}

func TestMergeCrossPageWithoutBreakdownTakesLargerScore(t *testing.T) {
	pages := []PageResult{
		{PageIndex: 1, Questions: []QuestionResult{{
			QuestionID: "3", Score: 1, MaxScore: 4, Confidence: 0.8, Feedback: "partial work", ContinuesNext: true,
		}}},
		{PageIndex: 2, Questions: []QuestionResult{{
			QuestionID: "3", Score: 3, MaxScore: 4, Confidence: 0.6, Feedback: "completed on next page",
		}}},
	}

	q := findQuestion(t, MergeCrossPage(pages), "3")
	assert.Equal(t, 3.0, q.Score)
	assert.Equal(t, 4.0, q.MaxScore)
	assert.Equal(t, "partial work\ncompleted on next page", q.Feedback)
}

func TestMergeCrossPageRequiresContinuesFlag(t *testing.T) {
	// same id on adjacent pages without the explicit flag: two distinct results
	pages := []PageResult{
		{PageIndex: 0, Questions: []QuestionResult{{QuestionID: "1", Score: 1, MaxScore: 2}}},
		{PageIndex: 1, Questions: []QuestionResult{{QuestionID: "1", Score: 2, MaxScore: 2}}},
	}
	assert.Equal(t, 2, countQuestion(MergeCrossPage(pages), "1"))
}

func TestMergeCrossPageRequiresAdjacency(t *testing.T) {
	pages := []PageResult{
		{PageIndex: 0, Questions: []QuestionResult{{QuestionID: "1", ContinuesNext: true}}},
		{PageIndex: 2, Questions: []QuestionResult{{QuestionID: "1"}}},
	}
	assert.Equal(t, 2, countQuestion(MergeCrossPage(pages), "1"))
}

func TestMergeCrossPageHandlesUnsortedInput(t *testing.T) {
	pages := []PageResult{
		{PageIndex: 5, Questions: []QuestionResult{{QuestionID: "Q5", Score: 1, MaxScore: 5}}},
		{PageIndex: 4, Questions: []QuestionResult{{QuestionID: "Q5", Score: 2, MaxScore: 2, ContinuesNext: true}}},
	}
	merged := MergeCrossPage(pages)
	require.Equal(t, 1, countQuestion(merged, "Q5"))
	assert.Equal(t, 5.0, findQuestion(t, merged, "Q5").MaxScore)
}
