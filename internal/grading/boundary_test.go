package grading

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pageWithMarker(idx int, student string, conf float64, questionIDs ...string) PageResult {
	p := pageWithQuestions(idx, questionIDs...)
	if student != "" {
		p.Identity = &IdentityMarker{Value: student, Confidence: conf}
	}
	return p
}

func pageWithQuestions(idx int, questionIDs ...string) PageResult {
	qs := make([]QuestionResult, 0, len(questionIDs))
	for _, id := range questionIDs {
		qs = append(qs, QuestionResult{QuestionID: id, Score: 1, MaxScore: 2, Confidence: 0.9})
	}
	return PageResult{PageIndex: idx, Questions: qs}
}

func TestDetectBoundariesIdentityDriven(t *testing.T) {
	// markers only on page 0 (Alice, 0.9) and page 3 (Bob, 0.85)
	pages := []PageResult{
		pageWithMarker(0, "Alice", 0.9),
		pageWithMarker(1, "", 0),
		pageWithMarker(2, "", 0),
		pageWithMarker(3, "Bob", 0.85),
		pageWithMarker(4, "", 0),
		pageWithMarker(5, "", 0),
	}

	boundaries, unassigned := DetectBoundaries(pages, DetectorConfig{})

	require.Len(t, boundaries, 2)
	assert.Empty(t, unassigned)

	assert.Equal(t, "Alice", boundaries[0].StudentKey)
	assert.Equal(t, 0, boundaries[0].StartPage)
	assert.Equal(t, 2, boundaries[0].EndPage)

	assert.Equal(t, "Bob", boundaries[1].StudentKey)
	assert.Equal(t, 3, boundaries[1].StartPage)
	assert.Equal(t, 5, boundaries[1].EndPage)

	for _, b := range boundaries {
		assert.Equal(t, MethodIdentity, b.Method)
	}
}

func TestDetectBoundariesIdentityResistsNoisyMarker(t *testing.T) {
	// a single 0.7 marker after only two pages of the current student must not
	// split; the same marker after three pages must
	pages := []PageResult{
		pageWithMarker(0, "Alice", 0.9),
		pageWithMarker(1, "", 0),
		pageWithMarker(2, "Bob", 0.7),
		pageWithMarker(3, "", 0),
	}
	boundaries, _ := DetectBoundaries(pages, DetectorConfig{})
	require.Len(t, boundaries, 1)
	assert.Equal(t, "Alice", boundaries[0].StudentKey)

	pages = []PageResult{
		pageWithMarker(0, "Alice", 0.9),
		pageWithMarker(1, "", 0),
		pageWithMarker(2, "", 0),
		pageWithMarker(3, "Bob", 0.7),
		pageWithMarker(4, "", 0),
	}
	boundaries, _ = DetectBoundaries(pages, DetectorConfig{})
	require.Len(t, boundaries, 2)
	assert.Equal(t, "Bob", boundaries[1].StudentKey)
}

func TestDetectBoundariesStrongMarkerSwitchesEarly(t *testing.T) {
	pages := []PageResult{
		pageWithMarker(0, "Alice", 0.9),
		pageWithMarker(1, "Bob", 0.85),
		pageWithMarker(2, "", 0),
	}
	boundaries, _ := DetectBoundaries(pages, DetectorConfig{})
	require.Len(t, boundaries, 2)
	assert.Equal(t, 0, boundaries[0].EndPage)
	assert.Equal(t, 1, boundaries[1].StartPage)
	assert.Equal(t, 2, boundaries[1].EndPage)
}

func TestDetectBoundariesQuestionCycle(t *testing.T) {
	// 10 pages, no markers, numbering resets at indices 3 and 7
	pages := []PageResult{
		pageWithQuestions(0, "1"),
		pageWithQuestions(1, "2"),
		pageWithQuestions(2, "3"),
		pageWithQuestions(3, "1"),
		pageWithQuestions(4, "2"),
		pageWithQuestions(5, "3"),
		pageWithQuestions(6, "4"),
		pageWithQuestions(7, "1"),
		pageWithQuestions(8, "2"),
		pageWithQuestions(9),
	}

	boundaries, unassigned := DetectBoundaries(pages, DetectorConfig{})

	require.Len(t, boundaries, 3)
	assert.Empty(t, unassigned)

	expected := [][2]int{{0, 2}, {3, 6}, {7, 9}}
	for i, b := range boundaries {
		assert.Equal(t, expected[i][0], b.StartPage)
		assert.Equal(t, expected[i][1], b.EndPage)
		assert.Equal(t, MethodQuestionCycle, b.Method)
	}
}

func TestDetectBoundariesCoversAllPagesWithoutOverlap(t *testing.T) {
	pages := []PageResult{
		// out of order on purpose: detection must sort, not trust arrival
		pageWithMarker(3, "Bob", 0.85, "1"),
		pageWithMarker(0, "Alice", 0.9, "1"),
		pageWithQuestions(5, "3"),
		pageWithQuestions(1, "2"),
		pageWithQuestions(4, "2"),
		pageWithQuestions(2, "3"),
	}

	boundaries, unassigned := DetectBoundaries(pages, DetectorConfig{})

	covered := make(map[int]int)
	for _, b := range boundaries {
		assert.LessOrEqual(t, b.StartPage, b.EndPage)
		for p := b.StartPage; p <= b.EndPage; p++ {
			covered[p]++
		}
	}
	for _, p := range unassigned {
		covered[p]++
	}
	for idx := 0; idx <= 5; idx++ {
		assert.Equal(t, 1, covered[idx], "page %d must be covered exactly once", idx)
	}
}

func TestDetectBoundariesLeadingPagesUnassigned(t *testing.T) {
	// identity-driven with no marker before page 2: nothing to forward-fill
	// from, so the leading pages stay unassigned
	pages := []PageResult{
		pageWithMarker(0, "", 0),
		pageWithMarker(1, "", 0),
		pageWithMarker(2, "Alice", 0.9),
		pageWithMarker(3, "", 0),
		pageWithMarker(4, "Bob", 0.9),
		pageWithMarker(5, "", 0),
		pageWithMarker(6, "", 0),
		pageWithMarker(7, "", 0),
		pageWithMarker(8, "Carol", 0.9),
		pageWithMarker(9, "", 0),
	}
	boundaries, unassigned := DetectBoundaries(pages, DetectorConfig{})
	assert.Equal(t, []int{0, 1}, unassigned)
	require.NotEmpty(t, boundaries)
	assert.Equal(t, 2, boundaries[0].StartPage)
}

func TestDetectBoundariesUniformFallback(t *testing.T) {
	// pages alternating "3","4": no reset is detectable but the occurrence
	// count is far larger than the highest question number
	var pages []PageResult
	for i := 0; i < 8; i++ {
		id := "3"
		if i%2 == 1 {
			id = "4"
		}
		pages = append(pages, pageWithQuestions(i, id))
	}

	boundaries, unassigned := DetectBoundaries(pages, DetectorConfig{})

	require.NotEmpty(t, boundaries)
	assert.Empty(t, unassigned)
	total := 0
	for _, b := range boundaries {
		assert.Equal(t, MethodUniform, b.Method)
		assert.True(t, b.NeedsConfirmation, "uniform partition must be flagged for confirmation")
		total += b.EndPage - b.StartPage + 1
	}
	assert.Equal(t, len(pages), total)
}

func TestBoundaryConfidenceBounds(t *testing.T) {
	pages := []PageResult{
		pageWithMarker(0, "Alice", 0.9, "1", "2"),
		pageWithQuestions(1, "3", "4"),
		pageWithMarker(2, "Bob", 0.85, "1"),
		pageWithQuestions(3, "2"),
	}
	boundaries, _ := DetectBoundaries(pages, DetectorConfig{ConfirmationThreshold: 0.8})
	for _, b := range boundaries {
		assert.GreaterOrEqual(t, b.Confidence, 0.0)
		assert.LessOrEqual(t, b.Confidence, 1.0)
		assert.Equal(t, b.Confidence < 0.8, b.NeedsConfirmation)
	}
}
