package grading

import (
	"sort"
	"strings"

	"github.com/thoas/go-funk"
)

// ProvenanceCrossPageMerge tags a result produced by the cross-page merger.
const ProvenanceCrossPageMerge = "cross_page_merge"

// MergeCrossPage folds questions spanning two adjacent pages into single
// results. A question is cross-page only when the same question id appears on
// two adjacent pages and the earlier occurrence is explicitly flagged as
// continuing; anything else is left untouched. The returned slice is a new,
// page-index-sorted set with the merged result placed on the earlier page.
func MergeCrossPage(pages []PageResult) []PageResult {
	sorted := make([]PageResult, len(pages))
	copy(sorted, pages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PageIndex < sorted[j].PageIndex })

	out := make([]PageResult, len(sorted))
	for i, p := range sorted {
		out[i] = p
		out[i].Questions = append([]QuestionResult(nil), p.Questions...)
	}

	for i := 0; i+1 < len(out); i++ {
		if out[i+1].PageIndex != out[i].PageIndex+1 {
			continue
		}
		for qi, q := range out[i].Questions {
			if !q.ContinuesNext || q.IsCrossPage {
				continue
			}
			ni := indexOfQuestion(out[i+1].Questions, q.QuestionID)
			if ni < 0 {
				continue
			}
			merged := mergeQuestionPair(q, out[i+1].Questions[ni], out[i].PageIndex, out[i+1].PageIndex)
			out[i].Questions[qi] = merged
			out[i+1].Questions = append(out[i+1].Questions[:ni], out[i+1].Questions[ni+1:]...)
		}
	}
	return out
}

func indexOfQuestion(qs []QuestionResult, id string) int {
	for i, q := range qs {
		if q.QuestionID == id {
			return i
		}
	}
	return -1
}

// mergeQuestionPair combines the two sides of a cross-page question. The merged
// max score is the larger of the two sides, never their sum: both sides report
// the weight of the same logical question.
func mergeQuestionPair(a, b QuestionResult, pageA, pageB int) QuestionResult {
	m := QuestionResult{
		QuestionID:  a.QuestionID,
		MaxScore:    maxFloat(a.MaxScore, b.MaxScore),
		Confidence:  clamp01((a.Confidence + b.Confidence) / 2),
		IsCrossPage: true,
	}

	switch {
	case len(a.ScoringPoints) > 0 && len(b.ScoringPoints) > 0:
		m.ScoringPoints = unionScoringPoints(a.ScoringPoints, b.ScoringPoints)
		for _, sp := range m.ScoringPoints {
			m.Score += sp.Awarded
		}
	case b.Score > a.Score:
		m.Score = b.Score
		m.ScoringPoints = b.ScoringPoints
	default:
		m.Score = a.Score
		m.ScoringPoints = a.ScoringPoints
	}

	m.Feedback = joinFeedback(a.Feedback, b.Feedback)

	indices := append(append([]int{pageA, pageB}, a.PageIndices...), b.PageIndices...)
	m.PageIndices = funk.UniqInt(indices)
	sort.Ints(m.PageIndices)

	tags := append(append([]string{}, a.Provenance...), b.Provenance...)
	tags = append(tags, ProvenanceCrossPageMerge)
	m.Provenance = funk.UniqString(tags)
	sort.Strings(m.Provenance)

	return m
}

// unionScoringPoints keeps the earlier side's entry when both sides report the
// same description.
func unionScoringPoints(a, b []ScoringPoint) []ScoringPoint {
	out := append([]ScoringPoint(nil), a...)
	seen := make(map[string]bool, len(a))
	for _, sp := range a {
		seen[sp.Description] = true
	}
	for _, sp := range b {
		if !seen[sp.Description] {
			out = append(out, sp)
			seen[sp.Description] = true
		}
	}
	return out
}

func joinFeedback(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "" || a == b:
		return a
	}
	return a + "\n" + b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
