package grading

import (
	"encoding/json"
	"sort"
)

// Aggregate computes the per-student result for one boundary from the pages it
// covers. It deduplicates by question id, preferring the merged cross-page
// variant and otherwise the higher-confidence one, sorts by numeric question
// order and sums scores over the deduplicated set. The function is pure and
// idempotent: identical inputs yield byte-identical output, order included.
func Aggregate(b Boundary, pages []PageResult) StudentResult {
	sorted := make([]PageResult, 0, len(pages))
	for _, p := range pages {
		if p.PageIndex >= b.StartPage && p.PageIndex <= b.EndPage {
			sorted = append(sorted, p)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PageIndex < sorted[j].PageIndex })

	best := make(map[string]QuestionResult)
	order := make([]string, 0)
	for _, p := range sorted {
		for _, q := range p.Questions {
			if len(q.PageIndices) == 0 {
				q.PageIndices = []int{p.PageIndex}
			}
			cur, ok := best[q.QuestionID]
			if !ok {
				best[q.QuestionID] = q
				order = append(order, q.QuestionID)
				continue
			}
			if preferVariant(q, cur) {
				best[q.QuestionID] = q
			}
		}
	}

	questions := make([]QuestionResult, 0, len(order))
	for _, id := range order {
		questions = append(questions, best[id])
	}
	sort.SliceStable(questions, func(i, j int) bool {
		ni, iok := QuestionNumber(questions[i].QuestionID)
		nj, jok := QuestionNumber(questions[j].QuestionID)
		if iok && jok && ni != nj {
			return ni < nj
		}
		if iok != jok {
			return iok
		}
		return questions[i].QuestionID < questions[j].QuestionID
	})

	res := StudentResult{
		StudentKey: b.StudentKey,
		Boundary:   b,
		Questions:  questions,
	}
	for _, q := range questions {
		res.TotalScore += q.Score
		res.TotalMax += q.MaxScore
	}
	return res
}

// AggregateAll runs Aggregate over every boundary in order.
func AggregateAll(boundaries []Boundary, pages []PageResult) []StudentResult {
	out := make([]StudentResult, 0, len(boundaries))
	for _, b := range boundaries {
		out = append(out, Aggregate(b, pages))
	}
	return out
}

// preferVariant reports whether candidate should replace current when both
// carry the same question id.
func preferVariant(candidate, current QuestionResult) bool {
	if candidate.IsCrossPage != current.IsCrossPage {
		return candidate.IsCrossPage
	}
	return candidate.Confidence > current.Confidence
}

// QuestionsFromRaw extracts question results from a loosely shaped page map.
// Older producers stored the list under different field names; all historical
// shapes are tolerated.
func QuestionsFromRaw(page map[string]any) []QuestionResult {
	for _, field := range []string{"questions", "question_results", "results"} {
		raw, ok := page[field]
		if !ok {
			continue
		}
		data, err := json.Marshal(raw)
		if err != nil {
			continue
		}
		var qs []QuestionResult
		if err := json.Unmarshal(data, &qs); err != nil {
			continue
		}
		return qs
	}
	return nil
}

// PageFromRaw decodes a loosely shaped page map into a PageResult, routing the
// question list through QuestionsFromRaw.
func PageFromRaw(page map[string]any) (PageResult, error) {
	data, err := json.Marshal(page)
	if err != nil {
		return PageResult{}, err
	}
	var p PageResult
	if err := json.Unmarshal(data, &p); err != nil {
		return PageResult{}, err
	}
	if len(p.Questions) == 0 {
		p.Questions = QuestionsFromRaw(page)
	}
	return p, nil
}
