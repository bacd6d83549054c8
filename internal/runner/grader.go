package runner

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/examsift/grading-engine/internal/grading"
)

// PageGrader scores a single answer-sheet page against a rubric. Production
// deployments plug in a model-backed implementation; the engine only requires
// that repeated calls for the same page are safe.
type PageGrader interface {
	GradePage(ctx context.Context, pageIndex int, page map[string]any, rubric map[string]any) (grading.PageResult, error)
}

// StaticGrader derives deterministic page results from the page content
// itself. It exists for tests and for dry runs of the pipeline where no
// scoring backend is wired.
type StaticGrader struct{}

var _ PageGrader = (*StaticGrader)(nil)

func (StaticGrader) GradePage(_ context.Context, pageIndex int, page map[string]any, _ map[string]any) (grading.PageResult, error) {
	result := grading.PageResult{PageIndex: pageIndex}

	if name, ok := page["student_name"].(string); ok && name != "" {
		conf := 0.9
		if c, ok := page["marker_confidence"].(float64); ok {
			conf = c
		}
		result.Identity = &grading.IdentityMarker{Value: name, Confidence: conf}
	}

	questions, _ := page["questions"].([]any)
	for _, q := range questions {
		qm, ok := q.(map[string]any)
		if !ok {
			continue
		}
		id, _ := qm["id"].(string)
		maxScore, _ := qm["max_score"].(float64)
		if maxScore == 0 {
			maxScore = 10
		}
		continues, _ := qm["continues_next"].(bool)
		result.Questions = append(result.Questions, grading.QuestionResult{
			QuestionID:    id,
			Score:         staticScore(id, pageIndex, maxScore),
			MaxScore:      maxScore,
			Confidence:    0.85,
			PageIndices:   []int{pageIndex},
			ContinuesNext: continues,
		})
	}
	return result, nil
}

// staticScore hashes the question identity into a stable fraction of the
// maximum, so reruns and resumed runs reproduce identical output bytes.
func staticScore(id string, pageIndex int, maxScore float64) float64 {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/%d", id, pageIndex)))
	frac := float64(binary.BigEndian.Uint16(sum[:2])) / math.MaxUint16
	return math.Round(frac*maxScore*2) / 2
}
