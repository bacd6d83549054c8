package grading

import "encoding/json"

// ScoringPoint is one itemized entry of a question's rubric breakdown.
type ScoringPoint struct {
	Description string  `json:"description"`
	Awarded     float64 `json:"awarded"`
	Max         float64 `json:"max"`
}

// QuestionResult is the score returned for a single question occurrence on a page.
// A merged cross-page result carries more than one page index.
type QuestionResult struct {
	QuestionID    string         `json:"question_id"`
	Score         float64        `json:"score"`
	MaxScore      float64        `json:"max_score"`
	Confidence    float64        `json:"confidence"`
	Feedback      string         `json:"feedback,omitempty"`
	ScoringPoints []ScoringPoint `json:"scoring_points,omitempty"`
	PageIndices   []int          `json:"page_indices"`
	// ContinuesNext marks the occurrence as explicitly continued on the next page.
	ContinuesNext bool     `json:"continues_next,omitempty"`
	IsCrossPage   bool     `json:"is_cross_page,omitempty"`
	Provenance    []string `json:"provenance,omitempty"`
}

// IdentityMarker is a declared student identity found on a page.
type IdentityMarker struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// PageResult is the grading outcome of one scanned page. PageIndex is unique
// within a run.
type PageResult struct {
	PageIndex int              `json:"page_index"`
	Questions []QuestionResult `json:"questions"`
	Identity  *IdentityMarker  `json:"identity,omitempty"`
	Blank     bool             `json:"blank,omitempty"`
}

// Boundary is an inferred contiguous page range attributed to one student.
// StartPage and EndPage are inclusive.
type Boundary struct {
	StudentKey        string  `json:"student_key"`
	StartPage         int     `json:"start_page"`
	EndPage           int     `json:"end_page"`
	Confidence        float64 `json:"confidence"`
	NeedsConfirmation bool    `json:"needs_confirmation"`
	Method            string  `json:"method"`
}

// Detection method tags.
const (
	MethodIdentity      = "identity"
	MethodQuestionCycle = "question_cycle"
	MethodUniform       = "uniform_partition"
)

// StudentResult is the aggregate for one student, always recomputable from the
// boundary plus the pages it covers.
type StudentResult struct {
	StudentKey string           `json:"student_key"`
	Boundary   Boundary         `json:"boundary"`
	TotalScore float64          `json:"total_score"`
	TotalMax   float64          `json:"total_max"`
	Questions  []QuestionResult `json:"questions"`
}

func (s StudentResult) String() string {
	val, _ := json.Marshal(s)
	return string(val)
}
