package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/examsift/grading-engine/internal/grading"
)

// WorkflowBatchGrading is the built-in workflow: grade a batch of scanned
// answer-sheet pages, hold for manual review of low-confidence results, then
// segment pages into students, stitch cross-page questions and aggregate.
const WorkflowBatchGrading = "batch_grading"

const reviewToken = "manual_review"

// BatchConfig tunes the built-in workflow.
type BatchConfig struct {
	// ConfirmationThreshold marks student boundaries below it for
	// confirmation. Must exceed 0.5 so the uniform fallback is always
	// flagged.
	ConfirmationThreshold float64
	// ReviewConfidenceFloor pauses the run when any graded question scores
	// below it. Zero disables the review gate.
	ReviewConfidenceFloor float64
}

// NewBatchWorkflow assembles the batch grading pipeline around the given
// page grader.
func NewBatchWorkflow(grader PageGrader, cfg BatchConfig) *Workflow {
	return &Workflow{
		Name: WorkflowBatchGrading,
		Stages: []Stage{
			&ingestStage{},
			&gradeStage{grader: grader},
			&reviewStage{floor: cfg.ReviewConfidenceFloor},
			&segmentStage{threshold: cfg.ConfirmationThreshold},
			&mergeStage{},
			&aggregateStage{},
		},
	}
}

// ingestStage validates the submitted batch and snapshots it into run state.
type ingestStage struct{}

func (ingestStage) Name() string { return "ingest" }

func (ingestStage) Execute(_ context.Context, sc *StageContext) (StageOutput, error) {
	var in struct {
		Pages  []map[string]any `json:"pages"`
		Rubric map[string]any   `json:"rubric"`
	}
	if err := sc.Input(&in); err != nil {
		return StageOutput{}, pkgerrors.Wrap(err, "decoding batch input")
	}
	if len(in.Pages) == 0 {
		return StageOutput{}, fmt.Errorf("batch contains no pages")
	}

	return StageOutput{Deltas: []Delta{
		{Field: "pages", Strategy: MergeOverwrite, Value: in.Pages},
		{Field: "page_count", Strategy: MergeOverwrite, Value: len(in.Pages)},
		{Field: "rubric", Strategy: MergeOverwrite, Value: in.Rubric},
	}}, nil
}

// gradeStage fans page grading out under the per-run grading limiter. Page
// order in the state is restored after the fan-out so output is deterministic
// regardless of scheduling.
type gradeStage struct {
	grader PageGrader
}

func (gradeStage) Name() string { return "grade" }

func (s gradeStage) Execute(ctx context.Context, sc *StageContext) (StageOutput, error) {
	var pages []map[string]any
	if err := sc.State("pages", &pages); err != nil {
		return StageOutput{}, pkgerrors.Wrap(err, "reading pages")
	}
	var rubric map[string]any
	if err := sc.State("rubric", &rubric); err != nil {
		return StageOutput{}, pkgerrors.Wrap(err, "reading rubric")
	}

	limiter := sc.GradingLimiter()
	results := make([]grading.PageResult, len(pages))
	var mu sync.Mutex
	var graded int

	g, gctx := errgroup.WithContext(ctx)
	for i, page := range pages {
		g.Go(func() error {
			if err := limiter.Acquire(gctx, 1); err != nil {
				return err
			}
			defer limiter.Release(1)

			res, err := s.grader.GradePage(gctx, i, page, rubric)
			if err != nil {
				return pkgerrors.Wrapf(err, "grading page %d", i)
			}
			results[i] = res

			mu.Lock()
			graded++
			done := graded
			mu.Unlock()
			sc.Progress(map[string]any{"graded": done, "total": len(pages)})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return StageOutput{}, err
	}

	return StageOutput{Deltas: []Delta{
		{Field: "page_results", Strategy: MergeAppend, Value: results},
	}}, nil
}

// reviewStage gates the pipeline on human approval when any question falls
// below the confidence floor. On resume it folds reviewer overrides back into
// the page results.
type reviewStage struct {
	floor float64
}

func (reviewStage) Name() string { return "review" }

func (s reviewStage) Execute(_ context.Context, sc *StageContext) (StageOutput, error) {
	var pages []grading.PageResult
	if err := sc.State("page_results", &pages); err != nil {
		return StageOutput{}, pkgerrors.Wrap(err, "reading page results")
	}

	if sc.Resume != nil {
		return s.applyReview(sc, pages)
	}

	flagged := lowConfidence(pages, s.floor)
	if len(flagged) == 0 {
		return StageOutput{Deltas: []Delta{
			{Field: "review", Strategy: MergeOverwrite, Value: map[string]any{"required": false}},
		}}, nil
	}

	return StageOutput{Interrupt: &Interrupt{
		Token:  reviewToken,
		Stage:  sc.Stage,
		Reason: "low_confidence_results",
		Payload: map[string]any{
			"flagged": flagged,
			"floor":   s.floor,
		},
	}}, nil
}

type reviewOverride struct {
	PageIndex  int     `json:"page_index"`
	QuestionID string  `json:"question_id"`
	Score      float64 `json:"score"`
	Feedback   string  `json:"feedback"`
}

func (reviewStage) applyReview(sc *StageContext, pages []grading.PageResult) (StageOutput, error) {
	var decision struct {
		Token     string           `json:"token"`
		Overrides []reviewOverride `json:"overrides"`
		Note      string           `json:"note"`
	}
	if err := decodeResume(sc.Resume, &decision); err != nil {
		return StageOutput{}, pkgerrors.Wrap(err, "decoding review decision")
	}
	if decision.Token != "" && decision.Token != reviewToken {
		return StageOutput{}, fmt.Errorf("review decision carries token %q, want %q", decision.Token, reviewToken)
	}

	applied := 0
	for _, o := range decision.Overrides {
		for pi := range pages {
			if pages[pi].PageIndex != o.PageIndex {
				continue
			}
			for qi := range pages[pi].Questions {
				if pages[pi].Questions[qi].QuestionID != o.QuestionID {
					continue
				}
				q := &pages[pi].Questions[qi]
				q.Score = o.Score
				q.Confidence = 1.0
				if o.Feedback != "" {
					q.Feedback = o.Feedback
				}
				applied++
			}
		}
	}
	sc.Log().Infow("review applied", "overrides", applied)

	return StageOutput{Deltas: []Delta{
		{Field: "page_results", Strategy: MergeOverwrite, Value: pages},
		{Field: "review", Strategy: MergeOverwrite, Value: map[string]any{
			"required": true,
			"applied":  applied,
			"note":     decision.Note,
		}},
	}}, nil
}

func lowConfidence(pages []grading.PageResult, floor float64) []map[string]any {
	if floor <= 0 {
		return nil
	}
	var flagged []map[string]any
	for _, p := range pages {
		for _, q := range p.Questions {
			if q.Confidence < floor {
				flagged = append(flagged, map[string]any{
					"page_index":  p.PageIndex,
					"question_id": q.QuestionID,
					"confidence":  q.Confidence,
				})
			}
		}
	}
	return flagged
}

// segmentStage splits the page sequence into per-student ranges.
type segmentStage struct {
	threshold float64
}

func (segmentStage) Name() string { return "segment" }

func (s segmentStage) Execute(_ context.Context, sc *StageContext) (StageOutput, error) {
	var pages []grading.PageResult
	if err := sc.State("page_results", &pages); err != nil {
		return StageOutput{}, pkgerrors.Wrap(err, "reading page results")
	}

	boundaries, unassigned := grading.DetectBoundaries(pages, grading.DetectorConfig{
		ConfirmationThreshold: s.threshold,
	})
	if len(boundaries) == 0 {
		return StageOutput{}, fmt.Errorf("no student boundaries detected across %d pages", len(pages))
	}
	sc.Progress(map[string]any{
		"students":   len(boundaries),
		"unassigned": len(unassigned),
		"method":     boundaries[0].Method,
	})

	return StageOutput{Deltas: []Delta{
		{Field: "boundaries", Strategy: MergeOverwrite, Value: boundaries},
		{Field: "unassigned_pages", Strategy: MergeOverwrite, Value: unassigned},
	}}, nil
}

// mergeStage stitches questions that continue across page breaks.
type mergeStage struct{}

func (mergeStage) Name() string { return "merge" }

func (mergeStage) Execute(_ context.Context, sc *StageContext) (StageOutput, error) {
	var pages []grading.PageResult
	if err := sc.State("page_results", &pages); err != nil {
		return StageOutput{}, pkgerrors.Wrap(err, "reading page results")
	}

	merged := grading.MergeCrossPage(pages)
	return StageOutput{Deltas: []Delta{
		{Field: "merged_pages", Strategy: MergeOverwrite, Value: merged},
	}}, nil
}

// aggregateStage rolls merged pages up into per-student results and a batch
// summary.
type aggregateStage struct{}

func (aggregateStage) Name() string { return "aggregate" }

func (aggregateStage) Execute(_ context.Context, sc *StageContext) (StageOutput, error) {
	var boundaries []grading.Boundary
	if err := sc.State("boundaries", &boundaries); err != nil {
		return StageOutput{}, pkgerrors.Wrap(err, "reading boundaries")
	}
	var pages []grading.PageResult
	if err := sc.State("merged_pages", &pages); err != nil {
		return StageOutput{}, pkgerrors.Wrap(err, "reading merged pages")
	}

	students := grading.AggregateAll(boundaries, pages)
	sort.SliceStable(students, func(i, j int) bool {
		return students[i].Boundary.StartPage < students[j].Boundary.StartPage
	})

	var total float64
	needsConfirmation := 0
	for _, s := range students {
		total += s.TotalScore
		if s.Boundary.NeedsConfirmation {
			needsConfirmation++
		}
	}
	summary := map[string]any{
		"students":           len(students),
		"needs_confirmation": needsConfirmation,
	}
	if len(students) > 0 {
		summary["average_score"] = total / float64(len(students))
	}

	return StageOutput{Deltas: []Delta{
		{Field: "student_results", Strategy: MergeOverwrite, Value: students},
		{Field: "summary", Strategy: MergeOverwrite, Value: summary},
	}}, nil
}
