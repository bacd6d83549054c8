package runner

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Governor bounds engine concurrency at two independent levels: a global cap
// on simultaneously running runs, and a per-run cap on concurrent outbound
// grading calls. Excess runs queue as pending until a slot frees.
type Governor struct {
	runs         *semaphore.Weighted
	defaultCalls int64
	overrides    map[string]int64
}

func NewGovernor(maxActiveRuns, defaultCallsPerRun int64) *Governor {
	return &Governor{
		runs:         semaphore.NewWeighted(maxActiveRuns),
		defaultCalls: defaultCallsPerRun,
		overrides:    make(map[string]int64),
	}
}

// SetWorkflowCallCap overrides the per-run grading-call cap for one workflow.
func (g *Governor) SetWorkflowCallCap(workflow string, cap int64) {
	g.overrides[workflow] = cap
}

// AcquireRunSlot blocks until a global run slot is free or ctx ends.
func (g *Governor) AcquireRunSlot(ctx context.Context) error {
	return g.runs.Acquire(ctx, 1)
}

func (g *Governor) ReleaseRunSlot() {
	g.runs.Release(1)
}

// GradingLimiter builds the per-run semaphore bounding outbound grading calls
// for the given workflow.
func (g *Governor) GradingLimiter(workflow string) *semaphore.Weighted {
	calls := g.defaultCalls
	if override, ok := g.overrides[workflow]; ok {
		calls = override
	}
	if calls < 1 {
		calls = 1
	}
	return semaphore.NewWeighted(calls)
}
