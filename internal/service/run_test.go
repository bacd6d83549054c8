package service_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/examsift/grading-engine/internal/events"
	"github.com/examsift/grading-engine/internal/runner"
	"github.com/examsift/grading-engine/internal/service"
	"github.com/examsift/grading-engine/internal/store"
	"github.com/examsift/grading-engine/internal/store/model"
)

func TestRunService(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "run service suite")
}

// gateStage pauses until it receives resume input, then records it.
type gateStage struct{}

func (gateStage) Name() string { return "gate" }

func (gateStage) Execute(_ context.Context, sc *runner.StageContext) (runner.StageOutput, error) {
	if sc.Resume != nil {
		return runner.StageOutput{Deltas: []runner.Delta{
			{Field: "answer", Strategy: runner.MergeOverwrite, Value: sc.Resume["answer"]},
		}}, nil
	}
	return runner.StageOutput{Interrupt: &runner.Interrupt{
		Token:  "gate-token",
		Stage:  sc.Stage,
		Reason: "awaiting_answer",
	}}, nil
}

// echoStage copies the input into the output state.
type echoStage struct{}

func (echoStage) Name() string { return "echo" }

func (echoStage) Execute(_ context.Context, sc *runner.StageContext) (runner.StageOutput, error) {
	var in map[string]any
	if err := sc.Input(&in); err != nil {
		return runner.StageOutput{}, err
	}
	return runner.StageOutput{Deltas: []runner.Delta{
		{Field: "echoed", Strategy: runner.MergeOverwrite, Value: in},
	}}, nil
}

var _ = Describe("run service", func() {
	var (
		s   store.Store
		srv *service.RunService
	)

	BeforeEach(func() {
		s = store.NewInMemoryStore()
		registry := runner.NewRegistry(s)
		bus := events.NewBus(s.Event())
		driver := runner.NewDriver(s, registry, runner.NewGovernor(4, 5), bus)
		driver.Register(&runner.Workflow{Name: "echo", Stages: []runner.Stage{echoStage{}}})
		driver.Register(&runner.Workflow{Name: "gated", Stages: []runner.Stage{gateStage{}}})
		srv = service.NewRunService(s, registry, driver, bus)
	})

	waitStatus := func(id uuid.UUID, want model.RunStatus) *model.Run {
		var run *model.Run
		Eventually(func() model.RunStatus {
			var err error
			run, err = srv.GetRun(context.TODO(), id)
			Expect(err).To(BeNil())
			return run.Status
		}, "5s", "10ms").Should(Equal(want))
		return run
	}

	Context("create", func() {
		It("rejects an unknown workflow", func() {
			_, _, err := srv.CreateRun(context.TODO(), service.RunCreateForm{Workflow: "nope"})
			Expect(err).To(BeAssignableToTypeOf(&service.ErrUnknownWorkflow{}))
		})

		It("runs a submitted workflow to completion", func() {
			run, created, err := srv.CreateRun(context.TODO(), service.RunCreateForm{
				Workflow: "echo",
				Input:    json.RawMessage(`{"hello":"world"}`),
			})
			Expect(err).To(BeNil())
			Expect(created).To(BeTrue())

			done := waitStatus(run.ID, model.RunStatusCompleted)

			output, err := srv.GetRunOutput(context.TODO(), done.ID)
			Expect(err).To(BeNil())
			var decoded map[string]any
			Expect(json.Unmarshal(output, &decoded)).To(Succeed())
			Expect(decoded["echoed"]).To(HaveKeyWithValue("hello", "world"))
		})

		It("returns the existing run for a duplicate idempotency key", func() {
			a, _, err := srv.CreateRun(context.TODO(), service.RunCreateForm{
				Workflow:       "gated",
				Input:          json.RawMessage(`{}`),
				IdempotencyKey: "batch-7",
			})
			Expect(err).To(BeNil())
			waitStatus(a.ID, model.RunStatusPaused)

			b, created, err := srv.CreateRun(context.TODO(), service.RunCreateForm{
				Workflow:       "gated",
				Input:          json.RawMessage(`{}`),
				IdempotencyKey: "batch-7",
			})
			Expect(err).To(BeNil())
			Expect(created).To(BeFalse())
			Expect(b.ID).To(Equal(a.ID))
		})
	})

	Context("state and output", func() {
		It("serves the live checkpoint state of a paused run", func() {
			run, _, err := srv.CreateRun(context.TODO(), service.RunCreateForm{
				Workflow: "gated",
				Input:    json.RawMessage(`{}`),
			})
			Expect(err).To(BeNil())
			waitStatus(run.ID, model.RunStatusPaused)

			state, err := srv.GetRunState(context.TODO(), run.ID)
			Expect(err).To(BeNil())
			Expect(state.Status).To(Equal(model.RunStatusPaused))
			Expect(state.Interrupt).NotTo(BeEmpty())

			var intr runner.Interrupt
			Expect(json.Unmarshal(state.Interrupt, &intr)).To(Succeed())
			Expect(intr.Token).To(Equal("gate-token"))
		})

		It("refuses output of an unfinished run", func() {
			run, _, err := srv.CreateRun(context.TODO(), service.RunCreateForm{
				Workflow: "gated",
				Input:    json.RawMessage(`{}`),
			})
			Expect(err).To(BeNil())
			waitStatus(run.ID, model.RunStatusPaused)

			_, err = srv.GetRunOutput(context.TODO(), run.ID)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrRunNotCompleted{}))
		})

		It("returns not found for an unknown run", func() {
			_, err := srv.GetRun(context.TODO(), uuid.New())
			Expect(err).To(BeAssignableToTypeOf(&service.ErrResourceNotFound{}))
		})
	})

	Context("send event", func() {
		It("resumes a paused run with matching token", func() {
			run, _, err := srv.CreateRun(context.TODO(), service.RunCreateForm{
				Workflow: "gated",
				Input:    json.RawMessage(`{}`),
			})
			Expect(err).To(BeNil())
			waitStatus(run.ID, model.RunStatusPaused)

			err = srv.SendEvent(context.TODO(), run.ID, "gate-token", map[string]any{"answer": 42})
			Expect(err).To(BeNil())

			done := waitStatus(run.ID, model.RunStatusCompleted)
			var decoded map[string]any
			Expect(json.Unmarshal(done.Output, &decoded)).To(Succeed())
			Expect(decoded["answer"]).To(BeEquivalentTo(42))
		})

		It("rejects a mismatched token", func() {
			run, _, err := srv.CreateRun(context.TODO(), service.RunCreateForm{
				Workflow: "gated",
				Input:    json.RawMessage(`{}`),
			})
			Expect(err).To(BeNil())
			waitStatus(run.ID, model.RunStatusPaused)

			err = srv.SendEvent(context.TODO(), run.ID, "wrong", map[string]any{})
			Expect(err).To(BeAssignableToTypeOf(&service.ErrInterruptMismatch{}))
		})

		It("rejects input for a run that is not paused", func() {
			run, _, err := srv.CreateRun(context.TODO(), service.RunCreateForm{
				Workflow: "echo",
				Input:    json.RawMessage(`{}`),
			})
			Expect(err).To(BeNil())
			waitStatus(run.ID, model.RunStatusCompleted)

			err = srv.SendEvent(context.TODO(), run.ID, "gate-token", map[string]any{})
			Expect(err).To(BeAssignableToTypeOf(&service.ErrRunNotPaused{}))
		})
	})

	Context("cancel and retry", func() {
		It("cancels a paused run", func() {
			run, _, err := srv.CreateRun(context.TODO(), service.RunCreateForm{
				Workflow: "gated",
				Input:    json.RawMessage(`{}`),
			})
			Expect(err).To(BeNil())
			waitStatus(run.ID, model.RunStatusPaused)

			cancelled, err := srv.CancelRun(context.TODO(), run.ID)
			Expect(err).To(BeNil())
			Expect(cancelled).To(BeTrue())
			waitStatus(run.ID, model.RunStatusCancelled)
		})

		It("retries a cancelled run as a brand-new run", func() {
			run, _, err := srv.CreateRun(context.TODO(), service.RunCreateForm{
				Workflow: "echo",
				Input:    json.RawMessage(`{"n":1}`),
			})
			Expect(err).To(BeNil())
			waitStatus(run.ID, model.RunStatusCompleted)

			fresh, err := srv.RetryRun(context.TODO(), run.ID)
			Expect(err).To(BeNil())
			Expect(fresh.ID).NotTo(Equal(run.ID))
			waitStatus(fresh.ID, model.RunStatusCompleted)

			// the original run is untouched
			original, err := srv.GetRun(context.TODO(), run.ID)
			Expect(err).To(BeNil())
			Expect(original.Status).To(Equal(model.RunStatusCompleted))
		})

		It("refuses to retry an active run", func() {
			run, _, err := srv.CreateRun(context.TODO(), service.RunCreateForm{
				Workflow: "gated",
				Input:    json.RawMessage(`{}`),
			})
			Expect(err).To(BeNil())
			waitStatus(run.ID, model.RunStatusPaused)

			_, err = srv.RetryRun(context.TODO(), run.ID)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrRunNotTerminal{}))
		})
	})

	Context("event stream", func() {
		It("streams events across a pause and resume", func() {
			run, _, err := srv.CreateRun(context.TODO(), service.RunCreateForm{
				Workflow: "gated",
				Input:    json.RawMessage(`{}`),
			})
			Expect(err).To(BeNil())
			waitStatus(run.ID, model.RunStatusPaused)

			ctx, cancel := context.WithTimeout(context.TODO(), 5*time.Second)
			defer cancel()
			w, err := srv.WatchEvents(ctx, run.ID, 0)
			Expect(err).To(BeNil())

			Expect(srv.SendEvent(context.TODO(), run.ID, "gate-token", map[string]any{"answer": 1})).To(Succeed())

			var kinds []string
			for e := range w.Events() {
				kinds = append(kinds, e.Kind)
			}
			Expect(kinds[0]).To(Equal(events.KindRunStarted))
			Expect(kinds).To(ContainElement(events.KindRunPaused))
			Expect(kinds).To(ContainElement(events.KindRunResumed))
			Expect(kinds[len(kinds)-1]).To(Equal(events.KindRunFinished))
		})
	})
})
