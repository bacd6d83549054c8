package v1alpha1

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"go.uber.org/zap"

	api "github.com/examsift/grading-engine/api/v1alpha1"
	"github.com/examsift/grading-engine/internal/handlers/v1alpha1/mappers"
	"github.com/examsift/grading-engine/internal/handlers/validator"
	"github.com/examsift/grading-engine/internal/service"
	"github.com/examsift/grading-engine/internal/store/model"
	"github.com/examsift/grading-engine/pkg/requestid"
)

type RunHandler struct {
	srv       *service.RunService
	validator *validator.Validator
	logger    *zap.SugaredLogger
}

func NewRunHandler(srv *service.RunService) *RunHandler {
	v := validator.NewValidator()
	v.Register(validator.NewRunValidationRules()...)
	return &RunHandler{
		srv:       srv,
		validator: v,
		logger:    zap.S().Named("run_handler"),
	}
}

// Routes mounts the run endpoints.
func (h *RunHandler) Routes(r chi.Router) {
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", h.CreateRun)
		r.Get("/", h.ListRuns)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/status", h.GetRunStatus)
			r.Get("/state", h.GetRunState)
			r.Get("/output", h.GetRunOutput)
			r.Get("/events", h.StreamEvents)
			r.Post("/events", h.SendEvent)
			r.Post("/cancel", h.CancelRun)
			r.Post("/retry", h.RetryRun)
		})
	})
}

// (POST /api/v1alpha1/runs)
func (h *RunHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req api.CreateRunRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.renderError(w, r, service.NewErrInvalidInput(fmt.Sprintf("malformed body: %v", err)))
		return
	}
	if err := h.validator.Struct(struct {
		Workflow string `validate:"required,workflow_name"`
	}{req.Workflow}); err != nil {
		h.renderError(w, r, service.NewErrInvalidInput(fmt.Sprintf("invalid workflow name: %v", err)))
		return
	}
	// json "null" decodes into a non-empty RawMessage; treat it as missing
	if len(req.Input) == 0 || string(req.Input) == "null" {
		h.renderError(w, r, service.NewErrInvalidInput("input payload is required"))
		return
	}

	run, created, err := h.srv.CreateRun(r.Context(), service.RunCreateForm{
		Workflow:       req.Workflow,
		Input:          req.Input,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	render.Status(r, status)
	render.JSON(w, r, mappers.RunToApi(run))
}

// (GET /api/v1alpha1/runs)
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	var statuses []model.RunStatus
	for _, s := range r.URL.Query()["status"] {
		statuses = append(statuses, model.StringToRunStatus(s))
	}

	runs, err := h.srv.ListRuns(r.Context(), statuses...)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, mappers.RunListToApi(runs))
}

// (GET /api/v1alpha1/runs/{id}/status)
func (h *RunHandler) GetRunStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}
	run, err := h.srv.GetRun(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	progress, err := h.srv.GetRunProgress(r.Context(), run)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	out := mappers.RunToApi(run)
	out.Progress = mappers.ProgressToApi(progress)
	render.JSON(w, r, out)
}

// (GET /api/v1alpha1/runs/{id}/state)
func (h *RunHandler) GetRunState(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}
	state, err := h.srv.GetRunState(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, mappers.RunStateToApi(state))
}

// (GET /api/v1alpha1/runs/{id}/output)
func (h *RunHandler) GetRunOutput(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}
	output, err := h.srv.GetRunOutput(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(output)
}

// (GET /api/v1alpha1/runs/{id}/events)
//
// Streams newline-delimited JSON. With follow=true the stream stays open
// across pauses and ends only on the end-of-stream marker.
func (h *RunHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}

	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			h.renderError(w, r, service.NewErrInvalidInput(fmt.Sprintf("invalid after sequence: %v", err)))
			return
		}
		after = parsed
	}

	if r.URL.Query().Get("follow") != "true" {
		events, err := h.srv.ListEvents(r.Context(), id, after, 1000)
		if err != nil {
			h.renderError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		for _, e := range events {
			_ = enc.Encode(mappers.EventToApi(e))
		}
		return
	}

	watcher, err := h.srv.WatchEvents(r.Context(), id, after)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	defer watcher.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.renderError(w, r, service.NewErrInvalidInput("streaming is not supported by this connection"))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for e := range watcher.Events() {
		if err := enc.Encode(mappers.EventToApi(e)); err != nil {
			h.logger.Debugw("event stream consumer left", "run_id", id, "error", err)
			return
		}
		flusher.Flush()
	}
}

// (POST /api/v1alpha1/runs/{id}/events)
func (h *RunHandler) SendEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}
	var req api.SendEventRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.renderError(w, r, service.NewErrInvalidInput(fmt.Sprintf("malformed body: %v", err)))
		return
	}
	if err := h.validator.Struct(struct {
		Token string `validate:"interrupt_token"`
	}{req.Token}); err != nil {
		h.renderError(w, r, service.NewErrInvalidInput(fmt.Sprintf("invalid token: %v", err)))
		return
	}

	if err := h.srv.SendEvent(r.Context(), id, req.Token, req.Payload); err != nil {
		h.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"status": "resuming"})
}

// (POST /api/v1alpha1/runs/{id}/cancel)
func (h *RunHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}
	cancelled, err := h.srv.CancelRun(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]bool{"cancelled": cancelled})
}

// (POST /api/v1alpha1/runs/{id}/retry)
func (h *RunHandler) RetryRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}
	fresh, err := h.srv.RetryRun(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, mappers.RunToApi(fresh))
}

func (h *RunHandler) runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.renderError(w, r, service.NewErrInvalidInput(fmt.Sprintf("invalid run id: %v", err)))
		return uuid.Nil, false
	}
	return id, true
}

func (h *RunHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	var (
		notFound     *service.ErrResourceNotFound
		unknownWf    *service.ErrUnknownWorkflow
		notPaused    *service.ErrRunNotPaused
		notTerminal  *service.ErrRunNotTerminal
		notCompleted *service.ErrRunNotCompleted
		mismatch     *service.ErrInterruptMismatch
		invalid      *service.ErrInvalidInput
	)
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &unknownWf), errors.As(err, &invalid):
		status = http.StatusBadRequest
	case errors.As(err, &notPaused), errors.As(err, &notTerminal), errors.As(err, &notCompleted), errors.As(err, &mismatch):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.logger.Errorw("request failed", "error", err)
	}
	render.Status(r, status)
	render.JSON(w, r, api.Error{Message: err.Error(), RequestId: requestid.FromContextPtr(r.Context())})
}
