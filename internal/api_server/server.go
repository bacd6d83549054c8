package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/examsift/grading-engine/internal/config"
	"github.com/examsift/grading-engine/internal/events"
	handlers "github.com/examsift/grading-engine/internal/handlers/v1alpha1"
	"github.com/examsift/grading-engine/internal/runner"
	"github.com/examsift/grading-engine/internal/service"
	"github.com/examsift/grading-engine/internal/store"
	"github.com/examsift/grading-engine/pkg/metrics"
	"github.com/examsift/grading-engine/pkg/middleware"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
)

type Server struct {
	cfg      *config.Config
	store    store.Store
	listener net.Listener
	grader   runner.PageGrader
}

// New returns a new instance of a grading-engine server.
func New(
	cfg *config.Config,
	store store.Store,
	listener net.Listener,
	grader runner.PageGrader,
) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		listener: listener,
		grader:   grader,
	}
}

func (s *Server) Run(ctx context.Context) error {
	zap.S().Named("api_server").Info("Initializing API server")

	registry := runner.NewRegistry(s.store)
	bus := events.NewBus(s.store.Event())
	governor := runner.NewGovernor(s.cfg.Runner.MaxActiveRuns, s.cfg.Runner.GradingCallsPerRun)
	governor.SetWorkflowCallCap(runner.WorkflowBatchGrading, s.cfg.Runner.BatchGradingCallsPerRun)

	driver := runner.NewDriver(s.store, registry, governor, bus)
	driver.Register(runner.NewBatchWorkflow(s.grader, runner.BatchConfig{
		ConfirmationThreshold: s.cfg.Runner.ConfirmationThreshold,
		ReviewConfidenceFloor: s.cfg.Runner.ReviewConfidenceFloor,
	}))

	runService := service.NewRunService(s.store, registry, driver, bus)

	router := chi.NewRouter()

	metricMiddleware := metrics.NewMiddleware("api_server")
	metricMiddleware.MustRegisterDefault()

	router.Use(
		metricMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "PUT", "POST", "DELETE", "HEAD", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}),
		middleware.RequestID,
		middleware.Logger(),
		chiMiddleware.Recoverer,
	)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	router.Route("/api/v1alpha1", func(r chi.Router) {
		handlers.NewRunHandler(runService).Routes(r)
	})

	srv := http.Server{Addr: s.cfg.Service.Address, Handler: router}

	go func() {
		<-ctx.Done()
		zap.S().Named("api_server").Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		zap.S().Named("api_server").Info("api server terminated")
	}()

	zap.S().Named("api_server").Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}
