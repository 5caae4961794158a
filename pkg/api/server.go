// Package api serves the prediction web form, the JSON prediction
// endpoint and run results over HTTP.
package api

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/logger"
	"github.com/mimir-aip/satisfaction-pipeline/pkg/tracking"
)

//go:embed templates/*.html
var templateFS embed.FS

// Options configures the server
type Options struct {
	Port       string
	ModelPath  string
	Experiment string
	// Registry receives the server's collectors and backs /metrics.
	// Nil uses a fresh registry.
	Registry *prometheus.Registry
}

// Server provides HTTP API endpoints
type Server struct {
	opts    Options
	engine  *gin.Engine
	store   *ModelStore
	tracker tracking.Tracker
	log     logger.Logger

	predictions *prometheus.CounterVec
}

// NewServer creates a server. tracker may be nil, in which case /results
// shows no runs.
func NewServer(opts Options, tracker tracking.Tracker, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.Experiment == "" {
		opts.Experiment = tracking.DefaultExperiment
	}

	s := &Server{
		opts:    opts,
		engine:  gin.New(),
		store:   NewModelStore(opts.ModelPath),
		tracker: tracker,
		log:     log,
		predictions: promauto.With(opts.Registry).NewCounterVec(prometheus.CounterOpts{
			Name: "satisfaction_predictions_total",
			Help: "Predictions served by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
	}

	s.engine.Use(gin.Recovery(), requestLogger(log))
	s.engine.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/*.html")))
	s.registerRoutes()
	return s
}

// registerRoutes sets up the HTTP routes
func (s *Server) registerRoutes() {
	s.engine.GET("/", s.handleIndex)
	s.engine.POST("/predict", s.handlePredictForm)
	s.engine.GET("/results", s.handleResults)
	s.engine.POST("/invocations", s.handleInvocations)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/ready", s.handleReady)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{})))
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.opts.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting API server", logger.String("addr", srv.Addr), logger.String("model_path", s.opts.ModelPath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("Shutting down API server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// handleReady reports ready once the model artifact loads
func (s *Server) handleReady(c *gin.Context) {
	model, err := s.store.Get()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "ready",
		"model_type": model.ModelType,
		"run_id":     model.RunID,
	})
}
