package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/lib/pq"

	"github.com/liamcoop/creditapproval/audit"
	"github.com/liamcoop/creditapproval/credit"
	"github.com/liamcoop/creditapproval/internal/config"
	"github.com/liamcoop/creditapproval/internal/logger"
	"github.com/liamcoop/creditapproval/internal/metrics"
	"github.com/liamcoop/creditapproval/lifecycle"
)

const (
	maxBodyBytes = 1 << 20

	defaultDecisionLimit = 50
	maxDecisionLimit     = 500
)

type Server struct {
	cfg       config.Config
	logger    *slog.Logger
	models    *lifecycle.Manager
	predictor *credit.Service
	metrics   *metrics.Metrics
	router    *chi.Mux

	db       *sql.DB
	kafka    *audit.KafkaSink
	store    audit.Store
	recorder *audit.Recorder
}

func NewServer(cfg config.Config, log *slog.Logger) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		logger:  log,
		metrics: metrics.New(),
	}

	s.models = lifecycle.NewManager(
		lifecycle.FileLoader{ModelPath: cfg.ModelPath, ScalerPath: cfg.ScalerPath},
		lifecycle.WithLogger(log),
		lifecycle.WithObserver(s.metrics),
	)

	opts := []credit.Option{credit.WithLogger(log)}
	if cfg.AuditEnabled() {
		if err := s.setupAudit(); err != nil {
			return nil, err
		}
		opts = append(opts, credit.WithRecorder(s.recorder))
	}
	s.predictor = credit.NewService(s.models, opts...)

	s.setupRoutes()

	return s, nil
}

func (s *Server) setupAudit() error {
	var sinks []audit.Sink

	if s.cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", s.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return fmt.Errorf("failed to ping database: %w", err)
		}
		s.db = db
		pg := audit.NewPostgresStore(db)
		s.store = pg
		sinks = append(sinks, pg)
	}

	if s.cfg.AuditMemory {
		mem := audit.NewMemoryStore(s.cfg.AuditMemorySize)
		if s.store == nil {
			s.store = mem
		}
		sinks = append(sinks, mem)
	}

	if len(s.cfg.KafkaBrokers) > 0 {
		s.kafka = audit.NewKafkaSink(s.cfg.KafkaBrokers, s.cfg.KafkaTopic)
		sinks = append(sinks, s.kafka)
	}

	s.recorder = audit.NewRecorder(sinks,
		audit.WithBuffer(s.cfg.AuditBuffer),
		audit.WithLogger(s.logger),
		audit.WithDropHook(s.metrics.AuditDropped),
	)
	s.logger.Info("audit trail enabled",
		"postgres", s.db != nil,
		"kafka_topic", s.cfg.KafkaTopic,
		"kafka", s.kafka != nil,
		"memory", s.cfg.AuditMemory,
	)
	return nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(s.logger.Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/api/v1/health", s.handleHealth)
	r.Post("/api/v1/predict", s.handlePredict)
	r.Get("/api/v1/decisions", s.handleListDecisions)
	r.Get("/api/v1/decisions/{id}", s.handleGetDecision)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, RootResponse{
		Title:   s.cfg.APITitle,
		Version: s.cfg.APIVersion,
		Health:  "/api/v1/health",
	})
}

// Health check handler. Never triggers a model load.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		Version:     s.cfg.APIVersion,
		ModelLoaded: s.models.Loaded(),
	})
}

// Prediction handler
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.metrics.ObserveFailure(metrics.KindValidation, time.Since(start))
		s.logger.WarnContext(r.Context(), "unreadable request body", "error", err)
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:  "validation failed",
			Fields: readErrorFields(err),
		})
		return
	}

	var req PredictRequest
	if req, err = credit.ParseApplicantInput(raw); err != nil {
		s.logger.WarnContext(r.Context(), "invalid request body", "error", err)
		s.respondPredictError(w, r, err, start)
		return
	}

	pred, err := s.predictor.Predict(r.Context(), req)
	if err != nil {
		s.respondPredictError(w, r, err, start)
		return
	}

	s.metrics.ObservePrediction(pred.RiskLevel.String(), pred.Approved, pred.ApprovalProbability, time.Since(start))
	respondJSON(w, http.StatusOK, newPredictResponse(pred))
}

// List recent audited decisions, newest first
func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotFound, "audit trail not configured")
		return
	}

	limit := defaultDecisionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxDecisionLimit {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxDecisionLimit))
			return
		}
		limit = n
	}

	decisions, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to list decisions", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read decisions")
		return
	}
	if decisions == nil {
		decisions = []credit.Decision{}
	}
	respondJSON(w, http.StatusOK, decisions)
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusNotFound, "audit trail not configured")
		return
	}

	d, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, audit.ErrNotFound) {
		respondError(w, http.StatusNotFound, "decision not found")
		return
	}
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to get decision", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read decisions")
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) respondPredictError(w http.ResponseWriter, r *http.Request, err error, start time.Time) {
	var (
		verr       *credit.ValidationError
		unexpected *credit.UnexpectedError
	)

	switch {
	case errors.As(err, &verr):
		s.metrics.ObserveFailure(metrics.KindValidation, time.Since(start))
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:  "validation failed",
			Fields: verr.Fields,
		})

	case errors.As(err, &unexpected):
		s.metrics.ObserveFailure(metrics.KindUnexpected, time.Since(start))
		respondError(w, http.StatusInternalServerError, "Error processing prediction")

	default:
		// missing or unreadable artifacts; the cause is already logged by the manager
		s.metrics.ObserveFailure(metrics.KindModelNotLoaded, time.Since(start))
		s.logger.ErrorContext(r.Context(), "model not available",
			"model_path", s.cfg.ModelPath,
			"scaler_path", s.cfg.ScalerPath,
			"error", err,
		)
		respondError(w, http.StatusInternalServerError, "model not available")
	}
}

func readErrorFields(err error) []credit.FieldError {
	var sizeErr *http.MaxBytesError
	if errors.As(err, &sizeErr) {
		return []credit.FieldError{{Field: credit.BodyField, Message: "request body too large"}}
	}
	return []credit.FieldError{{Field: credit.BodyField, Message: "could not read request body"}}
}

// Close drains the audit trail and releases its connections
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	if s.recorder != nil {
		errs = append(errs, s.recorder.Close(ctx))
	}
	if s.kafka != nil {
		errs = append(errs, s.kafka.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Setup(context.Background(), logger.Options{
		Level:          cfg.LogLevel,
		ServiceName:    cfg.OTELServiceName,
		OTELEnabled:    cfg.OTELEnabled,
		WarnSampleRate: cfg.WarnSampleRate,
		File:           cfg.LogFile,
	})
	if err != nil {
		log.Warn("invalid log level", "error", err)
	}

	log.Info("starting "+cfg.APITitle,
		"version", cfg.APIVersion,
		"environment", cfg.Environment,
	)

	server, err := NewServer(cfg, log)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}

	if cfg.PreloadModel {
		if err := server.models.Preload(); err != nil {
			logger.Fatal("failed to preload model", "error", err)
		}
	}

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	if err := server.Close(ctx); err != nil {
		log.Error("audit shutdown error", "error", err)
	}

	log.Info("server stopped")
	_ = logger.Shutdown(ctx)
}
