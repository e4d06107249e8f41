package credit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/creditapproval/model"
)

// Prediction is the decision returned to the caller
type Prediction struct {
	Approved            bool      `json:"approved"`
	ApprovalProbability float64   `json:"approval_probability"`
	RiskLevel           RiskLevel `json:"risk_level"`
}

// Decision is a completed prediction together with its input, kept for auditing
type Decision struct {
	ID         string        `json:"id"`
	ModelID    string        `json:"model_id"`
	Applicant  Applicant     `json:"applicant"`
	Prediction Prediction    `json:"prediction"`
	Latency    time.Duration `json:"latency_ns"`
	CreatedAt  time.Time     `json:"created_at"`
}

// UnexpectedError wraps any failure after validation that is not a model
// availability problem. Its cause is for server logs only.
type UnexpectedError struct {
	Err error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected inference failure: %v", e.Err)
}

func (e *UnexpectedError) Unwrap() error {
	return e.Err
}

// EngineProvider hands out the loaded inference engine
type EngineProvider interface {
	Engine() (*model.Engine, error)
}

// DecisionRecorder receives completed decisions. Implementations must not block.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, d Decision)
}

// Service turns applicant payloads into predictions
type Service struct {
	engines  EngineProvider
	recorder DecisionRecorder
	logger   *slog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithRecorder sends every successful decision to r
func WithRecorder(r DecisionRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithLogger sets the service logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service backed by the given engine provider
func NewService(engines EngineProvider, opts ...Option) *Service {
	s := &Service{
		engines: engines,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Predict validates the input, runs inference and buckets the risk.
// Errors are *ValidationError, a model availability error from the engine
// provider or model.ErrModelNotLoaded, or *UnexpectedError.
func (s *Service) Predict(ctx context.Context, in ApplicantInput) (*Prediction, error) {
	start := time.Now()

	applicant, err := in.Validate()
	if err != nil {
		s.logger.WarnContext(ctx, "rejected prediction request", "error", err)
		return nil, err
	}

	engine, err := s.engines.Engine()
	if err != nil {
		return nil, err
	}

	pred, err := infer(engine, applicant)
	if err != nil {
		if errors.Is(err, model.ErrModelNotLoaded) {
			s.logger.ErrorContext(ctx, "inference attempted without a model", "error", err)
		} else {
			s.logger.ErrorContext(ctx, "error during prediction", "error", err)
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "prediction made",
		"approved", pred.Approved,
		"probability", pred.ApprovalProbability,
		"risk_level", pred.RiskLevel,
	)

	if s.recorder != nil {
		modelID := ""
		if b := engine.Bundle(); b != nil {
			modelID = b.ID
		}
		s.recorder.RecordDecision(ctx, Decision{
			ID:         uuid.NewString(),
			ModelID:    modelID,
			Applicant:  applicant,
			Prediction: *pred,
			Latency:    time.Since(start),
			CreatedAt:  start.UTC(),
		})
	}

	return pred, nil
}

func infer(engine *model.Engine, applicant Applicant) (pred *Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			pred = nil
			err = &UnexpectedError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if !engine.Loaded() {
		return nil, model.ErrModelNotLoaded
	}

	v, err := applicant.Vector(engine.FeatureNames())
	if err != nil {
		return nil, &UnexpectedError{Err: err}
	}

	label, err := engine.Predict(v)
	if err != nil {
		return nil, &UnexpectedError{Err: err}
	}
	proba, err := engine.PredictProbability(v)
	if err != nil {
		return nil, &UnexpectedError{Err: err}
	}

	// approved follows the hard label; the band follows the probability.
	// They can disagree when p1 is exactly 0.5.
	p1 := proba[1]
	return &Prediction{
		Approved:            label == 1,
		ApprovalProbability: round(p1, 4),
		RiskLevel:           RiskLevelFromProbability(p1),
	}, nil
}

func round(x float64, places int) float64 {
	pow := math.Pow10(places)
	return math.Round(x*pow) / pow
}
