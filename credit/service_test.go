package credit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/creditapproval/model"
)

type stubProvider struct {
	engine *model.Engine
	err    error
}

func (p *stubProvider) Engine() (*model.Engine, error) {
	return p.engine, p.err
}

type captureRecorder struct {
	mu        sync.Mutex
	decisions []Decision
}

func (r *captureRecorder) RecordDecision(_ context.Context, d Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
}

// identityBundle builds a bundle whose scaler is the identity, so tree
// thresholds are expressed in raw feature units
func identityBundle(names []string, nodes ...model.Node) *model.Bundle {
	mean := make([]float64, len(names))
	scale := make([]float64, len(names))
	for i := range scale {
		scale[i] = 1
	}
	return &model.Bundle{
		ID:           "bundle-under-test",
		FeatureNames: names,
		Scaler:       &model.Scaler{FeatureNames: names, Mean: mean, Scale: scale},
		Forest: &model.Forest{
			Trees:     []model.Tree{{Nodes: nodes}},
			NFeatures: len(names),
		},
	}
}

func constantEngine(p1 float64) *model.Engine {
	return model.NewEngine(identityBundle(model.DefaultFeatureNames, model.Node{Feature: -1, Proba: p1}))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(p EngineProvider, opts ...Option) *Service {
	return NewService(p, append([]Option{WithLogger(quietLogger())}, opts...)...)
}

func TestPredict_BandsAndRounding(t *testing.T) {
	tests := []struct {
		name     string
		p1       float64
		approved bool
		prob     float64
		risk     RiskLevel
	}{
		{"confident approval", 0.912345, true, 0.9123, RiskLow},
		{"low boundary", 0.8, true, 0.8, RiskLow},
		{"medium", 0.66666, true, 0.6667, RiskMedium},
		{"tie stays rejected but medium", 0.5, false, 0.5, RiskMedium},
		{"rejection", 0.12344, false, 0.1234, RiskHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(&stubProvider{engine: constantEngine(tt.p1)})

			pred, err := svc.Predict(context.Background(), validInput())
			require.NoError(t, err)
			assert.Equal(t, tt.approved, pred.Approved)
			assert.Equal(t, tt.prob, pred.ApprovalProbability)
			assert.Equal(t, tt.risk, pred.RiskLevel)
		})
	}
}

func TestPredict_RiskUsesUnroundedProbability(t *testing.T) {
	// 0.79996 rounds to 0.8 for display but is still below the low band
	svc := newTestService(&stubProvider{engine: constantEngine(0.79996)})

	pred, err := svc.Predict(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, 0.8, pred.ApprovalProbability)
	assert.Equal(t, RiskMedium, pred.RiskLevel)
}

func TestPredict_FeatureOrderComesFromBundle(t *testing.T) {
	// credit_score is stored first, so the split must read slot 0
	names := []string{"credit_score", "age", "income", "loan_amount", "employment_years", "existing_debts"}
	engine := model.NewEngine(identityBundle(names,
		model.Node{Feature: 0, Threshold: 600, Left: 1, Right: 2},
		model.Node{Feature: -1, Proba: 0.1},
		model.Node{Feature: -1, Proba: 0.95},
	))
	svc := newTestService(&stubProvider{engine: engine})

	good := validInput()
	pred, err := svc.Predict(context.Background(), good)
	require.NoError(t, err)
	assert.True(t, pred.Approved)

	poor := validInput()
	poor.CreditScore = ptr(550)
	pred, err = svc.Predict(context.Background(), poor)
	require.NoError(t, err)
	assert.False(t, pred.Approved)
	assert.Equal(t, RiskHigh, pred.RiskLevel)
}

func TestPredict_ValidationBeforeEngine(t *testing.T) {
	provider := &stubProvider{err: errors.New("must not be called")}
	svc := newTestService(provider)

	in := validInput()
	in.Age = ptr(-5)

	_, err := svc.Predict(context.Background(), in)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestPredict_ArtifactErrorPassesThrough(t *testing.T) {
	missing := &model.ArtifactNotFoundError{Path: "models_trained/credit_model.gob"}
	svc := newTestService(&stubProvider{err: missing})

	_, err := svc.Predict(context.Background(), validInput())
	var notFound *model.ArtifactNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, missing.Path, notFound.Path)
}

func TestPredict_UnloadedEngine(t *testing.T) {
	svc := newTestService(&stubProvider{engine: model.NewEngine(nil)})

	_, err := svc.Predict(context.Background(), validInput())
	assert.ErrorIs(t, err, model.ErrModelNotLoaded)
}

func TestPredict_UnknownFeatureIsUnexpected(t *testing.T) {
	names := []string{"age", "income", "credit_score", "loan_amount", "employment_years", "zip_code"}
	engine := model.NewEngine(identityBundle(names, model.Node{Feature: -1, Proba: 0.9}))
	svc := newTestService(&stubProvider{engine: engine})

	_, err := svc.Predict(context.Background(), validInput())
	var unexpected *UnexpectedError
	require.ErrorAs(t, err, &unexpected)
	assert.ErrorContains(t, unexpected.Err, "zip_code")
}

func TestPredict_PanicBecomesUnexpected(t *testing.T) {
	// child index points past the node slice
	engine := model.NewEngine(identityBundle(model.DefaultFeatureNames,
		model.Node{Feature: 2, Threshold: 600, Left: 5, Right: 6},
	))
	svc := newTestService(&stubProvider{engine: engine})

	_, err := svc.Predict(context.Background(), validInput())
	var unexpected *UnexpectedError
	require.ErrorAs(t, err, &unexpected)
	assert.Contains(t, unexpected.Error(), "panic")
}

func TestPredict_RecordsDecision(t *testing.T) {
	rec := &captureRecorder{}
	svc := newTestService(&stubProvider{engine: constantEngine(0.9)}, WithRecorder(rec))

	pred, err := svc.Predict(context.Background(), validInput())
	require.NoError(t, err)

	require.Len(t, rec.decisions, 1)
	d := rec.decisions[0]
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, "bundle-under-test", d.ModelID)
	assert.Equal(t, *pred, d.Prediction)
	assert.Equal(t, 720.0, d.Applicant.CreditScore)
	assert.False(t, d.CreatedAt.IsZero())
}

func TestPredict_NoDecisionOnFailure(t *testing.T) {
	rec := &captureRecorder{}
	svc := newTestService(&stubProvider{engine: model.NewEngine(nil)}, WithRecorder(rec))

	in := validInput()
	in.Income = nil
	_, err := svc.Predict(context.Background(), in)
	require.Error(t, err)

	_, err = svc.Predict(context.Background(), validInput())
	require.Error(t, err)

	assert.Empty(t, rec.decisions)
}
