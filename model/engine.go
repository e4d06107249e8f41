package model

import (
	"errors"
	"fmt"
)

// DefaultFeatureNames is the column order new bundles are trained with.
// Serving code reads the order from the loaded bundle instead.
var DefaultFeatureNames = []string{
	"age",
	"income",
	"credit_score",
	"loan_amount",
	"employment_years",
	"existing_debts",
}

// FeatureVector is one applicant encoded in the bundle's feature order
type FeatureVector []float64

var (
	// ErrModelNotLoaded is returned when inference is attempted without a bundle
	ErrModelNotLoaded = errors.New("model not loaded")

	// ErrFeatureCount is returned when a vector does not match the bundle's width
	ErrFeatureCount = errors.New("feature count mismatch")
)

// Transformer maps raw feature vectors into the space the classifier was fit in
type Transformer interface {
	Transform(v FeatureVector) (FeatureVector, error)
}

// Classifier produces a hard label and a [p0, p1] probability pair for a scaled vector
type Classifier interface {
	Predict(x []float64) int
	PredictProbability(x []float64) [2]float64
}

// Engine runs inference over a loaded bundle.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	bundle      *Bundle
	transformer Transformer
	classifier  Classifier
}

// NewEngine wraps a bundle. A nil bundle yields an engine that reports ErrModelNotLoaded.
func NewEngine(b *Bundle) *Engine {
	e := &Engine{bundle: b}
	if b != nil && b.Scaler != nil && b.Forest != nil {
		e.transformer = b.Scaler
		e.classifier = b.Forest
	}
	return e
}

// Loaded reports whether the engine has both artifacts
func (e *Engine) Loaded() bool {
	return e != nil && e.transformer != nil && e.classifier != nil
}

// Bundle returns the underlying bundle, or nil when unloaded
func (e *Engine) Bundle() *Bundle {
	if e == nil {
		return nil
	}
	return e.bundle
}

// FeatureNames returns the feature order vectors must follow
func (e *Engine) FeatureNames() []string {
	if !e.Loaded() {
		return nil
	}
	return e.bundle.FeatureNames
}

// Predict scales v and returns the classifier's label (0 = rejected, 1 = approved)
func (e *Engine) Predict(v FeatureVector) (int, error) {
	x, err := e.scale(v)
	if err != nil {
		return 0, err
	}
	return e.classifier.Predict(x), nil
}

// PredictProbability scales v and returns [p(rejected), p(approved)]
func (e *Engine) PredictProbability(v FeatureVector) ([2]float64, error) {
	x, err := e.scale(v)
	if err != nil {
		return [2]float64{}, err
	}
	return e.classifier.PredictProbability(x), nil
}

func (e *Engine) scale(v FeatureVector) (FeatureVector, error) {
	if !e.Loaded() {
		return nil, ErrModelNotLoaded
	}
	if len(v) != len(e.bundle.FeatureNames) {
		return nil, fmt.Errorf("%w: got %d, model expects %d", ErrFeatureCount, len(v), len(e.bundle.FeatureNames))
	}
	return e.transformer.Transform(v)
}
