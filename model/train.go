package model

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Metrics summarizes a training run
type Metrics struct {
	TrainAccuracy float64 `json:"train_accuracy"`
	NFeatures     int     `json:"n_features"`
	NEstimators   int     `json:"n_estimators"`
}

// Train fits a scaler on X, fits a forest on the scaled rows and returns the
// resulting bundle with its training-set accuracy
func Train(ctx context.Context, X [][]float64, y []int, names []string, params ForestParams) (*Bundle, Metrics, error) {
	scaler, err := FitScaler(X, names)
	if err != nil {
		return nil, Metrics{}, fmt.Errorf("failed to fit scaler: %w", err)
	}

	scaled, err := scaler.transformAll(X)
	if err != nil {
		return nil, Metrics{}, fmt.Errorf("failed to scale training data: %w", err)
	}

	forest, err := FitForest(ctx, scaled, y, params)
	if err != nil {
		return nil, Metrics{}, fmt.Errorf("failed to fit forest: %w", err)
	}

	bundle := &Bundle{
		ID:           uuid.NewString(),
		FeatureNames: append([]string(nil), names...),
		Scaler:       scaler,
		Forest:       forest,
		TrainedAt:    time.Now().UTC(),
	}

	correct := 0
	for i, row := range scaled {
		if forest.Predict(row) == y[i] {
			correct++
		}
	}

	return bundle, Metrics{
		TrainAccuracy: float64(correct) / float64(len(y)),
		NFeatures:     len(names),
		NEstimators:   len(forest.Trees),
	}, nil
}

// Evaluate returns the share of rows in X whose predicted label matches y
func Evaluate(e *Engine, X [][]float64, y []int) (float64, error) {
	if len(X) == 0 {
		return 0, fmt.Errorf("cannot evaluate on empty dataset")
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("X has %d rows but y has %d labels", len(X), len(y))
	}

	correct := 0
	for i, row := range X {
		label, err := e.Predict(row)
		if err != nil {
			return 0, fmt.Errorf("row %d: %w", i, err)
		}
		if label == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(y)), nil
}
