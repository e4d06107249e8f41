package model

import (
	"fmt"
	"math"
)

// Scaler standardizes features with the per-column mean and scale learned at fit time
type Scaler struct {
	FeatureNames []string  `yaml:"feature_names"`
	Mean         []float64 `yaml:"mean"`
	Scale        []float64 `yaml:"scale"`
}

// FitScaler learns column means and population standard deviations from X.
// Columns with zero variance get a scale of 1 so transform leaves them centered.
func FitScaler(X [][]float64, names []string) (*Scaler, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("cannot fit scaler on empty dataset")
	}
	width := len(names)
	if width == 0 {
		return nil, fmt.Errorf("cannot fit scaler without feature names")
	}

	mean := make([]float64, width)
	for i, row := range X {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d features, expected %d", i, len(row), width)
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(X))
	for j := range mean {
		mean[j] /= n
	}

	scale := make([]float64, width)
	for _, row := range X {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] == 0 {
			scale[j] = 1
		}
	}

	return &Scaler{
		FeatureNames: append([]string(nil), names...),
		Mean:         mean,
		Scale:        scale,
	}, nil
}

// Transform returns (x - mean) / scale for each slot of v
func (s *Scaler) Transform(v FeatureVector) (FeatureVector, error) {
	if len(v) != len(s.Mean) {
		return nil, fmt.Errorf("%w: got %d, scaler expects %d", ErrFeatureCount, len(v), len(s.Mean))
	}
	out := make(FeatureVector, len(v))
	for i, x := range v {
		out[i] = (x - s.Mean[i]) / s.Scale[i]
	}
	return out, nil
}

func (s *Scaler) transformAll(X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i, row := range X {
		t, err := s.Transform(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = t
	}
	return out, nil
}

func (s *Scaler) validate() error {
	if len(s.FeatureNames) == 0 {
		return fmt.Errorf("scaler has no feature names")
	}
	if len(s.Mean) != len(s.FeatureNames) || len(s.Scale) != len(s.FeatureNames) {
		return fmt.Errorf("scaler shape mismatch: %d names, %d means, %d scales",
			len(s.FeatureNames), len(s.Mean), len(s.Scale))
	}
	for i, sc := range s.Scale {
		if sc == 0 || math.IsNaN(sc) {
			return fmt.Errorf("scaler has invalid scale %v for %s", sc, s.FeatureNames[i])
		}
	}
	return nil
}
