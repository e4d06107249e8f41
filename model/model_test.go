package model

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// applicants draws rows in DefaultFeatureNames order and labels them approved
// when the score is above 600 and the applicant is older than 21
func applicants(n int, seed uint64) ([][]float64, []int) {
	rng := rand.New(rand.NewPCG(seed, seed))
	X := make([][]float64, n)
	y := make([]int, n)
	for i := range X {
		X[i] = []float64{
			float64(18 + rng.IntN(57)),
			float64(20000 + rng.IntN(180000)),
			float64(300 + rng.IntN(550)),
			float64(5000 + rng.IntN(95000)),
			float64(rng.IntN(50)),
			float64(rng.IntN(50000)),
		}
		if X[i][2] > 600 && X[i][0] > 21 {
			y[i] = 1
		}
	}
	return X, y
}

func smallParams() ForestParams {
	p := DefaultForestParams()
	p.NEstimators = 20
	return p
}

func trainSmall(t *testing.T) *Bundle {
	t.Helper()
	X, y := applicants(600, 7)
	b, _, err := Train(context.Background(), X, y, DefaultFeatureNames, smallParams())
	require.NoError(t, err)
	return b
}

func TestFitScaler(t *testing.T) {
	X := [][]float64{
		{1, 10, 5},
		{3, 20, 5},
		{5, 30, 5},
	}

	s, err := FitScaler(X, []string{"a", "b", "c"})
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{3, 20, 5}, s.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(8.0/3.0), s.Scale[0], 1e-12)
	assert.InDelta(t, math.Sqrt(200.0/3.0), s.Scale[1], 1e-12)
	assert.Equal(t, 1.0, s.Scale[2], "zero variance column should keep unit scale")

	out, err := s.Transform(FeatureVector{3, 20, 7})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0, 2}, []float64(out), 1e-12)
}

func TestFitScalerErrors(t *testing.T) {
	_, err := FitScaler(nil, []string{"a"})
	assert.Error(t, err)

	_, err = FitScaler([][]float64{{1, 2}}, []string{"a"})
	assert.Error(t, err)
}

func TestScalerTransformWidth(t *testing.T) {
	s := &Scaler{FeatureNames: []string{"a"}, Mean: []float64{0}, Scale: []float64{1}}
	_, err := s.Transform(FeatureVector{1, 2})
	assert.ErrorIs(t, err, ErrFeatureCount)
}

func TestFitForestValidation(t *testing.T) {
	X, y := applicants(20, 1)
	ctx := context.Background()

	testCases := []struct {
		name   string
		mutate func(*ForestParams)
	}{
		{"no estimators", func(p *ForestParams) { p.NEstimators = 0 }},
		{"negative depth", func(p *ForestParams) { p.MaxDepth = -1 }},
		{"split below two", func(p *ForestParams) { p.MinSamplesSplit = 1 }},
		{"empty leaf", func(p *ForestParams) { p.MinSamplesLeaf = 0 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultForestParams()
			tc.mutate(&p)
			_, err := FitForest(ctx, X, y, p)
			assert.Error(t, err)
		})
	}

	_, err := FitForest(ctx, X, y[:5], DefaultForestParams())
	assert.Error(t, err, "label count must match rows")

	bad := append([]int(nil), y...)
	bad[0] = 2
	_, err = FitForest(ctx, X, bad, DefaultForestParams())
	assert.Error(t, err, "labels must be binary")
}

func TestFitForestHonorsCancellation(t *testing.T) {
	X, y := applicants(50, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FitForest(ctx, X, y, smallParams())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestForestIsDeterministic(t *testing.T) {
	X, y := applicants(300, 3)
	a, err := FitForest(context.Background(), X, y, smallParams())
	require.NoError(t, err)
	b, err := FitForest(context.Background(), X, y, smallParams())
	require.NoError(t, err)

	assert.Equal(t, a.Trees, b.Trees)
}

func TestForestRespectsMaxDepth(t *testing.T) {
	X, y := applicants(300, 3)
	p := smallParams()
	p.MaxDepth = 2

	f, err := FitForest(context.Background(), X, y, p)
	require.NoError(t, err)

	for _, tree := range f.Trees {
		assert.LessOrEqual(t, len(tree.Nodes), 7, "a depth-2 tree has at most 7 nodes")
	}
}

func TestEngineNotLoaded(t *testing.T) {
	engines := map[string]*Engine{
		"nil bundle":   NewEngine(nil),
		"zero value":   &Engine{},
		"empty bundle": NewEngine(&Bundle{}),
	}

	for name, e := range engines {
		t.Run(name, func(t *testing.T) {
			assert.False(t, e.Loaded())

			_, err := e.Predict(FeatureVector{1, 2, 3, 4, 5, 6})
			assert.ErrorIs(t, err, ErrModelNotLoaded)

			_, err = e.PredictProbability(FeatureVector{1, 2, 3, 4, 5, 6})
			assert.ErrorIs(t, err, ErrModelNotLoaded)
		})
	}
}

func TestEngineFeatureCount(t *testing.T) {
	e := NewEngine(trainSmall(t))

	_, err := e.Predict(FeatureVector{1, 2, 3})
	assert.ErrorIs(t, err, ErrFeatureCount)
}

func TestProbabilitiesSumToOne(t *testing.T) {
	e := NewEngine(trainSmall(t))
	X, _ := applicants(200, 99)

	for _, row := range X {
		p, err := e.PredictProbability(row)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, p[0]+p[1], 1e-9)
		assert.GreaterOrEqual(t, p[0], 0.0)
		assert.LessOrEqual(t, p[0], 1.0)
		assert.GreaterOrEqual(t, p[1], 0.0)
		assert.LessOrEqual(t, p[1], 1.0)
	}
}

func TestLabelAgreesWithProbability(t *testing.T) {
	e := NewEngine(trainSmall(t))
	X, _ := applicants(200, 11)

	for _, row := range X {
		label, err := e.Predict(row)
		require.NoError(t, err)
		p, err := e.PredictProbability(row)
		require.NoError(t, err)

		if label == 1 {
			assert.Greater(t, p[1], 0.5)
		} else {
			assert.LessOrEqual(t, p[1], 0.5)
		}
	}
}

func TestTrainMetrics(t *testing.T) {
	X, y := applicants(800, 5)

	b, m, err := Train(context.Background(), X, y, DefaultFeatureNames, smallParams())
	require.NoError(t, err)

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, DefaultFeatureNames, b.FeatureNames)
	assert.Equal(t, 6, m.NFeatures)
	assert.Equal(t, 20, m.NEstimators)
	assert.Greater(t, m.TrainAccuracy, 0.95)

	testX, testY := applicants(200, 6)
	acc, err := Evaluate(NewEngine(b), testX, testY)
	require.NoError(t, err)
	assert.Greater(t, acc, 0.9)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	b := trainSmall(t)
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "nested", "credit_model.gob")
	scalerPath := filepath.Join(dir, "nested", "scaler.yaml")

	require.NoError(t, Save(b, modelPath, scalerPath))

	loaded, err := Load(modelPath, scalerPath)
	require.NoError(t, err)
	assert.Equal(t, b.ID, loaded.ID)
	assert.Equal(t, b.FeatureNames, loaded.FeatureNames)

	before, after := NewEngine(b), NewEngine(loaded)
	X, _ := applicants(100, 42)
	for _, row := range X {
		l1, err := before.Predict(row)
		require.NoError(t, err)
		l2, err := after.Predict(row)
		require.NoError(t, err)
		assert.Equal(t, l1, l2)

		p1, err := before.PredictProbability(row)
		require.NoError(t, err)
		p2, err := after.PredictProbability(row)
		require.NoError(t, err)
		assert.Equal(t, p1, p2, "probabilities must survive the round trip bit for bit")
	}
}

func TestSaveRejectsEmptyBundle(t *testing.T) {
	dir := t.TempDir()
	err := Save(&Bundle{}, filepath.Join(dir, "m"), filepath.Join(dir, "s"))
	assert.ErrorIs(t, err, ErrModelNotLoaded)
}

func TestLoadMissingArtifact(t *testing.T) {
	b := trainSmall(t)
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "credit_model.gob")
	scalerPath := filepath.Join(dir, "scaler.yaml")

	_, err := Load(modelPath, scalerPath)
	var notFound *ArtifactNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, modelPath, notFound.Path)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	require.NoError(t, Save(b, modelPath, scalerPath))
	missingScaler := filepath.Join(dir, "other.yaml")
	_, err = Load(modelPath, missingScaler)
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, missingScaler, notFound.Path)
}

func TestLoadRejectsMixedRuns(t *testing.T) {
	dir := t.TempDir()
	a, b := trainSmall(t), trainSmall(t)

	require.NoError(t, Save(a, filepath.Join(dir, "a.gob"), filepath.Join(dir, "a.yaml")))
	require.NoError(t, Save(b, filepath.Join(dir, "b.gob"), filepath.Join(dir, "b.yaml")))

	_, err := Load(filepath.Join(dir, "a.gob"), filepath.Join(dir, "b.yaml"))
	assert.ErrorContains(t, err, "different training runs")
}

func TestLoadRejectsLeafProbabilityOutOfRange(t *testing.T) {
	for _, proba := range []float64{-0.1, 1.5, math.NaN()} {
		dir := t.TempDir()
		b := trainSmall(t)
		for i, n := range b.Forest.Trees[0].Nodes {
			if n.Feature < 0 {
				b.Forest.Trees[0].Nodes[i].Proba = proba
				break
			}
		}

		modelPath, scalerPath := filepath.Join(dir, "m.gob"), filepath.Join(dir, "s.yaml")
		require.NoError(t, Save(b, modelPath, scalerPath))

		_, err := Load(modelPath, scalerPath)
		assert.ErrorContains(t, err, "outside [0, 1]", "proba %v", proba)
	}
}

func TestEngineConcurrentUse(t *testing.T) {
	e := NewEngine(trainSmall(t))
	X, _ := applicants(50, 8)

	want := make([][2]float64, len(X))
	for i, row := range X {
		p, err := e.PredictProbability(row)
		require.NoError(t, err)
		want[i] = p
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i, row := range X {
				p, err := e.PredictProbability(row)
				assert.NoError(t, err)
				assert.Equal(t, want[i], p)
			}
		}()
	}
	wg.Wait()
}
