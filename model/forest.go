package model

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
)

// ForestParams controls how a Forest is grown
type ForestParams struct {
	NEstimators     int
	MaxDepth        int // 0 means unlimited
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int // 0 means floor(sqrt(n_features))
	Seed            uint64
}

// DefaultForestParams returns the hyperparameters the credit model ships with
func DefaultForestParams() ForestParams {
	return ForestParams{
		NEstimators:     100,
		MaxDepth:        10,
		MinSamplesSplit: 5,
		MinSamplesLeaf:  2,
		Seed:            42,
	}
}

func (p ForestParams) validate() error {
	if p.NEstimators < 1 {
		return fmt.Errorf("n_estimators must be at least 1, got %d", p.NEstimators)
	}
	if p.MaxDepth < 0 {
		return fmt.Errorf("max_depth cannot be negative, got %d", p.MaxDepth)
	}
	if p.MinSamplesSplit < 2 {
		return fmt.Errorf("min_samples_split must be at least 2, got %d", p.MinSamplesSplit)
	}
	if p.MinSamplesLeaf < 1 {
		return fmt.Errorf("min_samples_leaf must be at least 1, got %d", p.MinSamplesLeaf)
	}
	if p.MaxFeatures < 0 {
		return fmt.Errorf("max_features cannot be negative, got %d", p.MaxFeatures)
	}
	return nil
}

// Node is one decision or leaf node of a Tree. Leaves have Feature == -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Proba     float64 // share of approved samples that reached this node
}

// Tree is a flattened binary decision tree; Nodes[0] is the root
type Tree struct {
	Nodes []Node
}

func (t *Tree) probability(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return n.Proba
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Forest is a bagged ensemble of gini decision trees
type Forest struct {
	Trees     []Tree
	NFeatures int
	Params    ForestParams
}

// FitForest grows p.NEstimators trees on bootstrap samples of (X, y).
// Trees are grown concurrently; each tree draws from its own generator seeded
// from p.Seed and its index, so the result does not depend on scheduling.
func FitForest(ctx context.Context, X [][]float64, y []int, p ForestParams) (*Forest, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if len(X) == 0 {
		return nil, fmt.Errorf("cannot fit forest on empty dataset")
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("X has %d rows but y has %d labels", len(X), len(y))
	}
	width := len(X[0])
	for i, row := range X {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d features, expected %d", i, len(row), width)
		}
		if y[i] != 0 && y[i] != 1 {
			return nil, fmt.Errorf("label at row %d must be 0 or 1, got %d", i, y[i])
		}
	}

	maxFeatures := p.MaxFeatures
	if maxFeatures == 0 {
		maxFeatures = int(math.Sqrt(float64(width)))
	}
	maxFeatures = max(1, min(maxFeatures, width))

	trees := make([]Tree, p.NEstimators)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range trees {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b := &treeBuilder{
				X:           X,
				y:           y,
				params:      p,
				maxFeatures: maxFeatures,
				rng:         rand.New(rand.NewPCG(p.Seed, uint64(i))),
			}
			trees[i] = b.grow()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to grow trees: %w", err)
	}

	return &Forest{Trees: trees, NFeatures: width, Params: p}, nil
}

// PredictProbability returns [p(rejected), p(approved)] averaged over all trees
func (f *Forest) PredictProbability(x []float64) [2]float64 {
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].probability(x)
	}
	p1 := sum / float64(len(f.Trees))
	return [2]float64{1 - p1, p1}
}

// Predict returns the class with the highest averaged probability; ties go to 0
func (f *Forest) Predict(x []float64) int {
	p := f.PredictProbability(x)
	if p[1] > p[0] {
		return 1
	}
	return 0
}

func (f *Forest) validate() error {
	if len(f.Trees) == 0 {
		return fmt.Errorf("forest has no trees")
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.Feature < 0 {
				if math.IsNaN(n.Proba) || n.Proba < 0 || n.Proba > 1 {
					return fmt.Errorf("tree %d leaf %d has probability %v outside [0, 1]", ti, ni, n.Proba)
				}
				continue
			}
			if n.Feature >= f.NFeatures {
				return fmt.Errorf("tree %d node %d splits on feature %d of %d", ti, ni, n.Feature, f.NFeatures)
			}
			if n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d has invalid children", ti, ni)
			}
		}
	}
	return nil
}

type treeBuilder struct {
	X           [][]float64
	y           []int
	params      ForestParams
	maxFeatures int
	rng         *rand.Rand
	nodes       []Node
}

func (b *treeBuilder) grow() Tree {
	n := len(b.X)
	sample := make([]int, n)
	for i := range sample {
		sample[i] = b.rng.IntN(n)
	}
	b.build(sample, 0)
	return Tree{Nodes: b.nodes}
}

func (b *treeBuilder) build(idx []int, depth int) int {
	pos := 0
	for _, i := range idx {
		pos += b.y[i]
	}

	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Feature: -1,
		Proba:   float64(pos) / float64(len(idx)),
	})

	if pos == 0 || pos == len(idx) {
		return id
	}
	if b.params.MaxDepth > 0 && depth >= b.params.MaxDepth {
		return id
	}
	if len(idx) < b.params.MinSamplesSplit {
		return id
	}

	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return id
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)

	node := &b.nodes[id]
	node.Feature = feature
	node.Threshold = threshold
	node.Left = l
	node.Right = r
	return id
}

// bestSplit scans a random subset of features for the threshold with the
// lowest weighted gini impurity that leaves MinSamplesLeaf on both sides
func (b *treeBuilder) bestSplit(idx []int) (int, float64, bool) {
	width := len(b.X[0])
	candidates := b.rng.Perm(width)[:b.maxFeatures]

	total := len(idx)
	totalPos := 0
	for _, i := range idx {
		totalPos += b.y[i]
	}

	bestFeature, bestThreshold := -1, 0.0
	bestImpurity := math.Inf(1)
	sorted := make([]int, total)

	for _, f := range candidates {
		copy(sorted, idx)
		slices.SortFunc(sorted, func(a, c int) int {
			switch {
			case b.X[a][f] < b.X[c][f]:
				return -1
			case b.X[a][f] > b.X[c][f]:
				return 1
			}
			return 0
		})

		leftPos := 0
		for k := 0; k < total-1; k++ {
			leftPos += b.y[sorted[k]]
			cur, next := b.X[sorted[k]][f], b.X[sorted[k+1]][f]
			if cur == next {
				continue
			}
			nLeft := k + 1
			nRight := total - nLeft
			if nLeft < b.params.MinSamplesLeaf || nRight < b.params.MinSamplesLeaf {
				continue
			}
			impurity := (float64(nLeft)*gini(nLeft, leftPos) +
				float64(nRight)*gini(nRight, totalPos-leftPos)) / float64(total)
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = f
				bestThreshold = cur + (next-cur)/2
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

func gini(n, pos int) float64 {
	p := float64(pos) / float64(n)
	return 2 * p * (1 - p)
}
