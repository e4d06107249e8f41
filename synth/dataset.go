package synth

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/liamcoop/creditapproval/model"
)

// LabelColumn is the CSV header of the target column
const LabelColumn = "approved"

// Dataset is a labeled design matrix; X rows follow FeatureNames
type Dataset struct {
	FeatureNames []string
	X            [][]float64
	Y            []int
}

// Len returns the number of rows
func (d *Dataset) Len() int {
	return len(d.Y)
}

// Positives returns the number of approved rows
func (d *Dataset) Positives() int {
	n := 0
	for _, y := range d.Y {
		n += y
	}
	return n
}

// featureRange is a half-open [min, max) integer draw
type featureRange struct {
	min, max int
}

var ranges = map[string]featureRange{
	"age":              {18, 75},
	"income":           {20000, 200000},
	"credit_score":     {300, 850},
	"loan_amount":      {5000, 100000},
	"employment_years": {0, 50},
	"existing_debts":   {0, 50000},
}

// Generate draws n applicants with integer-valued features in the default
// feature order and labels them with l. The same seed yields the same dataset.
func Generate(n int, seed uint64, l *Labeler) (*Dataset, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sample count must be positive, got %d", n)
	}
	if l == nil {
		return nil, errors.New("labeler is required")
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	names := model.DefaultFeatureNames

	ds := &Dataset{
		FeatureNames: append([]string(nil), names...),
		X:            make([][]float64, n),
		Y:            make([]int, n),
	}
	for i := 0; i < n; i++ {
		row := make([]float64, len(names))
		for j, name := range names {
			r := ranges[name]
			row[j] = float64(r.min + rng.IntN(r.max-r.min))
		}
		label, err := l.Label(row)
		if err != nil {
			return nil, fmt.Errorf("failed to label row %d: %w", i, err)
		}
		ds.X[i] = row
		ds.Y[i] = label
	}
	return ds, nil
}

// Split partitions ds into train and test sets, keeping the class ratio in both.
// testSize is the share of each class that goes to the test set.
func Split(ds *Dataset, testSize float64, seed uint64) (train, test *Dataset, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("test size must be in (0, 1), got %v", testSize)
	}

	byClass := [2][]int{}
	for i, y := range ds.Y {
		if y != 0 && y != 1 {
			return nil, nil, fmt.Errorf("row %d has label %d, want 0 or 1", i, y)
		}
		byClass[y] = append(byClass[y], i)
	}

	rng := rand.New(rand.NewPCG(seed, 0))
	var trainIdx, testIdx []int
	for _, idx := range byClass {
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		k := int(math.Round(testSize * float64(len(idx))))
		testIdx = append(testIdx, idx[:k]...)
		trainIdx = append(trainIdx, idx[k:]...)
	}

	if len(trainIdx) == 0 || len(testIdx) == 0 {
		return nil, nil, fmt.Errorf("cannot split %d rows with test size %v", ds.Len(), testSize)
	}

	rng.Shuffle(len(trainIdx), func(i, j int) { trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i] })
	rng.Shuffle(len(testIdx), func(i, j int) { testIdx[i], testIdx[j] = testIdx[j], testIdx[i] })

	return ds.subset(trainIdx), ds.subset(testIdx), nil
}

func (d *Dataset) subset(idx []int) *Dataset {
	out := &Dataset{
		FeatureNames: d.FeatureNames,
		X:            make([][]float64, len(idx)),
		Y:            make([]int, len(idx)),
	}
	for i, j := range idx {
		out.X[i] = d.X[j]
		out.Y[i] = d.Y[j]
	}
	return out
}

// ReadCSV loads a labeled dataset. The header must name every default feature
// and the approved column; extra columns are ignored and column order is free.
func ReadCSV(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}

	names := model.DefaultFeatureNames
	featureCols := make([]int, len(names))
	for j, name := range names {
		c, ok := cols[name]
		if !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
		featureCols[j] = c
	}
	labelCol, ok := cols[LabelColumn]
	if !ok {
		return nil, fmt.Errorf("missing column %q", LabelColumn)
	}

	ds := &Dataset{FeatureNames: append([]string(nil), names...)}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		row := make([]float64, len(names))
		for j, c := range featureCols {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[c]), 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("line %d: invalid %s %q", line, names[j], rec[c])
			}
			row[j] = v
		}

		label, err := strconv.ParseBool(strings.TrimSpace(rec[labelCol]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid %s %q", line, LabelColumn, rec[labelCol])
		}

		ds.X = append(ds.X, row)
		if label {
			ds.Y = append(ds.Y, 1)
		} else {
			ds.Y = append(ds.Y, 0)
		}
	}

	if ds.Len() == 0 {
		return nil, errors.New("dataset has no rows")
	}
	return ds, nil
}
