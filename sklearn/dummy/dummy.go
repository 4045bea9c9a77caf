// Package dummy provides baseline classifiers that ignore the features.
package dummy

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/imdad19/treetune/core/model"
	"github.com/imdad19/treetune/pkg/errors"
)

// Strategy selects what DummyClassifier predicts.
type Strategy string

const (
	// Prior predicts the majority class and returns the class priors as
	// probabilities.
	Prior Strategy = "prior"
	// MostFrequent predicts the majority class with probability one.
	MostFrequent Strategy = "most_frequent"
)

// DummyClassifier predicts the training majority class for every row. Ties
// go to the smaller class label.
type DummyClassifier struct {
	state    *model.StateManager
	strategy Strategy

	classes []float64
	priors  []float64
	mode    int
}

// NewDummyClassifier creates a baseline with the given strategy.
func NewDummyClassifier(strategy Strategy) *DummyClassifier {
	return &DummyClassifier{state: model.NewStateManager(), strategy: strategy}
}

// Fit records the class frequencies of y.
func (d *DummyClassifier) Fit(X, y mat.Matrix) error {
	if d.strategy != Prior && d.strategy != MostFrequent {
		return errors.NewValidationError("strategy", "must be prior or most_frequent", string(d.strategy))
	}
	rows, cols := X.Dims()
	yRows, _ := y.Dims()
	if yRows == 0 {
		return errors.NewModelError("DummyClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if yRows != rows {
		return errors.NewDimensionError("DummyClassifier.Fit", rows, yRows, 0)
	}

	counts := make(map[float64]int)
	for i := 0; i < yRows; i++ {
		counts[y.At(i, 0)]++
	}
	classes := make([]float64, 0, len(counts))
	for c := range counts {
		classes = append(classes, c)
	}
	sort.Float64s(classes)

	priors := make([]float64, len(classes))
	mode := 0
	for k, c := range classes {
		priors[k] = float64(counts[c]) / float64(yRows)
		if counts[c] > counts[classes[mode]] {
			mode = k
		}
	}

	d.classes = classes
	d.priors = priors
	d.mode = mode
	d.state.SetDimensions(cols, rows)
	d.state.SetFitted()
	return nil
}

func (d *DummyClassifier) check(method string, X mat.Matrix) (int, error) {
	if err := d.state.RequireFitted("DummyClassifier", method); err != nil {
		return 0, err
	}
	rows, cols := X.Dims()
	if err := d.state.CheckFeatures("DummyClassifier."+method, cols); err != nil {
		return 0, err
	}
	return rows, nil
}

// Predict returns the majority class for every row.
func (d *DummyClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	rows, err := d.check("Predict", X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		out.Set(i, 0, d.classes[d.mode])
	}
	return out, nil
}

// PredictProba returns the same distribution for every row.
func (d *DummyClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	rows, err := d.check("PredictProba", X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(rows, len(d.classes), nil)
	for i := 0; i < rows; i++ {
		if d.strategy == MostFrequent {
			out.Set(i, d.mode, 1)
			continue
		}
		out.SetRow(i, d.priors)
	}
	return out, nil
}

// Classes returns the sorted training classes.
func (d *DummyClassifier) Classes() []float64 {
	return append([]float64(nil), d.classes...)
}

// GetParams returns the strategy.
func (d *DummyClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{"strategy": string(d.strategy)}
}

func (d *DummyClassifier) String() string {
	return fmt.Sprintf("DummyClassifier(strategy=%s)", d.strategy)
}
