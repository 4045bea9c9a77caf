package recipe

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/imdad19/treetune/core/model"
	"github.com/imdad19/treetune/core/parallel"
	"github.com/imdad19/treetune/dataset"
	"github.com/imdad19/treetune/pkg/errors"
	"github.com/imdad19/treetune/preprocessing"
)

// correlationParallelThreshold is the column count above which pairwise
// correlations are computed concurrently.
const correlationParallelThreshold = 16

// Matrix is a model-ready design matrix. Row i of X and Y[i] come from
// record i of the applied dataset.
type Matrix struct {
	X       *mat.Dense
	Y       *mat.VecDense
	Columns []string
}

// FittedRecipe holds the parameters a Recipe learned from one training set.
// It is immutable and safe for concurrent Apply calls.
type FittedRecipe struct {
	recipe  Recipe
	schema  dataset.Schema
	classes [2]string

	numeric     []string
	categorical []string
	dropped     []string
	correlated  []string

	encoder *preprocessing.OneHotEncoder
	scaler  model.Transformer
	columns []string
}

// Fit validates the recipe and learns every step from train.
func (r *Recipe) Fit(train *dataset.Dataset) (*FittedRecipe, error) {
	if train == nil || train.Len() == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "recipe.Fit")
	}
	if err := r.Validate(train.Schema); err != nil {
		return nil, err
	}

	f := &FittedRecipe{
		recipe:  Recipe{Label: r.Label, Steps: append([]Step(nil), r.Steps...)},
		schema:  train.Schema,
		classes: train.Classes,
	}

	removed := make(map[string]bool)
	for _, step := range r.Steps {
		if d, ok := step.(Drop); ok {
			for _, name := range d.Columns {
				removed[name] = true
				f.dropped = append(f.dropped, name)
			}
		}
	}
	for _, c := range train.Schema.Columns {
		if removed[c.Name] {
			continue
		}
		if c.Kind == dataset.KindNumeric {
			f.numeric = append(f.numeric, c.Name)
		} else {
			f.categorical = append(f.categorical, c.Name)
		}
	}

	for _, step := range r.Steps {
		switch s := step.(type) {
		case CorrelationFilter:
			f.correlated = correlatedColumns(train, f.numeric, s.Threshold)
			f.numeric = without(f.numeric, f.correlated)
		case Encode:
			if len(s.Columns) > 0 {
				f.categorical = append([]string(nil), s.Columns...)
			}
			f.encoder = preprocessing.NewOneHotEncoder(s.Unknown)
			if err := f.encoder.Fit(f.categorical, categoricalValues(train, f.categorical)); err != nil {
				return nil, errors.Wrap(err, "recipe.Fit encode")
			}
		case Normalize:
			if len(f.numeric) == 0 {
				continue
			}
			if s.Method == Range {
				f.scaler = preprocessing.NewMinMaxScalerDefault()
			} else {
				f.scaler = preprocessing.NewStandardScalerDefault()
			}
			if err := f.scaler.Fit(numericMatrix(train, f.numeric)); err != nil {
				return nil, errors.Wrap(err, "recipe.Fit normalize")
			}
		}
	}

	f.columns = append([]string(nil), f.numeric...)
	if f.encoder != nil {
		f.columns = append(f.columns, f.encoder.FeatureNames()...)
	} else {
		f.categorical = nil
	}
	if len(f.columns) == 0 {
		return nil, errors.Invalidf(errors.ErrStepConflict, "recipe: no predictor columns remain after fitting")
	}
	return f, nil
}

// Apply transforms ds with the learned parameters. It reads ds only and
// returns the same matrix for the same input.
func (f *FittedRecipe) Apply(ds *dataset.Dataset) (*Matrix, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "recipe.Apply")
	}
	if ds.Schema.Label != f.schema.Label {
		return nil, errors.NewValidationError("label", "dataset label differs from the fitted label", ds.Schema.Label)
	}
	for _, name := range f.numeric {
		if err := f.requireColumn(ds.Schema, name, dataset.KindNumeric); err != nil {
			return nil, err
		}
	}
	for _, name := range f.categorical {
		if err := f.requireColumn(ds.Schema, name, dataset.KindCategorical); err != nil {
			return nil, err
		}
	}

	n := ds.Len()
	X := mat.NewDense(n, len(f.columns), nil)

	if len(f.numeric) > 0 {
		var num mat.Matrix = numericMatrix(ds, f.numeric)
		if f.scaler != nil {
			scaled, err := f.scaler.Transform(num)
			if err != nil {
				return nil, errors.Wrap(err, "recipe.Apply normalize")
			}
			num = scaled
		}
		X.Slice(0, n, 0, len(f.numeric)).(*mat.Dense).Copy(num)
	}
	if f.encoder != nil && len(f.categorical) > 0 {
		enc, err := f.encoder.Transform(categoricalValues(ds, f.categorical))
		if err != nil {
			return nil, errors.Wrap(err, "recipe.Apply encode")
		}
		X.Slice(0, n, len(f.numeric), len(f.columns)).(*mat.Dense).Copy(enc)
	}

	Y := mat.NewVecDense(n, nil)
	for i, rec := range ds.Records {
		switch rec.Label {
		case f.classes[1]:
			Y.SetVec(i, 1)
		case f.classes[0]:
		default:
			return nil, errors.NewValidationError(f.schema.Label, "label class not seen during fit", rec.Label)
		}
	}

	return &Matrix{X: X, Y: Y, Columns: f.Columns()}, nil
}

func (f *FittedRecipe) requireColumn(schema dataset.Schema, name string, kind dataset.Kind) error {
	i := schema.Index(name)
	if i < 0 {
		return errors.NewValidationError(name, "column missing from dataset", nil)
	}
	if schema.Columns[i].Kind != kind {
		return errors.NewValidationError(name, "column kind changed since fit", schema.Columns[i].Kind.String())
	}
	return nil
}

// Columns returns the output column names in matrix order: surviving numeric
// predictors first, then indicator columns.
func (f *FittedRecipe) Columns() []string {
	return append([]string(nil), f.columns...)
}

// Dropped returns the predictors removed by Drop and CorrelationFilter.
func (f *FittedRecipe) Dropped() []string {
	out := append([]string(nil), f.dropped...)
	return append(out, f.correlated...)
}

// CorrelationRemoved returns the predictors removed by CorrelationFilter.
func (f *FittedRecipe) CorrelationRemoved() []string {
	return append([]string(nil), f.correlated...)
}

// Classes returns the label classes learned from the training set, negative
// first.
func (f *FittedRecipe) Classes() [2]string {
	return f.classes
}

// Recipe returns a copy of the recipe that was fitted.
func (f *FittedRecipe) Recipe() *Recipe {
	return &Recipe{Label: f.recipe.Label, Steps: append([]Step(nil), f.recipe.Steps...)}
}

func numericMatrix(ds *dataset.Dataset, columns []string) *mat.Dense {
	m := mat.NewDense(ds.Len(), len(columns), nil)
	for j, name := range columns {
		m.SetCol(j, ds.NumericColumn(name))
	}
	return m
}

func categoricalValues(ds *dataset.Dataset, columns []string) [][]string {
	values := make([][]string, len(columns))
	for j, name := range columns {
		values[j] = ds.CategoricalColumn(name)
	}
	return values
}

func without(columns, removed []string) []string {
	drop := make(map[string]bool, len(removed))
	for _, c := range removed {
		drop[c] = true
	}
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if !drop[c] {
			out = append(out, c)
		}
	}
	return out
}

// correlatedColumns returns the columns to remove so that no remaining pair
// has |r| > threshold. Constant columns correlate with nothing.
func correlatedColumns(ds *dataset.Dataset, columns []string, threshold float64) []string {
	p := len(columns)
	if p < 2 {
		return nil
	}

	data := make([][]float64, p)
	for j, name := range columns {
		data[j] = ds.NumericColumn(name)
	}

	corr := mat.NewSymDense(p, nil)
	parallel.ParallelizeWithThreshold(p, correlationParallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			for j := i + 1; j < p; j++ {
				r := stat.Correlation(data[i], data[j], nil)
				if math.IsNaN(r) {
					r = 0
				}
				corr.SetSym(i, j, math.Abs(r))
			}
		}
	})

	alive := make([]bool, p)
	for i := range alive {
		alive[i] = true
	}
	meanCorr := func(i int) float64 {
		var sum float64
		var n int
		for j := 0; j < p; j++ {
			if j != i && alive[j] {
				sum += corr.At(i, j)
				n++
			}
		}
		if n == 0 {
			return 0
		}
		return sum / float64(n)
	}

	var removed []string
	for {
		bi, bj, best := -1, -1, threshold
		for i := 0; i < p; i++ {
			if !alive[i] {
				continue
			}
			for j := i + 1; j < p; j++ {
				if alive[j] && corr.At(i, j) > best {
					bi, bj, best = i, j, corr.At(i, j)
				}
			}
		}
		if bi < 0 {
			break
		}
		victim := bj
		if meanCorr(bi) > meanCorr(bj) {
			victim = bi
		}
		alive[victim] = false
		removed = append(removed, columns[victim])
	}
	return removed
}
