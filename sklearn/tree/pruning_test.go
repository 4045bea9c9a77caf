package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/imdad19/treetune/pkg/errors"
)

func noisyXOR() (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(12, 2, []float64{
		0.0, 0.0,
		0.1, 0.2,
		0.2, 0.1,
		0.0, 0.9,
		0.2, 1.0,
		0.1, 0.8,
		1.0, 0.1,
		0.9, 0.0,
		0.8, 0.2,
		1.0, 1.0,
		0.9, 0.8,
		0.8, 0.9,
	})
	y := mat.NewDense(12, 1, []float64{0, 0, 1, 1, 1, 0, 1, 1, 0, 0, 0, 1})
	return X, y
}

func TestCostComplexityPruning(t *testing.T) {
	X, y := noisyXOR()

	full := NewDecisionTreeClassifier()
	require.NoError(t, full.Fit(X, y))
	assert.Equal(t, 1.0, full.Score(X, y))
	assert.Greater(t, full.GetNLeaves(), 2)

	pruned := NewDecisionTreeClassifier(WithCCPAlpha(1))
	require.NoError(t, pruned.Fit(X, y))
	assert.Equal(t, 1, pruned.GetNLeaves())
	assert.Equal(t, 0, pruned.GetDepth())
	assert.Equal(t, []float64{0, 0}, pruned.GetFeatureImportances())

	proba, err := pruned.PredictProba(X)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, proba.At(0, 1), 1e-12)

	mild := NewDecisionTreeClassifier(WithCCPAlpha(0.01))
	require.NoError(t, mild.Fit(X, y))
	assert.LessOrEqual(t, mild.GetNLeaves(), full.GetNLeaves())
}

func TestFitWeightedMatchesDuplication(t *testing.T) {
	X := mat.NewDense(6, 1, []float64{0, 1, 2, 3, 4, 5})
	y := mat.NewDense(6, 1, []float64{0, 0, 1, 0, 1, 1})
	weights := []float64{1, 2, 1, 1, 1, 3}

	var xs, ys []float64
	for i, w := range weights {
		for k := 0; k < int(w); k++ {
			xs = append(xs, X.At(i, 0))
			ys = append(ys, y.At(i, 0))
		}
	}
	XDup := mat.NewDense(len(xs), 1, xs)
	yDup := mat.NewDense(len(ys), 1, ys)

	weighted := NewDecisionTreeClassifier(WithMaxDepth(2))
	require.NoError(t, weighted.FitWeighted(X, y, weights))
	dup := NewDecisionTreeClassifier(WithMaxDepth(2))
	require.NoError(t, dup.Fit(XDup, yDup))

	pw, err := weighted.PredictProba(X)
	require.NoError(t, err)
	pd, err := dup.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(pw, pd, 1e-12))
}

func TestFitWeightedZeroWeights(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	y := mat.NewDense(4, 1, []float64{0, 0, 1, 2})

	dt := NewDecisionTreeClassifier()
	require.NoError(t, dt.FitWeighted(X, y, []float64{1, 1, 1, 0}))
	assert.Equal(t, []float64{0, 1}, dt.Classes(), "classes with zero total weight are not learned")

	err := dt.FitWeighted(X, y, []float64{0, 0, 0, 0})
	assert.True(t, errors.Is(err, errors.ErrEmptyData))

	err = dt.FitWeighted(X, y, []float64{1, 1})
	var dimErr *errors.DimensionError
	assert.True(t, errors.As(err, &dimErr))

	err = dt.FitWeighted(X, y, []float64{1, -1, 1, 1})
	var valErr *errors.ValidationError
	assert.True(t, errors.As(err, &valErr))
}

func TestMaxFeaturesIsSeeded(t *testing.T) {
	X, y := noisyXOR()

	fit := func(seed uint64) mat.Matrix {
		dt := NewDecisionTreeClassifier(WithMaxFeatures(1), WithRandomState(seed), WithMaxDepth(3))
		require.NoError(t, dt.Fit(X, y))
		proba, err := dt.PredictProba(X)
		require.NoError(t, err)
		return proba
	}
	assert.True(t, mat.Equal(fit(7), fit(7)))
}

func TestInvalidParamsFailFit(t *testing.T) {
	X, y := noisyXOR()
	tests := []struct {
		name string
		opts []Option
	}{
		{"criterion", []Option{WithCriterion("mse")}},
		{"min samples split", []Option{WithMinSamplesSplit(1)}},
		{"min samples leaf", []Option{WithMinSamplesLeaf(0)}},
		{"negative alpha", []Option{WithCCPAlpha(-0.1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewDecisionTreeClassifier(tt.opts...).Fit(X, y)
			var valErr *errors.ValidationError
			assert.True(t, errors.As(err, &valErr), "got %v", err)
		})
	}
}

func TestPredictChecksFeatureCount(t *testing.T) {
	X, y := noisyXOR()
	dt := NewDecisionTreeClassifier()
	require.NoError(t, dt.Fit(X, y))

	_, err := dt.Predict(mat.NewDense(1, 3, nil))
	var dimErr *errors.DimensionError
	assert.True(t, errors.As(err, &dimErr))
}

func TestPredictLargeBatch(t *testing.T) {
	n := 2000
	X := mat.NewDense(n, 1, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64(i))
		if i >= n/2 {
			y.Set(i, 0, 1)
		}
	}
	dt := NewDecisionTreeClassifier(WithMaxDepth(1))
	require.NoError(t, dt.Fit(X, y))
	assert.Equal(t, 1.0, dt.Score(X, y))
}
