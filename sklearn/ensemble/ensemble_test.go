package ensemble

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/imdad19/treetune/core/model"
	"github.com/imdad19/treetune/pkg/errors"
)

// separable returns n rows whose class is decided by feature 0; features 1
// and 2 are noise.
func separable(n int) (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(n, 3, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64(i))
		X.Set(i, 1, float64((i*7)%5))
		X.Set(i, 2, float64((i*3)%4))
		if i >= n/2 {
			y.Set(i, 0, 1)
		}
	}
	return X, y
}

func accuracy(t *testing.T, clf model.Classifier, X, y mat.Matrix) float64 {
	t.Helper()
	pred, err := clf.Predict(X)
	require.NoError(t, err)
	rows, _ := pred.Dims()
	correct := 0
	for i := 0; i < rows; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(rows)
}

func assertDistributions(t *testing.T, proba mat.Matrix, rows int) {
	t.Helper()
	r, c := proba.Dims()
	require.Equal(t, rows, r)
	require.Equal(t, 2, c)
	for i := 0; i < r; i++ {
		p0, p1 := proba.At(i, 0), proba.At(i, 1)
		assert.GreaterOrEqual(t, p0, 0.0)
		assert.GreaterOrEqual(t, p1, 0.0)
		assert.InDelta(t, 1.0, p0+p1, 1e-9)
	}
}

func assertNormalized(t *testing.T, imp []float64) {
	t.Helper()
	var sum float64
	for _, v := range imp {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestEnsemblesFitSeparableData(t *testing.T) {
	X, y := separable(40)

	tests := []struct {
		name string
		clf  interface {
			model.Classifier
			model.FeatureImporter
		}
	}{
		{"bagging", NewBaggingClassifier(WithNEstimators(25), WithRandomState(1))},
		{"random forest", NewRandomForestClassifier(WithNEstimators(25), WithRandomState(1), WithNJobs(2))},
		{"boosting", NewGradientBoostingClassifier(WithNEstimators(20), WithMaxDepth(1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.clf.Fit(X, y))
			assert.GreaterOrEqual(t, accuracy(t, tt.clf, X, y), 0.95)

			proba, err := tt.clf.PredictProba(X)
			require.NoError(t, err)
			assertDistributions(t, proba, 40)
			assert.Less(t, proba.At(0, 1), 0.5)
			assert.Greater(t, proba.At(39, 1), 0.5)

			imp := tt.clf.GetFeatureImportances()
			require.Len(t, imp, 3)
			assertNormalized(t, imp)
		})
	}
}

func TestBaggingIsSeeded(t *testing.T) {
	X, y := separable(30)
	fit := func() mat.Matrix {
		b := NewRandomForestClassifier(WithNEstimators(10), WithRandomState(99), WithMaxFeatures(1))
		require.NoError(t, b.Fit(X, y))
		proba, err := b.PredictProba(X)
		require.NoError(t, err)
		return proba
	}
	assert.True(t, mat.Equal(fit(), fit()))
}

func TestRandomForestDefaults(t *testing.T) {
	f := NewRandomForestClassifier()
	assert.Equal(t, 100, f.GetParams()["n_estimators"])
	assert.Equal(t, 2, f.defaultFeatures(4))
	assert.Equal(t, 1, f.defaultFeatures(1))
	assert.Equal(t, 3, f.defaultFeatures(15))

	b := NewBaggingClassifier()
	assert.Nil(t, b.defaultFeatures)
	assert.Equal(t, 10, b.GetParams()["n_estimators"])
}

func TestGradientBoostingProbabilities(t *testing.T) {
	X, y := separable(20)
	gb := NewGradientBoostingClassifier(WithNEstimators(50), WithLearningRate(0.3), WithMaxDepth(2), WithSubsample(0.9), WithRandomState(3))
	require.NoError(t, gb.Fit(X, y))
	assert.Equal(t, 50, gb.NumStages())

	scores, err := gb.DecisionFunction(X)
	require.NoError(t, err)
	for i, s := range scores {
		if y.At(i, 0) == 1 {
			assert.Greater(t, s, 0.0, "row %d", i)
		} else {
			assert.Less(t, s, 0.0, "row %d", i)
		}
	}
	assert.Equal(t, 1.0, accuracy(t, gb, X, y))
}

func TestGradientBoostingInitScore(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{1, 1, 1, 1})
	y := mat.NewDense(4, 1, []float64{0, 1, 1, 1})

	gb := NewGradientBoostingClassifier(WithNEstimators(5))
	require.NoError(t, gb.Fit(X, y))
	proba, err := gb.PredictProba(X)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, proba.At(0, 1), 1e-9)
	assert.InDelta(t, math.Log(3), gb.initScore, 1e-12)
}

func TestEnsembleErrors(t *testing.T) {
	X, y := separable(10)

	var notFitted *errors.NotFittedError
	_, err := NewBaggingClassifier().Predict(X)
	assert.True(t, errors.As(err, &notFitted))
	_, err = NewGradientBoostingClassifier().PredictProba(X)
	assert.True(t, errors.As(err, &notFitted))

	var valErr *errors.ValidationError
	err = NewRandomForestClassifier(WithNEstimators(0)).Fit(X, y)
	assert.True(t, errors.As(err, &valErr))
	err = NewBaggingClassifier(WithMaxSamples(1.5)).Fit(X, y)
	assert.True(t, errors.As(err, &valErr))
	err = NewGradientBoostingClassifier(WithLearningRate(0)).Fit(X, y)
	assert.True(t, errors.As(err, &valErr))

	oneClass := mat.NewDense(10, 1, nil)
	err = NewGradientBoostingClassifier().Fit(X, oneClass)
	var valueErr *errors.ValueError
	assert.True(t, errors.As(err, &valueErr))

	err = NewBaggingClassifier().Fit(X, mat.NewDense(3, 1, nil))
	var dimErr *errors.DimensionError
	assert.True(t, errors.As(err, &dimErr))

	b := NewBaggingClassifier(WithNEstimators(3))
	require.NoError(t, b.Fit(X, y))
	_, err = b.PredictProba(mat.NewDense(2, 5, nil))
	assert.True(t, errors.As(err, &dimErr))
}
