package ensemble

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/imdad19/treetune/core/model"
	"github.com/imdad19/treetune/core/parallel"
	"github.com/imdad19/treetune/pkg/errors"
	"github.com/imdad19/treetune/sklearn/tree"
)

// baggedTrees fits classification trees on bootstrap samples and averages
// their class distributions.
type baggedTrees struct {
	name  string
	state *model.StateManager
	config

	// features drawn per split when maxFeatures is 0
	defaultFeatures func(nFeatures int) int

	estimators   []*tree.DecisionTreeClassifier
	classes      []float64
	importances_ []float64
}

func (b *baggedTrees) fit(X, y mat.Matrix) error {
	if err := b.config.validate(); err != nil {
		return err
	}
	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError(b.name+".Fit", "empty data", errors.ErrEmptyData)
	}
	if yRows, _ := y.Dims(); yRows != rows {
		return errors.NewDimensionError(b.name+".Fit", rows, yRows, 0)
	}

	maxFeatures := b.maxFeatures
	if maxFeatures <= 0 && b.defaultFeatures != nil {
		maxFeatures = b.defaultFeatures(cols)
	}

	// Draw every bootstrap up front so results do not depend on scheduling.
	rng := rand.New(rand.NewPCG(b.randomState, b.randomState))
	draws := int(math.Max(1, math.Round(b.maxSamples*float64(rows))))
	seeds := make([]uint64, b.nEstimators)
	weights := make([][]float64, b.nEstimators)
	for k := range weights {
		seeds[k] = rng.Uint64()
		w := make([]float64, rows)
		for d := 0; d < draws; d++ {
			w[rng.IntN(rows)]++
		}
		weights[k] = w
	}

	estimators := make([]*tree.DecisionTreeClassifier, b.nEstimators)
	err := parallel.ForEach(context.Background(), b.nEstimators, b.nJobs, func(_ context.Context, k int) error {
		dt := tree.NewDecisionTreeClassifier(
			tree.WithCriterion(b.criterion),
			tree.WithMaxDepth(b.maxDepth),
			tree.WithMinSamplesSplit(b.minSamplesSplit),
			tree.WithMinSamplesLeaf(b.minSamplesLeaf),
			tree.WithMaxFeatures(maxFeatures),
			tree.WithRandomState(seeds[k]),
		)
		if err := dt.FitWeighted(X, y, weights[k]); err != nil {
			return errors.Wrapf(err, "%s tree %d", b.name, k)
		}
		estimators[k] = dt
		return nil
	})
	if err != nil {
		return err
	}

	all := make([][]float64, len(estimators))
	for k, est := range estimators {
		all[k] = est.GetFeatureImportances()
	}

	b.estimators = estimators
	b.classes = sortedClasses(y)
	b.importances_ = meanImportances(all, cols)
	b.state.SetDimensions(cols, rows)
	b.state.SetFitted()
	return nil
}

func (b *baggedTrees) predictProba(method string, X mat.Matrix) (*mat.Dense, error) {
	if err := b.state.RequireFitted(b.name, method); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := b.state.CheckFeatures(b.name+"."+method, cols); err != nil {
		return nil, err
	}

	index := make(map[float64]int, len(b.classes))
	for k, c := range b.classes {
		index[c] = k
	}

	out := mat.NewDense(rows, len(b.classes), nil)
	for _, est := range b.estimators {
		p, err := est.PredictProba(X)
		if err != nil {
			return nil, err
		}
		for k, c := range est.Classes() {
			j := index[c]
			for i := 0; i < rows; i++ {
				out.Set(i, j, out.At(i, j)+p.At(i, k))
			}
		}
	}
	out.Scale(1/float64(len(b.estimators)), out)
	return out, nil
}

func (b *baggedTrees) predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := b.predictProba("Predict", X)
	if err != nil {
		return nil, err
	}
	return argmaxClasses(proba, b.classes), nil
}

func argmaxClasses(proba *mat.Dense, classes []float64) *mat.Dense {
	rows, _ := proba.Dims()
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		row := proba.RawRowView(i)
		best := 0
		for k := 1; k < len(row); k++ {
			if row[k] > row[best] {
				best = k
			}
		}
		out.Set(i, 0, classes[best])
	}
	return out
}

// BaggingClassifier averages unpruned trees grown on bootstrap samples.
type BaggingClassifier struct {
	baggedTrees
}

// NewBaggingClassifier creates a bagging ensemble of 10 trees using every
// feature at each split unless overridden.
func NewBaggingClassifier(opts ...Option) *BaggingClassifier {
	return &BaggingClassifier{baggedTrees{
		name:  "BaggingClassifier",
		state: model.NewStateManager(),
		config: newConfig(opts, config{
			nEstimators:     10,
			criterion:       "gini",
			maxDepth:        -1,
			minSamplesSplit: 2,
			minSamplesLeaf:  1,
			maxSamples:      1,
			subsample:       1,
		}),
	}}
}

// Fit grows every tree on its own bootstrap sample.
func (b *BaggingClassifier) Fit(X, y mat.Matrix) error { return b.fit(X, y) }

// Predict returns the class with the largest averaged probability.
func (b *BaggingClassifier) Predict(X mat.Matrix) (mat.Matrix, error) { return b.predict(X) }

// PredictProba returns the averaged class distributions.
func (b *BaggingClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	return b.predictProba("PredictProba", X)
}

// GetFeatureImportances returns the mean tree importances.
func (b *BaggingClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), b.importances_...)
}

// GetParams returns the hyperparameters.
func (b *BaggingClassifier) GetParams() map[string]interface{} { return b.config.params() }

// NumEstimators returns the number of fitted trees.
func (b *BaggingClassifier) NumEstimators() int { return len(b.estimators) }

func (b *BaggingClassifier) String() string {
	return fmt.Sprintf("BaggingClassifier(n_estimators=%d, max_depth=%d)", b.nEstimators, b.maxDepth)
}

// RandomForestClassifier is bagging with a random feature subset drawn at
// every split; sqrt(n_features) unless WithMaxFeatures is given.
type RandomForestClassifier struct {
	baggedTrees
}

// NewRandomForestClassifier creates a forest of 100 trees unless overridden.
func NewRandomForestClassifier(opts ...Option) *RandomForestClassifier {
	return &RandomForestClassifier{baggedTrees{
		name:  "RandomForestClassifier",
		state: model.NewStateManager(),
		config: newConfig(opts, config{
			nEstimators:     100,
			criterion:       "gini",
			maxDepth:        -1,
			minSamplesSplit: 2,
			minSamplesLeaf:  1,
			maxSamples:      1,
			subsample:       1,
		}),
		defaultFeatures: func(p int) int {
			return int(math.Max(1, math.Floor(math.Sqrt(float64(p)))))
		},
	}}
}

// Fit grows every tree on its own bootstrap sample.
func (f *RandomForestClassifier) Fit(X, y mat.Matrix) error { return f.fit(X, y) }

// Predict returns the class with the largest averaged probability.
func (f *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) { return f.predict(X) }

// PredictProba returns the averaged class distributions.
func (f *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	return f.predictProba("PredictProba", X)
}

// GetFeatureImportances returns the mean tree importances.
func (f *RandomForestClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), f.importances_...)
}

// GetParams returns the hyperparameters.
func (f *RandomForestClassifier) GetParams() map[string]interface{} { return f.config.params() }

// NumEstimators returns the number of fitted trees.
func (f *RandomForestClassifier) NumEstimators() int { return len(f.estimators) }

func (f *RandomForestClassifier) String() string {
	return fmt.Sprintf("RandomForestClassifier(n_estimators=%d, max_features=%d)", f.nEstimators, f.maxFeatures)
}
