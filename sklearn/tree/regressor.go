package tree

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/imdad19/treetune/core/model"
	"github.com/imdad19/treetune/pkg/errors"
)

// DecisionTreeRegressor is a CART regression tree minimizing squared error.
type DecisionTreeRegressor struct {
	state *model.StateManager
	config

	tree                *fittedTree
	featureImportances_ []float64
}

// NewDecisionTreeRegressor creates a regressor with unlimited depth unless
// overridden.
func NewDecisionTreeRegressor(opts ...Option) *DecisionTreeRegressor {
	dt := &DecisionTreeRegressor{
		state:  model.NewStateManager(),
		config: defaultConfig("squared_error"),
	}
	for _, opt := range opts {
		opt(&dt.config)
	}
	return dt
}

// Fit grows the tree on X and the targets in the first column of y.
func (dt *DecisionTreeRegressor) Fit(X, y mat.Matrix) error {
	return dt.FitWeighted(X, y, nil)
}

// FitWeighted grows the tree with per-sample weights.
func (dt *DecisionTreeRegressor) FitWeighted(X, y mat.Matrix, sampleWeight []float64) error {
	if err := dt.config.validate("squared_error"); err != nil {
		return err
	}
	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError("DecisionTreeRegressor.Fit", "empty data", errors.ErrEmptyData)
	}
	if yRows, _ := y.Dims(); yRows != rows {
		return errors.NewDimensionError("DecisionTreeRegressor.Fit", rows, yRows, 0)
	}
	weights, indices, err := resolveWeights("DecisionTreeRegressor.Fit", rows, sampleWeight)
	if err != nil {
		return err
	}

	target := mat.Col(nil, 0, y)
	if err := errors.CheckNumericalStability("DecisionTreeRegressor.Fit", target, 0); err != nil {
		return err
	}

	g := &grower{
		cols:    columns(X),
		weights: weights,
		dim:     2,
		accumulate: func(i int, w float64, acc []float64) {
			acc[0] += w * target[i]
			acc[1] += w * target[i] * target[i]
		},
		impurity: variance,
		leafValue: func(acc []float64, w float64) []float64 {
			return []float64{errors.SafeDivide(acc[0], w)}
		},
		maxDepth:        dt.maxDepth,
		minSamplesSplit: dt.minSamplesSplit,
		minSamplesLeaf:  dt.minSamplesLeaf,
		maxFeatures:     dt.maxFeatures,
		rng:             rand.New(rand.NewPCG(dt.randomState, dt.randomState)),
	}

	t := g.build(indices)
	t.prune(dt.ccpAlpha)

	dt.tree = t
	dt.featureImportances_ = t.importances()
	dt.state.SetDimensions(cols, rows)
	dt.state.SetFitted()
	return nil
}

// Predict returns the leaf mean for every row as an n x 1 matrix.
func (dt *DecisionTreeRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	leaves, err := dt.Apply(X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(len(leaves), 1, nil)
	for i, leaf := range leaves {
		out.Set(i, 0, dt.tree.nodes[leaf].value[0])
	}
	return out, nil
}

// Apply returns the index of the leaf reached by every row. Indices are
// stable for the life of the fitted tree.
func (dt *DecisionTreeRegressor) Apply(X mat.Matrix) ([]int, error) {
	if err := dt.state.RequireFitted("DecisionTreeRegressor", "Apply"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := dt.state.CheckFeatures("DecisionTreeRegressor.Apply", cols); err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, errors.NewModelError("DecisionTreeRegressor.Apply", "empty data", errors.ErrEmptyData)
	}
	return dt.tree.apply(X), nil
}

// NodeCount returns the size of the node array that Apply indexes into.
func (dt *DecisionTreeRegressor) NodeCount() int {
	if dt.tree == nil {
		return 0
	}
	return len(dt.tree.nodes)
}

// GetFeatureImportances returns the normalized variance decrease per
// feature.
func (dt *DecisionTreeRegressor) GetFeatureImportances() []float64 {
	return append([]float64(nil), dt.featureImportances_...)
}

// GetDepth returns the depth of the fitted tree.
func (dt *DecisionTreeRegressor) GetDepth() int {
	if dt.tree == nil {
		return 0
	}
	return dt.tree.depth()
}

// GetNLeaves returns the number of leaves of the fitted tree.
func (dt *DecisionTreeRegressor) GetNLeaves() int {
	if dt.tree == nil {
		return 0
	}
	return dt.tree.nLeaves()
}

// IsFitted reports whether Fit has completed.
func (dt *DecisionTreeRegressor) IsFitted() bool {
	return dt.state.IsFitted()
}

// GetParams returns the hyperparameters.
func (dt *DecisionTreeRegressor) GetParams() map[string]interface{} {
	return dt.config.params()
}

// SetParams updates hyperparameters.
func (dt *DecisionTreeRegressor) SetParams(params map[string]interface{}) error {
	return dt.config.setParams(params)
}

func (dt *DecisionTreeRegressor) String() string {
	return fmt.Sprintf("DecisionTreeRegressor(max_depth=%d, min_samples_leaf=%d)", dt.maxDepth, dt.minSamplesLeaf)
}

func variance(acc []float64, w float64) float64 {
	if w <= 0 {
		return 0
	}
	mean := acc[0] / w
	return math.Max(0, acc[1]/w-mean*mean)
}
