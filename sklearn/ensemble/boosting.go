package ensemble

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/imdad19/treetune/core/model"
	"github.com/imdad19/treetune/pkg/errors"
	"github.com/imdad19/treetune/sklearn/tree"
)

type boostingStage struct {
	tree       *tree.DecisionTreeRegressor
	leafValues []float64
}

// GradientBoostingClassifier fits regression trees to the gradient of the
// binary log loss. Leaf values take one Newton step.
//
//	gb := ensemble.NewGradientBoostingClassifier(
//	    ensemble.WithNEstimators(200),
//	    ensemble.WithLearningRate(0.05),
//	    ensemble.WithMaxDepth(3),
//	)
type GradientBoostingClassifier struct {
	state *model.StateManager
	config

	classes      []float64
	initScore    float64
	stages       []boostingStage
	importances_ []float64
}

// NewGradientBoostingClassifier creates a booster with 100 stages of depth 3
// and learning rate 0.1 unless overridden.
func NewGradientBoostingClassifier(opts ...Option) *GradientBoostingClassifier {
	return &GradientBoostingClassifier{
		state: model.NewStateManager(),
		config: newConfig(opts, config{
			nEstimators:     100,
			criterion:       "squared_error",
			maxDepth:        3,
			minSamplesSplit: 2,
			minSamplesLeaf:  1,
			maxSamples:      1,
			learningRate:    0.1,
			subsample:       1,
		}),
	}
}

// Fit runs the boosting stages. y must hold exactly two classes.
func (gb *GradientBoostingClassifier) Fit(X, y mat.Matrix) error {
	if err := gb.config.validate(); err != nil {
		return err
	}
	if !(gb.learningRate > 0) {
		return errors.NewValidationError("learning_rate", "must be positive", gb.learningRate)
	}
	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError("GradientBoostingClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if yRows, _ := y.Dims(); yRows != rows {
		return errors.NewDimensionError("GradientBoostingClassifier.Fit", rows, yRows, 0)
	}
	classes := sortedClasses(y)
	if len(classes) != 2 {
		return errors.NewValueError("GradientBoostingClassifier.Fit", fmt.Sprintf("binary log loss needs two classes, got %d", len(classes)))
	}

	target := make([]float64, rows)
	var positives float64
	for i := range target {
		if y.At(i, 0) == classes[1] {
			target[i] = 1
			positives++
		}
	}
	prior := positives / float64(rows)
	initScore := math.Log(prior / (1 - prior))

	score := make([]float64, rows)
	for i := range score {
		score[i] = initScore
	}

	rng := rand.New(rand.NewPCG(gb.randomState, gb.randomState))
	residual := mat.NewDense(rows, 1, nil)
	prob := make([]float64, rows)
	stages := make([]boostingStage, 0, gb.nEstimators)
	importances := make([][]float64, 0, gb.nEstimators)

	for m := 0; m < gb.nEstimators; m++ {
		for i := range score {
			prob[i] = errors.Sigmoid(score[i])
			residual.Set(i, 0, target[i]-prob[i])
		}
		weights := gb.subsampleWeights(rng, rows)

		reg := tree.NewDecisionTreeRegressor(
			tree.WithMaxDepth(gb.maxDepth),
			tree.WithMinSamplesSplit(gb.minSamplesSplit),
			tree.WithMinSamplesLeaf(gb.minSamplesLeaf),
			tree.WithMaxFeatures(gb.maxFeatures),
			tree.WithRandomState(rng.Uint64()),
		)
		if err := reg.FitWeighted(X, residual, weights); err != nil {
			return errors.Wrapf(err, "GradientBoostingClassifier stage %d", m)
		}
		leaves, err := reg.Apply(X)
		if err != nil {
			return err
		}

		num := make([]float64, reg.NodeCount())
		den := make([]float64, reg.NodeCount())
		for i, leaf := range leaves {
			if weights != nil && weights[i] == 0 {
				continue
			}
			num[leaf] += residual.At(i, 0)
			den[leaf] += prob[i] * (1 - prob[i])
		}
		values := make([]float64, len(num))
		for l := range values {
			values[l] = errors.SafeDivide(num[l], den[l])
		}

		for i, leaf := range leaves {
			score[i] += gb.learningRate * values[leaf]
		}
		if err := errors.CheckNumericalStability("GradientBoostingClassifier.Fit", score, m); err != nil {
			return err
		}

		stages = append(stages, boostingStage{tree: reg, leafValues: values})
		importances = append(importances, reg.GetFeatureImportances())
	}

	gb.classes = classes
	gb.initScore = initScore
	gb.stages = stages
	gb.importances_ = meanImportances(importances, cols)
	gb.state.SetDimensions(cols, rows)
	gb.state.SetFitted()
	return nil
}

// subsampleWeights draws the in-bag rows of one stage, or nil for all rows.
func (gb *GradientBoostingClassifier) subsampleWeights(rng *rand.Rand, rows int) []float64 {
	if gb.subsample >= 1 {
		return nil
	}
	w := make([]float64, rows)
	n := int(math.Max(1, math.Round(gb.subsample*float64(rows))))
	for _, i := range rng.Perm(rows)[:n] {
		w[i] = 1
	}
	return w
}

// DecisionFunction returns the raw log-odds of the positive class.
func (gb *GradientBoostingClassifier) DecisionFunction(X mat.Matrix) ([]float64, error) {
	if err := gb.state.RequireFitted("GradientBoostingClassifier", "DecisionFunction"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := gb.state.CheckFeatures("GradientBoostingClassifier.DecisionFunction", cols); err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, errors.NewModelError("GradientBoostingClassifier.DecisionFunction", "empty data", errors.ErrEmptyData)
	}

	score := make([]float64, rows)
	for i := range score {
		score[i] = gb.initScore
	}
	for _, st := range gb.stages {
		leaves, err := st.tree.Apply(X)
		if err != nil {
			return nil, err
		}
		for i, leaf := range leaves {
			score[i] += gb.learningRate * st.leafValues[leaf]
		}
	}
	return score, nil
}

// PredictProba returns [P(class 0), P(class 1)] for every row.
func (gb *GradientBoostingClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	return gb.predictProba(X)
}

func (gb *GradientBoostingClassifier) predictProba(X mat.Matrix) (*mat.Dense, error) {
	score, err := gb.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(len(score), 2, nil)
	for i, s := range score {
		p := errors.Sigmoid(s)
		out.Set(i, 0, 1-p)
		out.Set(i, 1, p)
	}
	return out, nil
}

// Predict returns the more probable class for every row.
func (gb *GradientBoostingClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := gb.predictProba(X)
	if err != nil {
		return nil, err
	}
	return argmaxClasses(proba, gb.classes), nil
}

// GetFeatureImportances returns the mean stage importances.
func (gb *GradientBoostingClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), gb.importances_...)
}

// GetParams returns the hyperparameters.
func (gb *GradientBoostingClassifier) GetParams() map[string]interface{} { return gb.config.params() }

// NumStages returns the number of fitted boosting stages.
func (gb *GradientBoostingClassifier) NumStages() int { return len(gb.stages) }

func (gb *GradientBoostingClassifier) String() string {
	return fmt.Sprintf("GradientBoostingClassifier(n_estimators=%d, learning_rate=%g, max_depth=%d)",
		gb.nEstimators, gb.learningRate, gb.maxDepth)
}
