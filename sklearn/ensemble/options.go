// Package ensemble implements bagged, random-feature and boosted ensembles
// of CART trees.
package ensemble

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/imdad19/treetune/pkg/errors"
)

// config holds the hyperparameters of every ensemble in this package. Each
// constructor sets its own defaults.
type config struct {
	nEstimators     int
	criterion       string
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int
	maxSamples      float64
	learningRate    float64
	subsample       float64
	randomState     uint64
	nJobs           int
}

// Option configures an ensemble.
type Option func(*config)

// WithNEstimators sets the number of trees or boosting stages.
func WithNEstimators(n int) Option {
	return func(c *config) { c.nEstimators = n }
}

// WithCriterion sets the split criterion of classification trees.
func WithCriterion(criterion string) Option {
	return func(c *config) { c.criterion = criterion }
}

// WithMaxDepth limits the depth of every tree. Values below 1 mean unlimited.
func WithMaxDepth(depth int) Option {
	return func(c *config) { c.maxDepth = depth }
}

// WithMinSamplesSplit sets the minimum samples needed to split a node.
func WithMinSamplesSplit(n int) Option {
	return func(c *config) { c.minSamplesSplit = n }
}

// WithMinSamplesLeaf sets the minimum samples in each leaf.
func WithMinSamplesLeaf(n int) Option {
	return func(c *config) { c.minSamplesLeaf = n }
}

// WithMaxFeatures sets the number of features drawn at each split.
func WithMaxFeatures(n int) Option {
	return func(c *config) { c.maxFeatures = n }
}

// WithMaxSamples sets the bootstrap sample size as a fraction of the rows.
func WithMaxSamples(fraction float64) Option {
	return func(c *config) { c.maxSamples = fraction }
}

// WithLearningRate sets the shrinkage applied to every boosting stage.
func WithLearningRate(rate float64) Option {
	return func(c *config) { c.learningRate = rate }
}

// WithSubsample sets the fraction of rows used by each boosting stage.
func WithSubsample(fraction float64) Option {
	return func(c *config) { c.subsample = fraction }
}

// WithRandomState seeds bootstrap and feature sampling.
func WithRandomState(seed uint64) Option {
	return func(c *config) { c.randomState = seed }
}

// WithNJobs bounds the number of trees fitted concurrently. Values below 1
// mean one per CPU core.
func WithNJobs(n int) Option {
	return func(c *config) { c.nJobs = n }
}

func (c *config) validate() error {
	if c.nEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be at least 1", c.nEstimators)
	}
	if c.minSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be at least 1", c.minSamplesLeaf)
	}
	if c.minSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be at least 2", c.minSamplesSplit)
	}
	if !(c.maxSamples > 0 && c.maxSamples <= 1) {
		return errors.NewValidationError("max_samples", "must be in (0, 1]", c.maxSamples)
	}
	if !(c.subsample > 0 && c.subsample <= 1) {
		return errors.NewValidationError("subsample", "must be in (0, 1]", c.subsample)
	}
	return nil
}

func (c *config) params() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      c.nEstimators,
		"criterion":         c.criterion,
		"max_depth":         c.maxDepth,
		"min_samples_split": c.minSamplesSplit,
		"min_samples_leaf":  c.minSamplesLeaf,
		"max_features":      c.maxFeatures,
		"max_samples":       c.maxSamples,
		"learning_rate":     c.learningRate,
		"subsample":         c.subsample,
		"random_state":      int(c.randomState),
	}
}

func newConfig(opts []Option, defaults config) config {
	c := defaults
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// sortedClasses returns the distinct values of the first column of y.
func sortedClasses(y mat.Matrix) []float64 {
	rows, _ := y.Dims()
	seen := make(map[float64]struct{})
	for i := 0; i < rows; i++ {
		seen[y.At(i, 0)] = struct{}{}
	}
	classes := make([]float64, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Float64s(classes)
	return classes
}

// meanImportances averages per-tree importances and renormalizes.
func meanImportances(all [][]float64, nFeatures int) []float64 {
	out := make([]float64, nFeatures)
	for _, imp := range all {
		for j, v := range imp {
			out[j] += v
		}
	}
	var total float64
	for _, v := range out {
		total += v
	}
	if total > 0 {
		for j := range out {
			out[j] /= total
		}
	}
	return out
}
