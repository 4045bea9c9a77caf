package tree

import (
	"fmt"

	"github.com/imdad19/treetune/core/model"
	"github.com/imdad19/treetune/pkg/errors"
)

// config holds the hyperparameters shared by the classifier and regressor.
type config struct {
	criterion       string
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int
	ccpAlpha        float64
	randomState     uint64
}

func defaultConfig(criterion string) config {
	return config{
		criterion:       criterion,
		maxDepth:        -1,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
	}
}

// Option configures a tree.
type Option func(*config)

// WithCriterion sets the split criterion: "gini" or "entropy" for
// classification, "squared_error" for regression.
func WithCriterion(criterion string) Option {
	return func(c *config) { c.criterion = criterion }
}

// WithMaxDepth limits the tree depth. Values below 1 mean unlimited.
func WithMaxDepth(depth int) Option {
	return func(c *config) { c.maxDepth = depth }
}

// WithMinSamplesSplit sets the minimum (weighted) samples needed to split a
// node.
func WithMinSamplesSplit(n int) Option {
	return func(c *config) { c.minSamplesSplit = n }
}

// WithMinSamplesLeaf sets the minimum (weighted) samples in each leaf.
func WithMinSamplesLeaf(n int) Option {
	return func(c *config) { c.minSamplesLeaf = n }
}

// WithMaxFeatures sets the number of features drawn at each split. Values
// below 1 use every feature.
func WithMaxFeatures(n int) Option {
	return func(c *config) { c.maxFeatures = n }
}

// WithCCPAlpha sets the cost-complexity pruning parameter.
func WithCCPAlpha(alpha float64) Option {
	return func(c *config) { c.ccpAlpha = alpha }
}

// WithRandomState seeds the feature sampling used with WithMaxFeatures.
func WithRandomState(seed uint64) Option {
	return func(c *config) { c.randomState = seed }
}

func (c *config) validate(criteria ...string) error {
	ok := false
	for _, name := range criteria {
		if c.criterion == name {
			ok = true
		}
	}
	if !ok {
		return errors.NewValidationError("criterion", fmt.Sprintf("must be one of %v", criteria), c.criterion)
	}
	if c.minSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be at least 2", c.minSamplesSplit)
	}
	if c.minSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be at least 1", c.minSamplesLeaf)
	}
	if c.ccpAlpha < 0 {
		return errors.NewValidationError("ccp_alpha", "must be non-negative", c.ccpAlpha)
	}
	return nil
}

func (c *config) params() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         c.criterion,
		"max_depth":         c.maxDepth,
		"min_samples_split": c.minSamplesSplit,
		"min_samples_leaf":  c.minSamplesLeaf,
		"max_features":      c.maxFeatures,
		"ccp_alpha":         c.ccpAlpha,
		"random_state":      int(c.randomState),
	}
}

// setParams updates c from params. "cost_complexity" is accepted as an alias
// of "ccp_alpha".
func (c *config) setParams(params map[string]interface{}) error {
	p := model.Params(params)
	next := *c
	var err error
	for name := range params {
		switch name {
		case "criterion":
			next.criterion, err = p.String(name, c.criterion)
		case "max_depth":
			next.maxDepth, err = p.Int(name, c.maxDepth)
		case "min_samples_split":
			next.minSamplesSplit, err = p.Int(name, c.minSamplesSplit)
		case "min_samples_leaf":
			next.minSamplesLeaf, err = p.Int(name, c.minSamplesLeaf)
		case "max_features":
			next.maxFeatures, err = p.Int(name, c.maxFeatures)
		case "ccp_alpha", "cost_complexity":
			next.ccpAlpha, err = p.Float(name, c.ccpAlpha)
		case "random_state":
			var seed int
			seed, err = p.Int(name, int(c.randomState))
			next.randomState = uint64(seed)
		default:
			err = errors.NewValidationError(name, "unknown tree parameter", params[name])
		}
		if err != nil {
			return err
		}
	}
	*c = next
	return nil
}
