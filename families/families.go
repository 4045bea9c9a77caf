// Package families binds model family names to estimators and their default
// hyperparameter spaces. Every family returns a model.Classifier whose
// PredictProba has one column per class index 0 and 1, even when the
// training labels hold a single class.
package families

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/imdad19/treetune/core/model"
	"github.com/imdad19/treetune/model_selection"
	"github.com/imdad19/treetune/pkg/errors"
	"github.com/imdad19/treetune/sklearn/dummy"
	"github.com/imdad19/treetune/sklearn/ensemble"
	"github.com/imdad19/treetune/sklearn/tree"
)

// Family names.
const (
	DecisionTree = "decision_tree"
	BaggedTrees  = "bagged_trees"
	RandomForest = "random_forest"
	BoostedTrees = "boosted_trees"
	Majority     = "majority"
)

// SeedParam optionally fixes the random state of the stochastic families.
const SeedParam = "random_state"

// Family builds one kind of classifier from a hyperparameter assignment.
type Family interface {
	Name() string
	// Space is the default parameter space searched for this family.
	Space() model_selection.ParamSpace
	// Fit trains a new classifier on X and the 0/1 labels in y.
	Fit(params model.Params, X, y mat.Matrix) (model.Classifier, error)
}

type builder func(p model.Params) (model.Classifier, error)

type estimatorFamily struct {
	name  string
	space model_selection.ParamSpace
	keys  []string
	build builder
}

func (f *estimatorFamily) Name() string { return f.name }

func (f *estimatorFamily) Space() model_selection.ParamSpace {
	return append(model_selection.ParamSpace(nil), f.space...)
}

func (f *estimatorFamily) Fit(params model.Params, X, y mat.Matrix) (model.Classifier, error) {
	for _, k := range params.Keys() {
		if !f.accepts(k) {
			return nil, errors.NewValidationError(k, fmt.Sprintf("not a %s parameter", f.name), params[k])
		}
	}
	clf, err := f.build(params)
	if err != nil {
		return nil, err
	}
	if err := clf.Fit(X, y); err != nil {
		return nil, err
	}
	return &binary{Classifier: clf, classes: distinct(y)}, nil
}

func (f *estimatorFamily) accepts(key string) bool {
	if key == SeedParam {
		return true
	}
	for _, k := range f.keys {
		if k == key {
			return true
		}
	}
	return false
}

var registry = map[string]*estimatorFamily{}

func register(f *estimatorFamily) {
	for _, p := range f.space {
		f.keys = append(f.keys, p.Name)
	}
	registry[f.name] = f
}

// Lookup returns the named family.
func Lookup(name string) (Family, error) {
	f, ok := registry[name]
	if !ok {
		return nil, errors.Invalidf(errors.ErrUnknownFamily, "unknown model family %q (known: %v)", name, Names())
	}
	return f, nil
}

// Names returns the registered family names in lexicographic order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func seed(p model.Params) (uint64, error) {
	s, err := p.Int(SeedParam, 1)
	if err != nil {
		return 0, err
	}
	if s < 0 {
		return 0, errors.NewValidationError(SeedParam, "must be non-negative", s)
	}
	return uint64(s), nil
}

func init() {
	register(&estimatorFamily{
		name: DecisionTree,
		space: model_selection.ParamSpace{
			{Name: "cost_complexity", Domain: model_selection.FloatRange{Min: 0, Max: 0.05}},
			{Name: "max_depth", Domain: model_selection.IntRange{Min: 1, Max: 15}},
			{Name: "min_samples_leaf", Domain: model_selection.IntRange{Min: 1, Max: 40}},
		},
		build: func(p model.Params) (model.Classifier, error) {
			s, err := seed(p)
			if err != nil {
				return nil, err
			}
			dt := tree.NewDecisionTreeClassifier(tree.WithRandomState(s))
			treeParams := p.Clone()
			delete(treeParams, SeedParam)
			if err := dt.SetParams(treeParams.Map()); err != nil {
				return nil, err
			}
			return dt, nil
		},
	})

	register(&estimatorFamily{
		name: BaggedTrees,
		space: model_selection.ParamSpace{
			{Name: "n_estimators", Domain: model_selection.IntRange{Min: 10, Max: 100}},
			{Name: "max_depth", Domain: model_selection.IntRange{Min: 1, Max: 15}},
			{Name: "min_samples_leaf", Domain: model_selection.IntRange{Min: 1, Max: 40}},
		},
		build: func(p model.Params) (model.Classifier, error) {
			opts, err := ensembleOptions(p, 10)
			if err != nil {
				return nil, err
			}
			return ensemble.NewBaggingClassifier(opts...), nil
		},
	})

	register(&estimatorFamily{
		name: RandomForest,
		space: model_selection.ParamSpace{
			{Name: "n_estimators", Domain: model_selection.IntRange{Min: 10, Max: 200}},
			{Name: "max_features", Domain: model_selection.IntRange{Min: 1, Max: 10}},
			{Name: "min_samples_leaf", Domain: model_selection.IntRange{Min: 1, Max: 40}},
		},
		build: func(p model.Params) (model.Classifier, error) {
			opts, err := ensembleOptions(p, 100)
			if err != nil {
				return nil, err
			}
			return ensemble.NewRandomForestClassifier(opts...), nil
		},
	})

	register(&estimatorFamily{
		name: BoostedTrees,
		space: model_selection.ParamSpace{
			{Name: "n_estimators", Domain: model_selection.IntRange{Min: 10, Max: 200}},
			{Name: "learning_rate", Domain: model_selection.FloatRange{Min: 0.01, Max: 0.3}},
			{Name: "max_depth", Domain: model_selection.IntRange{Min: 1, Max: 6}},
			{Name: "min_samples_leaf", Domain: model_selection.IntRange{Min: 1, Max: 40}},
		},
		build: func(p model.Params) (model.Classifier, error) {
			opts, err := ensembleOptions(p, 100)
			if err != nil {
				return nil, err
			}
			lr, err := p.Float("learning_rate", 0.1)
			if err != nil {
				return nil, err
			}
			opts = append(opts, ensemble.WithLearningRate(lr))
			return ensemble.NewGradientBoostingClassifier(opts...), nil
		},
	})

	register(&estimatorFamily{
		name: Majority,
		build: func(model.Params) (model.Classifier, error) {
			return dummy.NewDummyClassifier(dummy.Prior), nil
		},
	})
}

// ensembleOptions translates the parameters shared by the ensemble families.
// Trees inside one ensemble are fitted sequentially; the tuning engine owns
// the concurrency.
func ensembleOptions(p model.Params, defaultEstimators int) ([]ensemble.Option, error) {
	s, err := seed(p)
	if err != nil {
		return nil, err
	}
	n, err := p.Int("n_estimators", defaultEstimators)
	if err != nil {
		return nil, err
	}
	leaf, err := p.Int("min_samples_leaf", 1)
	if err != nil {
		return nil, err
	}
	opts := []ensemble.Option{
		ensemble.WithNEstimators(n),
		ensemble.WithMinSamplesLeaf(leaf),
		ensemble.WithRandomState(s),
		ensemble.WithNJobs(1),
	}
	if _, ok := p["max_depth"]; ok {
		depth, err := p.Int("max_depth", -1)
		if err != nil {
			return nil, err
		}
		opts = append(opts, ensemble.WithMaxDepth(depth))
	}
	if _, ok := p["max_features"]; ok {
		mf, err := p.Int("max_features", 0)
		if err != nil {
			return nil, err
		}
		opts = append(opts, ensemble.WithMaxFeatures(mf))
	}
	return opts, nil
}

func distinct(y mat.Matrix) []float64 {
	rows, _ := y.Dims()
	seen := make(map[float64]bool)
	var out []float64
	for i := 0; i < rows; i++ {
		v := y.At(i, 0)
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

// binary aligns the probability columns of a fitted classifier with class
// indices 0 and 1.
type binary struct {
	model.Classifier
	classes []float64
}

func (b *binary) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	proba, err := b.Classifier.PredictProba(X)
	if err != nil {
		return nil, err
	}
	rows, cols := proba.Dims()
	if cols != len(b.classes) {
		return nil, errors.NewDimensionError("PredictProba", len(b.classes), cols, 1)
	}
	out := mat.NewDense(rows, 2, nil)
	for j, c := range b.classes {
		k := int(c)
		if float64(k) != c || k < 0 || k > 1 {
			return nil, errors.NewValueError("PredictProba", fmt.Sprintf("class %v is not 0 or 1", c))
		}
		for i := 0; i < rows; i++ {
			out.Set(i, k, proba.At(i, j))
		}
	}
	return out, nil
}

// GetFeatureImportances forwards to the wrapped classifier, returning nil
// when it does not report importances.
func (b *binary) GetFeatureImportances() []float64 {
	if fi, ok := b.Classifier.(model.FeatureImporter); ok {
		return fi.GetFeatureImportances()
	}
	return nil
}

func (b *binary) String() string {
	return fmt.Sprint(b.Classifier)
}
