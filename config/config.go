// Package config loads and validates experiment configuration files.
package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/imdad19/treetune/dataset"
	"github.com/imdad19/treetune/families"
	"github.com/imdad19/treetune/metrics"
	"github.com/imdad19/treetune/model_selection"
	"github.com/imdad19/treetune/pkg/errors"
	"github.com/imdad19/treetune/preprocessing"
	"github.com/imdad19/treetune/recipe"
)

var validate = validator.New()

// Experiment is a complete tuning run: data, split, recipe, engine settings
// and the families to compare.
type Experiment struct {
	Dataset DatasetConfig `yaml:"dataset" json:"dataset"`
	Split   SplitConfig   `yaml:"split" json:"split"`
	Recipe  RecipeConfig  `yaml:"recipe" json:"recipe"`
	Tuning  TuningConfig  `yaml:"tuning" json:"tuning"`
	Models  []ModelConfig `yaml:"models" json:"models" validate:"required,min=1,dive"`
}

// DatasetConfig locates the input data. An empty Path selects the built-in
// synthetic loans data of SyntheticSize records. Categorical lists columns
// read as categorical even when their values are numeric.
type DatasetConfig struct {
	Path          string   `yaml:"path" json:"path"`
	Format        string   `yaml:"format" json:"format" validate:"omitempty,oneof=csv json"`
	Label         string   `yaml:"label" json:"label" validate:"required"`
	Positive      string   `yaml:"positive" json:"positive"`
	Categorical   []string `yaml:"categorical" json:"categorical"`
	SyntheticSize int      `yaml:"synthetic_size" json:"synthetic_size" validate:"gte=0"`
}

// SplitConfig controls the train/test split and the fold count.
type SplitConfig struct {
	TrainFraction float64 `yaml:"train_fraction" json:"train_fraction" validate:"gt=0,lt=1"`
	Folds         int     `yaml:"folds" json:"folds" validate:"gte=2"`
	Seed          uint64  `yaml:"seed" json:"seed"`
}

// RecipeConfig declares the preprocessing steps. A zero
// CorrelationThreshold disables the correlation filter.
type RecipeConfig struct {
	Drop                 []string `yaml:"drop" json:"drop"`
	CorrelationThreshold float64  `yaml:"correlation_threshold" json:"correlation_threshold" validate:"gte=0,lte=1"`
	Encode               bool     `yaml:"encode" json:"encode"`
	UnknownPolicy        string   `yaml:"unknown_policy" json:"unknown_policy" validate:"omitempty,oneof=zero bucket"`
	Normalize            string   `yaml:"normalize" json:"normalize" validate:"omitempty,oneof=none standard range"`
}

// TuningConfig controls the engine and model selection.
type TuningConfig struct {
	Workers      int           `yaml:"workers" json:"workers" validate:"gte=0"`
	TaskTimeout  time.Duration `yaml:"task_timeout" json:"task_timeout" validate:"gte=0"`
	Metrics      []string      `yaml:"metrics" json:"metrics"`
	SelectMetric string        `yaml:"select_metric" json:"select_metric"`
	Direction    string        `yaml:"direction" json:"direction" validate:"omitempty,oneof=maximize minimize"`
}

// ModelConfig is one family to tune. Params overrides domains of the
// family's default space, or adds parameters to it.
type ModelConfig struct {
	Family string                `yaml:"family" json:"family" validate:"required"`
	Mode   string                `yaml:"mode" json:"mode" validate:"omitempty,oneof=random exhaustive regular"`
	Size   int                   `yaml:"size" json:"size" validate:"gte=0"`
	Seed   uint64                `yaml:"seed" json:"seed"`
	Params map[string]DomainSpec `yaml:"params" json:"params" validate:"dive"`
}

// DomainSpec is a parameter domain. Exactly one field must be set: Int and
// Float are [min, max] ranges, Values is an explicit list.
type DomainSpec struct {
	Int    []int     `yaml:"int" json:"int,omitempty" validate:"omitempty,len=2"`
	Float  []float64 `yaml:"float" json:"float,omitempty" validate:"omitempty,len=2"`
	Values []any     `yaml:"values" json:"values,omitempty" validate:"omitempty,min=1"`
}

// Domain converts d to a grid domain.
func (d DomainSpec) Domain(name string) (model_selection.Domain, error) {
	set := 0
	for _, n := range []int{len(d.Int), len(d.Float), len(d.Values)} {
		if n > 0 {
			set++
		}
	}
	if set != 1 {
		return nil, errors.NewValidationError(name, "domain needs exactly one of int, float or values", d)
	}
	switch {
	case len(d.Int) > 0:
		return model_selection.IntRange{Min: d.Int[0], Max: d.Int[1]}, nil
	case len(d.Float) > 0:
		return model_selection.FloatRange{Min: d.Float[0], Max: d.Float[1]}, nil
	default:
		return model_selection.Values(d.Values), nil
	}
}

// Default returns the loans experiment: an 80/20 split, five folds, the
// correlation filter, one-hot encoding and standardization, and twenty
// random configurations per tree family.
func Default() *Experiment {
	models := []ModelConfig{{Family: families.Majority, Mode: "random", Size: 1, Seed: 42}}
	for _, name := range []string{families.DecisionTree, families.BaggedTrees, families.RandomForest, families.BoostedTrees} {
		models = append(models, ModelConfig{Family: name, Mode: "random", Size: 20, Seed: 42})
	}
	return &Experiment{
		Dataset: DatasetConfig{
			Label:         dataset.LoansLabel,
			Positive:      "1",
			Categorical:   []string{dataset.ColCreditPol},
			SyntheticSize: 2000,
		},
		Split:   SplitConfig{TrainFraction: 0.8, Folds: 5, Seed: 1234},
		Recipe: RecipeConfig{
			CorrelationThreshold: 0.9,
			Encode:               true,
			UnknownPolicy:        "zero",
			Normalize:            "standard",
		},
		Tuning: TuningConfig{
			TaskTimeout:  2 * time.Minute,
			Metrics:      append([]string(nil), metrics.StandardSet...),
			SelectMetric: "roc_auc",
		},
		Models: models,
	}
}

// Load reads the YAML file at path over Default and validates the result.
// Unknown keys are rejected.
func Load(path string) (*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (*Experiment, error) {
	exp := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(exp); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := exp.Validate(); err != nil {
		return nil, err
	}
	return exp, nil
}

// Validate checks field constraints, metric and family names, and every
// parameter domain.
func (e *Experiment) Validate() error {
	if err := validate.Struct(e); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return errors.NewValidationError(fe.Namespace(), fmt.Sprintf("failed %q constraint", fe.Tag()), fe.Value())
		}
		return errors.Wrap(err, "validate config")
	}

	if _, err := metrics.LookupAll(e.Tuning.Metrics); err != nil {
		return err
	}
	if e.Tuning.SelectMetric != "" && !contains(e.metricNames(), e.Tuning.SelectMetric) {
		return errors.NewValidationError("tuning.select_metric", "must be one of tuning.metrics", e.Tuning.SelectMetric)
	}
	if _, err := e.Direction(); err != nil {
		return err
	}
	for i, m := range e.Models {
		if _, err := m.Grid(); err != nil {
			return errors.Wrapf(err, "models[%d]", i)
		}
	}
	return nil
}

func (e *Experiment) metricNames() []string {
	if len(e.Tuning.Metrics) == 0 {
		return metrics.StandardSet
	}
	return e.Tuning.Metrics
}

// Metrics returns the metric names to compute.
func (e *Experiment) Metrics() []string {
	return append([]string(nil), e.metricNames()...)
}

// SelectMetric returns the metric used for selection, defaulting to the
// first computed metric.
func (e *Experiment) SelectMetric() string {
	if e.Tuning.SelectMetric != "" {
		return e.Tuning.SelectMetric
	}
	return e.metricNames()[0]
}

// Direction returns the configured selection direction, or the registered
// direction of the selection metric.
func (e *Experiment) Direction() (metrics.Direction, error) {
	if e.Tuning.Direction != "" {
		return metrics.ParseDirection(e.Tuning.Direction)
	}
	m, err := metrics.Lookup(e.SelectMetric())
	if err != nil {
		return 0, err
	}
	return m.Direction, nil
}

// LoadDataset reads the configured dataset, or generates the synthetic one
// when no path is set.
func (e *Experiment) LoadDataset() (*dataset.Dataset, dataset.LoadStats, error) {
	if e.Dataset.Path == "" {
		ds := dataset.Synthetic(e.Dataset.SyntheticSize, 0.16, e.Split.Seed)
		return ds, dataset.LoadStats{Rows: ds.Len()}, nil
	}
	return dataset.Load(e.Dataset.Path, dataset.Options{
		Label:       e.Dataset.Label,
		Positive:    e.Dataset.Positive,
		Format:      e.Dataset.Format,
		Categorical: e.Dataset.Categorical,
	})
}

// BuildRecipe assembles the recipe described by the configuration.
func (e *Experiment) BuildRecipe() (*recipe.Recipe, error) {
	r := recipe.New(e.Dataset.Label)
	if len(e.Recipe.Drop) > 0 {
		r.Drop(e.Recipe.Drop...)
	}
	if e.Recipe.CorrelationThreshold > 0 {
		r.CorrelationFilter(e.Recipe.CorrelationThreshold)
	}
	if e.Recipe.Encode {
		policy := preprocessing.UnknownZero
		if e.Recipe.UnknownPolicy != "" {
			var err error
			if policy, err = preprocessing.ParseUnknownPolicy(e.Recipe.UnknownPolicy); err != nil {
				return nil, err
			}
		}
		r.EncodeWith(policy)
	}
	switch e.Recipe.Normalize {
	case "standard":
		r.Normalize()
	case "range":
		r.NormalizeRange()
	}
	return r, nil
}

// Space returns the family's default space with the configured overrides
// applied in name order.
func (m ModelConfig) Space() (model_selection.ParamSpace, error) {
	f, err := families.Lookup(m.Family)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m.Params))
	for name := range m.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	overrides := make(model_selection.ParamSpace, 0, len(names))
	for _, name := range names {
		d, err := m.Params[name].Domain(name)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, model_selection.Param{Name: name, Domain: d})
	}
	return f.Space().With(overrides), nil
}

// Grid generates the configurations to tune.
func (m ModelConfig) Grid() ([]model_selection.ModelSpec, error) {
	space, err := m.Space()
	if err != nil {
		return nil, err
	}
	mode := model_selection.ModeRandom
	if m.Mode != "" {
		if mode, err = model_selection.ParseMode(m.Mode); err != nil {
			return nil, err
		}
	}
	size := m.Size
	if size == 0 && mode == model_selection.ModeRandom {
		size = 1
	}
	return model_selection.Generate(m.Family, space, size, mode, m.Seed)
}

// String renders the experiment as YAML.
func (e *Experiment) String() string {
	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(e); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	_ = enc.Close()
	return b.String()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
