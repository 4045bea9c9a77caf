package recipe

import (
	"fmt"
	"strings"

	"github.com/imdad19/treetune/dataset"
	"github.com/imdad19/treetune/pkg/errors"
	"github.com/imdad19/treetune/preprocessing"
)

// Recipe is an ordered list of steps for one label column.
type Recipe struct {
	Label string
	Steps []Step
}

// New starts an empty recipe for label.
func New(label string) *Recipe {
	return &Recipe{Label: label}
}

// Drop appends a Drop step.
func (r *Recipe) Drop(columns ...string) *Recipe {
	r.Steps = append(r.Steps, Drop{Columns: columns})
	return r
}

// CorrelationFilter appends a CorrelationFilter step.
func (r *Recipe) CorrelationFilter(threshold float64) *Recipe {
	r.Steps = append(r.Steps, CorrelationFilter{Threshold: threshold})
	return r
}

// Encode appends an Encode step with the UnknownZero policy.
func (r *Recipe) Encode(columns ...string) *Recipe {
	r.Steps = append(r.Steps, Encode{Columns: columns})
	return r
}

// EncodeWith appends an Encode step with an explicit unknown policy.
func (r *Recipe) EncodeWith(policy preprocessing.UnknownPolicy, columns ...string) *Recipe {
	r.Steps = append(r.Steps, Encode{Columns: columns, Unknown: policy})
	return r
}

// Normalize appends a standardizing Normalize step.
func (r *Recipe) Normalize() *Recipe {
	r.Steps = append(r.Steps, Normalize{Method: Standardize})
	return r
}

// NormalizeRange appends a Normalize step scaling onto [0, 1].
func (r *Recipe) NormalizeRange() *Recipe {
	r.Steps = append(r.Steps, Normalize{Method: Range})
	return r
}

func (r *Recipe) String() string {
	parts := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		parts[i] = s.String()
	}
	return fmt.Sprintf("recipe(%s ~ .) %s", r.Label, strings.Join(parts, " -> "))
}

func conflict(format string, args ...interface{}) error {
	return errors.Invalidf(errors.ErrStepConflict, "recipe: "+format, args...)
}

// Validate checks the recipe against schema. It fails with ErrStepConflict
// when steps are out of order or repeated, when a step names the label or a
// column that does not exist at that point, or when a categorical predictor
// would reach the model matrix unencoded.
func (r *Recipe) Validate(schema dataset.Schema) error {
	if r.Label == "" || r.Label != schema.Label {
		return conflict("recipe label %q does not match dataset label %q", r.Label, schema.Label)
	}

	live := make(map[string]dataset.Kind, len(schema.Columns))
	for _, c := range schema.Columns {
		live[c.Name] = c.Kind
	}
	checkColumn := func(step Step, name string) (dataset.Kind, error) {
		if name == r.Label {
			return 0, conflict("step %s names the label column %q", step, name)
		}
		kind, ok := live[name]
		if !ok {
			return 0, conflict("step %s names unknown column %q", step, name)
		}
		return kind, nil
	}

	last := StepKind(-1)
	encoded := false
	for _, step := range r.Steps {
		if step.Kind() <= last {
			return conflict("step %s must come before %s", step, last)
		}
		last = step.Kind()

		switch s := step.(type) {
		case Drop:
			for _, name := range s.Columns {
				if _, err := checkColumn(s, name); err != nil {
					return err
				}
				delete(live, name)
			}
		case CorrelationFilter:
			if !(s.Threshold > 0 && s.Threshold <= 1) {
				return errors.NewValidationError("correlation_threshold", "must be in (0, 1]", s.Threshold)
			}
		case Encode:
			for _, name := range s.Columns {
				kind, err := checkColumn(s, name)
				if err != nil {
					return err
				}
				if kind != dataset.KindCategorical {
					return conflict("step %s names numeric column %q", s, name)
				}
			}
			encoded = true
			if len(s.Columns) > 0 {
				selected := make(map[string]bool, len(s.Columns))
				for _, name := range s.Columns {
					selected[name] = true
				}
				for name, kind := range live {
					if kind == dataset.KindCategorical && !selected[name] {
						return conflict("categorical column %q is not encoded", name)
					}
				}
			}
		case Normalize:
		default:
			return conflict("unsupported step %s", step)
		}
	}

	if !encoded {
		for _, c := range schema.Columns {
			if kind, ok := live[c.Name]; ok && kind == dataset.KindCategorical {
				return conflict("categorical column %q reaches the model matrix without an encode step", c.Name)
			}
		}
	}
	if len(live) == 0 {
		return conflict("every predictor is dropped")
	}
	return nil
}
