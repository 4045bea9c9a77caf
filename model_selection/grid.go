package model_selection

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/imdad19/treetune/core/model"
	"github.com/imdad19/treetune/pkg/errors"
)

// MaxResample bounds how often a random draw that repeats an earlier
// configuration is redrawn before the duplicate is accepted.
const MaxResample = 32

// Mode selects how Generate builds a grid.
type Mode int

const (
	// ModeRandom draws every parameter independently and uniformly.
	ModeRandom Mode = iota
	// ModeExhaustive takes the Cartesian product of enumerable domains.
	ModeExhaustive
	// ModeRegular takes size evenly spaced levels per parameter and combines
	// them exhaustively.
	ModeRegular
)

func (m Mode) String() string {
	switch m {
	case ModeRandom:
		return "random"
	case ModeExhaustive:
		return "exhaustive"
	case ModeRegular:
		return "regular"
	default:
		return "unknown"
	}
}

// ParseMode converts a mode name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "random", "":
		return ModeRandom, nil
	case "exhaustive", "grid":
		return ModeExhaustive, nil
	case "regular":
		return ModeRegular, nil
	default:
		return 0, errors.NewValidationError("mode", "must be random, exhaustive or regular", s)
	}
}

// Domain is the set of values a hyperparameter may take.
type Domain interface {
	// Sample draws one value uniformly.
	Sample(r *rand.Rand) any
	// Enumerate lists every value, in order.
	Enumerate() ([]any, error)
	// Levels returns up to n evenly spaced values.
	Levels(n int) []any
	validate(name string) error
}

// FloatRange is the closed real interval [Min, Max].
type FloatRange struct {
	Min, Max float64
}

func (d FloatRange) Sample(r *rand.Rand) any {
	return d.Min + r.Float64()*(d.Max-d.Min)
}

func (d FloatRange) Enumerate() ([]any, error) {
	return nil, errors.NewValidationError("domain", "continuous range cannot be enumerated", d)
}

func (d FloatRange) Levels(n int) []any {
	if n <= 1 {
		return []any{(d.Min + d.Max) / 2}
	}
	out := make([]any, n)
	step := (d.Max - d.Min) / float64(n-1)
	for i := range out {
		out[i] = d.Min + float64(i)*step
	}
	out[n-1] = d.Max
	return out
}

func (d FloatRange) validate(name string) error {
	if math.IsNaN(d.Min) || math.IsNaN(d.Max) || d.Min > d.Max {
		return errors.NewValidationError(name, "range minimum must not exceed maximum", d)
	}
	return nil
}

// IntRange is the closed integer interval [Min, Max].
type IntRange struct {
	Min, Max int
}

func (d IntRange) Sample(r *rand.Rand) any {
	return d.Min + r.IntN(d.Max-d.Min+1)
}

func (d IntRange) Enumerate() ([]any, error) {
	out := make([]any, 0, d.Max-d.Min+1)
	for v := d.Min; v <= d.Max; v++ {
		out = append(out, v)
	}
	return out, nil
}

// Levels rounds evenly spaced points to integers; repeated integers are
// collapsed, so fewer than n levels may be returned for narrow ranges.
func (d IntRange) Levels(n int) []any {
	if n <= 1 {
		return []any{int(math.Round(float64(d.Min+d.Max) / 2))}
	}
	var out []any
	last := math.MinInt
	step := float64(d.Max-d.Min) / float64(n-1)
	for i := 0; i < n; i++ {
		v := int(math.Round(float64(d.Min) + float64(i)*step))
		if v != last {
			out = append(out, v)
			last = v
		}
	}
	return out
}

func (d IntRange) validate(name string) error {
	if d.Min > d.Max {
		return errors.NewValidationError(name, "range minimum must not exceed maximum", d)
	}
	return nil
}

// Values is an explicit list of admissible values (numbers or strings).
type Values []any

func (d Values) Sample(r *rand.Rand) any {
	return d[r.IntN(len(d))]
}

func (d Values) Enumerate() ([]any, error) {
	return append([]any(nil), d...), nil
}

// Levels returns every value; explicit lists are not thinned.
func (d Values) Levels(int) []any {
	return append([]any(nil), d...)
}

func (d Values) validate(name string) error {
	if len(d) == 0 {
		return errors.NewValidationError(name, "value list must not be empty", d)
	}
	seen := make(map[string]bool, len(d))
	for _, v := range d {
		k := valueKey(v)
		if seen[k] {
			return errors.NewValidationError(name, "duplicate value", v)
		}
		seen[k] = true
	}
	return nil
}

// valueKey identifies a value the way parameter coercion will see it, so 3
// and 3.0 collide while 3 and "3" do not.
func valueKey(v any) string {
	switch x := v.(type) {
	case int:
		return fmt.Sprintf("n:%g", float64(x))
	case int64:
		return fmt.Sprintf("n:%g", float64(x))
	case float64:
		return fmt.Sprintf("n:%g", x)
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}

// Param is a named hyperparameter and its domain.
type Param struct {
	Name   string
	Domain Domain
}

// ParamSpace is an ordered list of hyperparameters.
type ParamSpace []Param

// Validate checks every domain and rejects duplicate names.
func (s ParamSpace) Validate() error {
	seen := make(map[string]bool, len(s))
	for _, p := range s {
		if p.Name == "" {
			return errors.NewValidationError("param", "name must not be empty", p)
		}
		if seen[p.Name] {
			return errors.NewValidationError(p.Name, "declared twice", p.Name)
		}
		seen[p.Name] = true
		if p.Domain == nil {
			return errors.NewValidationError(p.Name, "domain must be set", nil)
		}
		if err := p.Domain.validate(p.Name); err != nil {
			return err
		}
	}
	return nil
}

// With returns a copy of s where parameters named in overrides have their
// domain replaced. Overrides for names outside s are appended in the order
// given.
func (s ParamSpace) With(overrides ParamSpace) ParamSpace {
	out := append(ParamSpace(nil), s...)
	for _, o := range overrides {
		replaced := false
		for i := range out {
			if out[i].Name == o.Name {
				out[i].Domain = o.Domain
				replaced = true
			}
		}
		if !replaced {
			out = append(out, o)
		}
	}
	return out
}

// ModelSpec is one fully bound hyperparameter assignment for a model family.
// ID is the generation index within its grid.
type ModelSpec struct {
	Family string       `json:"family"`
	ID     int          `json:"id"`
	Params model.Params `json:"params"`
}

func (s ModelSpec) String() string {
	return fmt.Sprintf("%s#%d{%s}", s.Family, s.ID, s.Params.Key())
}

// Generate builds the grid for family over space. In ModeRandom size
// configurations are drawn; in ModeExhaustive size <= 0 keeps the full
// product and a positive size keeps its first size combinations; in
// ModeRegular size is the number of levels per parameter. IDs are assigned
// 0..n-1 in generation order.
func Generate(family string, space ParamSpace, size int, mode Mode, seed uint64) ([]ModelSpec, error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}

	var assignments []model.Params
	switch mode {
	case ModeRandom:
		if size < 1 {
			return nil, errors.NewValidationError("size", "random grid needs at least one configuration", size)
		}
		assignments = randomGrid(space, size, newRand(seed))
	case ModeExhaustive:
		lists := make([][]any, len(space))
		for i, p := range space {
			values, err := p.Domain.Enumerate()
			if err != nil {
				return nil, errors.Wrapf(err, "enumerate %s", p.Name)
			}
			lists[i] = values
		}
		assignments = product(space, lists, size)
	case ModeRegular:
		if size < 1 {
			return nil, errors.NewValidationError("size", "regular grid needs at least one level", size)
		}
		lists := make([][]any, len(space))
		for i, p := range space {
			lists[i] = p.Domain.Levels(size)
		}
		assignments = product(space, lists, 0)
	default:
		return nil, errors.NewValidationError("mode", "unknown grid mode", mode)
	}

	specs := make([]ModelSpec, len(assignments))
	for i, params := range assignments {
		specs[i] = ModelSpec{Family: family, ID: i, Params: params}
	}
	return specs, nil
}

func randomGrid(space ParamSpace, size int, r *rand.Rand) []model.Params {
	draw := func() model.Params {
		p := make(model.Params, len(space))
		for _, param := range space {
			p[param.Name] = param.Domain.Sample(r)
		}
		return p
	}

	seen := make(map[string]bool, size)
	out := make([]model.Params, 0, size)
	for len(out) < size {
		p := draw()
		for retries := 0; seen[p.Key()] && retries < MaxResample; retries++ {
			p = draw()
		}
		seen[p.Key()] = true
		out = append(out, p)
	}
	return out
}

// product enumerates lists like an odometer: the last parameter varies
// fastest. limit > 0 stops after limit combinations.
func product(space ParamSpace, lists [][]any, limit int) []model.Params {
	total := 1
	for _, l := range lists {
		total *= len(l)
	}
	if limit > 0 && limit < total {
		total = limit
	}

	out := make([]model.Params, 0, total)
	counters := make([]int, len(lists))
	for n := 0; n < total; n++ {
		p := make(model.Params, len(space))
		for i, param := range space {
			p[param.Name] = lists[i][counters[i]]
		}
		out = append(out, p)

		for i := len(counters) - 1; i >= 0; i-- {
			counters[i]++
			if counters[i] < len(lists[i]) {
				break
			}
			counters[i] = 0
		}
	}
	return out
}
