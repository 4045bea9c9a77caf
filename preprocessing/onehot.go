package preprocessing

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/imdad19/treetune/core/model"
	"github.com/imdad19/treetune/pkg/errors"
)

// UnknownPolicy says how OneHotEncoder encodes a category not seen during Fit.
type UnknownPolicy int

const (
	// UnknownZero encodes an unseen category as the all-zeros vector.
	UnknownZero UnknownPolicy = iota
	// UnknownBucket adds one "<column>_unknown" indicator per column.
	UnknownBucket
)

func (p UnknownPolicy) String() string {
	if p == UnknownBucket {
		return "bucket"
	}
	return "zero"
}

// ParseUnknownPolicy converts "zero" or "bucket" to an UnknownPolicy.
func ParseUnknownPolicy(s string) (UnknownPolicy, error) {
	switch s {
	case "zero", "":
		return UnknownZero, nil
	case "bucket", "unknown":
		return UnknownBucket, nil
	default:
		return 0, errors.NewValidationError("unknown_policy", "must be zero or bucket", s)
	}
}

// UnknownSuffix names the indicator column added under UnknownBucket.
const UnknownSuffix = "unknown"

// OneHotEncoder expands categorical columns into 0/1 indicator columns, one
// per category seen during Fit, in sorted order.
type OneHotEncoder struct {
	state *model.StateManager

	Policy UnknownPolicy

	// Columns are the encoded column names, in input order.
	Columns []string

	// Categories[j] is the sorted vocabulary of Columns[j].
	Categories [][]string

	index []map[string]int
}

// NewOneHotEncoder creates an encoder with the given unknown-category policy.
func NewOneHotEncoder(policy UnknownPolicy) *OneHotEncoder {
	return &OneHotEncoder{state: model.NewStateManager(), Policy: policy}
}

// Fit learns the vocabulary of each column. values[j] holds every training
// value of columns[j].
func (e *OneHotEncoder) Fit(columns []string, values [][]string) error {
	if len(columns) != len(values) {
		return errors.NewDimensionError("OneHotEncoder.Fit", len(columns), len(values), 1)
	}

	e.Columns = append([]string(nil), columns...)
	e.Categories = make([][]string, len(columns))
	e.index = make([]map[string]int, len(columns))
	nSamples := 0
	for j, col := range values {
		if j == 0 {
			nSamples = len(col)
		} else if len(col) != nSamples {
			return errors.NewDimensionError("OneHotEncoder.Fit", nSamples, len(col), 0)
		}

		seen := make(map[string]struct{})
		for _, v := range col {
			seen[v] = struct{}{}
		}
		cats := make([]string, 0, len(seen))
		for v := range seen {
			cats = append(cats, v)
		}
		sort.Strings(cats)

		e.Categories[j] = cats
		e.index[j] = make(map[string]int, len(cats))
		for k, c := range cats {
			e.index[j][c] = k
		}
	}

	e.state.SetDimensions(len(columns), nSamples)
	e.state.SetFitted()
	return nil
}

// FeatureNames returns the output column names, "<column>_<category>".
func (e *OneHotEncoder) FeatureNames() []string {
	var names []string
	for j, col := range e.Columns {
		for _, c := range e.Categories[j] {
			names = append(names, col+"_"+c)
		}
		if e.Policy == UnknownBucket {
			names = append(names, col+"_"+UnknownSuffix)
		}
	}
	return names
}

// Transform encodes values (one slice per fitted column) into an
// n x len(FeatureNames()) indicator matrix. It never fails on unseen
// categories.
func (e *OneHotEncoder) Transform(values [][]string) (*mat.Dense, error) {
	if err := e.state.RequireFitted("OneHotEncoder", "Transform"); err != nil {
		return nil, err
	}
	if err := e.state.CheckFeatures("OneHotEncoder.Transform", len(values)); err != nil {
		return nil, err
	}
	if len(values) == 0 || len(values[0]) == 0 {
		return nil, errors.NewModelError("OneHotEncoder.Transform", "empty data", errors.ErrEmptyData)
	}

	n := len(values[0])
	width := len(e.FeatureNames())
	out := mat.NewDense(n, width, nil)

	offset := 0
	for j, col := range values {
		if len(col) != n {
			return nil, errors.NewDimensionError("OneHotEncoder.Transform", n, len(col), 0)
		}
		nCats := len(e.Categories[j])
		for i, v := range col {
			if k, ok := e.index[j][v]; ok {
				out.Set(i, offset+k, 1)
			} else if e.Policy == UnknownBucket {
				out.Set(i, offset+nCats, 1)
			}
		}
		offset += nCats
		if e.Policy == UnknownBucket {
			offset++
		}
	}
	return out, nil
}

// IsFitted reports whether Fit has been called.
func (e *OneHotEncoder) IsFitted() bool {
	return e.state.IsFitted()
}
