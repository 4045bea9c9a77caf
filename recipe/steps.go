// Package recipe implements the fit-then-apply preprocessing pipeline that
// turns a dataset into a model matrix.
//
// A Recipe is an ordered list of step descriptors. Fit learns every step's
// parameters from one training set only; the resulting FittedRecipe applies
// them, unchanged, to any dataset with the same schema:
//
//	rec := recipe.New("not.fully.paid").
//	    CorrelationFilter(0.9).
//	    Encode().
//	    Normalize()
//	fitted, err := rec.Fit(train)
//	m, err := fitted.Apply(validation)
package recipe

import (
	"fmt"
	"strings"

	"github.com/imdad19/treetune/preprocessing"
)

// StepKind identifies a step. Steps must appear in increasing kind order.
type StepKind int

const (
	StepDrop StepKind = iota
	StepCorrelation
	StepEncode
	StepNormalize
)

func (k StepKind) String() string {
	switch k {
	case StepDrop:
		return "drop"
	case StepCorrelation:
		return "corr"
	case StepEncode:
		return "encode"
	case StepNormalize:
		return "normalize"
	default:
		return "unknown"
	}
}

// Step is a transformation descriptor.
type Step interface {
	Kind() StepKind
	String() string
}

// Drop removes the named predictors.
type Drop struct {
	Columns []string
}

func (Drop) Kind() StepKind { return StepDrop }

func (s Drop) String() string {
	return fmt.Sprintf("drop(%s)", strings.Join(s.Columns, ", "))
}

// CorrelationFilter removes numeric predictors until no remaining pair has
// an absolute Pearson correlation above Threshold. From each offending pair
// the column with the larger mean absolute correlation is removed.
type CorrelationFilter struct {
	Threshold float64
}

func (CorrelationFilter) Kind() StepKind { return StepCorrelation }

func (s CorrelationFilter) String() string {
	return fmt.Sprintf("corr(threshold=%g)", s.Threshold)
}

// Encode one-hot encodes categorical predictors; every categorical
// predictor when Columns is empty.
type Encode struct {
	Columns []string
	Unknown preprocessing.UnknownPolicy
}

func (Encode) Kind() StepKind { return StepEncode }

func (s Encode) String() string {
	cols := "all_nominal"
	if len(s.Columns) > 0 {
		cols = strings.Join(s.Columns, ", ")
	}
	return fmt.Sprintf("encode(%s, unknown=%s)", cols, s.Unknown)
}

// NormalizeMethod selects the scaler used by Normalize.
type NormalizeMethod int

const (
	// Standardize centres on the mean and divides by the standard deviation.
	Standardize NormalizeMethod = iota
	// Range scales onto [0, 1].
	Range
)

func (m NormalizeMethod) String() string {
	if m == Range {
		return "range"
	}
	return "standard"
}

// Normalize rescales the numeric predictors that reach it. Indicator
// columns produced by Encode are left as 0/1.
type Normalize struct {
	Method NormalizeMethod
}

func (Normalize) Kind() StepKind { return StepNormalize }

func (s Normalize) String() string {
	return fmt.Sprintf("normalize(%s)", s.Method)
}
