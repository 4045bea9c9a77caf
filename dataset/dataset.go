// Package dataset holds labelled tabular data: a fixed schema of numeric and
// categorical predictors plus one binary label column.
package dataset

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/imdad19/treetune/pkg/errors"
)

// Kind is the type of a predictor column.
type Kind int

const (
	KindNumeric Kind = iota
	KindCategorical
)

func (k Kind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindCategorical:
		return "categorical"
	default:
		return "unknown"
	}
}

// Value is a single cell. Exactly one of Num or Cat is meaningful, as given
// by Kind.
type Value struct {
	Kind Kind
	Num  float64
	Cat  string
}

// Numeric returns a numeric Value.
func Numeric(v float64) Value {
	return Value{Kind: KindNumeric, Num: v}
}

// Categorical returns a categorical Value.
func Categorical(v string) Value {
	return Value{Kind: KindCategorical, Cat: v}
}

func (v Value) String() string {
	if v.Kind == KindNumeric {
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	}
	return v.Cat
}

// Column describes one predictor.
type Column struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Schema lists the predictors in a fixed order and names the label column.
type Schema struct {
	Columns []Column `json:"columns"`
	Label   string   `json:"label"`
}

// Index returns the position of the named column, or -1.
func (s Schema) Index(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Names returns the predictor names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Record is one labelled observation.
type Record struct {
	Features map[string]Value
	Label    string
}

// Dataset is an ordered sequence of records sharing one schema. Classes[1]
// is the positive class. Records are shared between a dataset and its
// subsets and must not be mutated.
type Dataset struct {
	Schema  Schema
	Records []Record
	Classes [2]string
}

// New builds and validates a dataset. positive names the positive class;
// when empty the lexicographically larger label is used.
func New(schema Schema, records []Record, positive string) (*Dataset, error) {
	if len(records) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "dataset.New")
	}

	seen := make(map[string]struct{})
	for _, r := range records {
		seen[r.Label] = struct{}{}
	}
	if len(seen) != 2 {
		labels := make([]string, 0, len(seen))
		for l := range seen {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		return nil, errors.NewValidationError(schema.Label, "label must have exactly two classes", labels)
	}

	classes := make([]string, 0, 2)
	for l := range seen {
		classes = append(classes, l)
	}
	sort.Strings(classes)
	if positive != "" && positive != classes[1] {
		if positive != classes[0] {
			return nil, errors.NewValidationError("positive", "not a label class", positive)
		}
		classes[0], classes[1] = classes[1], classes[0]
	}

	ds := &Dataset{
		Schema:  schema,
		Records: records,
		Classes: [2]string{classes[0], classes[1]},
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Validate checks that every record carries exactly the schema's predictors
// with matching kinds, that the label is not a predictor, and that every
// label is one of the two classes.
func (d *Dataset) Validate() error {
	if d.Schema.Label == "" {
		return errors.NewValidationError("label", "label column must be named", "")
	}
	if d.Schema.Index(d.Schema.Label) >= 0 {
		return errors.NewValidationError(d.Schema.Label, "label column is also a predictor", d.Schema.Label)
	}
	if d.Classes[0] == d.Classes[1] {
		return errors.NewValidationError(d.Schema.Label, "label must have exactly two classes", d.Classes)
	}

	for i, r := range d.Records {
		if len(r.Features) != len(d.Schema.Columns) {
			return errors.NewDimensionError(fmt.Sprintf("Validate record %d", i), len(d.Schema.Columns), len(r.Features), 1)
		}
		for _, c := range d.Schema.Columns {
			v, ok := r.Features[c.Name]
			if !ok {
				return errors.NewValidationError(c.Name, fmt.Sprintf("missing in record %d", i), nil)
			}
			if v.Kind != c.Kind {
				return errors.NewValidationError(c.Name, fmt.Sprintf("record %d has %s value for %s column", i, v.Kind, c.Kind), v.String())
			}
			if v.Kind == KindNumeric && (math.IsNaN(v.Num) || math.IsInf(v.Num, 0)) {
				return errors.NewValidationError(c.Name, fmt.Sprintf("record %d is not finite", i), v.Num)
			}
		}
		if r.Label != d.Classes[0] && r.Label != d.Classes[1] {
			return errors.NewValidationError(d.Schema.Label, fmt.Sprintf("record %d has unknown class", i), r.Label)
		}
	}
	return nil
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	return len(d.Records)
}

// Positive returns the positive class label.
func (d *Dataset) Positive() string {
	return d.Classes[1]
}

// ClassIndex returns 1 for the positive class and 0 otherwise.
func (d *Dataset) ClassIndex(label string) int {
	if label == d.Classes[1] {
		return 1
	}
	return 0
}

// Subset returns a dataset holding the records at indices, in that order.
func (d *Dataset) Subset(indices []int) *Dataset {
	records := make([]Record, len(indices))
	for i, idx := range indices {
		records[i] = d.Records[idx]
	}
	return &Dataset{Schema: d.Schema, Records: records, Classes: d.Classes}
}

// LabelVector returns the labels encoded as 0 (negative) and 1 (positive).
func (d *Dataset) LabelVector() *mat.VecDense {
	if len(d.Records) == 0 {
		return nil
	}
	y := mat.NewVecDense(len(d.Records), nil)
	for i, r := range d.Records {
		y.SetVec(i, float64(d.ClassIndex(r.Label)))
	}
	return y
}

// ClassCounts returns the number of records per class label.
func (d *Dataset) ClassCounts() map[string]int {
	counts := map[string]int{d.Classes[0]: 0, d.Classes[1]: 0}
	for _, r := range d.Records {
		counts[r.Label]++
	}
	return counts
}

// IndicesByClass returns record indices grouped by class index (0 negative,
// 1 positive), each in record order.
func (d *Dataset) IndicesByClass() [2][]int {
	var groups [2][]int
	for i, r := range d.Records {
		c := d.ClassIndex(r.Label)
		groups[c] = append(groups[c], i)
	}
	return groups
}

// NumericColumn returns the values of a numeric column. It panics if the
// column is categorical.
func (d *Dataset) NumericColumn(name string) []float64 {
	out := make([]float64, len(d.Records))
	for i, r := range d.Records {
		v := r.Features[name]
		if v.Kind != KindNumeric {
			panic(fmt.Sprintf("dataset: column %q is not numeric", name))
		}
		out[i] = v.Num
	}
	return out
}

// CategoricalColumn returns the values of a categorical column.
func (d *Dataset) CategoricalColumn(name string) []string {
	out := make([]string, len(d.Records))
	for i, r := range d.Records {
		out[i] = r.Features[name].Cat
	}
	return out
}
