package recipe

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/imdad19/treetune/dataset"
	"github.com/imdad19/treetune/pkg/errors"
	"github.com/imdad19/treetune/preprocessing"
)

// b tracks a closely and leans towards c; k is constant.
func fixture(t *testing.T) *dataset.Dataset {
	t.Helper()
	c := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	colors := []string{"red", "blue", "green", "red", "blue", "green", "purple", "red"}

	schema := dataset.Schema{
		Label: "label",
		Columns: []dataset.Column{
			{Name: "a", Kind: dataset.KindNumeric},
			{Name: "b", Kind: dataset.KindNumeric},
			{Name: "c", Kind: dataset.KindNumeric},
			{Name: "k", Kind: dataset.KindNumeric},
			{Name: "color", Kind: dataset.KindCategorical},
		},
	}
	records := make([]dataset.Record, len(c))
	for i := range records {
		label := "no"
		if i%2 == 1 {
			label = "yes"
		}
		records[i] = dataset.Record{
			Label: label,
			Features: map[string]dataset.Value{
				"a":     dataset.Numeric(float64(i)),
				"b":     dataset.Numeric(float64(i) + 0.1*c[i]),
				"c":     dataset.Numeric(c[i]),
				"k":     dataset.Numeric(5),
				"color": dataset.Categorical(colors[i]),
			},
		}
	}
	ds, err := dataset.New(schema, records, "yes")
	require.NoError(t, err)
	return ds
}

func TestFitCorrelationEncodeNormalize(t *testing.T) {
	ds := fixture(t)
	ds = ds.Subset([]int{0, 1, 2, 3, 4, 5})

	fitted, err := New("label").CorrelationFilter(0.9).Encode().Normalize().Fit(ds)
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, fitted.CorrelationRemoved())
	assert.Equal(t, []string{"b"}, fitted.Dropped())
	assert.Equal(t, []string{"a", "c", "k", "color_blue", "color_green", "color_red"}, fitted.Columns())

	m, err := fitted.Apply(ds)
	require.NoError(t, err)
	r, c := m.X.Dims()
	assert.Equal(t, 6, r)
	assert.Equal(t, 6, c)

	colA := mat.Col(nil, 0, m.X)
	var sum float64
	for _, v := range colA {
		sum += v
	}
	assert.InDelta(t, 0, sum, 1e-9)
	for _, v := range mat.Col(nil, 2, m.X) {
		assert.Equal(t, 0.0, v, "constant column centres to zero")
	}
	assert.Equal(t, []float64{0, 1, 0, 1, 0, 1}, m.Y.RawVector().Data)
}

func TestApplyIsIdempotent(t *testing.T) {
	ds := fixture(t)
	fitted, err := New("label").Encode().Normalize().Fit(ds)
	require.NoError(t, err)

	first, err := fitted.Apply(ds)
	require.NoError(t, err)
	second, err := fitted.Apply(ds)
	require.NoError(t, err)
	assert.True(t, mat.Equal(first.X, second.X))
	assert.True(t, mat.Equal(first.Y, second.Y))
}

func TestStatisticsComeFromTrainingOnly(t *testing.T) {
	ds := fixture(t)
	train := ds.Subset([]int{0, 1, 2, 3, 4, 5})
	test := ds.Subset([]int{6, 7})

	fitted, err := New("label").Encode().Normalize().Fit(train)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "k", "color_blue", "color_green", "color_red"}, fitted.Columns())

	m, err := fitted.Apply(test)
	require.NoError(t, err)

	// a = 6 against the training mean 2.5 and sample deviation sqrt(3.5)
	assert.InDelta(t, math.Sqrt(3.5), m.X.At(0, 0), 1e-9)

	// purple was never seen: all indicators are zero
	assert.Equal(t, []float64{0, 0, 0}, mat.Row(nil, 0, m.X)[4:])
	assert.Equal(t, []float64{0, 0, 1}, mat.Row(nil, 1, m.X)[4:])

	refit, err := New("label").Encode().Normalize().Fit(ds)
	require.NoError(t, err)
	leaked, err := refit.Apply(test)
	require.NoError(t, err)
	assert.NotEqual(t, m.X.At(0, 0), leaked.X.At(0, 0))
}

func TestUnknownBucket(t *testing.T) {
	ds := fixture(t)
	train := ds.Subset([]int{0, 1, 2, 3})
	test := ds.Subset([]int{6})

	fitted, err := New("label").EncodeWith(preprocessing.UnknownBucket).Fit(train)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "k", "color_blue", "color_green", "color_red", "color_unknown"}, fitted.Columns())

	m, err := fitted.Apply(test)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 1}, mat.Row(nil, 0, m.X)[4:])
	assert.Equal(t, 6.0, m.X.At(0, 0), "no normalize step")
}

func TestNormalizeRange(t *testing.T) {
	ds := fixture(t)
	fitted, err := New("label").Drop("color").NormalizeRange().Fit(ds)
	require.NoError(t, err)
	assert.Equal(t, []string{"color"}, fitted.Dropped())

	m, err := fitted.Apply(ds)
	require.NoError(t, err)
	colA := mat.Col(nil, 0, m.X)
	assert.Equal(t, 0.0, colA[0])
	assert.InDelta(t, 1.0, colA[7], 1e-12)
}

func TestValidateConflicts(t *testing.T) {
	ds := fixture(t)

	tests := []struct {
		name   string
		recipe *Recipe
	}{
		{"drop label", New("label").Drop("label").Encode()},
		{"drop unknown column", New("label").Drop("nope").Encode()},
		{"encode numeric column", New("label").Encode("a")},
		{"encode dropped column", New("label").Drop("color").Encode("color")},
		{"out of order", New("label").Normalize().Encode()},
		{"repeated step", New("label").Encode().Encode()},
		{"categorical not encoded", New("label").Normalize()},
		{"label mismatch", New("target").Encode()},
		{"everything dropped", New("label").Drop("a", "b", "c", "k", "color")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.recipe.Validate(ds.Schema)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrStepConflict), "got %v", err)

			_, err = tt.recipe.Fit(ds)
			assert.True(t, errors.Is(err, errors.ErrStepConflict))
		})
	}

	require.NoError(t, New("label").Drop("b").CorrelationFilter(0.5).Encode("color").Normalize().Validate(ds.Schema))
}

func TestValidateThreshold(t *testing.T) {
	ds := fixture(t)
	for _, th := range []float64{0, -0.1, 1.5, math.NaN()} {
		err := New("label").CorrelationFilter(th).Encode().Validate(ds.Schema)
		var verr *errors.ValidationError
		assert.True(t, errors.As(err, &verr), "threshold %v", th)
	}
}

func TestApplyErrors(t *testing.T) {
	ds := fixture(t)
	fitted, err := New("label").Encode().Normalize().Fit(ds)
	require.NoError(t, err)

	_, err = fitted.Apply(ds.Subset(nil))
	assert.True(t, errors.Is(err, errors.ErrEmptyData))

	missing := &dataset.Dataset{
		Schema:  dataset.Schema{Label: "label", Columns: ds.Schema.Columns[1:]},
		Records: ds.Records,
		Classes: ds.Classes,
	}
	_, err = fitted.Apply(missing)
	assert.Error(t, err)

	relabelled := ds.Subset([]int{0})
	relabelled.Records = []dataset.Record{{Label: "maybe", Features: ds.Records[0].Features}}
	_, err = fitted.Apply(relabelled)
	assert.Error(t, err)
}

func TestRecipeString(t *testing.T) {
	r := New("label").Drop("b").CorrelationFilter(0.9).Encode().Normalize()
	assert.Equal(t, "recipe(label ~ .) drop(b) -> corr(threshold=0.9) -> encode(all_nominal, unknown=zero) -> normalize(standard)", r.String())
}
