package preprocessing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/imdad19/treetune/pkg/errors"
)

func TestStandardScaler(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		1, 10,
		2, 10,
		3, 10,
		4, 10,
	})

	scaler := NewStandardScalerDefault()
	out, err := scaler.FitTransform(X)
	require.NoError(t, err)

	assert.InDelta(t, 2.5, scaler.Mean[0], 1e-12)
	// sample deviation of 1..4
	assert.InDelta(t, 1.2909944487358056, scaler.Scale[0], 1e-12)
	assert.Equal(t, 1.0, scaler.Scale[1], "constant column keeps scale 1")

	col := mat.Col(nil, 0, out)
	sum := 0.0
	for _, v := range col {
		sum += v
	}
	assert.InDelta(t, 0, sum, 1e-12)
	assert.Equal(t, []float64{0, 0, 0, 0}, mat.Col(nil, 1, out))

	back, err := scaler.InverseTransform(out)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(X, back, 1e-12))
}

func TestStandardScalerErrors(t *testing.T) {
	scaler := NewStandardScalerDefault()

	_, err := scaler.Transform(mat.NewDense(1, 1, []float64{1}))
	var nfErr *errors.NotFittedError
	assert.True(t, errors.As(err, &nfErr))

	require.NoError(t, scaler.Fit(mat.NewDense(2, 2, []float64{1, 2, 3, 4})))
	_, err = scaler.Transform(mat.NewDense(1, 3, []float64{1, 2, 3}))
	var dimErr *errors.DimensionError
	assert.True(t, errors.As(err, &dimErr))

	assert.Error(t, scaler.Fit(&mat.Dense{}))
}

func TestStandardScalerSingleRow(t *testing.T) {
	scaler := NewStandardScalerDefault()
	require.NoError(t, scaler.Fit(mat.NewDense(1, 2, []float64{3, 4})))
	assert.Equal(t, []float64{1, 1}, scaler.Scale)
}

func TestMinMaxScaler(t *testing.T) {
	X := mat.NewDense(3, 2, []float64{
		0, 5,
		5, 5,
		10, 5,
	})
	scaler := NewMinMaxScalerDefault()
	out, err := scaler.FitTransform(X)
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 0.5, 1}, mat.Col(nil, 0, out))
	assert.Equal(t, []float64{0, 0, 0}, mat.Col(nil, 1, out))

	unseen, err := scaler.Transform(mat.NewDense(1, 2, []float64{20, 5}))
	require.NoError(t, err)
	assert.Equal(t, 2.0, unseen.At(0, 0))
}

func TestOneHotEncoder(t *testing.T) {
	columns := []string{"purpose", "policy"}
	train := [][]string{
		{"credit_card", "educational", "credit_card"},
		{"1", "0", "1"},
	}

	tests := []struct {
		name   string
		policy UnknownPolicy
		names  []string
		row    []float64
	}{
		{
			name:   "zero",
			policy: UnknownZero,
			names:  []string{"purpose_credit_card", "purpose_educational", "policy_0", "policy_1"},
			row:    []float64{0, 0, 1, 0},
		},
		{
			name:   "bucket",
			policy: UnknownBucket,
			names:  []string{"purpose_credit_card", "purpose_educational", "purpose_unknown", "policy_0", "policy_1", "policy_unknown"},
			row:    []float64{0, 0, 1, 1, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := NewOneHotEncoder(tt.policy)
			require.NoError(t, enc.Fit(columns, train))
			assert.Equal(t, tt.names, enc.FeatureNames())

			out, err := enc.Transform([][]string{{"small_business"}, {"0"}})
			require.NoError(t, err)
			assert.Equal(t, tt.row, mat.Row(nil, 0, out))

			known, err := enc.Transform(train)
			require.NoError(t, err)
			r, c := known.Dims()
			assert.Equal(t, 3, r)
			assert.Equal(t, len(tt.names), c)
			assert.Equal(t, 1.0, known.At(1, 1))
		})
	}
}

func TestOneHotEncoderErrors(t *testing.T) {
	enc := NewOneHotEncoder(UnknownZero)
	_, err := enc.Transform([][]string{{"a"}})
	assert.Error(t, err)

	assert.Error(t, enc.Fit([]string{"a", "b"}, [][]string{{"x"}}))
	assert.Error(t, enc.Fit([]string{"a", "b"}, [][]string{{"x"}, {"y", "z"}}))

	require.NoError(t, enc.Fit([]string{"a"}, [][]string{{"x", "y"}}))
	_, err = enc.Transform([][]string{{"x"}, {"y"}})
	assert.Error(t, err)
}

func TestParseUnknownPolicy(t *testing.T) {
	p, err := ParseUnknownPolicy("bucket")
	require.NoError(t, err)
	assert.Equal(t, UnknownBucket, p)

	p, err = ParseUnknownPolicy("")
	require.NoError(t, err)
	assert.Equal(t, UnknownZero, p)

	_, err = ParseUnknownPolicy("drop")
	assert.Error(t, err)
}
