package model_selection

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imdad19/treetune/dataset"
	"github.com/imdad19/treetune/pkg/errors"
)

func positiveRate(ds *dataset.Dataset) float64 {
	return float64(ds.ClassCounts()[ds.Positive()]) / float64(ds.Len())
}

func TestTrainTestSplitProportions(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		rate     float64
		fraction float64
	}{
		{"balanced 80/20", 100, 0.5, 0.8},
		{"imbalanced 70/30", 137, 0.3, 0.7},
		{"rare positives", 500, 0.16, 0.75},
		{"small", 12, 0.5, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := dataset.Synthetic(tt.n, tt.rate, 3)
			split, err := TrainTestSplit(ds, tt.fraction, 42)
			require.NoError(t, err)

			assert.Equal(t, ds.Len(), split.Train.Len()+split.Test.Len())
			assert.LessOrEqual(t, math.Abs(float64(split.Train.Len())-tt.fraction*float64(tt.n)), 1.0)

			globalRate := positiveRate(ds)
			nPos := float64(ds.ClassCounts()[ds.Positive()])
			// one record of rounding per class
			tolTrain := 1/float64(split.Train.Len()) + 1/nPos
			tolTest := 1/float64(split.Test.Len()) + 1/nPos
			assert.InDelta(t, globalRate, positiveRate(split.Train), tolTrain)
			assert.InDelta(t, globalRate, positiveRate(split.Test), tolTest)
		})
	}
}

func TestTrainTestSplitDisjoint(t *testing.T) {
	ds := dataset.Synthetic(90, 0.4, 5)
	split, err := TrainTestSplit(ds, 0.8, 1)
	require.NoError(t, err)

	all := append(append([]int(nil), split.TrainIndices...), split.TestIndices...)
	sort.Ints(all)
	for i, idx := range all {
		assert.Equal(t, i, idx)
	}
}

func TestTrainTestSplitDeterministic(t *testing.T) {
	ds := dataset.Synthetic(60, 0.5, 5)
	a, err := TrainTestSplit(ds, 0.8, 99)
	require.NoError(t, err)
	b, err := TrainTestSplit(ds, 0.8, 99)
	require.NoError(t, err)
	c, err := TrainTestSplit(ds, 0.8, 100)
	require.NoError(t, err)

	assert.Equal(t, a.TrainIndices, b.TrainIndices)
	assert.NotEqual(t, a.TrainIndices, c.TrainIndices)
}

func TestTrainTestSplitInvalidFraction(t *testing.T) {
	ds := dataset.Synthetic(10, 0.5, 1)
	for _, f := range []float64{0, 1, -0.2, 1.5, math.NaN()} {
		_, err := TrainTestSplit(ds, f, 1)
		assert.True(t, errors.Is(err, errors.ErrInvalidFraction), "fraction %v", f)
	}
}

func TestStratifiedKFoldPartition(t *testing.T) {
	for _, k := range []int{2, 3, 5, 7, 10} {
		ds := dataset.Synthetic(83, 0.35, uint64(k))
		folds, err := StratifiedKFold(ds, k, 17)
		require.NoError(t, err)
		require.Len(t, folds, k)

		seen := make(map[int]int)
		minSize, maxSize := ds.Len(), 0
		for i, f := range folds {
			assert.Equal(t, i, f.Index)
			assert.Equal(t, ds.Len(), f.Train.Len()+f.Validation.Len())
			for _, idx := range f.ValidationIndices {
				seen[idx]++
			}
			minSize = min(minSize, f.Validation.Len())
			maxSize = max(maxSize, f.Validation.Len())

			inVal := make(map[int]bool)
			for _, idx := range f.ValidationIndices {
				inVal[idx] = true
			}
			for _, idx := range f.TrainIndices {
				assert.False(t, inVal[idx], "k=%d fold %d: index %d on both sides", k, i, idx)
			}
		}

		assert.Len(t, seen, ds.Len(), "k=%d: union must cover every record", k)
		for idx, c := range seen {
			assert.Equal(t, 1, c, "k=%d: record %d validated %d times", k, idx, c)
		}
		assert.LessOrEqual(t, maxSize-minSize, 1, "k=%d", k)
	}
}

func TestStratifiedKFoldStratifies(t *testing.T) {
	ds := dataset.Synthetic(200, 0.25, 8)
	folds, err := StratifiedKFold(ds, 5, 3)
	require.NoError(t, err)

	for _, f := range folds {
		assert.Equal(t, 40, f.Validation.Len())
		assert.Equal(t, 10, f.Validation.ClassCounts()["1"])
	}
}

func TestStratifiedKFoldInvalidCount(t *testing.T) {
	ds := dataset.Synthetic(10, 0.5, 1)
	for _, k := range []int{-1, 0, 1, 11} {
		_, err := StratifiedKFold(ds, k, 1)
		assert.True(t, errors.Is(err, errors.ErrInvalidFoldCount), "k=%d", k)
	}

	folds, err := StratifiedKFold(ds, 10, 1)
	require.NoError(t, err)
	for _, f := range folds {
		assert.Equal(t, 1, f.Validation.Len())
	}
}

func TestSplitThenFoldScenario(t *testing.T) {
	ds := dataset.Synthetic(100, 0.5, 2024)
	split, err := TrainTestSplit(ds, 0.8, 2024)
	require.NoError(t, err)

	assert.InDelta(t, 80, split.Train.Len(), 2)
	assert.InDelta(t, 0.5, positiveRate(split.Train), 0.05)

	folds, err := StratifiedKFold(split.Train, 5, 2024)
	require.NoError(t, err)
	for _, f := range folds {
		assert.Equal(t, 16, f.Validation.Len())
		assert.Equal(t, 64, f.Train.Len())
	}
}
