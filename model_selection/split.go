// Package model_selection partitions datasets for evaluation and generates
// hyperparameter grids.
package model_selection

import (
	"math"
	"math/rand/v2"

	"github.com/imdad19/treetune/dataset"
	"github.com/imdad19/treetune/pkg/errors"
)

// Split is a disjoint train/test partition of a dataset.
type Split struct {
	Train        *dataset.Dataset
	Test         *dataset.Dataset
	TrainIndices []int
	TestIndices  []int
}

// Fold is one cross-validation round: Validation is the held-out group and
// Train is every other group.
type Fold struct {
	Index             int
	Train             *dataset.Dataset
	Validation        *dataset.Dataset
	TrainIndices      []int
	ValidationIndices []int
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

func shuffle(r *rand.Rand, indices []int) {
	r.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})
}

// TrainTestSplit partitions ds into train and test sets, sampling each class
// independently at trainFraction so both sides keep the class ratio of ds.
// A class with at least two records keeps one on each side.
func TrainTestSplit(ds *dataset.Dataset, trainFraction float64, seed uint64) (*Split, error) {
	if !(trainFraction > 0 && trainFraction < 1) {
		return nil, errors.Invalidf(errors.ErrInvalidFraction, "train fraction must be in (0, 1), got %v", trainFraction)
	}
	if ds == nil || ds.Len() == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "TrainTestSplit")
	}

	r := newRand(seed)
	var train, test []int
	for _, class := range ds.IndicesByClass() {
		indices := append([]int(nil), class...)
		shuffle(r, indices)

		nTrain := int(math.Round(float64(len(indices)) * trainFraction))
		if len(indices) >= 2 {
			nTrain = max(1, min(nTrain, len(indices)-1))
		}
		train = append(train, indices[:nTrain]...)
		test = append(test, indices[nTrain:]...)
	}
	shuffle(r, train)
	shuffle(r, test)

	return &Split{
		Train:        ds.Subset(train),
		Test:         ds.Subset(test),
		TrainIndices: train,
		TestIndices:  test,
	}, nil
}

// StratifiedKFold partitions ds into k disjoint folds with approximately
// equal size and class ratio. Each class is shuffled and dealt round-robin
// over the folds; the rotation carries over between classes so fold sizes
// differ by at most one. Indices in the returned folds refer to ds.
func StratifiedKFold(ds *dataset.Dataset, k int, seed uint64) ([]Fold, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "StratifiedKFold")
	}
	if k < 2 || k > ds.Len() {
		return nil, errors.Invalidf(errors.ErrInvalidFoldCount, "fold count must be in [2, %d], got %d", ds.Len(), k)
	}

	r := newRand(seed)
	groups := make([][]int, k)
	next := 0
	for _, class := range ds.IndicesByClass() {
		indices := append([]int(nil), class...)
		shuffle(r, indices)
		for _, idx := range indices {
			groups[next] = append(groups[next], idx)
			next = (next + 1) % k
		}
	}

	folds := make([]Fold, k)
	for i := range folds {
		trainIdx := make([]int, 0, ds.Len()-len(groups[i]))
		for j, g := range groups {
			if j != i {
				trainIdx = append(trainIdx, g...)
			}
		}
		folds[i] = Fold{
			Index:             i,
			Train:             ds.Subset(trainIdx),
			Validation:        ds.Subset(groups[i]),
			TrainIndices:      trainIdx,
			ValidationIndices: groups[i],
		}
	}
	return folds, nil
}
