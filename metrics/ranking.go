package metrics

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/imdad19/treetune/pkg/errors"
)

// AveragePrecision ranks samples by decreasing score and averages the
// precision at the rank of every positive. It is 0 when there are no
// positives.
func AveragePrecision(yTrue, yScore *mat.VecDense) (float64, error) {
	n, err := checkPair("AveragePrecision", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("AveragePrecision", yTrue); err != nil {
		return 0, err
	}

	neg := make([]float64, n)
	order := make([]int, n)
	for i := 0; i < n; i++ {
		neg[i] = -yScore.AtVec(i)
	}
	floats.Argsort(neg, order)

	var hits, sum float64
	for rank, idx := range order {
		if yTrue.AtVec(idx) == 1 {
			hits++
			sum += hits / float64(rank+1)
		}
	}
	if hits == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("pr_auc", "no positive samples in y_true", 0))
		return 0, nil
	}
	return sum / hits, nil
}
