// Package metrics provides the classification metrics used to score tuning
// folds and the final evaluation.
//
// Labels are 0/1 encoded with 1 the positive class. Scores are positive-class
// probabilities.
package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/imdad19/treetune/pkg/errors"
)

// logLossEps bounds probabilities away from 0 and 1 in BinaryLogLoss.
const logLossEps = 1e-15

func checkPair(op string, yTrue, yPred *mat.VecDense) (int, error) {
	if yTrue == nil || yPred == nil {
		return 0, errors.NewValueError(op, "input vectors cannot be nil")
	}
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError(op, "empty vector")
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	return n, nil
}

func checkBinary(op string, y *mat.VecDense) error {
	for i := 0; i < y.Len(); i++ {
		if v := y.AtVec(i); v != 0 && v != 1 {
			return errors.NewValueError(op, fmt.Sprintf("labels must be 0 or 1, got %g at index %d", v, i))
		}
	}
	return nil
}

// Accuracy returns the fraction of exact label matches.
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("Accuracy", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// ClassificationError returns 1 - Accuracy.
func ClassificationError(yTrue, yPred *mat.VecDense) (float64, error) {
	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return 0, errors.Wrap(err, "ClassificationError")
	}
	return 1 - acc, nil
}

// AUC returns the area under the ROC curve computed from average ranks
// (Mann-Whitney U), so tied scores count one half. It returns 0.5 and emits
// an UndefinedMetricWarning when yTrue holds a single class.
func AUC(yTrue, yScore *mat.VecDense) (float64, error) {
	n, err := checkPair("AUC", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("AUC", yTrue); err != nil {
		return 0, err
	}

	scores := make([]float64, n)
	order := make([]int, n)
	for i := 0; i < n; i++ {
		scores[i] = yScore.AtVec(i)
	}
	floats.Argsort(scores, order)

	var nPos, rankSum float64
	for i := 0; i < n; {
		j := i
		for j+1 < n && scores[j+1] == scores[i] {
			j++
		}
		// ranks i+1..j+1 share their average
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			if yTrue.AtVec(order[k]) == 1 {
				nPos++
				rankSum += avg
			}
		}
		i = j + 1
	}

	nNeg := float64(n) - nPos
	if nPos == 0 || nNeg == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("roc_auc", "only one class present in y_true", 0.5))
		return 0.5, nil
	}
	return (rankSum - nPos*(nPos+1)/2) / (nPos * nNeg), nil
}

// AUCMatrix is AUC over the first column of two matrices.
func AUCMatrix(yTrue, yScore mat.Matrix) (float64, error) {
	if yTrue == nil || yScore == nil {
		return 0, errors.NewValueError("AUCMatrix", "input matrices cannot be nil")
	}
	rTrue, cTrue := yTrue.Dims()
	rScore, cScore := yScore.Dims()
	if rTrue == 0 || cTrue == 0 || cScore == 0 {
		return 0, errors.NewValueError("AUCMatrix", "empty matrix")
	}
	if rTrue != rScore {
		return 0, errors.NewDimensionError("AUCMatrix", rTrue, rScore, 0)
	}
	return AUC(firstColumn(yTrue), firstColumn(yScore))
}

func firstColumn(m mat.Matrix) *mat.VecDense {
	r, _ := m.Dims()
	v := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		v.SetVec(i, m.At(i, 0))
	}
	return v
}

// BinaryLogLoss returns the mean negative log-likelihood of the positive
// class probabilities, clipped to [1e-15, 1-1e-15].
func BinaryLogLoss(yTrue, yProb *mat.VecDense) (float64, error) {
	n, err := checkPair("BinaryLogLoss", yTrue, yProb)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("BinaryLogLoss", yTrue); err != nil {
		return 0, err
	}

	var sum float64
	for i := 0; i < n; i++ {
		p := errors.ClipValue(yProb.AtVec(i), logLossEps, 1-logLossEps)
		if yTrue.AtVec(i) == 1 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(n), nil
}

// BrierScore is the mean squared difference between positive-class
// probabilities and the 0/1 labels.
func BrierScore(yTrue, yProb *mat.VecDense) (float64, error) {
	if yTrue != nil {
		if err := checkBinary("BrierScore", yTrue); err != nil {
			return 0, err
		}
	}
	return MSE(yTrue, yProb)
}

// MSE is the mean squared error.
func MSE(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("MSE", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	var diff mat.VecDense
	diff.SubVec(yTrue, yPred)
	return mat.Dot(&diff, &diff) / float64(n), nil
}

// Precision returns TP / (TP + FP). It returns 0 with an
// UndefinedMetricWarning when nothing was predicted positive.
func Precision(yTrue, yPred *mat.VecDense) (float64, error) {
	cm, err := NewConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, errors.Wrap(err, "Precision")
	}
	if cm.TP+cm.FP == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("precision", "no predicted samples", 0))
		return 0, nil
	}
	return float64(cm.TP) / float64(cm.TP+cm.FP), nil
}

// Recall returns TP / (TP + FN). It returns 0 with an
// UndefinedMetricWarning when yTrue has no positives.
func Recall(yTrue, yPred *mat.VecDense) (float64, error) {
	cm, err := NewConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, errors.Wrap(err, "Recall")
	}
	if cm.TP+cm.FN == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("recall", "no true samples", 0))
		return 0, nil
	}
	return float64(cm.TP) / float64(cm.TP+cm.FN), nil
}

// F1Score is the harmonic mean of precision and recall.
func F1Score(yTrue, yPred *mat.VecDense) (float64, error) {
	cm, err := NewConfusionMatrix(yTrue, yPred)
	if err != nil {
		return 0, errors.Wrap(err, "F1Score")
	}
	denom := 2*cm.TP + cm.FP + cm.FN
	if denom == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("f1", "no true nor predicted samples", 0))
		return 0, nil
	}
	return float64(2*cm.TP) / float64(denom), nil
}

// ConfusionMatrix counts binary outcomes with 1 as the positive class.
type ConfusionMatrix struct {
	TN int `json:"tn"`
	FP int `json:"fp"`
	FN int `json:"fn"`
	TP int `json:"tp"`
}

// NewConfusionMatrix tallies yPred against yTrue.
func NewConfusionMatrix(yTrue, yPred *mat.VecDense) (ConfusionMatrix, error) {
	var cm ConfusionMatrix
	n, err := checkPair("ConfusionMatrix", yTrue, yPred)
	if err != nil {
		return cm, err
	}
	if err := checkBinary("ConfusionMatrix", yTrue); err != nil {
		return cm, err
	}
	if err := checkBinary("ConfusionMatrix", yPred); err != nil {
		return cm, err
	}

	for i := 0; i < n; i++ {
		switch t, p := yTrue.AtVec(i) == 1, yPred.AtVec(i) == 1; {
		case t && p:
			cm.TP++
		case t:
			cm.FN++
		case p:
			cm.FP++
		default:
			cm.TN++
		}
	}
	return cm, nil
}

// Total returns the number of tallied samples.
func (c ConfusionMatrix) Total() int {
	return c.TN + c.FP + c.FN + c.TP
}

// Dense returns the matrix with truth on rows and prediction on columns,
// negative class first.
func (c ConfusionMatrix) Dense() *mat.Dense {
	return mat.NewDense(2, 2, []float64{
		float64(c.TN), float64(c.FP),
		float64(c.FN), float64(c.TP),
	})
}

func (c ConfusionMatrix) String() string {
	return fmt.Sprintf("          pred 0  pred 1\ntrue 0  %7d %7d\ntrue 1  %7d %7d", c.TN, c.FP, c.FN, c.TP)
}

// ROCCurve holds the points of a ROC curve in order of decreasing threshold.
// TPR[i] and FPR[i] are the rates for score >= Thresholds[i].
type ROCCurve struct {
	TPR        []float64 `json:"tpr"`
	FPR        []float64 `json:"fpr"`
	Thresholds []float64 `json:"thresholds"`
}

// AUC integrates the curve with the trapezoidal rule.
func (c ROCCurve) AUC() float64 {
	if len(c.FPR) < 2 {
		return math.NaN()
	}
	return integrate.Trapezoidal(c.FPR, c.TPR)
}

// ROC computes the ROC curve of yScore against yTrue. Both classes must be
// present. The cutoff above every score, where nothing is predicted
// positive, is reported as max(yScore)+1 so the curve stays JSON encodable.
func ROC(yTrue, yScore *mat.VecDense) (ROCCurve, error) {
	n, err := checkPair("ROC", yTrue, yScore)
	if err != nil {
		return ROCCurve{}, err
	}
	if err := checkBinary("ROC", yTrue); err != nil {
		return ROCCurve{}, err
	}

	scores := make([]float64, n)
	order := make([]int, n)
	for i := 0; i < n; i++ {
		scores[i] = yScore.AtVec(i)
	}
	floats.Argsort(scores, order)

	classes := make([]bool, n)
	var nPos int
	for i, idx := range order {
		classes[i] = yTrue.AtVec(idx) == 1
		if classes[i] {
			nPos++
		}
	}
	if nPos == 0 || nPos == n {
		return ROCCurve{}, errors.NewValueError("ROC", "only one class present in y_true")
	}

	tpr, fpr, thresh := stat.ROC(nil, scores, classes, nil)
	top := scores[n-1] + 1
	for i, c := range thresh {
		if math.IsInf(c, 1) {
			thresh[i] = top
		}
	}
	return ROCCurve{TPR: tpr, FPR: fpr, Thresholds: thresh}, nil
}

// Threshold converts positive-class scores to 0/1 predictions.
func Threshold(yScore *mat.VecDense, cutoff float64) *mat.VecDense {
	n := yScore.Len()
	out := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		if yScore.AtVec(i) >= cutoff {
			out.SetVec(i, 1)
		}
	}
	return out
}
