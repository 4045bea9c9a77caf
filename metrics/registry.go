package metrics

import (
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/imdad19/treetune/pkg/errors"
)

// Direction says whether larger or smaller metric values are better.
type Direction int

const (
	Maximize Direction = iota
	Minimize
)

func (d Direction) String() string {
	if d == Minimize {
		return "minimize"
	}
	return "maximize"
}

// ParseDirection converts "maximize" or "minimize" to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "maximize", "max":
		return Maximize, nil
	case "minimize", "min":
		return Minimize, nil
	default:
		return 0, errors.NewValidationError("direction", "must be maximize or minimize", s)
	}
}

// Better reports whether a is strictly better than b.
func (d Direction) Better(a, b float64) bool {
	if d == Minimize {
		return a < b
	}
	return a > b
}

// ScoreFunc scores one evaluation: 0/1 truth, 0/1 hard predictions and
// positive-class scores, all the same length.
type ScoreFunc func(yTrue, yPred, yScore *mat.VecDense) (float64, error)

// Metric is a named, directed score.
type Metric struct {
	Name      string
	Direction Direction
	Score     ScoreFunc
}

// StandardSet is the metric set computed for every family.
var StandardSet = []string{"accuracy", "roc_auc"}

func onLabels(fn func(yTrue, yPred *mat.VecDense) (float64, error)) ScoreFunc {
	return func(yTrue, yPred, _ *mat.VecDense) (float64, error) {
		return fn(yTrue, yPred)
	}
}

func onScores(fn func(yTrue, yScore *mat.VecDense) (float64, error)) ScoreFunc {
	return func(yTrue, _, yScore *mat.VecDense) (float64, error) {
		return fn(yTrue, yScore)
	}
}

var registry = map[string]Metric{
	"accuracy":  {Name: "accuracy", Direction: Maximize, Score: onLabels(Accuracy)},
	"error":     {Name: "error", Direction: Minimize, Score: onLabels(ClassificationError)},
	"precision": {Name: "precision", Direction: Maximize, Score: onLabels(Precision)},
	"recall":    {Name: "recall", Direction: Maximize, Score: onLabels(Recall)},
	"f1":        {Name: "f1", Direction: Maximize, Score: onLabels(F1Score)},
	"roc_auc":   {Name: "roc_auc", Direction: Maximize, Score: onScores(AUC)},
	"pr_auc":    {Name: "pr_auc", Direction: Maximize, Score: onScores(AveragePrecision)},
	"log_loss":  {Name: "log_loss", Direction: Minimize, Score: onScores(BinaryLogLoss)},
	"brier":     {Name: "brier", Direction: Minimize, Score: onScores(BrierScore)},
}

// Lookup returns the registered metric called name.
func Lookup(name string) (Metric, error) {
	m, ok := registry[name]
	if !ok {
		return Metric{}, errors.Invalidf(errors.ErrUnknownMetric, "metrics: unknown metric %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return m, nil
}

// LookupAll resolves every name, failing on the first unknown one. An empty
// list resolves to StandardSet.
func LookupAll(names []string) ([]Metric, error) {
	if len(names) == 0 {
		names = StandardSet
	}
	out := make([]Metric, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		m, err := Lookup(name)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Names returns the registered metric names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
