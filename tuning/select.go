package tuning

import (
	"sort"

	"github.com/imdad19/treetune/metrics"
	"github.com/imdad19/treetune/model_selection"
	"github.com/imdad19/treetune/pkg/errors"
)

// DefaultDirection returns the registered direction of metric.
func DefaultDirection(metric string) (metrics.Direction, error) {
	m, err := metrics.Lookup(metric)
	if err != nil {
		return 0, err
	}
	return m.Direction, nil
}

func checkMetric(result *Result, metric string) error {
	if result == nil {
		return errors.Invalidf(errors.ErrNoValidConfiguration, "tuning: no result")
	}
	for _, m := range result.Metrics {
		if m == metric {
			return nil
		}
	}
	return errors.Invalidf(errors.ErrUnknownMetric, "tuning: metric %q was not computed (have %v)", metric, result.Metrics)
}

// Rank orders the configurations of result by aggregate mean of metric:
// best first, ties by lower ID, configurations without a successful fold
// last.
func Rank(result *Result, metric string, dir metrics.Direction) ([]ConfigResult, error) {
	if err := checkMetric(result, metric); err != nil {
		return nil, err
	}
	ranked := append([]ConfigResult(nil), result.Configs...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i].Stats[metric], ranked[j].Stats[metric]
		if a.Valid != b.Valid {
			return a.Valid
		}
		if a.Valid && a.Mean != b.Mean {
			return dir.Better(a.Mean, b.Mean)
		}
		return ranked[i].Spec.ID < ranked[j].Spec.ID
	})
	return ranked, nil
}

// SelectBest returns the configuration with the best aggregate mean of
// metric. Ties go to the lowest ID. It fails with ErrNoValidConfiguration
// when no configuration has a successful fold.
func SelectBest(result *Result, metric string, dir metrics.Direction) (model_selection.ModelSpec, error) {
	ranked, err := Rank(result, metric, dir)
	if err != nil {
		return model_selection.ModelSpec{}, err
	}
	if len(ranked) == 0 || !ranked[0].Valid(metric) {
		return model_selection.ModelSpec{}, errors.Invalidf(errors.ErrNoValidConfiguration,
			"tuning: every configuration of %s failed on every fold", result.Family)
	}
	return ranked[0].Spec, nil
}
