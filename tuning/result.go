package tuning

import (
	"encoding/json"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/imdad19/treetune/core/model"
	"github.com/imdad19/treetune/model_selection"
)

// Row is one metric value for one (configuration, fold) evaluation.
type Row struct {
	ConfigID int     `json:"config_id"`
	Fold     int     `json:"fold"`
	Metric   string  `json:"metric"`
	Value    float64 `json:"value"`
}

// Failure records a (configuration, fold) evaluation that did not produce
// metrics. Err is a *errors.FitError.
type Failure struct {
	ConfigID int   `json:"config_id"`
	Fold     int   `json:"fold"`
	Err      error `json:"-"`
}

// MarshalJSON renders the error as its message.
func (f Failure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ConfigID int    `json:"config_id"`
		Fold     int    `json:"fold"`
		Error    string `json:"error"`
	}{f.ConfigID, f.Fold, f.Err.Error()})
}

// Summary aggregates one metric of one configuration across its successful
// folds. When no fold succeeded Valid is false and the statistics are
// absent.
type Summary struct {
	Min    float64
	Max    float64
	Mean   float64
	Median float64
	N      int
	Valid  bool
}

// MarshalJSON renders absent statistics as null.
func (s Summary) MarshalJSON() ([]byte, error) {
	type stats struct {
		Min    *float64 `json:"min"`
		Max    *float64 `json:"max"`
		Mean   *float64 `json:"mean"`
		Median *float64 `json:"median"`
		N      int      `json:"n"`
		Valid  bool     `json:"valid"`
	}
	out := stats{N: s.N, Valid: s.Valid}
	if s.Valid {
		out.Min, out.Max, out.Mean, out.Median = &s.Min, &s.Max, &s.Mean, &s.Median
	}
	return json.Marshal(out)
}

// Summarize computes min, max, mean and median of values. The median of an
// even count is the mean of the two middle values.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return Summary{
		Min:    floats.Min(sorted),
		Max:    floats.Max(sorted),
		Mean:   stat.Mean(sorted, nil),
		Median: median,
		N:      n,
		Valid:  true,
	}
}

// ConfigResult holds every evaluation of one configuration.
type ConfigResult struct {
	Spec     model_selection.ModelSpec `json:"spec"`
	Rows     []Row                     `json:"rows"`
	Failures []Failure                 `json:"failures,omitempty"`
	Stats    map[string]Summary        `json:"stats"`
}

// Valid reports whether at least one fold produced metric.
func (c ConfigResult) Valid(metric string) bool {
	return c.Stats[metric].Valid
}

// Result is the outcome of tuning one family over its grid.
type Result struct {
	RunID   string         `json:"run_id"`
	Family  string         `json:"family"`
	Metrics []string       `json:"metrics"`
	Folds   int            `json:"folds"`
	Configs []ConfigResult `json:"configs"`
}

// Rows returns every metric row of every configuration.
func (r *Result) Rows() []Row {
	var rows []Row
	for _, c := range r.Configs {
		rows = append(rows, c.Rows...)
	}
	return rows
}

// Failures returns every failed evaluation.
func (r *Result) Failures() []Failure {
	var out []Failure
	for _, c := range r.Configs {
		out = append(out, c.Failures...)
	}
	return out
}

// Config returns the result of the configuration with the given ID.
func (r *Result) Config(id int) (ConfigResult, bool) {
	for _, c := range r.Configs {
		if c.Spec.ID == id {
			return c, true
		}
	}
	return ConfigResult{}, false
}

// TableRow is one line of the aggregated metrics table.
type TableRow struct {
	ConfigID int          `json:"config_id"`
	Params   model.Params `json:"params"`
	Metric   string       `json:"metric"`
	Summary
}

// MarshalJSON flattens the summary into the row.
func (t TableRow) MarshalJSON() ([]byte, error) {
	stats, err := t.Summary.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(stats, &fields); err != nil {
		return nil, err
	}
	fields["config_id"] = t.ConfigID
	fields["params"] = t.Params
	fields["metric"] = t.Metric
	return json.Marshal(fields)
}

// Table lists one row per (configuration, metric) in configuration order.
// Configurations without a successful fold are included with Valid false.
func (r *Result) Table() []TableRow {
	table := make([]TableRow, 0, len(r.Configs)*len(r.Metrics))
	for _, c := range r.Configs {
		for _, m := range r.Metrics {
			table = append(table, TableRow{
				ConfigID: c.Spec.ID,
				Params:   c.Spec.Params,
				Metric:   m,
				Summary:  c.Stats[m],
			})
		}
	}
	return table
}

// aggregate groups rows per configuration and metric and summarizes them.
func aggregate(grid []model_selection.ModelSpec, metricNames []string, rows []Row, failures []Failure) []ConfigResult {
	byConfig := make(map[int]*ConfigResult, len(grid))
	configs := make([]ConfigResult, len(grid))
	for i, spec := range grid {
		configs[i] = ConfigResult{Spec: spec, Stats: make(map[string]Summary, len(metricNames))}
		byConfig[spec.ID] = &configs[i]
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ConfigID != rows[j].ConfigID {
			return rows[i].ConfigID < rows[j].ConfigID
		}
		return rows[i].Fold < rows[j].Fold
	})
	for _, row := range rows {
		c := byConfig[row.ConfigID]
		c.Rows = append(c.Rows, row)
	}

	sort.Slice(failures, func(i, j int) bool {
		if failures[i].ConfigID != failures[j].ConfigID {
			return failures[i].ConfigID < failures[j].ConfigID
		}
		return failures[i].Fold < failures[j].Fold
	})
	for _, f := range failures {
		c := byConfig[f.ConfigID]
		c.Failures = append(c.Failures, f)
	}

	for i := range configs {
		values := make(map[string][]float64, len(metricNames))
		for _, row := range configs[i].Rows {
			values[row.Metric] = append(values[row.Metric], row.Value)
		}
		for _, m := range metricNames {
			configs[i].Stats[m] = Summarize(values[m])
		}
	}
	return configs
}
