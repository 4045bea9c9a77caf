package tuning

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gonum.org/v1/gonum/mat"

	"github.com/imdad19/treetune/core/model"
	"github.com/imdad19/treetune/dataset"
	"github.com/imdad19/treetune/families"
	"github.com/imdad19/treetune/metrics"
	"github.com/imdad19/treetune/model_selection"
	"github.com/imdad19/treetune/pkg/errors"
	"github.com/imdad19/treetune/pkg/log"
	"github.com/imdad19/treetune/recipe"
)

// scripted is a family whose Fit is supplied by the test.
type scripted struct {
	name string
	fit  func(p model.Params, X, y mat.Matrix) (model.Classifier, error)
}

func (s scripted) Name() string                      { return s.name }
func (s scripted) Space() model_selection.ParamSpace { return nil }
func (s scripted) Fit(p model.Params, X, y mat.Matrix) (model.Classifier, error) {
	return s.fit(p, X, y)
}

// failWhen delegates to the majority family unless params["fail"] is set.
func failWhen(t *testing.T, fail func() error) scripted {
	majority, err := families.Lookup(families.Majority)
	require.NoError(t, err)
	return scripted{name: "scripted", fit: func(p model.Params, X, y mat.Matrix) (model.Classifier, error) {
		if _, ok := p["fail"]; ok {
			if err := fail(); err != nil {
				return nil, err
			}
		}
		return majority.Fit(nil, X, y)
	}}
}

type setup struct {
	split *model_selection.Split
	folds []model_selection.Fold
	rec   *recipe.Recipe
}

func loans(t *testing.T) setup {
	ds := dataset.Synthetic(100, 0.5, 11)
	split, err := model_selection.TrainTestSplit(ds, 0.8, 3)
	require.NoError(t, err)
	folds, err := model_selection.StratifiedKFold(split.Train, 5, 5)
	require.NoError(t, err)
	rec := recipe.New(dataset.LoansLabel).CorrelationFilter(0.9).Encode().Normalize()
	return setup{split: split, folds: folds, rec: rec}
}

func quietEngine(opts ...Option) *Engine {
	return NewEngine(append([]Option{WithLogger(log.Nop()), WithWorkers(4)}, opts...)...)
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   Summary
	}{
		{"odd", []float64{0.7, 0.5, 0.9}, Summary{Min: 0.5, Max: 0.9, Mean: 0.7, Median: 0.7, N: 3, Valid: true}},
		{"even", []float64{4, 1, 3, 2}, Summary{Min: 1, Max: 4, Mean: 2.5, Median: 2.5, N: 4, Valid: true}},
		{"single", []float64{0.25}, Summary{Min: 0.25, Max: 0.25, Mean: 0.25, Median: 0.25, N: 1, Valid: true}},
		{"empty", nil, Summary{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.values)
			assert.Equal(t, tt.want.Valid, got.Valid)
			assert.Equal(t, tt.want.N, got.N)
			assert.InDelta(t, tt.want.Min, got.Min, 1e-12)
			assert.InDelta(t, tt.want.Max, got.Max, 1e-12)
			assert.InDelta(t, tt.want.Mean, got.Mean, 1e-12)
			assert.InDelta(t, tt.want.Median, got.Median, 1e-12)
		})
	}
}

func TestSummaryJSONMarksAbsentStatistics(t *testing.T) {
	b, err := Summary{}.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"min":null,"max":null,"mean":null,"median":null,"n":0,"valid":false}`, string(b))

	b, err = TableRow{ConfigID: 2, Metric: "accuracy", Summary: Summarize([]float64{1})}.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"config_id":2,"params":null,"metric":"accuracy","min":1,"max":1,"mean":1,"median":1,"n":1,"valid":true}`, string(b))
}

func TestTuneMajorityEndToEnd(t *testing.T) {
	s := loans(t)
	assert.Equal(t, 80, s.split.Train.Len())
	assert.Equal(t, 40, s.split.Train.ClassCounts()["1"])
	for _, f := range s.folds {
		assert.Equal(t, 16, f.Validation.Len())
	}

	majority, err := families.Lookup(families.Majority)
	require.NoError(t, err)
	grid, err := model_selection.Generate(families.Majority, majority.Space(), 1, model_selection.ModeRandom, 1)
	require.NoError(t, err)
	require.Len(t, grid, 1)

	result, err := quietEngine().Tune(context.Background(), majority, grid, s.folds, s.rec, []string{"accuracy"})
	require.NoError(t, err)
	require.Len(t, result.Configs, 1)
	assert.Len(t, result.Rows(), 5)
	assert.Empty(t, result.Failures())
	assert.NotEmpty(t, result.RunID)

	// each fold trains on 32 records of each class, so the tie goes to
	// class 0 and exactly half of every validation fold is right
	stats := result.Configs[0].Stats["accuracy"]
	assert.True(t, stats.Valid)
	assert.Equal(t, 5, stats.N)
	assert.InDelta(t, 0.5, stats.Mean, 1e-12)

	table := result.Table()
	require.Len(t, table, 1)
	assert.Equal(t, "accuracy", table[0].Metric)

	best, err := SelectBest(result, "accuracy", metrics.Maximize)
	require.NoError(t, err)
	assert.Equal(t, 0, best.ID)

	report, err := quietEngine().Finalize(context.Background(), majority, best, s.rec, s.split.Train, s.split.Test, []string{"accuracy", "roc_auc"})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, report.Metrics["accuracy"], 1e-12)
	assert.InDelta(t, 0.5, report.Metrics["roc_auc"], 1e-12)
	assert.Len(t, report.Predictions, 20)
	assert.Equal(t, metrics.ConfusionMatrix{TN: 10, FN: 10}, report.Confusion)
	assert.Nil(t, report.Importances)
	for _, p := range report.Predictions {
		assert.Equal(t, 0, p.Predicted)
		assert.InDelta(t, 0.5, p.Score, 1e-12)
	}

	labels, scores, err := report.Model.Predict(s.split.Test)
	require.NoError(t, err)
	assert.Len(t, scores, 20)
	for _, l := range labels {
		assert.Equal(t, "0", l)
	}
}

func TestTuneDecisionTree(t *testing.T) {
	s := loans(t)
	dt, err := families.Lookup(families.DecisionTree)
	require.NoError(t, err)
	grid, err := model_selection.Generate(families.DecisionTree, dt.Space(), 4, model_selection.ModeRandom, 9)
	require.NoError(t, err)

	result, err := quietEngine().Tune(context.Background(), dt, grid, s.folds, s.rec, nil)
	require.NoError(t, err)
	assert.Equal(t, metrics.StandardSet, result.Metrics)
	assert.Len(t, result.Rows(), 4*5*2)
	assert.Empty(t, result.Failures())

	ranked, err := Rank(result, "roc_auc", metrics.Maximize)
	require.NoError(t, err)
	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].Stats["roc_auc"].Mean, ranked[i].Stats["roc_auc"].Mean)
	}

	best, err := SelectBest(result, "roc_auc", metrics.Maximize)
	require.NoError(t, err)
	assert.Equal(t, ranked[0].Spec.ID, best.ID)

	report, err := quietEngine().Finalize(context.Background(), dt, best, s.rec, s.split.Train, s.split.Test, nil)
	require.NoError(t, err)
	assert.Equal(t, 20, report.Confusion.Total())
	assert.NotEmpty(t, report.ROC.TPR)
	assert.NotEmpty(t, report.Importances)
	for col := range report.Importances {
		assert.Contains(t, report.Model.Recipe.Columns(), col)
	}

	data, err := json.Marshal(report)
	require.NoError(t, err)
	var decoded struct {
		ROC struct {
			Thresholds []float64 `json:"thresholds"`
		} `json:"roc"`
		Predictions []Prediction `json:"predictions"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, report.ROC.Thresholds, decoded.ROC.Thresholds)
	assert.Len(t, decoded.Predictions, 20)
}

func TestTuneIsolatesFailingConfiguration(t *testing.T) {
	s := loans(t)
	family := failWhen(t, func() error { return errors.New("does not converge") })
	grid := []model_selection.ModelSpec{
		{Family: "scripted", ID: 0, Params: model.Params{"fail": 1}},
		{Family: "scripted", ID: 1, Params: model.Params{}},
	}

	result, err := quietEngine().Tune(context.Background(), family, grid, s.folds, s.rec, []string{"accuracy", "roc_auc"})
	require.NoError(t, err)

	failed, ok := result.Config(0)
	require.True(t, ok)
	assert.Empty(t, failed.Rows)
	require.Len(t, failed.Failures, 5)
	for i, f := range failed.Failures {
		assert.Equal(t, i, f.Fold)
		var fitErr *errors.FitError
		require.True(t, errors.As(f.Err, &fitErr))
		assert.Equal(t, 0, fitErr.ConfigID)
		assert.Contains(t, fitErr.Error(), "does not converge")
	}
	for _, m := range result.Metrics {
		assert.False(t, failed.Stats[m].Valid)
	}
	assert.Len(t, result.Table(), 4)

	ok1, _ := result.Config(1)
	assert.Len(t, ok1.Rows, 10)
	assert.Empty(t, ok1.Failures)

	ranked, err := Rank(result, "accuracy", metrics.Maximize)
	require.NoError(t, err)
	assert.Equal(t, 0, ranked[len(ranked)-1].Spec.ID)

	best, err := SelectBest(result, "accuracy", metrics.Maximize)
	require.NoError(t, err)
	assert.Equal(t, 1, best.ID)
}

func TestSelectBestWithoutValidConfiguration(t *testing.T) {
	s := loans(t)
	family := failWhen(t, func() error { return errors.New("always fails") })
	grid := []model_selection.ModelSpec{{Family: "scripted", ID: 0, Params: model.Params{"fail": 1}}}

	result, err := quietEngine().Tune(context.Background(), family, grid, s.folds, s.rec, []string{"accuracy"})
	require.NoError(t, err)
	_, err = SelectBest(result, "accuracy", metrics.Maximize)
	assert.True(t, errors.Is(err, errors.ErrNoValidConfiguration))
}

func TestTuneRecoversPanics(t *testing.T) {
	s := loans(t)
	family := failWhen(t, func() error { panic("index out of range") })
	grid := []model_selection.ModelSpec{{Family: "scripted", ID: 0, Params: model.Params{"fail": 1}}}

	result, err := quietEngine().Tune(context.Background(), family, grid, s.folds, s.rec, []string{"accuracy"})
	require.NoError(t, err)
	require.Len(t, result.Failures(), 5)
	var panicErr *errors.PanicError
	assert.True(t, errors.As(result.Failures()[0].Err, &panicErr))
}

func TestTuneTaskTimeout(t *testing.T) {
	s := loans(t)
	family := failWhen(t, func() error {
		time.Sleep(time.Second)
		return nil
	})
	grid := []model_selection.ModelSpec{
		{Family: "scripted", ID: 0, Params: model.Params{"fail": 1}},
		{Family: "scripted", ID: 1},
	}

	result, err := quietEngine(WithTaskTimeout(100*time.Millisecond)).Tune(context.Background(), family, grid, s.folds, s.rec, []string{"accuracy"})
	require.NoError(t, err)

	slow, _ := result.Config(0)
	require.Len(t, slow.Failures, 5)
	for _, f := range slow.Failures {
		assert.True(t, errors.Is(f.Err, context.DeadlineExceeded))
	}
	fast, _ := result.Config(1)
	assert.Len(t, fast.Rows, 5)
}

func TestTuneRejectsInvalidInput(t *testing.T) {
	s := loans(t)
	majority, err := families.Lookup(families.Majority)
	require.NoError(t, err)
	grid := []model_selection.ModelSpec{{Family: families.Majority, ID: 0}}
	engine := quietEngine()
	ctx := context.Background()

	_, err = engine.Tune(ctx, majority, grid, s.folds, s.rec, []string{"kappa"})
	assert.True(t, errors.Is(err, errors.ErrUnknownMetric))

	_, err = engine.Tune(ctx, majority, grid, nil, s.rec, nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidFoldCount))

	_, err = engine.Tune(ctx, majority, grid, s.folds, recipe.New("default"), nil)
	assert.True(t, errors.Is(err, errors.ErrStepConflict))

	_, err = engine.Tune(ctx, majority, grid, s.folds, recipe.New(dataset.LoansLabel), nil)
	assert.True(t, errors.Is(err, errors.ErrStepConflict), "categorical columns must be encoded")

	var valErr *errors.ValidationError
	_, err = engine.Tune(ctx, majority, nil, s.folds, s.rec, nil)
	assert.True(t, errors.As(err, &valErr))

	_, err = engine.Tune(ctx, majority, []model_selection.ModelSpec{{Family: families.DecisionTree}}, s.folds, s.rec, nil)
	assert.True(t, errors.As(err, &valErr))

	_, err = engine.Tune(ctx, majority, []model_selection.ModelSpec{{Family: families.Majority}, {Family: families.Majority}}, s.folds, s.rec, nil)
	assert.True(t, errors.As(err, &valErr))
}

func TestTuneCancelled(t *testing.T) {
	s := loans(t)
	majority, err := families.Lookup(families.Majority)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = quietEngine().Tune(ctx, majority, []model_selection.ModelSpec{{Family: families.Majority}}, s.folds, s.rec, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSelectorTieBreak(t *testing.T) {
	result := &Result{
		Family:  "x",
		Metrics: []string{"accuracy", "log_loss"},
		Configs: []ConfigResult{
			{Spec: model_selection.ModelSpec{ID: 2}, Stats: map[string]Summary{
				"accuracy": Summarize([]float64{0.8, 0.9}), "log_loss": Summarize([]float64{0.3}),
			}},
			{Spec: model_selection.ModelSpec{ID: 0}, Stats: map[string]Summary{
				"accuracy": Summarize([]float64{0.7, 0.8}), "log_loss": Summarize([]float64{0.2}),
			}},
			{Spec: model_selection.ModelSpec{ID: 1}, Stats: map[string]Summary{
				"accuracy": Summarize([]float64{0.9, 0.8}), "log_loss": Summarize([]float64{0.2}),
			}},
			{Spec: model_selection.ModelSpec{ID: 3}, Stats: map[string]Summary{
				"accuracy": {}, "log_loss": {},
			}},
		},
	}

	best, err := SelectBest(result, "accuracy", metrics.Maximize)
	require.NoError(t, err)
	assert.Equal(t, 1, best.ID)

	best, err = SelectBest(result, "log_loss", metrics.Minimize)
	require.NoError(t, err)
	assert.Equal(t, 0, best.ID)

	ranked, err := Rank(result, "accuracy", metrics.Maximize)
	require.NoError(t, err)
	ids := make([]int, len(ranked))
	for i, c := range ranked {
		ids[i] = c.Spec.ID
	}
	assert.Equal(t, []int{1, 2, 0, 3}, ids)

	_, err = SelectBest(result, "roc_auc", metrics.Maximize)
	assert.True(t, errors.Is(err, errors.ErrUnknownMetric))

	dir, err := DefaultDirection("log_loss")
	require.NoError(t, err)
	assert.Equal(t, metrics.Minimize, dir)
}

func TestTelemetryAndTracing(t *testing.T) {
	s := loans(t)
	reg := prometheus.NewRegistry()
	telemetry := NewTelemetry(reg)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	logger, buf := log.NewTestLogger(log.LevelInfo)

	family := failWhen(t, func() error { return errors.New("boom") })
	grid := []model_selection.ModelSpec{
		{Family: "scripted", ID: 0},
		{Family: "scripted", ID: 1, Params: model.Params{"fail": 1}},
	}
	engine := NewEngine(WithTelemetry(telemetry), WithTracer(tp.Tracer("test")), WithLogger(logger), WithWorkers(2))
	_, err := engine.Tune(context.Background(), family, grid, s.folds, s.rec, []string{"accuracy"})
	require.NoError(t, err)

	assert.Equal(t, 5.0, testutil.ToFloat64(telemetry.tasks.WithLabelValues("scripted", statusOK)))
	assert.Equal(t, 5.0, testutil.ToFloat64(telemetry.tasks.WithLabelValues("scripted", statusFailed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(telemetry.inFlight))

	telemetry.RecordSelection("scripted", "accuracy", 0.5)
	assert.Equal(t, 0.5, testutil.ToFloat64(telemetry.bestScore.WithLabelValues("scripted", "accuracy")))

	names := map[string]int{}
	for _, span := range recorder.Ended() {
		names[span.Name()]++
	}
	assert.Equal(t, 1, names["tuning.Tune"])
	assert.Equal(t, 10, names["tuning.task"])

	assert.True(t, logger.ContainsMessage("tuning started"))
	assert.True(t, logger.ContainsMessage("task failed"))
	assert.True(t, logger.ContainsField(log.FamilyKey, "scripted"))
	assert.NotZero(t, buf.Len())
}

func TestTrainedModelImportancesNeedMatchingColumns(t *testing.T) {
	s := loans(t)
	dt, err := families.Lookup(families.DecisionTree)
	require.NoError(t, err)
	spec := model_selection.ModelSpec{Family: families.DecisionTree, Params: model.Params{"max_depth": 3}}
	report, err := quietEngine().Finalize(context.Background(), dt, spec, s.rec, s.split.Train, s.split.Test, []string{"log_loss"})
	require.NoError(t, err)

	total := 0.0
	for _, v := range report.Importances {
		total += v
	}
	assert.InDelta(t, 1, total, 1e-9)
	assert.False(t, math.IsNaN(report.Metrics["log_loss"]))
}

func TestFinalizeWrapsFitError(t *testing.T) {
	s := loans(t)
	family := failWhen(t, func() error { return errors.New("singular") })
	spec := model_selection.ModelSpec{Family: "scripted", ID: 4, Params: model.Params{"fail": 1}}
	_, err := quietEngine().Finalize(context.Background(), family, spec, s.rec, s.split.Train, s.split.Test, nil)

	var fitErr *errors.FitError
	require.True(t, errors.As(err, &fitErr))
	assert.Equal(t, -1, fitErr.Fold)
	assert.Equal(t, 4, fitErr.ConfigID)
}
