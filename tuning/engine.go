// Package tuning runs cross-validated grid searches over model families,
// selects the best configuration and evaluates it once on held-out data.
//
// An Engine schedules one task per (configuration, fold) on a bounded worker
// pool. Each task fits the recipe on the fold's training part, applies it to
// both parts, fits the family and scores the validation part. A failing task
// is recorded against its configuration and never stops its siblings.
//
//	engine := tuning.NewEngine(tuning.WithWorkers(4))
//	result, err := engine.Tune(ctx, family, grid, folds, rec, []string{"accuracy", "roc_auc"})
//	best, err := tuning.SelectBest(result, "roc_auc", metrics.Maximize)
package tuning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/mat"

	"github.com/imdad19/treetune/core/model"
	"github.com/imdad19/treetune/core/parallel"
	"github.com/imdad19/treetune/families"
	"github.com/imdad19/treetune/metrics"
	"github.com/imdad19/treetune/model_selection"
	"github.com/imdad19/treetune/pkg/errors"
	"github.com/imdad19/treetune/pkg/log"
	"github.com/imdad19/treetune/recipe"
)

const tracerName = "github.com/imdad19/treetune/tuning"

// Engine evaluates parameter grids. It is safe for concurrent use.
type Engine struct {
	workers     int
	taskTimeout time.Duration
	logger      log.Logger
	telemetry   *Telemetry
	tracer      trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds the number of tasks evaluated at once. Values below 1
// mean one worker per CPU core.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithTaskTimeout bounds the wall time of one task. A task that runs longer
// is recorded as a failure wrapping context.DeadlineExceeded. Zero disables
// the bound.
func WithTaskTimeout(d time.Duration) Option {
	return func(e *Engine) { e.taskTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTelemetry records task counts and durations.
func WithTelemetry(t *Telemetry) Option {
	return func(e *Engine) { e.telemetry = t }
}

// WithTracer sets the tracer used for run and task spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger: log.GetLoggerWithName("tuning"),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.workers = parallel.Workers(e.workers)
	return e
}

// collector gathers task outcomes from concurrent workers.
type collector struct {
	mu       sync.Mutex
	rows     []Row
	failures []Failure
}

func (c *collector) add(rows []Row) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, rows...)
}

func (c *collector) fail(f Failure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, f)
}

// Tune evaluates every configuration of grid on every fold and aggregates
// the metric values per configuration. Invalid input is rejected before any
// task runs. The returned error is non-nil only for invalid input or when
// ctx is done; per-task failures are reported in the Result.
func (e *Engine) Tune(ctx context.Context, family families.Family, grid []model_selection.ModelSpec, folds []model_selection.Fold, rec *recipe.Recipe, metricNames []string) (*Result, error) {
	ms, err := metrics.LookupAll(metricNames)
	if err != nil {
		return nil, err
	}
	if err := checkInput(family, grid, folds, rec); err != nil {
		return nil, err
	}
	names := make([]string, len(ms))
	for i, m := range ms {
		names[i] = m.Name
	}

	runID := uuid.NewString()
	logger := e.logger.With(log.RunIDKey, runID, log.FamilyKey, family.Name())
	ctx, span := e.tracer.Start(ctx, "tuning.Tune", trace.WithAttributes(
		attribute.String("tune.run_id", runID),
		attribute.String("tune.family", family.Name()),
		attribute.Int("tune.configs", len(grid)),
		attribute.Int("tune.folds", len(folds)),
		attribute.StringSlice("tune.metrics", names),
	))
	defer span.End()

	nTasks := len(grid) * len(folds)
	logger.Info("tuning started",
		log.ConfigsKey, len(grid),
		log.FoldsKey, len(folds),
		log.TasksKey, nTasks,
		log.WorkersKey, e.workers,
	)
	start := time.Now()

	var results collector
	err = parallel.ForEach(ctx, nTasks, e.workers, func(ctx context.Context, i int) error {
		spec := grid[i/len(folds)]
		fold := folds[i%len(folds)]
		rows, err := e.runTask(ctx, family, spec, fold, rec, ms)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			results.fail(Failure{ConfigID: spec.ID, Fold: fold.Index, Err: err})
			logger.Warn("task failed",
				log.ConfigIDKey, spec.ID,
				log.FoldKey, fold.Index,
				"error", err.Error(),
			)
			return nil
		}
		results.add(rows)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tuning interrupted")
		return nil, errors.Wrap(err, "tuning interrupted")
	}

	result := &Result{
		RunID:   runID,
		Family:  family.Name(),
		Metrics: names,
		Folds:   len(folds),
		Configs: aggregate(grid, names, results.rows, results.failures),
	}

	valid := 0
	for _, c := range result.Configs {
		if len(c.Rows) > 0 {
			valid++
		}
	}
	span.SetAttributes(
		attribute.Int("tune.failures", len(results.failures)),
		attribute.Int("tune.valid_configs", valid),
	)
	span.SetStatus(codes.Ok, "")
	logger.Info("tuning finished",
		log.TasksKey, nTasks,
		"failures", len(results.failures),
		"valid_configs", valid,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return result, nil
}

func checkInput(family families.Family, grid []model_selection.ModelSpec, folds []model_selection.Fold, rec *recipe.Recipe) error {
	if family == nil {
		return errors.Invalidf(errors.ErrUnknownFamily, "tuning: family must be set")
	}
	if len(grid) == 0 {
		return errors.NewValidationError("grid", "must hold at least one configuration", 0)
	}
	if len(folds) == 0 {
		return errors.Invalidf(errors.ErrInvalidFoldCount, "tuning: no folds given")
	}
	if rec == nil {
		return errors.Invalidf(errors.ErrStepConflict, "tuning: recipe must be set")
	}

	seen := make(map[int]bool, len(grid))
	for _, spec := range grid {
		if spec.Family != family.Name() {
			return errors.NewValidationError("grid", fmt.Sprintf("configuration %d is for family %q, not %q", spec.ID, spec.Family, family.Name()), spec.Family)
		}
		if seen[spec.ID] {
			return errors.NewValidationError("grid", "duplicate configuration id", spec.ID)
		}
		seen[spec.ID] = true
	}
	for _, f := range folds {
		if f.Train == nil || f.Train.Len() == 0 || f.Validation == nil || f.Validation.Len() == 0 {
			return errors.Invalidf(errors.ErrInvalidFoldCount, "tuning: fold %d has an empty part", f.Index)
		}
		if err := rec.Validate(f.Train.Schema); err != nil {
			return err
		}
	}
	return nil
}

// runTask evaluates spec on fold, bounded by the task timeout.
func (e *Engine) runTask(ctx context.Context, family families.Family, spec model_selection.ModelSpec, fold model_selection.Fold, rec *recipe.Recipe, ms []metrics.Metric) ([]Row, error) {
	ctx, span := e.tracer.Start(ctx, "tuning.task", trace.WithAttributes(
		attribute.Int("tune.config_id", spec.ID),
		attribute.Int("tune.fold", fold.Index),
	))
	defer span.End()

	e.telemetry.taskStarted()
	start := time.Now()

	rows, err := e.withTimeout(ctx, func() ([]Row, error) {
		return evaluate(family, spec, fold, rec, ms)
	})

	status := statusOK
	if err != nil {
		status = statusFailed
		if errors.Is(err, context.DeadlineExceeded) {
			status = statusTimeout
		}
		err = errors.NewFitError(family.Name(), spec.ID, fold.Index, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
	}
	e.telemetry.taskDone(family.Name(), status, time.Since(start))
	return rows, err
}

type taskOutcome struct {
	rows []Row
	err  error
}

// withTimeout runs fn and waits for it until the task timeout elapses or ctx
// is done. Fitting is not interruptible, so a timed-out fn keeps running in
// the background and its outcome is discarded.
func (e *Engine) withTimeout(ctx context.Context, fn func() ([]Row, error)) ([]Row, error) {
	if e.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.taskTimeout)
		defer cancel()
	}

	done := make(chan taskOutcome, 1)
	go func() {
		var out taskOutcome
		out.err = errors.SafeExecute("tuning task", func() error {
			var err error
			out.rows, err = fn()
			return err
		})
		done <- out
	}()

	select {
	case out := <-done:
		return out.rows, out.err
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "task exceeded %s", e.taskTimeout)
	}
}

// evaluate fits the recipe and the model on the fold's training part and
// scores the validation part.
func evaluate(family families.Family, spec model_selection.ModelSpec, fold model_selection.Fold, rec *recipe.Recipe, ms []metrics.Metric) ([]Row, error) {
	fitted, err := rec.Fit(fold.Train)
	if err != nil {
		return nil, errors.Wrap(err, "fit recipe")
	}
	train, err := fitted.Apply(fold.Train)
	if err != nil {
		return nil, errors.Wrap(err, "apply recipe to training part")
	}
	validation, err := fitted.Apply(fold.Validation)
	if err != nil {
		return nil, errors.Wrap(err, "apply recipe to validation part")
	}

	clf, err := family.Fit(spec.Params, train.X, train.Y)
	if err != nil {
		return nil, err
	}
	pred, score, err := predict(clf, validation.X)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(ms))
	for _, m := range ms {
		v, err := m.Score(validation.Y, pred, score)
		if err != nil {
			return nil, errors.Wrapf(err, "score %s", m.Name)
		}
		rows = append(rows, Row{ConfigID: spec.ID, Fold: fold.Index, Metric: m.Name, Value: v})
	}
	return rows, nil
}

// predict returns the hard 0/1 predictions and the positive class scores of
// clf on X.
func predict(clf model.Classifier, X mat.Matrix) (*mat.VecDense, *mat.VecDense, error) {
	labels, err := clf.Predict(X)
	if err != nil {
		return nil, nil, errors.Wrap(err, "predict")
	}
	proba, err := clf.PredictProba(X)
	if err != nil {
		return nil, nil, errors.Wrap(err, "predict probabilities")
	}
	rows, _ := X.Dims()
	if r, _ := labels.Dims(); r != rows {
		return nil, nil, errors.NewDimensionError("predict", rows, r, 0)
	}
	r, c := proba.Dims()
	if r != rows || c != 2 {
		return nil, nil, errors.NewDimensionError("predict probabilities", 2, c, 1)
	}
	return mat.NewVecDense(rows, mat.Col(nil, 0, labels)), mat.NewVecDense(rows, mat.Col(nil, 1, proba)), nil
}
