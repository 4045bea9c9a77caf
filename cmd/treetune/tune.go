package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/imdad19/treetune/config"
	"github.com/imdad19/treetune/families"
	"github.com/imdad19/treetune/model_selection"
	"github.com/imdad19/treetune/pkg/errors"
	"github.com/imdad19/treetune/pkg/log"
	"github.com/imdad19/treetune/tuning"
)

var (
	tuneCmd = &cobra.Command{
		Use:   "tune",
		Short: "Tune every configured family and evaluate the best on the test split",
		Args:  cobra.NoArgs,
		RunE:  runTune,
	}

	tuneWorkers     int
	tuneOut         string
	tuneMetricsFile string
	tuneTraceFile   string
)

func init() {
	tuneCmd.Flags().IntVar(&tuneWorkers, "workers", -1, "concurrent tasks (0 = one per CPU), overrides tuning.workers")
	tuneCmd.Flags().StringVarP(&tuneOut, "out", "o", "", "write the JSON report here instead of stdout")
	tuneCmd.Flags().StringVar(&tuneMetricsFile, "metrics-file", "", "write Prometheus task metrics to this file")
	tuneCmd.Flags().StringVar(&tuneTraceFile, "trace-file", "", "write OpenTelemetry spans to this file")
}

// FamilyReport is the tuning outcome of one family.
type FamilyReport struct {
	Family   string                     `json:"family"`
	RunID    string                     `json:"run_id"`
	Best     *model_selection.ModelSpec `json:"best,omitempty"`
	BestMean *float64                   `json:"best_mean,omitempty"`
	Table    []tuning.TableRow          `json:"table"`
	Failures []tuning.Failure           `json:"failures,omitempty"`
}

// Report is the output of the tune command.
type Report struct {
	Experiment   *config.Experiment  `json:"experiment"`
	Recipe       string              `json:"recipe"`
	TrainSize    int                 `json:"train_size"`
	TestSize     int                 `json:"test_size"`
	SelectMetric string              `json:"select_metric"`
	Direction    string              `json:"direction"`
	Families     []FamilyReport      `json:"families"`
	Final        *tuning.FinalReport `json:"final"`
	Dropped      []string            `json:"dropped_columns"`
	Columns      []string            `json:"model_columns"`
	Elapsed      string              `json:"elapsed"`
}

func runTune(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := log.GetLoggerWithName("cli")
	start := time.Now()

	exp, err := loadExperiment()
	if err != nil {
		return err
	}
	if tuneWorkers >= 0 {
		exp.Tuning.Workers = tuneWorkers
	}
	dir, err := exp.Direction()
	if err != nil {
		return err
	}
	rec, err := exp.BuildRecipe()
	if err != nil {
		return err
	}

	ds, stats, err := exp.LoadDataset()
	if err != nil {
		return err
	}
	logger.Info("dataset loaded",
		log.PathKey, exp.Dataset.Path,
		log.SamplesKey, stats.Rows,
		"skipped", stats.Skipped,
		log.FeaturesKey, len(ds.Schema.Columns),
	)

	split, err := model_selection.TrainTestSplit(ds, exp.Split.TrainFraction, exp.Split.Seed)
	if err != nil {
		return err
	}
	folds, err := model_selection.StratifiedKFold(split.Train, exp.Split.Folds, exp.Split.Seed)
	if err != nil {
		return err
	}

	opts := []tuning.Option{
		tuning.WithWorkers(exp.Tuning.Workers),
		tuning.WithTaskTimeout(exp.Tuning.TaskTimeout),
	}
	var reg *prometheus.Registry
	var telemetry *tuning.Telemetry
	if tuneMetricsFile != "" {
		reg = prometheus.NewRegistry()
		telemetry = tuning.NewTelemetry(reg)
		opts = append(opts, tuning.WithTelemetry(telemetry))
	}
	if tuneTraceFile != "" {
		tp, closeTraces, err := traceProvider(tuneTraceFile)
		if err != nil {
			return err
		}
		defer closeTraces()
		opts = append(opts, tuning.WithTracer(tp.Tracer("treetune")))
	}
	engine := tuning.NewEngine(opts...)

	report := &Report{
		Experiment:   exp,
		Recipe:       rec.String(),
		TrainSize:    split.Train.Len(),
		TestSize:     split.Test.Len(),
		SelectMetric: exp.SelectMetric(),
		Direction:    dir.String(),
	}

	var (
		bestFamily families.Family
		bestSpec   model_selection.ModelSpec
		bestMean   float64
	)
	for _, m := range exp.Models {
		family, err := families.Lookup(m.Family)
		if err != nil {
			return err
		}
		grid, err := m.Grid()
		if err != nil {
			return err
		}
		result, err := engine.Tune(ctx, family, grid, folds, rec, exp.Metrics())
		if err != nil {
			return errors.Wrapf(err, "tune %s", m.Family)
		}

		fr := FamilyReport{Family: m.Family, RunID: result.RunID, Table: result.Table(), Failures: result.Failures()}
		spec, err := tuning.SelectBest(result, exp.SelectMetric(), dir)
		switch {
		case errors.Is(err, errors.ErrNoValidConfiguration):
			logger.Warn("no valid configuration", log.FamilyKey, m.Family)
		case err != nil:
			return err
		default:
			c, _ := result.Config(spec.ID)
			mean := c.Stats[exp.SelectMetric()].Mean
			fr.Best, fr.BestMean = &spec, &mean
			telemetry.RecordSelection(m.Family, exp.SelectMetric(), mean)
			logger.Info("family tuned",
				log.FamilyKey, m.Family,
				log.ConfigIDKey, spec.ID,
				log.ParamsKey, spec.Params.Key(),
				log.MetricKey, exp.SelectMetric(),
				log.MeanKey, mean,
			)
			if bestFamily == nil || dir.Better(mean, bestMean) {
				bestFamily, bestSpec, bestMean = family, spec, mean
			}
		}
		report.Families = append(report.Families, fr)
	}
	if bestFamily == nil {
		return errors.Invalidf(errors.ErrNoValidConfiguration, "no family produced a valid configuration")
	}

	final, err := engine.Finalize(ctx, bestFamily, bestSpec, rec, split.Train, split.Test, exp.Metrics())
	if err != nil {
		return err
	}
	report.Final = final
	report.Dropped = final.Model.Recipe.Dropped()
	report.Columns = final.Model.Recipe.Columns()
	report.Elapsed = time.Since(start).Round(time.Millisecond).String()
	logger.Info("best model evaluated",
		log.FamilyKey, bestSpec.Family,
		log.ConfigIDKey, bestSpec.ID,
		log.MetricKey, exp.SelectMetric(),
		log.ScoreKey, final.Metrics[exp.SelectMetric()],
	)

	if err := writeReport(cmd.OutOrStdout(), tuneOut, report); err != nil {
		return err
	}
	if reg != nil {
		if err := prometheus.WriteToTextfile(tuneMetricsFile, reg); err != nil {
			return errors.Wrapf(err, "write metrics to %s", tuneMetricsFile)
		}
	}
	return nil
}

func writeReport(stdout io.Writer, path string, report *Report) error {
	if path == "" {
		return encodeReport(stdout, report)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create report %s", path)
	}
	return closeReport(f, path, report)
}

// closeReport encodes report into w and closes it. A failed close is an
// error because the file may be truncated.
func closeReport(w io.WriteCloser, path string, report *Report) error {
	err := encodeReport(w, report)
	if cerr := w.Close(); err == nil && cerr != nil {
		err = errors.Wrapf(cerr, "close report %s", path)
	}
	return err
}

func encodeReport(w io.Writer, report *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(report), "encode report")
}

// traceProvider exports spans as JSON to path. The returned func flushes
// and closes the exporter.
func traceProvider(path string) (*sdktrace.TracerProvider, func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "create trace file %s", path)
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(f))
	if err != nil {
		f.Close()
		return nil, nil, errors.Wrap(err, "create trace exporter")
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	return tp, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.GetLogger().Warn("trace shutdown failed", "error", err.Error())
		}
		f.Close()
	}, nil
}
