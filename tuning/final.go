package tuning

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
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

// finalFold marks the refit on the full training set in a FitError.
const finalFold = -1

// TrainedModel is a fitted recipe and classifier. It is never modified after
// creation.
type TrainedModel struct {
	Spec   model_selection.ModelSpec
	Recipe *recipe.FittedRecipe
	Model  model.Classifier
}

// Prediction pairs a true class index with the predicted index and the
// positive class score.
type Prediction struct {
	True      int     `json:"true"`
	Predicted int     `json:"predicted"`
	Score     float64 `json:"score"`
}

// Predict returns the predicted class labels and positive class scores for
// ds.
func (m *TrainedModel) Predict(ds *dataset.Dataset) ([]string, []float64, error) {
	preds, err := m.predictions(ds)
	if err != nil {
		return nil, nil, err
	}
	classes := m.Recipe.Classes()
	labels := make([]string, len(preds))
	scores := make([]float64, len(preds))
	for i, p := range preds {
		labels[i] = classes[p.Predicted]
		scores[i] = p.Score
	}
	return labels, scores, nil
}

func (m *TrainedModel) predictions(ds *dataset.Dataset) ([]Prediction, error) {
	out, _, _, _, err := m.score(ds)
	return out, err
}

// score returns the predictions for ds together with the truth, hard
// prediction and score vectors they were built from.
func (m *TrainedModel) score(ds *dataset.Dataset) (out []Prediction, yTrue, yPred, yScore *mat.VecDense, err error) {
	design, err := m.Recipe.Apply(ds)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	pred, score, err := predict(m.Model, design.X)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	out = make([]Prediction, design.Y.Len())
	for i := range out {
		out[i] = Prediction{
			True:      int(design.Y.AtVec(i)),
			Predicted: int(pred.AtVec(i)),
			Score:     score.AtVec(i),
		}
	}
	return out, design.Y, pred, score, nil
}

// FeatureImportances maps each recipe output column to its importance, or
// returns nil when the classifier does not report importances.
func (m *TrainedModel) FeatureImportances() map[string]float64 {
	fi, ok := m.Model.(model.FeatureImporter)
	if !ok {
		return nil
	}
	imp := fi.GetFeatureImportances()
	columns := m.Recipe.Columns()
	if imp == nil || len(imp) != len(columns) {
		return nil
	}
	out := make(map[string]float64, len(columns))
	for i, c := range columns {
		out[c] = imp[i]
	}
	return out
}

// FinalReport is the single held-out evaluation of the selected
// configuration.
type FinalReport struct {
	Spec        model_selection.ModelSpec `json:"spec"`
	Metrics     map[string]float64        `json:"metrics"`
	Predictions []Prediction              `json:"predictions"`
	Confusion   metrics.ConfusionMatrix   `json:"confusion"`
	ROC         metrics.ROCCurve          `json:"roc"`
	Importances map[string]float64        `json:"importances,omitempty"`
	Model       *TrainedModel             `json:"-"`
}

// Finalize fits the recipe and spec once on fullTrain and evaluates once on
// test. The ROC curve is left empty when test holds a single class.
func (e *Engine) Finalize(ctx context.Context, family families.Family, spec model_selection.ModelSpec, rec *recipe.Recipe, fullTrain, test *dataset.Dataset, metricNames []string) (*FinalReport, error) {
	ms, err := metrics.LookupAll(metricNames)
	if err != nil {
		return nil, err
	}
	if family == nil {
		return nil, errors.Invalidf(errors.ErrUnknownFamily, "tuning: family must be set")
	}
	if rec == nil {
		return nil, errors.Invalidf(errors.ErrStepConflict, "tuning: recipe must be set")
	}
	if fullTrain == nil || fullTrain.Len() == 0 || test == nil || test.Len() == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "tuning.Finalize")
	}

	logger := e.logger.With(log.FamilyKey, family.Name(), log.ConfigIDKey, spec.ID)
	_, span := e.tracer.Start(ctx, "tuning.Finalize", trace.WithAttributes(
		attribute.String("tune.family", family.Name()),
		attribute.Int("tune.config_id", spec.ID),
		attribute.Int("data.train_samples", fullTrain.Len()),
		attribute.Int("data.test_samples", test.Len()),
	))
	defer span.End()
	start := time.Now()

	var trained *TrainedModel
	err = errors.SafeExecute("tuning finalize", func() error {
		fitted, err := rec.Fit(fullTrain)
		if err != nil {
			return errors.Wrap(err, "fit recipe")
		}
		design, err := fitted.Apply(fullTrain)
		if err != nil {
			return errors.Wrap(err, "apply recipe to training set")
		}
		clf, err := family.Fit(spec.Params, design.X, design.Y)
		if err != nil {
			return err
		}
		trained = &TrainedModel{Spec: spec, Recipe: fitted, Model: clf}
		return nil
	})
	if err != nil {
		err = errors.NewFitError(family.Name(), spec.ID, finalFold, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "final fit failed")
		return nil, err
	}

	preds, yTrue, yPred, yScore, err := trained.score(test)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "test evaluation failed")
		return nil, errors.Wrap(err, "evaluate test set")
	}

	report := &FinalReport{
		Spec:        spec,
		Metrics:     make(map[string]float64, len(ms)),
		Predictions: preds,
		Importances: trained.FeatureImportances(),
		Model:       trained,
	}
	for _, m := range ms {
		v, err := m.Score(yTrue, yPred, yScore)
		if err != nil {
			return nil, errors.Wrapf(err, "score %s", m.Name)
		}
		report.Metrics[m.Name] = v
		span.SetAttributes(attribute.Float64("metrics."+m.Name, v))
	}
	if report.Confusion, err = metrics.NewConfusionMatrix(yTrue, yPred); err != nil {
		return nil, err
	}
	if roc, err := metrics.ROC(yTrue, yScore); err == nil {
		report.ROC = roc
	} else {
		logger.Warn("roc curve unavailable", "error", err.Error())
	}

	span.SetStatus(codes.Ok, "")
	logger.Info("final evaluation finished",
		log.SamplesKey, test.Len(),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return report, nil
}
