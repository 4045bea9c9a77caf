// Package model defines the estimator contracts shared by the tree learners,
// the preprocessing transformers and the tuning engine.
package model

import "gonum.org/v1/gonum/mat"

// Fitter is implemented by estimators trained on a feature matrix and a
// target column.
type Fitter interface {
	Fit(X, y mat.Matrix) error
}

// Predictor is implemented by fitted estimators. Predict returns an n x 1
// matrix of class indices.
type Predictor interface {
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Classifier is the contract every model family fits into. PredictProba
// returns an n x nClasses matrix whose column j is the probability of class
// index j.
type Classifier interface {
	Fitter
	Predictor
	PredictProba(X mat.Matrix) (mat.Matrix, error)
}

// FeatureImporter is implemented by classifiers that can attribute their
// decisions to input columns. The returned slice is aligned with the columns
// of the training matrix.
type FeatureImporter interface {
	GetFeatureImportances() []float64
}

// ParameterGetter is the interface for models that expose their hyperparameters.
type ParameterGetter interface {
	GetParams() map[string]interface{}
}

// ParameterSetter is the interface for models that allow parameter modification.
type ParameterSetter interface {
	SetParams(params map[string]interface{}) error
}
