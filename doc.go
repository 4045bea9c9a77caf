// Package treetune compares tree classifiers on tabular data with stratified
// cross-validation and reports the best one on a held-out split.
//
// A run splits the data, deals the training part into folds and, for every
// model family, evaluates each configuration of a parameter grid on every
// fold. Preprocessing is declared as a recipe that is fit on each fold's
// training part only and applied to both parts. The configuration with the
// best mean score is refit on the whole training split and scored once on
// the test split.
//
// # Quick Start
//
//	ds := dataset.Synthetic(1000, 0.16, 1)
//	split, _ := model_selection.TrainTestSplit(ds, 0.8, 1234)
//	folds, _ := model_selection.StratifiedKFold(split.Train, 5, 1234)
//
//	rec := recipe.New(dataset.LoansLabel).CorrelationFilter(0.9).Encode().Normalize()
//	family, _ := families.Lookup(families.RandomForest)
//	grid, _ := model_selection.Generate(family.Name(), family.Space(), 20, model_selection.ModeRandom, 42)
//
//	engine := tuning.NewEngine(tuning.WithWorkers(4))
//	result, _ := engine.Tune(ctx, family, grid, folds, rec, []string{"accuracy", "roc_auc"})
//	best, _ := tuning.SelectBest(result, "roc_auc", metrics.Maximize)
//	report, _ := engine.Finalize(ctx, family, best, rec, split.Train, split.Test, nil)
//
// # Packages
//
//   - dataset: records, schema validation, CSV and JSON loaders, synthetic loans data
//   - model_selection: stratified train/test split, stratified k-fold, grid generation
//   - recipe: correlation filter, one-hot encoding and normalization fit per fold
//   - preprocessing: StandardScaler, MinMaxScaler, OneHotEncoder
//   - sklearn/tree, sklearn/ensemble, sklearn/dummy: the classifiers
//   - families: family registry with default parameter spaces
//   - tuning: the engine, aggregation, selection and final evaluation
//   - metrics: classification metrics and the metric registry
//   - config: YAML experiments
//   - cmd/treetune: the command line tool
package treetune
