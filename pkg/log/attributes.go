package log

// Component and model identification.
const (
	ComponentKey = "ml.component"

	ModelNameKey = "model.name"

	OperationKey = "ml.operation"

	PhaseKey = "ml.phase"
)

// Data shape.
const (
	SamplesKey = "data.samples"

	FeaturesKey = "data.features"

	ClassesKey = "data.classes"

	ColumnKey = "data.column"

	PathKey = "data.path"
)

// Tuning run identification. Every record emitted while a tuning run is in
// flight carries RunIDKey and FamilyKey.
const (
	RunIDKey = "tune.run_id"

	FamilyKey = "tune.family"

	ConfigIDKey = "tune.config_id"

	FoldKey = "tune.fold"

	ConfigsKey = "tune.configs"

	FoldsKey = "tune.folds"

	TasksKey = "tune.tasks"

	WorkersKey = "tune.workers"

	ParamsKey = "tune.params"
)

// Scores and timing.
const (
	MetricKey = "metrics.name"

	ScoreKey = "metrics.value"

	MeanKey = "metrics.mean"

	ValidFoldsKey = "metrics.valid_folds"

	DurationMsKey = "perf.duration_ms"

	RandomSeedKey = "config.random_seed"
)

// Error classification.
const (
	ErrorTypeKey = "error.type"

	ErrorCodeKey = "error.code"
)

const (
	OperationFit       = "fit"
	OperationPredict   = "predict"
	OperationTransform = "transform"
	OperationScore     = "score"
	OperationSplit     = "split"
	OperationTune      = "tune"
	OperationFinalize  = "finalize"

	PhaseTraining      = "training"
	PhaseValidation    = "validation"
	PhaseTesting       = "testing"
	PhasePreprocessing = "preprocessing"

	ErrorNotFitted         = "NOT_FITTED"
	ErrorDimensionMismatch = "DIMENSION_MISMATCH"
	ErrorEmptyData         = "EMPTY_DATA"
	ErrorInvalidInput      = "INVALID_INPUT"
	ErrorFitFailure        = "FIT_FAILURE"
)
