package forecast

// Reporter receives pipeline progress callbacks. The orchestrator maps
// these onto job manager updates; a nil-safe no-op reporter is available
// for direct pipeline use in tests.
type Reporter func(percent int, sector, message string)

// NopReporter discards progress callbacks.
func NopReporter(int, string, string) {}

// Checkpoint is one named progress milestone in the sector pipeline.
type Checkpoint struct {
	Percent int
	Message string
}

// The fixed vocabulary of pipeline checkpoints, in execution order.
var (
	CheckpointInitialize      = Checkpoint{0, "Initializing sector"}
	CheckpointExistingData    = Checkpoint{5, "Checking for existing data"}
	CheckpointPrepareData     = Checkpoint{15, "Preparing training data"}
	CheckpointSelectVariables = Checkpoint{20, "Selecting independent variables"}
	CheckpointTrainModels     = Checkpoint{30, "Training models"}
	CheckpointForecastVars    = Checkpoint{45, "Forecasting independent variables"}
	CheckpointTimeSeries      = Checkpoint{55, "Running time-series models"}
	CheckpointPredict         = Checkpoint{65, "Generating predictions"}
	CheckpointCombine         = Checkpoint{75, "Combining historical and forecast data"}
	CheckpointEvaluate        = Checkpoint{85, "Evaluating models on test data"}
	CheckpointPersist         = Checkpoint{95, "Persisting sector results"}
	CheckpointDone            = Checkpoint{100, "Sector complete"}
)

// report invokes the reporter with a checkpoint, tolerating a nil reporter.
func report(r Reporter, cp Checkpoint, sector string) {
	if r == nil {
		return
	}
	r(cp.Percent, sector, cp.Message)
}
