package forecast

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkaravia/gridcast/internal/dataset"
	"github.com/mkaravia/gridcast/internal/utils"
)

// SectorStatus classifies one sector's pipeline outcome.
type SectorStatus string

const (
	SectorSuccess      SectorStatus = "success"
	SectorExistingData SectorStatus = "existing_data"
	SectorFailed       SectorStatus = "failed"
	SectorWarning      SectorStatus = "warning"
)

// SectorProcessingResult is the outcome of one sector's pipeline run.
type SectorProcessingResult struct {
	Sector           string            `json:"sector"`
	Status           SectorStatus      `json:"status"`
	Message          string            `json:"message"`
	ModelsUsed       []string          `json:"models_used"`
	Error            string            `json:"error,omitempty"`
	ProcessingTime   time.Duration     `json:"processing_time_ms"`
	UsedExistingData bool              `json:"used_existing_data"`
	Config           SectorModelConfig `json:"config"`

	// Document is persisted separately by the orchestrator, not inlined
	// into the job summary.
	Document *SectorResultDoc `json:"-"`
}

// Pipeline produces a multi-model forecast for one sector. It holds no
// shared state; sectors are processed sequentially within a job.
type Pipeline struct {
	log zerolog.Logger
}

// NewPipeline creates a sector pipeline.
func NewPipeline(log zerolog.Logger) *Pipeline {
	return &Pipeline{
		log: log.With().Str("component", "forecast_pipeline").Logger(),
	}
}

// ProcessSector runs the full pipeline for one sector. Model-level failures
// degrade to fallback fits or zero-filled forecasts; only a panic escapes
// this call, and the orchestrator records that as a sector failure.
func (p *Pipeline) ProcessSector(sector string, table *dataset.Table, cfg *JobConfig, sectorCfg SectorModelConfig, reporter Reporter) *SectorProcessingResult {
	timer := utils.NewTimer("sector_"+sector, p.log)
	result := &SectorProcessingResult{
		Sector:     sector,
		ModelsUsed: append([]string(nil), sectorCfg.Models...),
		Config:     sectorCfg,
	}
	defer func() {
		result.ProcessingTime = timer.Stop()
	}()

	report(reporter, CheckpointInitialize, sector)

	// Sectors without usable target data still get a persisted, zero-filled
	// artifact. The batch never aborts over one sector's missing columns.
	if table == nil || table.ObservedCount(dataset.ColumnElectricity) == 0 {
		p.log.Warn().Str("sector", sector).Msg("Sector has no usable Electricity data, emitting zero-filled result")
		return p.zeroFilledResult(result, table, cfg, sector)
	}

	report(reporter, CheckpointExistingData, sector)
	lastYear, _, _ := table.LastObservedYear(dataset.ColumnElectricity)
	if lastYear >= cfg.TargetYear {
		return p.existingDataResult(result, table, cfg, sector)
	}

	report(reporter, CheckpointPrepareData, sector)
	targetValues, observedYears := TargetValues(table, table.Years())
	split := ChronologicalSplit(observedYears)
	trainTargets, trainYears := TargetValues(table, split.TrainYears)
	testTargets, testYears := TargetValues(table, split.TestYears)

	report(reporter, CheckpointSelectVariables, sector)
	mlrVars := SelectIndependentVars(table, sectorCfg.IndependentVars, split.TrainYears)
	yearVar := []string{dataset.ColumnYear}

	doc := &SectorResultDoc{
		Sector:      sector,
		GeneratedAt: time.Now().UTC(),
		ModelsUsed:  result.ModelsUsed,
		Input:       TableDocFrom(table),
	}

	report(reporter, CheckpointTrainModels, sector)
	var mlrModel, slrModel *LinearModel
	if sectorCfg.HasModel(ModelMLR) {
		mlrModel = p.trainLinearWithFallback(doc, sector, ModelMLR, mlrVars,
			BuildDesignRows(table, mlrVars, trainYears), trainTargets)
	}
	if sectorCfg.HasModel(ModelSLR) {
		slrModel = p.trainLinearWithFallback(doc, sector, ModelSLR, yearVar,
			BuildDesignRows(table, yearVar, trainYears), trainTargets)
	}

	var wamModel *WAMModel
	if sectorCfg.HasModel(ModelWAM) {
		var err error
		wamModel, err = TrainWAM(table, sectorCfg.EffectiveWindowSize(), cfg.ExcludeCovidYears)
		if err != nil {
			p.log.Warn().Err(err).Str("sector", sector).Msg("WAM training failed, forecasts will be zero-filled")
			doc.Warnings = append(doc.Warnings, fmt.Sprintf("WAM: %v", err))
		} else {
			doc.WAM = wamModel
			if wamModel.Warning != "" {
				doc.Warnings = append(doc.Warnings, "WAM: "+wamModel.Warning)
			}
		}
	}

	futureYears := yearRange(lastYear+1, cfg.TargetYear)

	report(reporter, CheckpointForecastVars, sector)
	varRows := p.forecastIndependentVars(doc, table, mlrVars, futureYears, sector, sectorCfg.HasModel(ModelMLR))

	report(reporter, CheckpointTimeSeries, sector)
	var tsResult *TimeSeriesResult
	if sectorCfg.HasModel(ModelTimeSeries) {
		ts, err := ForecastTimeSeries(observedYears, targetValues, futureYears)
		if err != nil {
			p.log.Warn().Err(err).Str("sector", sector).Msg("Time-series chain failed, forecasts will be zero-filled")
			doc.Warnings = append(doc.Warnings, fmt.Sprintf("TimeSeries: %v", err))
		} else {
			tsResult = ts
			doc.TimeSeriesMethod = ts.Method
		}
	}

	report(reporter, CheckpointPredict, sector)
	forecasts := make(map[string][]float64)
	for _, model := range sectorCfg.Models {
		switch model {
		case ModelMLR:
			forecasts[model] = predictLinear(mlrModel, varRows, len(futureYears))
		case ModelSLR:
			forecasts[model] = predictLinear(slrModel, yearRows(futureYears), len(futureYears))
		case ModelWAM:
			if wamModel != nil {
				forecasts[model] = wamModel.Forecast(futureYears)
			} else {
				forecasts[model] = make([]float64, len(futureYears))
			}
		case ModelTimeSeries:
			if tsResult != nil {
				forecasts[model] = tsResult.Forecast
			} else {
				forecasts[model] = make([]float64, len(futureYears))
			}
		}
	}

	report(reporter, CheckpointCombine, sector)
	combined := NewTableDoc(append(append([]int(nil), table.Years()...), futureYears...))
	elec, _ := table.Column(dataset.ColumnElectricity)
	combined.SetSparseColumn(dataset.ColumnElectricity, table.Years(), elec)
	for model, values := range forecasts {
		combined.SetSparseColumn(model, futureYears, values)
	}
	doc.Combined = combined

	doc.Correlations = p.correlations(table)

	report(reporter, CheckpointEvaluate, sector)
	doc.Evaluation = p.evaluate(table, sectorCfg, cfg, split,
		mlrVars, mlrModel, slrModel, trainYears, trainTargets, testYears, testTargets)

	result.Status = SectorSuccess
	result.Message = fmt.Sprintf("Forecast generated through %d with %d models", cfg.TargetYear, len(sectorCfg.Models))
	if len(doc.Warnings) > 0 {
		result.Message = fmt.Sprintf("%s (%d warnings)", result.Message, len(doc.Warnings))
	}
	result.Document = doc
	return result
}

// zeroFilledResult persists a zero-filled forecast over the full target
// range and reports the sector as a warning, not a failure.
func (p *Pipeline) zeroFilledResult(result *SectorProcessingResult, table *dataset.Table, cfg *JobConfig, sector string) *SectorProcessingResult {
	var years []int
	if table != nil {
		years = table.Years()
	}
	first := cfg.TargetYear
	if len(years) > 0 {
		first = years[len(years)-1] + 1
	}
	allYears := append(years, yearRange(first, cfg.TargetYear)...)

	doc := &SectorResultDoc{
		Sector:      sector,
		GeneratedAt: time.Now().UTC(),
		ModelsUsed:  result.ModelsUsed,
		Warnings:    []string{"sector has no usable Electricity data; forecasts zero-filled"},
		Combined:    NewTableDoc(allYears),
	}
	if table != nil {
		doc.Input = TableDocFrom(table)
	} else {
		doc.Input = NewTableDoc(nil)
	}
	zeros := make([]float64, len(allYears))
	for _, model := range result.ModelsUsed {
		doc.Combined.SetColumn(model, zeros)
	}

	result.Status = SectorWarning
	result.Message = "Sector lacks required data; zero-filled result persisted"
	result.Document = doc
	return result
}

// existingDataResult implements the short-circuit: historical data already
// covers the target year, so the series is echoed as user data and no model
// runs.
func (p *Pipeline) existingDataResult(result *SectorProcessingResult, table *dataset.Table, cfg *JobConfig, sector string) *SectorProcessingResult {
	truncated := table.FilterYears(func(y int) bool { return y <= cfg.TargetYear })
	elec, _ := truncated.Column(dataset.ColumnElectricity)

	doc := &SectorResultDoc{
		Sector:           sector,
		GeneratedAt:      time.Now().UTC(),
		UsedExistingData: true,
		ModelsUsed:       []string{UserDataColumn},
		Input:            TableDocFrom(table),
		Combined:         NewTableDoc(truncated.Years()),
	}
	doc.Combined.SetColumn(dataset.ColumnElectricity, elec)
	doc.Combined.SetColumn(UserDataColumn, elec)

	result.Status = SectorExistingData
	result.UsedExistingData = true
	result.ModelsUsed = []string{UserDataColumn}
	result.Message = fmt.Sprintf("Historical data already reaches %d; existing data used", cfg.TargetYear)
	result.Document = doc

	p.log.Info().Str("sector", sector).Int("target_year", cfg.TargetYear).Msg("Existing data short-circuit")
	return result
}

// trainLinearWithFallback runs the grid-searched fit, falling back to a
// default-parameter fit. Returns nil when both fail; the caller zero-fills.
func (p *Pipeline) trainLinearWithFallback(doc *SectorResultDoc, sector, name string, vars []string, rows [][]float64, targets []float64) *LinearModel {
	model, err := TrainLinear(vars, rows, targets)
	if err == nil {
		return model
	}
	p.log.Warn().Err(err).Str("sector", sector).Str("model", name).Msg("Grid-searched fit failed, trying default fit")

	model, err = FitOLS(vars, rows, targets, true)
	if err == nil {
		doc.Warnings = append(doc.Warnings, fmt.Sprintf("%s: grid search failed, default fit used", name))
		return model
	}
	p.log.Warn().Err(err).Str("sector", sector).Str("model", name).Msg("Default fit failed, forecasts will be zero-filled")
	doc.Warnings = append(doc.Warnings, fmt.Sprintf("%s: training failed, forecasts zero-filled", name))
	return nil
}

// forecastIndependentVars projects each MLR predictor over the future years
// so MLR can predict on them. Projection failures degrade to the column
// mean.
func (p *Pipeline) forecastIndependentVars(doc *SectorResultDoc, table *dataset.Table, vars []string, futureYears []int, sector string, mlrSelected bool) [][]float64 {
	if !mlrSelected || len(futureYears) == 0 {
		return nil
	}

	varDoc := NewTableDoc(futureYears)
	projected := make(map[string][]float64, len(vars))
	for _, v := range vars {
		if v == dataset.ColumnYear {
			continue
		}
		col, _ := table.Column(v)
		var years []int
		var values []float64
		for i, year := range table.Years() {
			if !math.IsNaN(col[i]) {
				years = append(years, year)
				values = append(values, col[i])
			}
		}

		ts, err := ForecastTimeSeries(years, values, futureYears)
		if err != nil {
			mean := table.Mean(v)
			p.log.Warn().Err(err).Str("sector", sector).Str("variable", v).Msg("Variable projection failed, using column mean")
			flat := make([]float64, len(futureYears))
			for i := range flat {
				flat[i] = mean
			}
			projected[v] = flat
		} else {
			projected[v] = ts.Forecast
		}
		varDoc.SetColumn(v, projected[v])
	}
	doc.VariableForecasts = varDoc

	rows := make([][]float64, len(futureYears))
	for i, year := range futureYears {
		row := make([]float64, len(vars))
		for j, v := range vars {
			if v == dataset.ColumnYear {
				row[j] = float64(year)
			} else {
				row[j] = projected[v][i]
			}
		}
		rows[i] = row
	}
	return rows
}

// correlations computes each candidate variable's correlation with the
// target, labeled by strength.
func (p *Pipeline) correlations(table *dataset.Table) []CorrelationEntry {
	elec, ok := table.Column(dataset.ColumnElectricity)
	if !ok {
		return nil
	}
	var entries []CorrelationEntry
	for _, name := range table.ColumnNames() {
		if name == dataset.ColumnElectricity {
			continue
		}
		col, _ := table.Column(name)
		r, ok := Correlation(col, elec)
		if !ok {
			continue
		}
		entries = append(entries, CorrelationEntry{
			Variable:    name,
			Correlation: r,
			Strength:    CorrelationStrength(r),
		})
	}
	return entries
}

// evaluate scores each selected model on the held-out test years. Models
// that cannot be evaluated (no test data, training failure) are skipped.
func (p *Pipeline) evaluate(table *dataset.Table, sectorCfg SectorModelConfig, cfg *JobConfig, split Split,
	mlrVars []string, mlrModel, slrModel *LinearModel,
	trainYears []int, trainTargets []float64, testYears []int, testTargets []float64) []Metrics {

	if len(testYears) == 0 {
		return nil
	}

	var out []Metrics
	for _, model := range sectorCfg.Models {
		switch model {
		case ModelMLR:
			if mlrModel != nil {
				preds := predictLinear(mlrModel, BuildDesignRows(table, mlrVars, testYears), len(testYears))
				out = append(out, Evaluate(model, testTargets, preds))
			}
		case ModelSLR:
			if slrModel != nil {
				preds := predictLinear(slrModel, yearRows(testYears), len(testYears))
				out = append(out, Evaluate(model, testTargets, preds))
			}
		case ModelWAM:
			trainTable := table.FilterYears(split.InTrain)
			wam, err := TrainWAM(trainTable, sectorCfg.EffectiveWindowSize(), cfg.ExcludeCovidYears)
			if err != nil {
				continue
			}
			out = append(out, Evaluate(model, testTargets, wam.Forecast(testYears)))
		case ModelTimeSeries:
			ts, err := ForecastTimeSeries(trainYears, trainTargets, testYears)
			if err != nil {
				continue
			}
			out = append(out, Evaluate(model, testTargets, ts.Forecast))
		}
	}
	return out
}

// predictLinear evaluates a linear model over rows, zero-filling when the
// model is nil (training failed through every fallback tier).
func predictLinear(model *LinearModel, rows [][]float64, n int) []float64 {
	out := make([]float64, n)
	if model == nil || rows == nil {
		return out
	}
	for i := range out {
		if i < len(rows) {
			out[i] = model.Predict(rows[i])
		}
	}
	return out
}

// yearRows builds single-predictor rows for SLR.
func yearRows(years []int) [][]float64 {
	rows := make([][]float64, len(years))
	for i, y := range years {
		rows[i] = []float64{float64(y)}
	}
	return rows
}

// yearRange returns [from, to] inclusive, empty when from > to.
func yearRange(from, to int) []int {
	if from > to {
		return nil
	}
	out := make([]int, 0, to-from+1)
	for y := from; y <= to; y++ {
		out = append(out, y)
	}
	return out
}
