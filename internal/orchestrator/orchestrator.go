package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mkaravia/gridcast/internal/config"
	"github.com/mkaravia/gridcast/internal/dataset"
	"github.com/mkaravia/gridcast/internal/forecast"
	"github.com/mkaravia/gridcast/internal/jobs"
)

// ErrTooManyJobs signals the concurrency ceiling was reached. Alias of the
// manager's sentinel so transport code can match either package.
var ErrTooManyJobs = jobs.ErrTooManyJobs

// Backuper uploads a scenario's artifact directory after a run finishes.
// Optional; a nil Backuper disables backup.
type Backuper interface {
	BackupScenario(ctx context.Context, scenario, dir string) error
}

// RunObserver is notified when a job reaches a terminal state. Used to
// record run history; optional.
type RunObserver interface {
	RecordRun(summary *RunSummary)
}

// sectorProcessor runs the forecasting pipeline for one sector. Narrow
// interface so tests can substitute a controllable processor.
type sectorProcessor interface {
	ProcessSector(sector string, table *dataset.Table, cfg *forecast.JobConfig, sectorCfg forecast.SectorModelConfig, reporter forecast.Reporter) *forecast.SectorProcessingResult
}

// Orchestrator validates submissions and drives batch runs. Each accepted
// job gets one worker goroutine; sectors within a job run sequentially.
type Orchestrator struct {
	manager  *jobs.Manager
	provider dataset.Provider
	store    *Store
	pipeline sectorProcessor
	engine   *config.EngineConfig
	backup   Backuper
	observer RunObserver
	log      zerolog.Logger
}

// New creates an orchestrator. backup and observer may be nil.
func New(manager *jobs.Manager, provider dataset.Provider, store *Store, engine *config.EngineConfig, backup Backuper, observer RunObserver, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		manager:  manager,
		provider: provider,
		store:    store,
		pipeline: forecast.NewPipeline(log),
		engine:   engine,
		backup:   backup,
		observer: observer,
		log:      log.With().Str("component", "orchestrator").Logger(),
	}
}

// Submit validates the configuration and, when accepted, starts the run on
// a dedicated worker goroutine. Returns the job id for polling.
// Returns ValidationErrors for invalid input and ErrTooManyJobs past the
// concurrency ceiling.
func (o *Orchestrator) Submit(cfg *forecast.JobConfig) (string, error) {
	ds, err := o.provider.Load()
	if err != nil {
		return "", fmt.Errorf("failed to load input data: %w", err)
	}

	if errs := ValidateConfig(cfg, ds); errs.HasErrors() {
		return "", errs
	}

	if cfg.RequestedAt.IsZero() {
		cfg.RequestedAt = time.Now().UTC()
	}

	// The ceiling check and the insert happen under one manager lock hold
	// so concurrent submissions cannot all slip under the limit.
	jobID := uuid.New().String()
	if _, err := o.manager.CreateJobLimited(jobID, cfg, len(cfg.SectorConfigs), o.engine.MaxConcurrentJobs); err != nil {
		if errors.Is(err, ErrTooManyJobs) {
			return "", err
		}
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	o.log.Info().
		Str("job_id", jobID).
		Str("scenario", cfg.ScenarioName).
		Int("sectors", len(cfg.SectorConfigs)).
		Int("target_year", cfg.TargetYear).
		Msg("Forecast job accepted")

	go o.runJob(jobID, cfg, ds)
	return jobID, nil
}

// LoadScenario reads back the persisted artifacts for a scenario name.
func (o *Orchestrator) LoadScenario(scenario string) (*ScenarioArtifacts, error) {
	return o.store.LoadScenario(scenario)
}

// LoadSectorResultFor reads back one sector's persisted result document.
func (o *Orchestrator) LoadSectorResultFor(scenario, sector string) (*forecast.SectorResultDoc, error) {
	return o.store.LoadSectorResult(scenario, sector)
}

// runJob is the worker loop for one job. Sector failures are recorded and
// the batch continues; only a snapshot or summary persistence failure fails
// the whole job. Every terminal path notifies the observer exactly once so
// run history sees cancelled and failed runs too.
func (o *Orchestrator) runJob(jobID string, cfg *forecast.JobConfig, ds *dataset.Dataset) {
	started := time.Now().UTC()
	var results []*forecast.SectorProcessingResult

	recorded := false
	record := func(summary *RunSummary) {
		if recorded || summary == nil {
			return
		}
		recorded = true
		if o.observer != nil {
			o.observer.RecordRun(summary)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Str("job_id", jobID).Interface("panic", r).Msg("Job worker panicked")
			o.failJob(jobID, fmt.Sprintf("internal error: %v", r))
			record(o.terminalSummary(jobID, cfg, results, started, jobs.StatusFailed))
		}
	}()

	o.updateStatus(jobID, jobs.StatusRunning, 1, "Persisting configuration snapshot")

	// The snapshot must be durable before any sector runs, even if the run
	// later fails.
	snapshot := o.buildSnapshot(jobID, cfg, ds)
	if err := o.store.WriteConfigSnapshot(cfg.ScenarioName, snapshot); err != nil {
		o.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to persist configuration snapshot")
		o.failJob(jobID, fmt.Sprintf("failed to persist configuration snapshot: %v", err))
		record(o.terminalSummary(jobID, cfg, nil, started, jobs.StatusFailed))
		return
	}

	sectors := cfg.SectorNames()
	cancelled := false

	for i, sector := range sectors {
		// Cooperative cancellation: observed only at sector boundaries.
		// A sector already in flight completes before the batch halts.
		if o.manager.IsCancelled(jobID) {
			cancelled = true
			o.log.Info().Str("job_id", jobID).Str("sector", sector).Msg("Cancellation observed, aborting remaining sectors")
			break
		}

		reporter := o.progressReporter(jobID, i, len(sectors))
		result := o.processSectorSafe(sector, ds.SectorTables[sector], cfg, reporter)

		if result.Status != forecast.SectorFailed && result.Document != nil {
			reporter(forecast.CheckpointPersist.Percent, sector, forecast.CheckpointPersist.Message)
			if err := o.store.WriteSectorResult(cfg.ScenarioName, sector, result.Document); err != nil {
				o.log.Error().Err(err).Str("job_id", jobID).Str("sector", sector).Msg("Failed to persist sector result")
				result.Status = forecast.SectorFailed
				result.Error = fmt.Sprintf("failed to persist result: %v", err)
			}
		}
		reporter(forecast.CheckpointDone.Percent, sector, forecast.CheckpointDone.Message)

		o.manager.MarkSectorResult(jobID, sector, outcomeOf(result.Status), result.ProcessingTime)
		results = append(results, result)
	}

	finished := time.Now().UTC()

	if cancelled {
		o.finishCancelled(jobID, results)
		record(o.terminalSummary(jobID, cfg, results, started, jobs.StatusCancelled))
		return
	}

	summary := o.buildSummary(jobID, cfg, results, started, finished)
	failed := summary.SectorsFailed
	allFailed := len(sectors) > 0 && failed == len(sectors)
	if allFailed {
		summary.Status = string(jobs.StatusFailed)
	} else {
		summary.Status = string(jobs.StatusCompleted)
	}

	if err := o.store.WriteSummary(cfg.ScenarioName, summary); err != nil {
		o.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to persist run summary")
		o.failJob(jobID, fmt.Sprintf("failed to persist run summary: %v", err))
		record(o.terminalSummary(jobID, cfg, results, started, jobs.StatusFailed))
		return
	}
	meta := BuildExecutionMetadata(jobID, cfg.ScenarioName, started, finished, ds)
	if err := o.store.WriteExecutionMetadata(cfg.ScenarioName, meta); err != nil {
		// Metadata is auxiliary; the run result stands without it.
		o.log.Warn().Err(err).Str("job_id", jobID).Msg("Failed to persist execution metadata")
	}

	if allFailed {
		o.failJob(jobID, "all sectors failed")
	} else {
		status := jobs.StatusCompleted
		msg := fmt.Sprintf("Forecast complete: %d succeeded, %d existing data, %d failed",
			summary.SectorsCompleted, summary.SectorsExistingData, failed)
		o.manager.UpdateJob(jobID, jobs.Update{
			Status:   &status,
			Progress: intPtr(100),
			Message:  &msg,
			Result: map[string]string{
				"config_artifact":  ConfigFileName,
				"summary_artifact": SummaryFileName,
				"scenario":         cfg.ScenarioName,
			},
		})
	}

	record(summary)
	o.runBackup(cfg.ScenarioName)

	o.log.Info().
		Str("job_id", jobID).
		Str("scenario", cfg.ScenarioName).
		Dur("duration", finished.Sub(started)).
		Bool("all_failed", allFailed).
		Msg("Forecast job finished")
}

// processSectorSafe runs the pipeline, converting a panic into a failed
// sector outcome so the batch continues.
func (o *Orchestrator) processSectorSafe(sector string, table *dataset.Table, cfg *forecast.JobConfig, reporter forecast.Reporter) (result *forecast.SectorProcessingResult) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Str("sector", sector).Interface("panic", r).Msg("Sector pipeline panicked")
			result = &forecast.SectorProcessingResult{
				Sector:  sector,
				Status:  forecast.SectorFailed,
				Message: "Sector processing failed",
				Error:   fmt.Sprintf("%v", r),
			}
		}
	}()
	return o.pipeline.ProcessSector(sector, table, cfg, cfg.SectorConfigs[sector], reporter)
}

// progressReporter maps a sector pipeline's 0-100 callbacks into the job's
// overall progress band. Snapshot persistence owns 0-5%; sectors share the
// remaining 95%.
func (o *Orchestrator) progressReporter(jobID string, index, total int) forecast.Reporter {
	return func(percent int, sector, message string) {
		overall := 5 + int(math.Floor(95.0*(float64(index)+float64(percent)/100.0)/float64(total)))
		if overall > 100 {
			overall = 100
		}
		msg := fmt.Sprintf("%s: %s", sector, message)
		o.manager.UpdateJob(jobID, jobs.Update{
			Progress:      &overall,
			Message:       &msg,
			CurrentSector: &sector,
		})
	}
}

func (o *Orchestrator) buildSnapshot(jobID string, cfg *forecast.JobConfig, ds *dataset.Dataset) *ConfigSnapshot {
	coverage := make(map[string]SectorCoverage, len(cfg.SectorConfigs))
	for sector := range cfg.SectorConfigs {
		table, ok := ds.SectorTables[sector]
		if !ok {
			continue
		}
		years := table.Years()
		cov := SectorCoverage{
			ObservedYears:  table.ObservedCount(dataset.ColumnElectricity),
			Columns:        table.ColumnNames(),
			HasElectricity: table.HasColumn(dataset.ColumnElectricity),
		}
		if len(years) > 0 {
			cov.FirstYear = years[0]
			cov.LastYear = years[len(years)-1]
		}
		coverage[sector] = cov
	}

	return &ConfigSnapshot{
		JobID:              jobID,
		Config:             cfg,
		DataSourcePath:     ds.SourcePath,
		DataSourceModified: ds.SourceModified,
		AvailableSectors:   ds.Sectors,
		MissingSectors:     ds.MissingSectors,
		Coverage:           coverage,
		CreatedAt:          time.Now().UTC(),
	}
}

func (o *Orchestrator) buildSummary(jobID string, cfg *forecast.JobConfig, results []*forecast.SectorProcessingResult, started, finished time.Time) *RunSummary {
	summary := &RunSummary{
		JobID:         jobID,
		Scenario:      cfg.ScenarioName,
		TargetYear:    cfg.TargetYear,
		ModelUsage:    make(map[string]int),
		StartedAt:     started,
		FinishedAt:    finished,
		TotalDuration: finished.Sub(started),
	}

	var totalSectorTime time.Duration
	for _, r := range results {
		switch r.Status {
		case forecast.SectorExistingData:
			summary.SectorsExistingData++
		case forecast.SectorFailed:
			summary.SectorsFailed++
		default:
			summary.SectorsCompleted++
		}
		for _, model := range r.ModelsUsed {
			summary.ModelUsage[model]++
		}
		totalSectorTime += r.ProcessingTime
		summary.Outcomes = append(summary.Outcomes, SectorOutcomeSummary{
			Sector:         r.Sector,
			Status:         string(r.Status),
			Message:        r.Message,
			ModelsUsed:     r.ModelsUsed,
			Error:          r.Error,
			ProcessingTime: r.ProcessingTime,
		})
	}
	if len(results) > 0 {
		summary.AverageSectorTime = totalSectorTime / time.Duration(len(results))
	}
	return summary
}

// terminalSummary builds a run summary for a non-completion terminal path,
// carrying whatever sector outcomes accumulated before the run stopped.
func (o *Orchestrator) terminalSummary(jobID string, cfg *forecast.JobConfig, results []*forecast.SectorProcessingResult, started time.Time, status jobs.Status) *RunSummary {
	summary := o.buildSummary(jobID, cfg, results, started, time.Now().UTC())
	summary.Status = string(status)
	return summary
}

// finishCancelled records which sectors finished before cancellation took
// effect. The status is already CANCELLED; only the message changes.
func (o *Orchestrator) finishCancelled(jobID string, results []*forecast.SectorProcessingResult) {
	var done []string
	for _, r := range results {
		if r.Status != forecast.SectorFailed {
			done = append(done, r.Sector)
		}
	}
	msg := "Job cancelled before any sector completed"
	if len(done) > 0 {
		msg = fmt.Sprintf("Job cancelled; sectors completed before cancellation: %s", strings.Join(done, ", "))
	}
	o.manager.UpdateJob(jobID, jobs.Update{Message: &msg})
}

func (o *Orchestrator) failJob(jobID, errMsg string) {
	status := jobs.StatusFailed
	msg := "Job failed: " + errMsg
	o.manager.UpdateJob(jobID, jobs.Update{
		Status:  &status,
		Message: &msg,
		Error:   &errMsg,
	})
}

func (o *Orchestrator) updateStatus(jobID string, status jobs.Status, progress int, message string) {
	o.manager.UpdateJob(jobID, jobs.Update{
		Status:   &status,
		Progress: &progress,
		Message:  &message,
	})
}

// runBackup uploads the scenario directory when backup is configured.
// Failures are logged, never surfaced to the job.
func (o *Orchestrator) runBackup(scenario string) {
	if o.backup == nil {
		return
	}
	dir, err := o.store.ScenarioDir(scenario)
	if err != nil {
		o.log.Warn().Err(err).Str("scenario", scenario).Msg("Backup skipped, scenario directory unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := o.backup.BackupScenario(ctx, scenario, dir); err != nil {
		o.log.Warn().Err(err).Str("scenario", scenario).Msg("Scenario backup failed")
	}
}

func outcomeOf(status forecast.SectorStatus) jobs.SectorOutcome {
	switch status {
	case forecast.SectorExistingData:
		return jobs.OutcomeExistingData
	case forecast.SectorFailed:
		return jobs.OutcomeFailed
	default:
		// success and warning both count as completed
		return jobs.OutcomeCompleted
	}
}

func intPtr(v int) *int { return &v }
