package orchestrator

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkaravia/gridcast/internal/config"
	"github.com/mkaravia/gridcast/internal/dataset"
	"github.com/mkaravia/gridcast/internal/forecast"
	"github.com/mkaravia/gridcast/internal/jobs"
)

type staticProvider struct {
	ds *dataset.Dataset
}

func (p *staticProvider) Load() (*dataset.Dataset, error) {
	return p.ds, nil
}

func newTestOrchestrator(t *testing.T, ds *dataset.Dataset) (*Orchestrator, *jobs.Manager, string) {
	t.Helper()
	engine := &config.EngineConfig{
		MaxConcurrentJobs: 3,
		StallThreshold:    15 * time.Minute,
		MaxRuntime:        2 * time.Hour,
		Retention:         time.Hour,
		MaxAge:            4 * time.Hour,
	}
	dir := t.TempDir()
	manager := jobs.NewManager(engine, zerolog.Nop())
	store := NewStore(dir, zerolog.Nop())
	orch := New(manager, &staticProvider{ds: ds}, store, engine, nil, nil, zerolog.Nop())
	return orch, manager, dir
}

func waitForTerminal(t *testing.T, manager *jobs.Manager, jobID string) *jobs.JobView {
	t.Helper()
	var view *jobs.JobView
	require.Eventually(t, func() bool {
		v, ok := manager.GetJob(jobID)
		if !ok {
			return false
		}
		view = v
		return v.Status.IsTerminal()
	}, 10*time.Second, 10*time.Millisecond, "job never reached a terminal state")
	return view
}

func TestSubmit_FullRunToCompletion(t *testing.T) {
	ds := testDataset()
	orch, manager, dir := newTestOrchestrator(t, ds)

	jobID, err := orch.Submit(validConfig())
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	view := waitForTerminal(t, manager, jobID)
	assert.Equal(t, jobs.StatusCompleted, view.Status)
	assert.Equal(t, 100, view.Progress)
	assert.Equal(t, []string{"Domestic"}, view.SectorsCompleted)
	assert.Empty(t, view.SectorsFailed)
	assert.Equal(t, 1, view.ProcessedSectors)

	// All four artifacts exist in the scenario directory
	scenarioDir := filepath.Join(dir, "Base25")
	for _, name := range []string{ConfigFileName, SummaryFileName, MetadataFileName, "Domestic_result.json"} {
		_, err := os.Stat(filepath.Join(scenarioDir, name))
		assert.NoError(t, err, "artifact %s must exist", name)
	}

	// WAM forecast covers 2024 through 2037
	doc, err := orch.store.LoadSectorResult("Base25", "Domestic")
	require.NoError(t, err)
	wam := doc.Combined.Columns[forecast.ModelWAM]
	forecasted := 0
	for i, year := range doc.Combined.Years {
		if year >= 2024 && year <= 2037 && wam[i] != nil {
			forecasted++
		}
	}
	assert.Equal(t, 14, forecasted)

	// Summary is readable through the scenario lookup
	artifacts, err := orch.LoadScenario("Base25")
	require.NoError(t, err)
	require.NotNil(t, artifacts.Summary)
	assert.Equal(t, 1, artifacts.Summary.SectorsCompleted)
	assert.Equal(t, string(jobs.StatusCompleted), artifacts.Summary.Status)
	assert.Equal(t, []string{"Domestic_result.json"}, artifacts.SectorFiles)
}

func TestSubmit_ExistingDataOutcome(t *testing.T) {
	// Sector data reaches 2040; target 2037 short-circuits to existing data.
	years := make([]int, 31)
	elec := make([]float64, 31)
	for i := range years {
		years[i] = 2010 + i
		elec[i] = 1000 + 10*float64(i)
	}
	table := dataset.NewTable(years)
	table.SetColumn(dataset.ColumnElectricity, elec)
	ds := &dataset.Dataset{
		Sectors:      []string{"Domestic"},
		SectorTables: map[string]*dataset.Table{"Domestic": table},
	}

	orch, manager, _ := newTestOrchestrator(t, ds)
	jobID, err := orch.Submit(validConfig())
	require.NoError(t, err)

	view := waitForTerminal(t, manager, jobID)
	assert.Equal(t, jobs.StatusCompleted, view.Status)
	assert.Equal(t, []string{"Domestic"}, view.SectorsExistingData)
	assert.Empty(t, view.SectorsCompleted)
}

func TestSubmit_ValidationRejectsWithoutCreatingJob(t *testing.T) {
	orch, manager, _ := newTestOrchestrator(t, testDataset())

	cfg := validConfig()
	cfg.SectorConfigs = map[string]forecast.SectorModelConfig{
		"Nonexistent": {Models: []string{forecast.ModelWAM}, WindowSize: 5},
	}

	jobID, err := orch.Submit(cfg)
	require.Error(t, err)
	assert.Empty(t, jobID)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.NotEmpty(t, verrs)

	assert.Equal(t, 0, manager.GetJobsSummary().TotalJobs, "no job is created on validation failure")
}

func TestSubmit_ConcurrencyCeiling(t *testing.T) {
	orch, manager, _ := newTestOrchestrator(t, testDataset())
	orch.engine.MaxConcurrentJobs = 1

	// Pin the single slot with a job the orchestrator believes is active.
	_, err := manager.CreateJob("occupied", nil, 1)
	require.NoError(t, err)

	_, err = orch.Submit(validConfig())
	assert.ErrorIs(t, err, ErrTooManyJobs)
}

func TestSubmit_MultiSectorPartialFailureStillCompletes(t *testing.T) {
	ds := testDataset()
	// A declared sector with no table triggers a warning outcome, which
	// still counts toward completion.
	empty := dataset.NewTable([]int{2020, 2021})
	empty.SetColumn("GDP", []float64{1, 2})
	ds.Sectors = append(ds.Sectors, "Industrial")
	ds.SectorTables["Industrial"] = empty

	orch, manager, _ := newTestOrchestrator(t, ds)
	cfg := validConfig()
	cfg.SectorConfigs["Industrial"] = forecast.SectorModelConfig{Models: []string{forecast.ModelSLR}}

	jobID, err := orch.Submit(cfg)
	require.NoError(t, err)

	view := waitForTerminal(t, manager, jobID)
	assert.Equal(t, jobs.StatusCompleted, view.Status, "partial degradation does not fail the batch")
	assert.ElementsMatch(t, []string{"Domestic", "Industrial"}, view.SectorsCompleted)
}

type recordingObserver struct {
	summaries chan *RunSummary
}

func (r *recordingObserver) RecordRun(summary *RunSummary) {
	r.summaries <- summary
}

func TestSubmit_ObserverReceivesSummary(t *testing.T) {
	orch, manager, _ := newTestOrchestrator(t, testDataset())
	obs := &recordingObserver{summaries: make(chan *RunSummary, 1)}
	orch.observer = obs

	jobID, err := orch.Submit(validConfig())
	require.NoError(t, err)
	waitForTerminal(t, manager, jobID)

	select {
	case summary := <-obs.summaries:
		assert.Equal(t, jobID, summary.JobID)
		assert.Equal(t, "Base25", summary.Scenario)
		assert.Equal(t, 1, summary.SectorsCompleted)
	case <-time.After(5 * time.Second):
		t.Fatal("observer was never notified")
	}
}

// gatedProcessor blocks inside the first sector until released, then
// returns canned successful results. Sector order is recorded so tests can
// assert which sectors actually ran.
type gatedProcessor struct {
	started chan string
	release chan struct{}

	mu      sync.Mutex
	sectors []string
}

func (p *gatedProcessor) ProcessSector(sector string, table *dataset.Table, cfg *forecast.JobConfig, sectorCfg forecast.SectorModelConfig, reporter forecast.Reporter) *forecast.SectorProcessingResult {
	p.mu.Lock()
	p.sectors = append(p.sectors, sector)
	first := len(p.sectors) == 1
	p.mu.Unlock()

	if first {
		p.started <- sector
		<-p.release
	}

	return &forecast.SectorProcessingResult{
		Sector:   sector,
		Status:   forecast.SectorSuccess,
		Message:  "Forecast generated",
		Document: &forecast.SectorResultDoc{Sector: sector},
	}
}

func (p *gatedProcessor) processed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sectors...)
}

func TestSubmit_CancellationAtSectorBoundary(t *testing.T) {
	ds := testDataset()
	ds.Sectors = append(ds.Sectors, "Industrial")
	ds.SectorTables["Industrial"] = ds.SectorTables["Domestic"].Clone()

	orch, manager, dir := newTestOrchestrator(t, ds)
	proc := &gatedProcessor{started: make(chan string, 1), release: make(chan struct{})}
	orch.pipeline = proc
	obs := &recordingObserver{summaries: make(chan *RunSummary, 1)}
	orch.observer = obs

	cfg := validConfig()
	cfg.SectorConfigs["Industrial"] = forecast.SectorModelConfig{Models: []string{forecast.ModelWAM}, WindowSize: 5}

	jobID, err := orch.Submit(cfg)
	require.NoError(t, err)

	// Cancel while the first sector is still in flight. It finishes; the
	// batch halts at the next sector boundary.
	require.Equal(t, "Domestic", <-proc.started)
	require.True(t, manager.CancelJob(jobID))
	close(proc.release)

	var summary *RunSummary
	select {
	case summary = <-obs.summaries:
	case <-time.After(10 * time.Second):
		t.Fatal("observer was never notified of the cancelled run")
	}
	assert.Equal(t, string(jobs.StatusCancelled), summary.Status)
	assert.Equal(t, 1, summary.SectorsCompleted)
	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, "Domestic", summary.Outcomes[0].Sector)

	assert.Equal(t, []string{"Domestic"}, proc.processed(), "remaining sectors are skipped")

	view, ok := manager.GetJob(jobID)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusCancelled, view.Status)
	assert.Contains(t, view.Message, "Domestic", "completed sectors are reported on the cancelled job")
	assert.Equal(t, []string{"Domestic"}, view.SectorsCompleted)

	// The finished sector's artifact stays on disk; the skipped one was
	// never written.
	_, err = os.Stat(filepath.Join(dir, "Base25", "Domestic_result.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "Base25", "Industrial_result.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestSubmit_SnapshotFailureRecordsFailedRun(t *testing.T) {
	orch, manager, _ := newTestOrchestrator(t, testDataset())
	obs := &recordingObserver{summaries: make(chan *RunSummary, 1)}
	orch.observer = obs

	// A plain file where the artifact root should be makes every write fail.
	blocked := filepath.Join(t.TempDir(), "artifacts")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0644))
	orch.store = NewStore(blocked, zerolog.Nop())

	jobID, err := orch.Submit(validConfig())
	require.NoError(t, err)

	view := waitForTerminal(t, manager, jobID)
	assert.Equal(t, jobs.StatusFailed, view.Status)

	select {
	case summary := <-obs.summaries:
		assert.Equal(t, string(jobs.StatusFailed), summary.Status)
		assert.Equal(t, jobID, summary.JobID)
		assert.Equal(t, 0, summary.SectorsCompleted)
	case <-time.After(5 * time.Second):
		t.Fatal("observer was never notified of the failed run")
	}
}

func TestLoadScenario_Unknown(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, testDataset())
	_, err := orch.LoadScenario("never-ran")
	assert.Error(t, err)
}

func TestSanitizeScenarioName(t *testing.T) {
	assert.Equal(t, "Base_Case_25", sanitizeScenarioName("Base Case 25"))
	assert.Equal(t, "basecase", sanitizeScenarioName("base/../case"))
	assert.Equal(t, "unnamed", sanitizeScenarioName("!!!"))
}
