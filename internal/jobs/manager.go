package jobs

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkaravia/gridcast/internal/config"
)

// ErrTooManyJobs signals the active-job ceiling was reached. Retryable:
// the caller should resubmit once a running job finishes.
var ErrTooManyJobs = errors.New("too many concurrent forecast jobs")

// Manager is the single source of truth for job state. All access goes
// through one mutex; the lock covers only in-memory mutation, never disk
// I/O or model training.
type Manager struct {
	mu   sync.Mutex
	jobs map[string]*JobRecord
	cfg  *config.EngineConfig
	log  zerolog.Logger

	now func() time.Time // injectable clock for tests
}

// NewManager creates a job manager with the given engine thresholds.
func NewManager(cfg *config.EngineConfig, log zerolog.Logger) *Manager {
	return &Manager{
		jobs: make(map[string]*JobRecord),
		cfg:  cfg,
		log:  log.With().Str("component", "job_manager").Logger(),
		now:  time.Now,
	}
}

// CreateJob initializes a record in STARTING state. The id must be fresh;
// a collision is a caller bug, not a condition to recover from.
func (m *Manager) CreateJob(id string, configuration any, totalSectors int) (*JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(id, configuration, totalSectors)
}

// CreateJobLimited creates a record like CreateJob, but counts jobs in
// STARTING or RUNNING state and inserts under a single lock hold. Checking
// the ceiling and inserting in separate calls would let concurrent
// submissions race past the limit.
func (m *Manager) CreateJobLimited(id string, configuration any, totalSectors, ceiling int) (*JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	for _, record := range m.jobs {
		if record.Status == StatusStarting || record.Status == StatusRunning {
			active++
		}
	}
	if active >= ceiling {
		return nil, ErrTooManyJobs
	}
	return m.createLocked(id, configuration, totalSectors)
}

// createLocked does the insertion. Caller holds the lock.
func (m *Manager) createLocked(id string, configuration any, totalSectors int) (*JobRecord, error) {
	if _, exists := m.jobs[id]; exists {
		return nil, fmt.Errorf("job %s already exists", id)
	}

	now := m.now()
	record := &JobRecord{
		ID:            id,
		Status:        StatusStarting,
		Message:       "Job created",
		TotalSectors:  totalSectors,
		StartTime:     now,
		LastUpdate:    now,
		Configuration: configuration,
	}
	record.appendLog(now, "Job created")
	m.jobs[id] = record

	m.log.Info().Str("job_id", id).Int("total_sectors", totalSectors).Msg("Job created")
	return record.clone(), nil
}

// Update describes a partial mutation of a job record. Nil pointer fields
// are left untouched.
type Update struct {
	Status        *Status
	Progress      *int
	AllowRollback bool // permit progress to move backward
	Message       *string
	CurrentSector *string
	Result        any
	Error         *string
}

// UpdateJob merges the update into the record. Returns false for unknown
// ids; workers race with the cleanup sweep, so a missing job is a no-op.
func (m *Manager) UpdateJob(id string, u Update) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.jobs[id]
	if !ok {
		m.log.Debug().Str("job_id", id).Msg("Update for unknown job ignored")
		return false
	}

	now := m.now()

	if u.Status != nil && *u.Status != record.Status {
		if record.Status.IsTerminal() {
			m.log.Warn().
				Str("job_id", id).
				Str("from", string(record.Status)).
				Str("to", string(*u.Status)).
				Msg("Ignoring status transition out of terminal state")
		} else {
			record.Status = *u.Status
		}
	}

	progressChanged := false
	if u.Progress != nil {
		p := *u.Progress
		if p < 0 {
			p = 0
		}
		if p > 100 {
			p = 100
		}
		// Stale delayed updates must not move progress backward.
		if p > record.Progress || u.AllowRollback {
			if p != record.Progress {
				progressChanged = true
			}
			record.Progress = p
		}
	}

	if u.CurrentSector != nil {
		record.CurrentSector = *u.CurrentSector
	}
	if u.Result != nil {
		record.Result = u.Result
	}
	if u.Error != nil {
		record.Error = *u.Error
	}

	if u.Message != nil && *u.Message != record.Message {
		record.Message = *u.Message
		record.appendLog(now, *u.Message)
	}
	if progressChanged {
		record.appendProgress(now, record.Progress, record.Message)
	}

	record.LastUpdate = now
	return true
}

// MarkSectorResult classifies a sector into exactly one outcome set,
// removing it from the other two if re-classified, and accumulates the
// per-sector timing aggregates.
func (m *Manager) MarkSectorResult(id, sector string, outcome SectorOutcome, processingTime time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.jobs[id]
	if !ok {
		m.log.Debug().Str("job_id", id).Msg("Sector result for unknown job ignored")
		return false
	}

	record.SectorsCompleted = remove(record.SectorsCompleted, sector)
	record.SectorsExistingData = remove(record.SectorsExistingData, sector)
	record.SectorsFailed = remove(record.SectorsFailed, sector)

	switch outcome {
	case OutcomeCompleted:
		record.SectorsCompleted = append(record.SectorsCompleted, sector)
	case OutcomeExistingData:
		record.SectorsExistingData = append(record.SectorsExistingData, sector)
	case OutcomeFailed:
		record.SectorsFailed = append(record.SectorsFailed, sector)
	}

	record.ProcessedSectors = len(record.SectorsCompleted) +
		len(record.SectorsExistingData) +
		len(record.SectorsFailed)

	if processingTime > 0 {
		record.Performance.TotalProcessingTime += processingTime
		record.Performance.SectorsTimed++
		record.Performance.AverageProcessingTime =
			record.Performance.TotalProcessingTime / time.Duration(record.Performance.SectorsTimed)
	}

	record.LastUpdate = m.now()
	return true
}

// GetJob returns an enriched snapshot of the job, or false for unknown ids.
// A RUNNING job past the absolute runtime ceiling is transitioned to FAILED
// here so timeouts surface on the next poll rather than the next sweep tick.
func (m *Manager) GetJob(id string) (*JobView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.jobs[id]
	if !ok {
		return nil, false
	}

	now := m.now()
	if record.Status == StatusRunning && now.Sub(record.StartTime) > m.cfg.MaxRuntime {
		record.Status = StatusFailed
		record.Error = fmt.Sprintf("exceeded max runtime of %s", FormatDuration(m.cfg.MaxRuntime))
		record.Message = "Job failed: exceeded max runtime"
		record.appendLog(now, record.Message)
		record.LastUpdate = now
		m.log.Warn().Str("job_id", id).Msg("Job exceeded max runtime, marked failed")
	}

	return m.buildView(record, now), true
}

// buildView computes the derived fields. Caller holds the lock.
func (m *Manager) buildView(record *JobRecord, now time.Time) *JobView {
	view := &JobView{JobRecord: *record.clone()}

	end := now
	if record.Status.IsTerminal() {
		end = record.LastUpdate
	}
	view.Elapsed = end.Sub(record.StartTime)
	view.ElapsedHuman = FormatDuration(view.Elapsed)

	if record.Status == StatusRunning && record.Progress > 0 {
		remaining := time.Duration(float64(view.Elapsed) * (100.0/float64(record.Progress) - 1.0))
		view.EstimatedRemaining = &remaining
		view.RemainingHuman = FormatDuration(remaining)
	}

	if record.TotalSectors > 0 {
		total := float64(record.TotalSectors)
		view.CompletionRate = float64(record.ProcessedSectors) / total
		view.SuccessRate = float64(len(record.SectorsCompleted)+len(record.SectorsExistingData)) / total
		view.FailureRate = float64(len(record.SectorsFailed)) / total
	}

	return view
}

// CancelJob transitions STARTING or RUNNING to CANCELLED. Returns false
// for any other current status; cancelling a finished job is a no-op.
func (m *Manager) CancelJob(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.jobs[id]
	if !ok {
		return false
	}
	if record.Status != StatusStarting && record.Status != StatusRunning {
		return false
	}

	now := m.now()
	record.Status = StatusCancelled
	record.Message = "Job cancelled by user"
	record.appendLog(now, record.Message)
	record.LastUpdate = now

	m.log.Info().Str("job_id", id).Msg("Job cancelled")
	return true
}

// IsCancelled reports whether the job has been cancelled. Workers check
// this at sector boundaries; an unknown (cleaned-up) job counts as
// cancelled so the worker stops doing useless work.
func (m *Manager) IsCancelled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.jobs[id]
	if !ok {
		return true
	}
	return record.Status == StatusCancelled
}

// ActiveJobs returns the number of jobs in STARTING or RUNNING state.
func (m *Manager) ActiveJobs() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, record := range m.jobs {
		if record.Status == StatusStarting || record.Status == StatusRunning {
			n++
		}
	}
	return n
}

// Summary is the aggregate view across all tracked jobs.
type Summary struct {
	TotalJobs             int            `json:"total_jobs"`
	CountsByStatus        map[Status]int `json:"counts_by_status"`
	AverageProcessingTime time.Duration  `json:"average_processing_time_ms"`
	RecentJobs            []*JobView     `json:"recent_jobs"`
}

const summaryRecentJobs = 10

// GetJobsSummary returns counts by status, average completed-job duration,
// and the most recent jobs sorted by start time descending.
func (m *Manager) GetJobsSummary() *Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	summary := &Summary{
		TotalJobs:      len(m.jobs),
		CountsByStatus: make(map[Status]int),
	}

	var completedTotal time.Duration
	completed := 0
	records := make([]*JobRecord, 0, len(m.jobs))
	for _, record := range m.jobs {
		summary.CountsByStatus[record.Status]++
		if record.Status == StatusCompleted {
			completedTotal += record.LastUpdate.Sub(record.StartTime)
			completed++
		}
		records = append(records, record)
	}
	if completed > 0 {
		summary.AverageProcessingTime = completedTotal / time.Duration(completed)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartTime.After(records[j].StartTime)
	})
	limit := len(records)
	if limit > summaryRecentJobs {
		limit = summaryRecentJobs
	}
	for _, record := range records[:limit] {
		summary.RecentJobs = append(summary.RecentJobs, m.buildView(record, now))
	}

	return summary
}

// CleanupOldJobs removes jobs past the absolute age ceiling regardless of
// status, and terminal jobs past the retention window. Returns the number
// of jobs removed.
func (m *Manager) CleanupOldJobs() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, record := range m.jobs {
		age := now.Sub(record.StartTime)
		idle := now.Sub(record.LastUpdate)

		switch {
		case age > m.cfg.MaxAge:
			delete(m.jobs, id)
			removed++
			m.log.Info().
				Str("job_id", id).
				Str("status", string(record.Status)).
				Dur("age", age).
				Msg("Removed job past absolute age ceiling")
		case record.Status.IsTerminal() && idle > m.cfg.Retention:
			delete(m.jobs, id)
			removed++
			m.log.Debug().
				Str("job_id", id).
				Str("status", string(record.Status)).
				Msg("Removed terminal job past retention window")
		}
	}
	return removed
}

// CheckStalledJobs marks RUNNING/STARTING jobs with no update inside the
// stall threshold as FAILED. Detects worker threads that died without
// reporting. Returns the number of jobs reclassified.
func (m *Manager) CheckStalledJobs() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stalled := 0
	for id, record := range m.jobs {
		if record.Status != StatusRunning && record.Status != StatusStarting {
			continue
		}
		idle := now.Sub(record.LastUpdate)
		if idle <= m.cfg.StallThreshold {
			continue
		}
		record.Status = StatusFailed
		record.Error = fmt.Sprintf("job stalled: no progress for %s", FormatDuration(idle))
		record.Message = "Job failed: stalled"
		record.appendLog(now, record.Message)
		record.LastUpdate = now
		stalled++
		m.log.Warn().Str("job_id", id).Dur("idle", idle).Msg("Stalled job marked failed")
	}
	return stalled
}

func remove(list []string, item string) []string {
	for i, v := range list {
		if v == item {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
