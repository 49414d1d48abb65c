package jobs

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkaravia/gridcast/internal/config"
)

func testEngineConfig() *config.EngineConfig {
	return &config.EngineConfig{
		MaxConcurrentJobs: 3,
		StallThreshold:    15 * time.Minute,
		MaxRuntime:        2 * time.Hour,
		Retention:         time.Hour,
		MaxAge:            4 * time.Hour,
		SweepInterval:     5 * time.Minute,
	}
}

// fakeClock lets tests advance the manager's notion of time.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	m := NewManager(testEngineConfig(), zerolog.Nop())
	clock := &fakeClock{t: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
	m.now = clock.now
	return m, clock
}

func intPtr(v int) *int          { return &v }
func strPtr(v string) *string    { return &v }
func statusPtr(s Status) *Status { return &s }

func TestManager_CreateJob(t *testing.T) {
	m, _ := newTestManager(t)

	record, err := m.CreateJob("job-1", map[string]string{"scenario": "Base25"}, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusStarting, record.Status)
	assert.Equal(t, 3, record.TotalSectors)
	assert.Equal(t, 0, record.Progress)

	_, err = m.CreateJob("job-1", nil, 1)
	assert.Error(t, err, "duplicate id is a caller bug")
}

func TestManager_CreateJobLimited(t *testing.T) {
	m, _ := newTestManager(t)

	for i := 0; i < 3; i++ {
		_, err := m.CreateJobLimited(fmt.Sprintf("job-%d", i), nil, 1, 3)
		require.NoError(t, err)
	}

	_, err := m.CreateJobLimited("job-overflow", nil, 1, 3)
	assert.ErrorIs(t, err, ErrTooManyJobs)

	// A terminal job frees its slot
	m.UpdateJob("job-0", Update{Status: statusPtr(StatusCompleted)})
	_, err = m.CreateJobLimited("job-overflow", nil, 1, 3)
	assert.NoError(t, err)
}

func TestManager_CreateJobLimited_ConcurrentSubmits(t *testing.T) {
	m, _ := newTestManager(t)

	// All goroutines released at once; the ceiling must hold even when the
	// count and the insert are contested.
	const attempts = 40
	start := make(chan struct{})
	var wg sync.WaitGroup
	var accepted atomic.Int64
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if _, err := m.CreateJobLimited(fmt.Sprintf("job-%d", i), nil, 1, 3); err == nil {
				accepted.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(3), accepted.Load(), "exactly the ceiling may be admitted")
	assert.Equal(t, 3, m.ActiveJobs())
}

func TestManager_ProgressMonotonicity(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreateJob("job-1", nil, 1)
	require.NoError(t, err)

	require.True(t, m.UpdateJob("job-1", Update{Progress: intPtr(40)}))
	require.True(t, m.UpdateJob("job-1", Update{Progress: intPtr(25)}), "update succeeds but progress holds")

	view, ok := m.GetJob("job-1")
	require.True(t, ok)
	assert.Equal(t, 40, view.Progress, "stale update must not move progress backward")

	// Explicit rollback override is allowed
	require.True(t, m.UpdateJob("job-1", Update{Progress: intPtr(25), AllowRollback: true}))
	view, _ = m.GetJob("job-1")
	assert.Equal(t, 25, view.Progress)

	// Clamped to [0,100]
	m.UpdateJob("job-1", Update{Progress: intPtr(250)})
	view, _ = m.GetJob("job-1")
	assert.Equal(t, 100, view.Progress)
}

func TestManager_UpdateUnknownJob(t *testing.T) {
	m, _ := newTestManager(t)
	assert.False(t, m.UpdateJob("ghost", Update{Progress: intPtr(10)}))
	assert.False(t, m.MarkSectorResult("ghost", "Domestic", OutcomeCompleted, time.Second))
}

func TestManager_SectorSetDisjointness(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreateJob("job-1", nil, 3)
	require.NoError(t, err)

	m.MarkSectorResult("job-1", "Domestic", OutcomeFailed, time.Second)
	m.MarkSectorResult("job-1", "Industrial", OutcomeCompleted, 2*time.Second)
	// Re-classification moves the sector between sets
	m.MarkSectorResult("job-1", "Domestic", OutcomeCompleted, time.Second)

	view, ok := m.GetJob("job-1")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"Domestic", "Industrial"}, view.SectorsCompleted)
	assert.Empty(t, view.SectorsFailed)
	assert.Empty(t, view.SectorsExistingData)
	assert.Equal(t, 2, view.ProcessedSectors,
		"processed count equals total cardinality across outcome sets")
}

func TestManager_PerformanceMetrics(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreateJob("job-1", nil, 2)
	require.NoError(t, err)

	m.MarkSectorResult("job-1", "Domestic", OutcomeCompleted, 2*time.Second)
	m.MarkSectorResult("job-1", "Industrial", OutcomeCompleted, 4*time.Second)

	view, _ := m.GetJob("job-1")
	assert.Equal(t, 6*time.Second, view.Performance.TotalProcessingTime)
	assert.Equal(t, 3*time.Second, view.Performance.AverageProcessingTime)
}

func TestManager_CancelJob(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreateJob("job-1", nil, 1)
	require.NoError(t, err)

	assert.True(t, m.CancelJob("job-1"))
	assert.True(t, m.IsCancelled("job-1"))

	// Cancelling a terminal job is a no-op and must not alter status
	assert.False(t, m.CancelJob("job-1"))
	view, _ := m.GetJob("job-1")
	assert.Equal(t, StatusCancelled, view.Status)

	assert.False(t, m.CancelJob("ghost"))
	assert.True(t, m.IsCancelled("ghost"), "unknown jobs read as cancelled so workers stop")
}

func TestManager_NoTransitionOutOfTerminal(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreateJob("job-1", nil, 1)
	require.NoError(t, err)

	m.UpdateJob("job-1", Update{Status: statusPtr(StatusCompleted)})
	m.UpdateJob("job-1", Update{Status: statusPtr(StatusRunning)})

	view, _ := m.GetJob("job-1")
	assert.Equal(t, StatusCompleted, view.Status)
}

func TestManager_ETAComputation(t *testing.T) {
	m, clock := newTestManager(t)
	_, err := m.CreateJob("job-1", nil, 4)
	require.NoError(t, err)
	m.UpdateJob("job-1", Update{Status: statusPtr(StatusRunning)})

	clock.advance(10 * time.Minute)
	m.UpdateJob("job-1", Update{Progress: intPtr(25)})

	view, _ := m.GetJob("job-1")
	require.NotNil(t, view.EstimatedRemaining)
	// elapsed * (100/25 - 1) = 10m * 3
	assert.Equal(t, 30*time.Minute, *view.EstimatedRemaining)
	assert.Equal(t, "30m 0s", view.RemainingHuman)

	// No ETA before any progress
	_, err = m.CreateJob("job-2", nil, 1)
	require.NoError(t, err)
	m.UpdateJob("job-2", Update{Status: statusPtr(StatusRunning)})
	view2, _ := m.GetJob("job-2")
	assert.Nil(t, view2.EstimatedRemaining)
}

func TestManager_RuntimeTimeoutAtRead(t *testing.T) {
	m, clock := newTestManager(t)
	_, err := m.CreateJob("job-1", nil, 1)
	require.NoError(t, err)
	m.UpdateJob("job-1", Update{Status: statusPtr(StatusRunning)})

	clock.advance(2*time.Hour + time.Minute)

	view, ok := m.GetJob("job-1")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, view.Status, "timeout surfaces on the next poll")
	assert.Contains(t, view.Error, "exceeded max runtime")
}

func TestManager_CheckStalledJobs(t *testing.T) {
	m, clock := newTestManager(t)
	_, err := m.CreateJob("job-1", nil, 1)
	require.NoError(t, err)
	m.UpdateJob("job-1", Update{Status: statusPtr(StatusRunning)})

	clock.advance(16 * time.Minute)
	assert.Equal(t, 1, m.CheckStalledJobs())

	view, _ := m.GetJob("job-1")
	assert.Equal(t, StatusFailed, view.Status)
	assert.Contains(t, view.Error, "stalled")

	// Second pass finds nothing
	assert.Equal(t, 0, m.CheckStalledJobs())
}

func TestManager_CleanupContainment(t *testing.T) {
	m, clock := newTestManager(t)
	_, err := m.CreateJob("job-1", nil, 1)
	require.NoError(t, err)
	m.UpdateJob("job-1", Update{Status: statusPtr(StatusCompleted)})

	// Inside the retention window the job is still pollable
	clock.advance(30 * time.Minute)
	assert.Equal(t, 0, m.CleanupOldJobs())
	_, ok := m.GetJob("job-1")
	assert.True(t, ok)

	// Past retention it is reaped
	clock.advance(31 * time.Minute)
	assert.Equal(t, 1, m.CleanupOldJobs())
	_, ok = m.GetJob("job-1")
	assert.False(t, ok)
}

func TestManager_CleanupAgeCeiling(t *testing.T) {
	m, clock := newTestManager(t)
	_, err := m.CreateJob("job-1", nil, 1)
	require.NoError(t, err)
	m.UpdateJob("job-1", Update{Status: statusPtr(StatusRunning)})

	// Still RUNNING, but past the absolute ceiling; keep LastUpdate fresh
	// so only the age rule can apply.
	for i := 0; i < 25; i++ {
		clock.advance(10 * time.Minute)
		m.UpdateJob("job-1", Update{Progress: intPtr(i)})
	}
	require.Greater(t, clock.t.Sub(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)), 4*time.Hour)

	assert.Equal(t, 1, m.CleanupOldJobs())
	_, ok := m.GetJob("job-1")
	assert.False(t, ok)
}

func TestManager_DetailedLogCap(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreateJob("job-1", nil, 1)
	require.NoError(t, err)

	for i := 0; i < detailedLogCap+20; i++ {
		msg := fmt.Sprintf("processing step %d", i)
		m.UpdateJob("job-1", Update{Message: &msg})
	}

	view, _ := m.GetJob("job-1")
	assert.Len(t, view.DetailedLog, detailedLogCap, "oldest entries trimmed past the cap")
}

func TestManager_GetJobsSummary(t *testing.T) {
	m, clock := newTestManager(t)

	_, err := m.CreateJob("job-1", nil, 1)
	require.NoError(t, err)
	clock.advance(10 * time.Minute)
	m.UpdateJob("job-1", Update{Status: statusPtr(StatusCompleted)})

	clock.advance(time.Minute)
	_, err = m.CreateJob("job-2", nil, 2)
	require.NoError(t, err)
	m.UpdateJob("job-2", Update{Status: statusPtr(StatusRunning)})

	summary := m.GetJobsSummary()
	assert.Equal(t, 2, summary.TotalJobs)
	assert.Equal(t, 1, summary.CountsByStatus[StatusCompleted])
	assert.Equal(t, 1, summary.CountsByStatus[StatusRunning])
	assert.Equal(t, 10*time.Minute, summary.AverageProcessingTime)

	require.Len(t, summary.RecentJobs, 2)
	assert.Equal(t, "job-2", summary.RecentJobs[0].ID, "sorted by start time descending")

	assert.Equal(t, 1, m.ActiveJobs())
}

func TestSweepJob_Run(t *testing.T) {
	m, clock := newTestManager(t)
	_, err := m.CreateJob("job-1", nil, 1)
	require.NoError(t, err)
	m.UpdateJob("job-1", Update{Status: statusPtr(StatusRunning)})

	sweep := NewSweepJob(m, zerolog.Nop())
	assert.Equal(t, "job_sweeper", sweep.Name())

	clock.advance(20 * time.Minute)
	require.NoError(t, sweep.Run())

	view, _ := m.GetJob("job-1")
	assert.Equal(t, StatusFailed, view.Status)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", FormatDuration(45*time.Second))
	assert.Equal(t, "2m 15s", FormatDuration(2*time.Minute+15*time.Second))
	assert.Equal(t, "1h 30m", FormatDuration(90*time.Minute))
	assert.Equal(t, "0s", FormatDuration(-time.Second))
}
