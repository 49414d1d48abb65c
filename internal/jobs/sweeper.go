package jobs

import (
	"github.com/rs/zerolog"
)

// SweepJob is the scheduled cleanup task: reaps stale jobs and reclassifies
// stalled ones. Registered with the scheduler on the configured interval.
type SweepJob struct {
	manager *Manager
	log     zerolog.Logger
}

// NewSweepJob creates the cleanup sweep for the given manager.
func NewSweepJob(manager *Manager, log zerolog.Logger) *SweepJob {
	return &SweepJob{
		manager: manager,
		log:     log.With().Str("component", "job_sweeper").Logger(),
	}
}

// Name returns the job name for scheduler logging.
func (j *SweepJob) Name() string {
	return "job_sweeper"
}

// Run performs one sweep pass. Stall detection runs first so a stalled job
// reclassified to FAILED starts its retention window from this tick.
func (j *SweepJob) Run() error {
	stalled := j.manager.CheckStalledJobs()
	removed := j.manager.CleanupOldJobs()

	if stalled > 0 || removed > 0 {
		j.log.Info().
			Int("stalled", stalled).
			Int("removed", removed).
			Msg("Sweep pass complete")
	}
	return nil
}
