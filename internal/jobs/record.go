// Package jobs tracks the lifecycle of background forecast runs.
package jobs

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a forecast job.
type Status string

const (
	StatusStarting  Status = "STARTING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no further transitions leave this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Sector outcome classifications. A sector belongs to at most one set.
type SectorOutcome string

const (
	OutcomeCompleted    SectorOutcome = "completed"
	OutcomeExistingData SectorOutcome = "existing_data"
	OutcomeFailed       SectorOutcome = "failed"
)

// Diagnostic buffer caps. Oldest entries are trimmed past these.
const (
	detailedLogCap     = 50
	progressHistoryCap = 100
)

// LogEntry is one timestamped diagnostic message.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// ProgressPoint records one observed progress change.
type ProgressPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
}

// PerformanceMetrics holds running per-sector timing aggregates.
type PerformanceMetrics struct {
	TotalProcessingTime   time.Duration `json:"total_processing_time_ms"`
	SectorsTimed          int           `json:"sectors_timed"`
	AverageProcessingTime time.Duration `json:"average_processing_time_ms"`
}

// JobRecord is the authoritative state of one forecast run. It is mutated
// only through the Manager while holding its lock.
type JobRecord struct {
	ID                  string             `json:"id"`
	Status              Status             `json:"status"`
	Progress            int                `json:"progress"`
	Message             string             `json:"message"`
	CurrentSector       string             `json:"current_sector,omitempty"`
	ProcessedSectors    int                `json:"processed_sectors"`
	TotalSectors        int                `json:"total_sectors"`
	SectorsCompleted    []string           `json:"sectors_completed"`
	SectorsExistingData []string           `json:"sectors_existing_data"`
	SectorsFailed       []string           `json:"sectors_failed"`
	StartTime           time.Time          `json:"start_time"`
	LastUpdate          time.Time          `json:"last_update"`
	Configuration       any                `json:"configuration,omitempty"`
	Result              any                `json:"result,omitempty"`
	Error               string             `json:"error,omitempty"`
	DetailedLog         []LogEntry         `json:"detailed_log,omitempty"`
	ProgressHistory     []ProgressPoint    `json:"progress_history,omitempty"`
	Performance         PerformanceMetrics `json:"performance_metrics"`
}

// clone returns a deep copy safe to hand out past the manager lock.
func (r *JobRecord) clone() *JobRecord {
	out := *r
	out.SectorsCompleted = append([]string(nil), r.SectorsCompleted...)
	out.SectorsExistingData = append([]string(nil), r.SectorsExistingData...)
	out.SectorsFailed = append([]string(nil), r.SectorsFailed...)
	out.DetailedLog = append([]LogEntry(nil), r.DetailedLog...)
	out.ProgressHistory = append([]ProgressPoint(nil), r.ProgressHistory...)
	return &out
}

// appendLog appends to the detailed log, trimming the oldest entries.
func (r *JobRecord) appendLog(at time.Time, message string) {
	r.DetailedLog = append(r.DetailedLog, LogEntry{Timestamp: at, Message: message})
	if len(r.DetailedLog) > detailedLogCap {
		r.DetailedLog = r.DetailedLog[len(r.DetailedLog)-detailedLogCap:]
	}
}

// appendProgress appends to the progress history, trimming the oldest entries.
func (r *JobRecord) appendProgress(at time.Time, progress int, message string) {
	r.ProgressHistory = append(r.ProgressHistory, ProgressPoint{
		Timestamp: at,
		Progress:  progress,
		Message:   message,
	})
	if len(r.ProgressHistory) > progressHistoryCap {
		r.ProgressHistory = r.ProgressHistory[len(r.ProgressHistory)-progressHistoryCap:]
	}
}

// JobView is a read-only snapshot of a JobRecord enriched with computed
// fields. The computed fields are derived at read time and never stored.
type JobView struct {
	JobRecord

	Elapsed            time.Duration  `json:"elapsed_ms"`
	ElapsedHuman       string         `json:"elapsed_human"`
	EstimatedRemaining *time.Duration `json:"estimated_remaining_ms,omitempty"`
	RemainingHuman     string         `json:"remaining_human,omitempty"`
	CompletionRate     float64        `json:"completion_rate"`
	SuccessRate        float64        `json:"success_rate"`
	FailureRate        float64        `json:"failure_rate"`
}

// FormatDuration renders a duration as a short human string, e.g. "2m 15s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
