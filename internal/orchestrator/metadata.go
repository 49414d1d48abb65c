package orchestrator

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/mkaravia/gridcast/internal/dataset"
)

// ExecutionMetadata is the timing/provenance artifact written next to the
// run summary. Host details are best-effort; a probe failure leaves the
// field empty rather than failing the run.
type ExecutionMetadata struct {
	JobID              string        `json:"job_id"`
	Scenario           string        `json:"scenario"`
	StartedAt          time.Time     `json:"started_at"`
	FinishedAt         time.Time     `json:"finished_at"`
	Duration           time.Duration `json:"duration_ms"`
	Hostname           string        `json:"hostname,omitempty"`
	Platform           string        `json:"platform,omitempty"`
	CPUCount           int           `json:"cpu_count"`
	GoVersion          string        `json:"go_version"`
	MemoryUsedPercent  float64       `json:"memory_used_percent,omitempty"`
	MemoryTotalMB      uint64        `json:"memory_total_mb,omitempty"`
	DataSourcePath     string        `json:"data_source_path"`
	DataSourceModified time.Time     `json:"data_source_modified"`
}

// BuildExecutionMetadata assembles the metadata artifact for one run.
func BuildExecutionMetadata(jobID, scenario string, started, finished time.Time, ds *dataset.Dataset) *ExecutionMetadata {
	meta := &ExecutionMetadata{
		JobID:      jobID,
		Scenario:   scenario,
		StartedAt:  started,
		FinishedAt: finished,
		Duration:   finished.Sub(started),
		CPUCount:   runtime.NumCPU(),
		GoVersion:  runtime.Version(),
	}
	if ds != nil {
		meta.DataSourcePath = ds.SourcePath
		meta.DataSourceModified = ds.SourceModified
	}

	if info, err := host.Info(); err == nil {
		meta.Hostname = info.Hostname
		meta.Platform = info.Platform + " " + info.PlatformVersion
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		meta.MemoryUsedPercent = vm.UsedPercent
		meta.MemoryTotalMB = vm.Total / 1024 / 1024
	}

	return meta
}
