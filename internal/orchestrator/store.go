package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkaravia/gridcast/internal/forecast"
)

// Artifact file names inside a scenario directory.
const (
	ConfigFileName   = "forecast_config.json"
	SummaryFileName  = "forecast_summary.json"
	MetadataFileName = "execution_metadata.json"
)

// SectorCoverage summarizes one sector's data availability at submission
// time, persisted with the configuration snapshot for provenance.
type SectorCoverage struct {
	FirstYear      int      `json:"first_year"`
	LastYear       int      `json:"last_year"`
	ObservedYears  int      `json:"observed_years"`
	Columns        []string `json:"columns"`
	HasElectricity bool     `json:"has_electricity"`
}

// ConfigSnapshot is the durable record of what was submitted and what the
// input data looked like, written before any sector runs.
type ConfigSnapshot struct {
	JobID              string                    `json:"job_id"`
	Config             *forecast.JobConfig       `json:"config"`
	DataSourcePath     string                    `json:"data_source_path"`
	DataSourceModified time.Time                 `json:"data_source_modified"`
	AvailableSectors   []string                  `json:"available_sectors"`
	MissingSectors     []string                  `json:"missing_sectors,omitempty"`
	Coverage           map[string]SectorCoverage `json:"coverage"`
	CreatedAt          time.Time                 `json:"created_at"`
}

// SectorOutcomeSummary is one sector's line in the run summary.
type SectorOutcomeSummary struct {
	Sector         string        `json:"sector"`
	Status         string        `json:"status"`
	Message        string        `json:"message"`
	ModelsUsed     []string      `json:"models_used"`
	Error          string        `json:"error,omitempty"`
	ProcessingTime time.Duration `json:"processing_time_ms"`
}

// RunSummary is the aggregate artifact written after the batch finishes.
type RunSummary struct {
	JobID               string                 `json:"job_id"`
	Scenario            string                 `json:"scenario"`
	TargetYear          int                    `json:"target_year"`
	Status              string                 `json:"status"`
	SectorsCompleted    int                    `json:"sectors_completed"`
	SectorsExistingData int                    `json:"sectors_existing_data"`
	SectorsFailed       int                    `json:"sectors_failed"`
	Outcomes            []SectorOutcomeSummary `json:"outcomes"`
	ModelUsage          map[string]int         `json:"model_usage"`
	StartedAt           time.Time              `json:"started_at"`
	FinishedAt          time.Time              `json:"finished_at"`
	TotalDuration       time.Duration          `json:"total_duration_ms"`
	AverageSectorTime   time.Duration          `json:"average_sector_time_ms"`
}

// ScenarioArtifacts is the read-back view of a persisted scenario.
type ScenarioArtifacts struct {
	Scenario    string             `json:"scenario"`
	Config      *ConfigSnapshot    `json:"config,omitempty"`
	Summary     *RunSummary        `json:"summary,omitempty"`
	SectorFiles []string           `json:"sector_files"`
	Metadata    *ExecutionMetadata `json:"metadata,omitempty"`
}

// Store persists scenario artifacts as JSON files, one directory per
// scenario. Jobs never share a directory, so there is no cross-job file
// contention.
type Store struct {
	baseDir string
	log     zerolog.Logger
}

// NewStore creates an artifact store rooted at baseDir.
func NewStore(baseDir string, log zerolog.Logger) *Store {
	return &Store{
		baseDir: baseDir,
		log:     log.With().Str("component", "artifact_store").Logger(),
	}
}

// ScenarioDir returns the directory for a scenario, creating it on demand.
func (s *Store) ScenarioDir(scenario string) (string, error) {
	dir := filepath.Join(s.baseDir, sanitizeScenarioName(scenario))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create scenario directory: %w", err)
	}
	return dir, nil
}

// WriteConfigSnapshot persists the configuration snapshot. This must
// succeed before any sector is processed.
func (s *Store) WriteConfigSnapshot(scenario string, snapshot *ConfigSnapshot) error {
	return s.writeJSON(scenario, ConfigFileName, snapshot)
}

// WriteSectorResult persists one sector's result document.
func (s *Store) WriteSectorResult(scenario, sector string, doc *forecast.SectorResultDoc) error {
	return s.writeJSON(scenario, sectorFileName(sector), doc)
}

// WriteSummary persists the aggregate run summary.
func (s *Store) WriteSummary(scenario string, summary *RunSummary) error {
	return s.writeJSON(scenario, SummaryFileName, summary)
}

// WriteExecutionMetadata persists the timing/provenance artifact.
func (s *Store) WriteExecutionMetadata(scenario string, meta *ExecutionMetadata) error {
	return s.writeJSON(scenario, MetadataFileName, meta)
}

// LoadScenario reads back the persisted artifacts for a scenario name.
func (s *Store) LoadScenario(scenario string) (*ScenarioArtifacts, error) {
	dir := filepath.Join(s.baseDir, sanitizeScenarioName(scenario))
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("scenario %q not found: %w", scenario, err)
	}

	artifacts := &ScenarioArtifacts{Scenario: scenario}

	var snapshot ConfigSnapshot
	if err := s.readJSON(filepath.Join(dir, ConfigFileName), &snapshot); err == nil {
		artifacts.Config = &snapshot
	}
	var summary RunSummary
	if err := s.readJSON(filepath.Join(dir, SummaryFileName), &summary); err == nil {
		artifacts.Summary = &summary
	}
	var meta ExecutionMetadata
	if err := s.readJSON(filepath.Join(dir, MetadataFileName), &meta); err == nil {
		artifacts.Metadata = &meta
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenario directory: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, "_result.json") {
			artifacts.SectorFiles = append(artifacts.SectorFiles, name)
		}
	}

	return artifacts, nil
}

// LoadSectorResult reads back one sector's result document.
func (s *Store) LoadSectorResult(scenario, sector string) (*forecast.SectorResultDoc, error) {
	dir := filepath.Join(s.baseDir, sanitizeScenarioName(scenario))
	var doc forecast.SectorResultDoc
	if err := s.readJSON(filepath.Join(dir, sectorFileName(sector)), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) writeJSON(scenario, file string, v any) error {
	dir, err := s.ScenarioDir(scenario)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", file, err)
	}
	path := filepath.Join(dir, file)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", file, err)
	}
	s.log.Debug().Str("path", path).Msg("Artifact written")
	return nil
}

func (s *Store) readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func sectorFileName(sector string) string {
	return sanitizeScenarioName(sector) + "_result.json"
}

// sanitizeScenarioName maps a scenario or sector name to a filesystem-safe
// directory component.
func sanitizeScenarioName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, name)
	if mapped == "" {
		return "unnamed"
	}
	return mapped
}
