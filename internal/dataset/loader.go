package dataset

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Well-known column names in sector tables.
const (
	ColumnYear        = "Year"
	ColumnElectricity = "Electricity"
)

// SettingsFileName is the required global parameters file inside the data directory.
const SettingsFileName = "settings.csv"

// GlobalParams holds the run-wide parameters from the settings table.
type GlobalParams struct {
	StartYear int `json:"start_year"`
	EndYear   int `json:"end_year"`
}

// Dataset is the loaded input for one project: per-sector tables plus the
// global parameters and provenance metadata.
type Dataset struct {
	Sectors        []string
	MissingSectors []string
	Params         GlobalParams
	SectorTables   map[string]*Table
	Aggregate      *Table
	SourcePath     string
	SourceModified time.Time
}

// HasSector reports whether a sector table was loaded.
func (d *Dataset) HasSector(name string) bool {
	_, ok := d.SectorTables[name]
	return ok
}

// Provider supplies the input dataset for forecast runs.
type Provider interface {
	Load() (*Dataset, error)
}

// CSVLoader loads a dataset from a directory containing settings.csv plus
// one CSV file per sector (named <sector>.csv, header row required).
type CSVLoader struct {
	dir string
	log zerolog.Logger
}

// NewCSVLoader creates a loader for the given data directory.
func NewCSVLoader(dir string, log zerolog.Logger) *CSVLoader {
	return &CSVLoader{
		dir: dir,
		log: log.With().Str("component", "dataset_loader").Logger(),
	}
}

// Load reads the settings table and every declared sector file.
// A declared sector whose file is absent is reported in MissingSectors
// rather than failing the load; a missing settings file is a hard error.
func (l *CSVLoader) Load() (*Dataset, error) {
	settingsPath := filepath.Join(l.dir, SettingsFileName)
	info, err := os.Stat(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("settings table not found at %s: %w", settingsPath, err)
	}

	params, declared, err := l.readSettings(settingsPath)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{
		Params:         params,
		SectorTables:   make(map[string]*Table),
		SourcePath:     l.dir,
		SourceModified: info.ModTime(),
	}

	for _, sector := range declared {
		path := filepath.Join(l.dir, sector+".csv")
		table, err := l.readSectorFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				l.log.Warn().Str("sector", sector).Msg("Sector file missing from data directory")
				ds.MissingSectors = append(ds.MissingSectors, sector)
				continue
			}
			return nil, fmt.Errorf("failed to load sector %s: %w", sector, err)
		}
		if !table.HasColumn(ColumnElectricity) {
			l.log.Warn().Str("sector", sector).Msg("Sector table has no Electricity column")
		}
		ds.Sectors = append(ds.Sectors, sector)
		ds.SectorTables[sector] = table
	}

	ds.Aggregate = buildAggregate(ds)

	l.log.Info().
		Int("sectors", len(ds.Sectors)).
		Int("missing", len(ds.MissingSectors)).
		Int("start_year", params.StartYear).
		Int("end_year", params.EndYear).
		Msg("Dataset loaded")

	return ds, nil
}

// readSettings parses the Parameter,Value settings table.
// Required parameters: Start_Year, End_Year, Sectors (semicolon-separated).
func (l *CSVLoader) readSettings(path string) (GlobalParams, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return GlobalParams{}, nil, fmt.Errorf("failed to open settings table: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return GlobalParams{}, nil, fmt.Errorf("failed to parse settings table: %w", err)
	}

	values := make(map[string]string)
	for i, rec := range records {
		if len(rec) < 2 {
			continue
		}
		key := strings.TrimSpace(rec[0])
		if i == 0 && strings.EqualFold(key, "Parameter") {
			continue
		}
		values[key] = strings.TrimSpace(rec[1])
	}

	var params GlobalParams
	for _, key := range []string{"Start_Year", "End_Year", "Sectors"} {
		if values[key] == "" {
			return GlobalParams{}, nil, fmt.Errorf("settings table is missing required parameter %q", key)
		}
	}

	params.StartYear, err = strconv.Atoi(values["Start_Year"])
	if err != nil {
		return GlobalParams{}, nil, fmt.Errorf("invalid Start_Year %q: %w", values["Start_Year"], err)
	}
	params.EndYear, err = strconv.Atoi(values["End_Year"])
	if err != nil {
		return GlobalParams{}, nil, fmt.Errorf("invalid End_Year %q: %w", values["End_Year"], err)
	}
	if params.EndYear < params.StartYear {
		return GlobalParams{}, nil, fmt.Errorf("End_Year %d precedes Start_Year %d", params.EndYear, params.StartYear)
	}

	var declared []string
	for _, s := range strings.Split(values["Sectors"], ";") {
		s = strings.TrimSpace(s)
		if s != "" {
			declared = append(declared, s)
		}
	}
	if len(declared) == 0 {
		return GlobalParams{}, nil, fmt.Errorf("settings table declares no sectors")
	}

	return params, declared, nil
}

// readSectorFile parses one sector CSV into a Table.
// Empty cells and non-numeric cells become missing values (NaN).
func (l *CSVLoader) readSectorFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv parse error: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("sector file %s has no data rows", filepath.Base(path))
	}

	header := records[0]
	yearCol := -1
	for i, name := range header {
		if strings.TrimSpace(name) == ColumnYear {
			yearCol = i
			break
		}
	}
	if yearCol < 0 {
		return nil, fmt.Errorf("sector file %s has no Year column", filepath.Base(path))
	}

	var years []int
	seen := make(map[int]bool)
	for _, rec := range records[1:] {
		if yearCol >= len(rec) {
			continue
		}
		year, err := strconv.Atoi(strings.TrimSpace(rec[yearCol]))
		if err != nil {
			return nil, fmt.Errorf("sector file %s has invalid year %q", filepath.Base(path), rec[yearCol])
		}
		if seen[year] {
			return nil, fmt.Errorf("sector file %s has duplicate year %d", filepath.Base(path), year)
		}
		seen[year] = true
		years = append(years, year)
	}

	table := NewTable(years)
	for col, name := range header {
		name = strings.TrimSpace(name)
		if col == yearCol || name == "" {
			continue
		}
		values := make([]float64, len(years))
		for _, rec := range records[1:] {
			if yearCol >= len(rec) {
				continue
			}
			year, err := strconv.Atoi(strings.TrimSpace(rec[yearCol]))
			if err != nil {
				continue
			}
			idx := table.YearIndex(year)
			if idx < 0 {
				continue
			}
			cell := ""
			if col < len(rec) {
				cell = strings.TrimSpace(rec[col])
			}
			if cell == "" {
				values[idx] = math.NaN()
			} else if v, err := strconv.ParseFloat(cell, 64); err == nil {
				values[idx] = v
			} else {
				values[idx] = math.NaN()
			}
		}
		table.SetColumn(name, values)
	}

	return table, nil
}

// buildAggregate sums the Electricity column across all loaded sectors,
// aligned on the union of their years.
func buildAggregate(ds *Dataset) *Table {
	yearSet := make(map[int]bool)
	for _, table := range ds.SectorTables {
		for _, y := range table.Years() {
			yearSet[y] = true
		}
	}
	years := make([]int, 0, len(yearSet))
	for y := range yearSet {
		years = append(years, y)
	}

	agg := NewTable(years)
	sums := make([]float64, agg.NumRows())
	counts := make([]int, agg.NumRows())
	for _, table := range ds.SectorTables {
		col, ok := table.Column(ColumnElectricity)
		if !ok {
			continue
		}
		for i, y := range table.Years() {
			if math.IsNaN(col[i]) {
				continue
			}
			idx := agg.YearIndex(y)
			sums[idx] += col[i]
			counts[idx]++
		}
	}
	for i := range sums {
		if counts[i] == 0 {
			sums[i] = math.NaN()
		}
	}
	agg.SetColumn(ColumnElectricity, sums)
	return agg
}
