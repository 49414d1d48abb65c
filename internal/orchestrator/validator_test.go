package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkaravia/gridcast/internal/dataset"
	"github.com/mkaravia/gridcast/internal/forecast"
)

func testDataset() *dataset.Dataset {
	years := make([]int, 14)
	elec := make([]float64, 14)
	gdp := make([]float64, 14)
	for i := range years {
		years[i] = 2010 + i
		elec[i] = 1000 + 45*float64(i)
		gdp[i] = 50 + 2*float64(i)
	}
	table := dataset.NewTable(years)
	table.SetColumn(dataset.ColumnElectricity, elec)
	table.SetColumn("GDP", gdp)

	return &dataset.Dataset{
		Sectors:      []string{"Domestic"},
		Params:       dataset.GlobalParams{StartYear: 2010, EndYear: 2023},
		SectorTables: map[string]*dataset.Table{"Domestic": table},
	}
}

func validConfig() *forecast.JobConfig {
	return &forecast.JobConfig{
		ScenarioName: "Base25",
		TargetYear:   2037,
		SectorConfigs: map[string]forecast.SectorModelConfig{
			"Domestic": {Models: []string{forecast.ModelWAM}, WindowSize: 5},
		},
	}
}

func TestValidateConfig_Valid(t *testing.T) {
	errs := ValidateConfig(validConfig(), testDataset())
	assert.False(t, errs.HasErrors(), "unexpected errors: %v", errs)
}

func TestValidateConfig_AccumulatesAllViolations(t *testing.T) {
	// Three independent violations must produce three errors in one pass.
	cfg := &forecast.JobConfig{
		ScenarioName: "!",
		TargetYear:   1999,
		SectorConfigs: map[string]forecast.SectorModelConfig{
			"Nonexistent": {Models: []string{forecast.ModelWAM}, WindowSize: 5},
		},
	}

	errs := ValidateConfig(cfg, testDataset())
	require.Len(t, errs, 3)

	fields := make([]string, len(errs))
	for i, e := range errs {
		fields[i] = e.Field
	}
	assert.Contains(t, fields, "scenarioName")
	assert.Contains(t, fields, "targetYear")
	assert.Contains(t, fields, "sectorConfigs.Nonexistent")
}

func TestValidateConfig_ScenarioName(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"valid with spaces", "Base Case 2025", false},
		{"valid with underscore", "high_growth", false},
		{"empty", "", true},
		{"too short", "x", true},
		{"too long", strings.Repeat("a", 51), true},
		{"illegal characters", "base/../case", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.ScenarioName = tt.value
			errs := ValidateConfig(cfg, testDataset())
			if tt.wantErr {
				assert.True(t, errs.HasErrors())
			} else {
				assert.False(t, errs.HasErrors(), "errors: %v", errs)
			}
		})
	}
}

func TestValidateConfig_Models(t *testing.T) {
	cfg := validConfig()
	cfg.SectorConfigs["Domestic"] = forecast.SectorModelConfig{Models: []string{"ARIMA"}}
	errs := ValidateConfig(cfg, testDataset())
	require.True(t, errs.HasErrors())
	assert.Contains(t, errs.Error(), "unknown model")

	cfg.SectorConfigs["Domestic"] = forecast.SectorModelConfig{}
	errs = ValidateConfig(cfg, testDataset())
	require.True(t, errs.HasErrors())
	assert.Contains(t, errs.Error(), "at least one model")
}

func TestValidateConfig_MLRVariables(t *testing.T) {
	cfg := validConfig()
	cfg.SectorConfigs["Domestic"] = forecast.SectorModelConfig{
		Models:          []string{forecast.ModelMLR},
		IndependentVars: []string{"GDP", "Population"},
	}

	errs := ValidateConfig(cfg, testDataset())
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "Population")
}

func TestValidateConfig_WindowSize(t *testing.T) {
	cfg := validConfig()
	cfg.SectorConfigs["Domestic"] = forecast.SectorModelConfig{
		Models:     []string{forecast.ModelWAM},
		WindowSize: 50,
	}

	errs := ValidateConfig(cfg, testDataset())
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Field, "windowSize")

	// Zero means default and is valid
	cfg.SectorConfigs["Domestic"] = forecast.SectorModelConfig{Models: []string{forecast.ModelWAM}}
	assert.False(t, ValidateConfig(cfg, testDataset()).HasErrors())
}
