package forecast

import (
	"math"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkaravia/gridcast/internal/dataset"
)

func testJobConfig(target int, sectorCfg SectorModelConfig) *JobConfig {
	return &JobConfig{
		ScenarioName:  "Base25",
		TargetYear:    target,
		SectorConfigs: map[string]SectorModelConfig{"Domestic": sectorCfg},
	}
}

// domesticTable is a plausible demand series from 2010 through 2023 with
// one correlated independent variable.
func domesticTable() *dataset.Table {
	years := make([]int, 14)
	elec := make([]float64, 14)
	gdp := make([]float64, 14)
	for i := range years {
		years[i] = 2010 + i
		elec[i] = 1000 + 45*float64(i)
		gdp[i] = 50 + 2*float64(i)
	}
	t := dataset.NewTable(years)
	t.SetColumn(dataset.ColumnElectricity, elec)
	t.SetColumn("GDP", gdp)
	return t
}

func TestProcessSector_WAMThroughTargetYear(t *testing.T) {
	p := NewPipeline(zerolog.Nop())
	sectorCfg := SectorModelConfig{Models: []string{ModelWAM}, WindowSize: 5}
	cfg := testJobConfig(2037, sectorCfg)

	result := p.ProcessSector("Domestic", domesticTable(), cfg, sectorCfg, NopReporter)

	assert.Equal(t, SectorSuccess, result.Status)
	assert.False(t, result.UsedExistingData)
	require.NotNil(t, result.Document)

	wam, ok := result.Document.Combined.Columns[ModelWAM]
	require.True(t, ok)

	forecasted := 0
	for i, year := range result.Document.Combined.Years {
		if year >= 2024 && year <= 2037 {
			require.NotNil(t, wam[i], "year %d must be forecasted", year)
			assert.Greater(t, *wam[i], 0.0)
			forecasted++
		}
	}
	assert.Equal(t, 14, forecasted, "14 forecast years from 2024 through 2037")
}

func TestProcessSector_ExistingDataShortCircuit(t *testing.T) {
	// Data reaches 2040, target is 2037: no model runs and the forecast
	// column is the historical series truncated at the target year.
	years := make([]int, 31)
	elec := make([]float64, 31)
	for i := range years {
		years[i] = 2010 + i
		elec[i] = 1000 + 10*float64(i)
	}
	table := dataset.NewTable(years)
	table.SetColumn(dataset.ColumnElectricity, elec)

	p := NewPipeline(zerolog.Nop())
	sectorCfg := SectorModelConfig{Models: []string{ModelWAM}, WindowSize: 5}
	cfg := testJobConfig(2037, sectorCfg)

	result := p.ProcessSector("Domestic", table, cfg, sectorCfg, NopReporter)

	assert.Equal(t, SectorExistingData, result.Status)
	assert.True(t, result.UsedExistingData)
	assert.Equal(t, []string{UserDataColumn}, result.ModelsUsed)

	doc := result.Document
	require.NotNil(t, doc)
	assert.True(t, doc.UsedExistingData)
	require.Equal(t, 2037, doc.Combined.Years[len(doc.Combined.Years)-1], "truncated at target year")

	userData := doc.Combined.Columns[UserDataColumn]
	for i, year := range doc.Combined.Years {
		require.NotNil(t, userData[i])
		assert.Equal(t, 1000+10*float64(year-2010), *userData[i])
	}
	assert.Nil(t, doc.Evaluation, "no model was invoked")
}

func TestProcessSector_MissingDataIsWarningNotFailure(t *testing.T) {
	table := dataset.NewTable([]int{2020, 2021, 2022})
	table.SetColumn("GDP", []float64{1, 2, 3})

	p := NewPipeline(zerolog.Nop())
	sectorCfg := SectorModelConfig{Models: []string{ModelSLR}}
	cfg := testJobConfig(2030, sectorCfg)

	result := p.ProcessSector("Domestic", table, cfg, sectorCfg, NopReporter)

	assert.Equal(t, SectorWarning, result.Status)
	require.NotNil(t, result.Document)

	slr := result.Document.Combined.Columns[ModelSLR]
	require.NotEmpty(t, slr)
	last := result.Document.Combined.Years[len(result.Document.Combined.Years)-1]
	assert.Equal(t, 2030, last, "zero-filled result spans the full target range")
	for _, v := range slr {
		require.NotNil(t, v)
		assert.Equal(t, 0.0, *v)
	}
}

func TestProcessSector_AllModels(t *testing.T) {
	p := NewPipeline(zerolog.Nop())
	sectorCfg := SectorModelConfig{
		Models:          []string{ModelMLR, ModelSLR, ModelWAM, ModelTimeSeries},
		IndependentVars: []string{"GDP"},
		WindowSize:      5,
	}
	cfg := testJobConfig(2030, sectorCfg)

	result := p.ProcessSector("Domestic", domesticTable(), cfg, sectorCfg, NopReporter)
	require.Equal(t, SectorSuccess, result.Status, "error: %s", result.Error)

	doc := result.Document
	for _, model := range sectorCfg.Models {
		col, ok := doc.Combined.Columns[model]
		require.True(t, ok, "combined results must carry a %s column", model)
		idx2030 := -1
		for i, y := range doc.Combined.Years {
			if y == 2030 {
				idx2030 = i
			}
		}
		require.GreaterOrEqual(t, idx2030, 0)
		require.NotNil(t, col[idx2030])
		// The series grows ~45/yr from 1585 in 2023; every model should
		// land in a broad plausible band.
		assert.InDelta(t, 1900, *col[idx2030], 400, "model %s", model)
	}

	// Correlation breakout labels GDP against the target
	require.Len(t, doc.Correlations, 1)
	assert.Equal(t, "GDP", doc.Correlations[0].Variable)
	assert.Equal(t, "Strong", doc.Correlations[0].Strength)

	// Independent variables were projected for MLR
	require.NotNil(t, doc.VariableForecasts)
	_, ok := doc.VariableForecasts.Columns["GDP"]
	assert.True(t, ok)

	// Test-split evaluation exists for the trained models
	assert.NotEmpty(t, doc.Evaluation)
	for _, m := range doc.Evaluation {
		assert.False(t, math.IsNaN(m.MSE))
	}
}

func TestProcessSector_ProgressCheckpoints(t *testing.T) {
	p := NewPipeline(zerolog.Nop())
	sectorCfg := SectorModelConfig{Models: []string{ModelSLR}}
	cfg := testJobConfig(2030, sectorCfg)

	var mu sync.Mutex
	var percents []int
	reporter := func(percent int, sector, message string) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "Domestic", sector)
		assert.NotEmpty(t, message)
		percents = append(percents, percent)
	}

	p.ProcessSector("Domestic", domesticTable(), cfg, sectorCfg, reporter)

	require.NotEmpty(t, percents)
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1], "checkpoints fire in ascending order")
	}
	assert.Equal(t, 0, percents[0])
}

func TestProcessSector_FallbackVariableSelection(t *testing.T) {
	// Requested variable does not exist; selection falls back to the valid
	// set instead of failing the sector.
	p := NewPipeline(zerolog.Nop())
	sectorCfg := SectorModelConfig{Models: []string{ModelMLR}, IndependentVars: []string{"Population"}}
	cfg := testJobConfig(2028, sectorCfg)

	result := p.ProcessSector("Domestic", domesticTable(), cfg, sectorCfg, NopReporter)
	assert.Equal(t, SectorSuccess, result.Status)
}

func TestSelectIndependentVars(t *testing.T) {
	table := domesticTable()
	table.SetColumn("Empty", []float64{math.NaN(), math.NaN(), math.NaN()})

	train := []int{2010, 2011, 2012, 2013, 2014}

	vars := SelectIndependentVars(table, nil, train)
	assert.Equal(t, []string{"GDP"}, vars, "empty columns are filtered out")

	vars = SelectIndependentVars(table, []string{"GDP", "Ghost"}, train)
	assert.Equal(t, []string{"GDP"}, vars, "requested set intersects with valid set")

	vars = SelectIndependentVars(table, []string{"Ghost"}, train)
	assert.Equal(t, []string{"GDP"}, vars, "empty intersection falls back to full valid set")

	bare := dataset.NewTable([]int{2020, 2021, 2022})
	bare.SetColumn(dataset.ColumnElectricity, []float64{1, 2, 3})
	vars = SelectIndependentVars(bare, nil, []int{2020, 2021})
	assert.Equal(t, []string{dataset.ColumnYear}, vars, "no valid variable falls back to Year")
}
