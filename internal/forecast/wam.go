package forecast

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"github.com/mkaravia/gridcast/internal/dataset"
)

// WAMModel extrapolates demand by compounding a single weighted mean of
// recent year-over-year growth rates. Fully deterministic: the same series,
// window and exclusion flag always produce the same forecast.
type WAMModel struct {
	GrowthRate float64 `json:"growth_rate"`
	WindowUsed int     `json:"window_used"`
	LastYear   int     `json:"last_year"`
	LastValue  float64 `json:"last_value"`
	Warning    string  `json:"warning,omitempty"`
}

// growthRate is one observed year-over-year rate, annualized across gaps.
type growthRate struct {
	endYear int
	rate    float64
}

// TrainWAM computes the weighted growth rate from the sector's Electricity
// series. COVID years stay in the base series; when exclusion is requested
// their growth rates are merely dropped from the averaging window. A window
// larger than the available rates shrinks with a warning.
func TrainWAM(table *dataset.Table, windowSize int, excludeCovid bool) (*WAMModel, error) {
	if windowSize < WindowSizeMin {
		return nil, fmt.Errorf("window size %d below minimum %d", windowSize, WindowSizeMin)
	}

	years := table.Years()
	col, ok := table.Column(dataset.ColumnElectricity)
	if !ok {
		return nil, fmt.Errorf("no %s column", dataset.ColumnElectricity)
	}

	var rates []growthRate
	prevYear := 0
	prevValue := math.NaN()
	for i, year := range years {
		v := col[i]
		if math.IsNaN(v) {
			continue
		}
		if !math.IsNaN(prevValue) && prevValue > 0 && v > 0 {
			gap := year - prevYear
			r := math.Pow(v/prevValue, 1/float64(gap)) - 1
			rates = append(rates, growthRate{endYear: year, rate: r})
		}
		prevYear = year
		prevValue = v
	}
	if len(rates) == 0 {
		return nil, fmt.Errorf("no valid growth rates in series")
	}

	if excludeCovid {
		filtered := rates[:0]
		for _, r := range rates {
			if !IsCovidYear(r.endYear) {
				filtered = append(filtered, r)
			}
		}
		rates = filtered
		if len(rates) == 0 {
			return nil, fmt.Errorf("no growth rates remain after COVID-year exclusion")
		}
	}

	model := &WAMModel{}
	window := windowSize
	if window > len(rates) {
		window = len(rates)
		model.Warning = fmt.Sprintf("window shrunk from %d to %d available growth rates", windowSize, window)
	}
	recent := make([]float64, window)
	for i, r := range rates[len(rates)-window:] {
		recent[i] = r.rate
	}

	// WMA with period == len(series) is exactly the linearly-weighted mean
	// with the most recent rate weighted highest. A single rate needs no
	// averaging.
	if window == 1 {
		model.GrowthRate = recent[0]
	} else {
		weighted := talib.Wma(recent, window)
		model.GrowthRate = weighted[len(weighted)-1]
	}
	model.WindowUsed = window

	lastYear, lastValue, ok := table.LastObservedYear(dataset.ColumnElectricity)
	if !ok {
		return nil, fmt.Errorf("no observed %s values", dataset.ColumnElectricity)
	}
	model.LastYear = lastYear
	model.LastValue = lastValue

	return model, nil
}

// Forecast compounds the weighted growth rate forward from the last
// observed value, one step per year.
func (m *WAMModel) Forecast(years []int) []float64 {
	out := make([]float64, len(years))
	for i, year := range years {
		steps := year - m.LastYear
		if steps <= 0 {
			out[i] = m.LastValue
			continue
		}
		out[i] = m.LastValue * math.Pow(1+m.GrowthRate, float64(steps))
	}
	return out
}
