package forecast

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// TimeSeriesResult is the outcome of the time-series strategy chain.
type TimeSeriesResult struct {
	Years    []int     `json:"years"`
	Forecast []float64 `json:"forecast"`
	Method   string    `json:"method"`
}

// tsStrategy is one tier of the chain: fit on history, predict the horizon.
type tsStrategy struct {
	name string
	run  func(years []int, values []float64, horizon []int) ([]float64, error)
}

// ForecastTimeSeries runs the time-series strategy chain over an observed
// series. The exponential-smoothing model and the trend regression are
// fitted independently and averaged when both succeed; if one fails its
// forecast is used alone; if both fail a plain linear trend on Year is the
// last tier. Tier order is fixed, never chosen by accuracy comparison.
// An empty horizon returns an empty forecast immediately.
func ForecastTimeSeries(years []int, values []float64, horizon []int) (*TimeSeriesResult, error) {
	if len(horizon) == 0 {
		return &TimeSeriesResult{Method: "none"}, nil
	}
	if len(years) != len(values) || len(years) == 0 {
		return nil, fmt.Errorf("inconsistent series: %d years, %d values", len(years), len(values))
	}

	primary := []tsStrategy{
		{name: "holt", run: holtForecast},
		{name: "trend", run: ridgeTrendForecast},
	}

	var forecasts [][]float64
	var methods []string
	for _, s := range primary {
		out, err := s.run(years, values, horizon)
		if err != nil {
			continue
		}
		forecasts = append(forecasts, out)
		methods = append(methods, s.name)
	}

	switch len(forecasts) {
	case 2:
		avg := make([]float64, len(horizon))
		for i := range avg {
			avg[i] = (forecasts[0][i] + forecasts[1][i]) / 2
		}
		return &TimeSeriesResult{Years: horizon, Forecast: avg, Method: methods[0] + "+" + methods[1]}, nil
	case 1:
		return &TimeSeriesResult{Years: horizon, Forecast: forecasts[0], Method: methods[0]}, nil
	}

	out, err := linearTrendForecast(years, values, horizon)
	if err != nil {
		return nil, fmt.Errorf("all time-series strategies failed: %w", err)
	}
	return &TimeSeriesResult{Years: horizon, Forecast: out, Method: "linear"}, nil
}

// holtForecast fits Holt's linear-trend exponential smoothing. Smoothing
// parameters are selected from a small deterministic grid by in-sample
// one-step error.
func holtForecast(years []int, values []float64, horizon []int) ([]float64, error) {
	if len(values) < 3 {
		return nil, fmt.Errorf("holt needs at least 3 points, have %d", len(values))
	}

	grid := []float64{0.2, 0.5, 0.8}
	bestSSE := math.Inf(1)
	bestAlpha, bestBeta := 0.5, 0.2
	for _, alpha := range grid {
		for _, beta := range grid {
			sse := holtSSE(values, alpha, beta)
			if sse < bestSSE {
				bestSSE = sse
				bestAlpha, bestBeta = alpha, beta
			}
		}
	}

	level := values[0]
	trend := values[1] - values[0]
	for t := 1; t < len(values); t++ {
		newLevel := bestAlpha*values[t] + (1-bestAlpha)*(level+trend)
		trend = bestBeta*(newLevel-level) + (1-bestBeta)*trend
		level = newLevel
	}

	lastYear := years[len(years)-1]
	out := make([]float64, len(horizon))
	for i, year := range horizon {
		h := float64(year - lastYear)
		out[i] = level + h*trend
	}
	return out, nil
}

// holtSSE returns the in-sample one-step squared error for a parameter pair.
func holtSSE(values []float64, alpha, beta float64) float64 {
	level := values[0]
	trend := values[1] - values[0]
	var sse float64
	for t := 1; t < len(values); t++ {
		pred := level + trend
		d := values[t] - pred
		sse += d * d
		newLevel := alpha*values[t] + (1-alpha)*(level+trend)
		trend = beta*(newLevel-level) + (1-beta)*trend
		level = newLevel
	}
	return sse
}

// ridgeTrendLambda damps the quadratic term so short series do not produce
// runaway curvature.
const ridgeTrendLambda = 1.0

// ridgeTrendForecast fits a ridge-regularized quadratic trend on the
// centered year index.
func ridgeTrendForecast(years []int, values []float64, horizon []int) ([]float64, error) {
	n := len(values)
	if n < 3 {
		return nil, fmt.Errorf("trend regression needs at least 3 points, have %d", n)
	}

	meanYear := 0.0
	for _, y := range years {
		meanYear += float64(y)
	}
	meanYear /= float64(n)

	// Design: [1, t, t^2] with t centered on the mean year.
	const p = 3
	xtx := mat.NewDense(p, p, nil)
	xty := mat.NewVecDense(p, nil)
	for i := 0; i < n; i++ {
		t := float64(years[i]) - meanYear
		row := [p]float64{1, t, t * t}
		for a := 0; a < p; a++ {
			for b := 0; b < p; b++ {
				xtx.Set(a, b, xtx.At(a, b)+row[a]*row[b])
			}
			xty.SetVec(a, xty.AtVec(a)+row[a]*values[i])
		}
	}
	for a := 1; a < p; a++ {
		xtx.Set(a, a, xtx.At(a, a)+ridgeTrendLambda)
	}

	var beta mat.VecDense
	if err := beta.SolveVec(xtx, xty); err != nil {
		return nil, fmt.Errorf("ridge solve failed: %w", err)
	}

	out := make([]float64, len(horizon))
	for i, year := range horizon {
		t := float64(year) - meanYear
		out[i] = beta.AtVec(0) + beta.AtVec(1)*t + beta.AtVec(2)*t*t
	}
	return out, nil
}

// linearTrendForecast is the last tier: simple linear regression on Year.
func linearTrendForecast(years []int, values []float64, horizon []int) ([]float64, error) {
	if len(values) < 2 {
		return nil, fmt.Errorf("linear trend needs at least 2 points, have %d", len(values))
	}

	xs := make([]float64, len(years))
	for i, y := range years {
		xs[i] = float64(y)
	}
	intercept, slope := stat.LinearRegression(xs, values, nil, false)
	if math.IsNaN(intercept) || math.IsNaN(slope) {
		return nil, fmt.Errorf("degenerate series for linear trend")
	}

	out := make([]float64, len(horizon))
	for i, year := range horizon {
		out[i] = intercept + slope*float64(year)
	}
	return out, nil
}
