package forecast

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Metrics holds one model's test-set evaluation. R2 and MAPE are pointers
// so undefined values serialize as null instead of breaking JSON encoding.
type Metrics struct {
	Model string   `json:"model"`
	MSE   float64  `json:"mse"`
	R2    *float64 `json:"r2"`
	MAPE  *float64 `json:"mape"`
}

// Evaluate computes MSE, R² and MAPE of predictions against actuals.
// MAPE is undefined when any actual value is zero; R² is undefined when
// the actuals have no variance.
func Evaluate(model string, actuals, predictions []float64) Metrics {
	m := Metrics{Model: model}
	n := len(actuals)
	if n == 0 || n != len(predictions) {
		return m
	}

	var sse float64
	for i := range actuals {
		d := actuals[i] - predictions[i]
		sse += d * d
	}
	m.MSE = sse / float64(n)

	r2 := stat.RSquaredFrom(predictions, actuals, nil)
	if !math.IsNaN(r2) && !math.IsInf(r2, 0) {
		m.R2 = &r2
	}

	zeroActual := false
	var apeSum float64
	for i := range actuals {
		if actuals[i] == 0 {
			zeroActual = true
			break
		}
		apeSum += math.Abs((actuals[i] - predictions[i]) / actuals[i])
	}
	if !zeroActual {
		mape := apeSum / float64(n) * 100
		m.MAPE = &mape
	}

	return m
}

// CorrelationStrength labels an absolute correlation value.
// Strong >= 0.7, Moderate >= 0.4, Weak otherwise.
func CorrelationStrength(r float64) string {
	abs := math.Abs(r)
	switch {
	case abs >= 0.7:
		return "Strong"
	case abs >= 0.4:
		return "Moderate"
	default:
		return "Weak"
	}
}

// Correlation computes the Pearson correlation between two series, skipping
// row pairs where either value is missing. ok is false with fewer than two
// complete pairs or zero variance.
func Correlation(xs, ys []float64) (float64, bool) {
	var fx, fy []float64
	for i := range xs {
		if i >= len(ys) {
			break
		}
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			continue
		}
		fx = append(fx, xs[i])
		fy = append(fy, ys[i])
	}
	if len(fx) < 2 {
		return 0, false
	}
	r := stat.Correlation(fx, fy, nil)
	if math.IsNaN(r) {
		return 0, false
	}
	return r, true
}
