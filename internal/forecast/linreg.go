package forecast

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// LinearModel is a fitted ordinary least squares model over named
// predictors. SLR is the special case of a single Year predictor.
type LinearModel struct {
	Vars         []string
	Coefs        []float64
	Intercept    float64
	FitIntercept bool
}

// Predict evaluates the model on one predictor row (same order as Vars).
func (m *LinearModel) Predict(row []float64) float64 {
	y := m.Intercept
	for i, c := range m.Coefs {
		if i < len(row) {
			y += c * row[i]
		}
	}
	return y
}

// FitOLS fits ordinary least squares via QR on the design matrix.
// Returns an error when the system is singular or under-determined.
func FitOLS(vars []string, rows [][]float64, targets []float64, fitIntercept bool) (*LinearModel, error) {
	n := len(rows)
	if n == 0 || n != len(targets) {
		return nil, fmt.Errorf("inconsistent training data: %d rows, %d targets", n, len(targets))
	}
	p := len(vars)
	if p == 0 {
		return nil, fmt.Errorf("no predictors")
	}
	cols := p
	if fitIntercept {
		cols++
	}
	if n < cols {
		return nil, fmt.Errorf("under-determined system: %d rows for %d parameters", n, cols)
	}

	x := mat.NewDense(n, cols, nil)
	for i, row := range rows {
		for j := 0; j < p; j++ {
			x.Set(i, j, row[j])
		}
		if fitIntercept {
			x.Set(i, p, 1)
		}
	}
	y := mat.NewVecDense(n, targets)

	var beta mat.VecDense
	if err := beta.SolveVec(x, y); err != nil {
		return nil, fmt.Errorf("least squares solve failed: %w", err)
	}

	model := &LinearModel{
		Vars:         append([]string(nil), vars...),
		Coefs:        make([]float64, p),
		FitIntercept: fitIntercept,
	}
	for j := 0; j < p; j++ {
		model.Coefs[j] = beta.AtVec(j)
	}
	if fitIntercept {
		model.Intercept = beta.AtVec(p)
	}
	return model, nil
}

// Minimum training samples before cross-validated grid search is worthwhile.
const minSamplesForGridSearch = 3

// TrainLinear fits an OLS model with intercept on/off selected by
// expanding-window cross-validation. Ordinary k-fold would leak future
// information, so each fold trains on a prefix and predicts the next point.
// With too few samples the grid search is skipped and the default settings
// are fitted directly.
func TrainLinear(vars []string, rows [][]float64, targets []float64) (*LinearModel, error) {
	if len(rows) < minSamplesForGridSearch {
		return FitOLS(vars, rows, targets, true)
	}

	best := true
	bestScore := expandingWindowScore(vars, rows, targets, true)
	if score := expandingWindowScore(vars, rows, targets, false); score < bestScore {
		best = false
	}

	model, err := FitOLS(vars, rows, targets, best)
	if err != nil && !best {
		// The no-intercept fit can fail where the default succeeds.
		return FitOLS(vars, rows, targets, true)
	}
	return model, err
}

// expandingWindowScore returns the mean squared one-step-ahead error across
// expanding-window folds, or +Inf when no fold could be fitted.
func expandingWindowScore(vars []string, rows [][]float64, targets []float64, fitIntercept bool) float64 {
	minTrain := len(vars) + 1
	if fitIntercept {
		minTrain++
	}
	if minTrain < 2 {
		minTrain = 2
	}

	var sse float64
	folds := 0
	for k := minTrain; k < len(rows); k++ {
		model, err := FitOLS(vars, rows[:k], targets[:k], fitIntercept)
		if err != nil {
			continue
		}
		d := targets[k] - model.Predict(rows[k])
		sse += d * d
		folds++
	}
	if folds == 0 {
		return math.Inf(1)
	}
	return sse / float64(folds)
}
