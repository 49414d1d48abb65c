package forecast

import (
	"math"

	"github.com/mkaravia/gridcast/internal/dataset"
)

// SelectIndependentVars picks the MLR predictor set for a sector.
// Candidates are every column except Year and Electricity that has at least
// one observed value overall and at least two observed values inside the
// training years. A requested subset is intersected with the valid set,
// falling back to the full valid set when the intersection is empty, and to
// Year as the sole predictor when nothing valid exists.
func SelectIndependentVars(table *dataset.Table, requested []string, trainYears []int) []string {
	inTrain := make(map[int]bool, len(trainYears))
	for _, y := range trainYears {
		inTrain[y] = true
	}

	var valid []string
	for _, name := range table.ColumnNames() {
		if name == dataset.ColumnElectricity {
			continue
		}
		if table.ObservedCount(name) == 0 {
			continue
		}
		col, _ := table.Column(name)
		observedInTrain := 0
		for i, year := range table.Years() {
			if inTrain[year] && !math.IsNaN(col[i]) {
				observedInTrain++
			}
		}
		if observedInTrain >= 2 {
			valid = append(valid, name)
		}
	}

	if len(requested) > 0 {
		var intersect []string
		for _, want := range requested {
			for _, have := range valid {
				if want == have {
					intersect = append(intersect, want)
					break
				}
			}
		}
		if len(intersect) > 0 {
			return intersect
		}
	}

	if len(valid) > 0 {
		return valid
	}
	return []string{dataset.ColumnYear}
}

// BuildDesignRows assembles predictor rows for the given years, one row per
// year in order. Missing values are imputed with the column mean over the
// whole table (0 when the column is entirely missing). The Year predictor
// resolves to the year itself.
func BuildDesignRows(table *dataset.Table, vars []string, years []int) [][]float64 {
	means := make(map[string]float64, len(vars))
	for _, v := range vars {
		if v != dataset.ColumnYear {
			means[v] = table.Mean(v)
		}
	}

	rows := make([][]float64, len(years))
	for i, year := range years {
		row := make([]float64, len(vars))
		idx := table.YearIndex(year)
		for j, v := range vars {
			if v == dataset.ColumnYear {
				row[j] = float64(year)
				continue
			}
			val := math.NaN()
			if idx >= 0 {
				val = table.Value(v, idx)
			}
			if math.IsNaN(val) {
				val = means[v]
			}
			row[j] = val
		}
		rows[i] = row
	}
	return rows
}

// TargetValues extracts the Electricity values for the given years.
// Years with no observed value are skipped along with their position in
// the returned keep mask.
func TargetValues(table *dataset.Table, years []int) (values []float64, kept []int) {
	for _, year := range years {
		idx := table.YearIndex(year)
		if idx < 0 {
			continue
		}
		v := table.Value(dataset.ColumnElectricity, idx)
		if math.IsNaN(v) {
			continue
		}
		values = append(values, v)
		kept = append(kept, year)
	}
	return values, kept
}
