package forecast

import (
	"math"
	"time"

	"github.com/mkaravia/gridcast/internal/dataset"
)

// TableDoc is the JSON shape of a year-indexed table. Missing values are
// null (JSON cannot carry NaN).
type TableDoc struct {
	Years   []int                 `json:"years"`
	Columns map[string][]*float64 `json:"columns"`
}

// NewTableDoc creates an empty document over the given years.
func NewTableDoc(years []int) *TableDoc {
	return &TableDoc{
		Years:   append([]int(nil), years...),
		Columns: make(map[string][]*float64),
	}
}

// SetColumn stores a column, mapping NaN to null. Shorter slices are
// null-padded.
func (d *TableDoc) SetColumn(name string, values []float64) {
	col := make([]*float64, len(d.Years))
	for i := range col {
		if i < len(values) && !math.IsNaN(values[i]) {
			v := values[i]
			col[i] = &v
		}
	}
	d.Columns[name] = col
}

// SetSparseColumn stores values for a subset of years, null elsewhere.
func (d *TableDoc) SetSparseColumn(name string, years []int, values []float64) {
	col := make([]*float64, len(d.Years))
	for i, year := range years {
		if i >= len(values) || math.IsNaN(values[i]) {
			continue
		}
		for j, docYear := range d.Years {
			if docYear == year {
				v := values[i]
				col[j] = &v
				break
			}
		}
	}
	d.Columns[name] = col
}

// TableDocFrom converts a dataset table to its JSON document shape.
func TableDocFrom(t *dataset.Table) *TableDoc {
	doc := NewTableDoc(t.Years())
	for _, name := range t.ColumnNames() {
		col, _ := t.Column(name)
		doc.SetColumn(name, col)
	}
	return doc
}

// CorrelationEntry is one independent variable's correlation with the
// forecast target.
type CorrelationEntry struct {
	Variable    string  `json:"variable"`
	Correlation float64 `json:"correlation"`
	Strength    string  `json:"strength"`
}

// SectorResultDoc is the persisted artifact for one sector's run.
type SectorResultDoc struct {
	Sector            string             `json:"sector"`
	GeneratedAt       time.Time          `json:"generated_at"`
	UsedExistingData  bool               `json:"used_existing_data"`
	ModelsUsed        []string           `json:"models_used"`
	Warnings          []string           `json:"warnings,omitempty"`
	Input             *TableDoc          `json:"input"`
	Combined          *TableDoc          `json:"combined_results"`
	Correlations      []CorrelationEntry `json:"correlations,omitempty"`
	VariableForecasts *TableDoc          `json:"independent_variable_forecasts,omitempty"`
	Evaluation        []Metrics          `json:"evaluation,omitempty"`
	WAM               *WAMModel          `json:"wam,omitempty"`
	TimeSeriesMethod  string             `json:"time_series_method,omitempty"`
}

// Column label for the existing-data short-circuit output.
const UserDataColumn = "user data"
