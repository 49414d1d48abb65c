// Package forecast implements the per-sector forecasting pipeline:
// data preparation, model training with fallbacks, forecast generation,
// and evaluation.
package forecast

import (
	"sort"
	"time"
)

// Known forecasting models.
const (
	ModelMLR        = "MLR"
	ModelSLR        = "SLR"
	ModelWAM        = "WAM"
	ModelTimeSeries = "TimeSeries"
)

// KnownModels lists every model name a configuration may select.
var KnownModels = []string{ModelMLR, ModelSLR, ModelWAM, ModelTimeSeries}

// IsKnownModel reports whether the name is one of the four known models.
func IsKnownModel(name string) bool {
	for _, m := range KnownModels {
		if m == name {
			return true
		}
	}
	return false
}

// CovidYears are the demand-shock years optionally excluded from the WAM
// growth-rate window. They stay in the base series; only the growth-rate
// window filters them.
var CovidYears = []int{2020, 2021}

// IsCovidYear reports whether the year is in the exclusion set.
func IsCovidYear(year int) bool {
	for _, y := range CovidYears {
		if y == year {
			return true
		}
	}
	return false
}

// WAM window size bounds and default.
const (
	WindowSizeMin     = 2
	WindowSizeMax     = 10
	DefaultWindowSize = 5
)

// Configuration caps enforced at validation time.
const (
	MaxSectorConfigs   = 20
	MaxIndependentVars = 10
	ScenarioNameMinLen = 2
	ScenarioNameMaxLen = 50
	TargetYearMin      = 2020
	TargetYearMax      = 2100
)

// SectorModelConfig selects the models and model parameters for one sector.
type SectorModelConfig struct {
	Models          []string `json:"models"`
	IndependentVars []string `json:"independentVars,omitempty"`
	WindowSize      int      `json:"windowSize,omitempty"`
}

// HasModel reports whether the given model is selected for this sector.
func (c SectorModelConfig) HasModel(name string) bool {
	for _, m := range c.Models {
		if m == name {
			return true
		}
	}
	return false
}

// EffectiveWindowSize returns the configured WAM window, or the default
// when unset.
func (c SectorModelConfig) EffectiveWindowSize() int {
	if c.WindowSize == 0 {
		return DefaultWindowSize
	}
	return c.WindowSize
}

// JobConfig is the validated, immutable configuration of one forecast run.
type JobConfig struct {
	ScenarioName          string                       `json:"scenarioName"`
	TargetYear            int                          `json:"targetYear"`
	ExcludeCovidYears     bool                         `json:"excludeCovidYears"`
	SectorConfigs         map[string]SectorModelConfig `json:"sectorConfigs"`
	DetailedConfiguration map[string]any               `json:"detailedConfiguration,omitempty"`
	UserMetadata          map[string]any               `json:"userMetadata,omitempty"`
	RequestedAt           time.Time                    `json:"requestedAt"`
}

// SectorNames returns the configured sector names in deterministic order.
func (c *JobConfig) SectorNames() []string {
	names := make([]string, 0, len(c.SectorConfigs))
	for name := range c.SectorConfigs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
