// Package orchestrator validates forecast configurations and drives full
// batch runs across sectors.
package orchestrator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mkaravia/gridcast/internal/dataset"
	"github.com/mkaravia/gridcast/internal/forecast"
)

// ValidationError describes one configuration violation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every violation found in one pass. Callers need
// the complete list to fix a submission in one round trip.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// HasErrors reports whether any violation was recorded.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

var scenarioNamePattern = regexp.MustCompile(`^[A-Za-z0-9 _-]+$`)

// ValidateConfig checks a submitted configuration against the loaded
// dataset. All violations are accumulated; nothing fails fast.
func ValidateConfig(cfg *forecast.JobConfig, ds *dataset.Dataset) ValidationErrors {
	var errs ValidationErrors

	name := strings.TrimSpace(cfg.ScenarioName)
	switch {
	case name == "":
		errs = append(errs, ValidationError{Field: "scenarioName", Message: "scenario name is required"})
	case len(name) < forecast.ScenarioNameMinLen || len(name) > forecast.ScenarioNameMaxLen:
		errs = append(errs, ValidationError{
			Field: "scenarioName",
			Message: fmt.Sprintf("scenario name must be %d-%d characters, got %d",
				forecast.ScenarioNameMinLen, forecast.ScenarioNameMaxLen, len(name)),
		})
	case !scenarioNamePattern.MatchString(name):
		errs = append(errs, ValidationError{
			Field:   "scenarioName",
			Message: "scenario name may only contain letters, digits, spaces, hyphens and underscores",
		})
	}

	if cfg.TargetYear < forecast.TargetYearMin || cfg.TargetYear > forecast.TargetYearMax {
		errs = append(errs, ValidationError{
			Field: "targetYear",
			Message: fmt.Sprintf("target year must be between %d and %d, got %d",
				forecast.TargetYearMin, forecast.TargetYearMax, cfg.TargetYear),
		})
	}

	switch {
	case len(cfg.SectorConfigs) == 0:
		errs = append(errs, ValidationError{Field: "sectorConfigs", Message: "at least one sector configuration is required"})
	case len(cfg.SectorConfigs) > forecast.MaxSectorConfigs:
		errs = append(errs, ValidationError{
			Field: "sectorConfigs",
			Message: fmt.Sprintf("at most %d sector configurations allowed, got %d",
				forecast.MaxSectorConfigs, len(cfg.SectorConfigs)),
		})
	}

	for _, sector := range cfg.SectorNames() {
		sectorCfg := cfg.SectorConfigs[sector]
		field := fmt.Sprintf("sectorConfigs.%s", sector)

		table, sectorExists := ds.SectorTables[sector]
		if !sectorExists {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("sector %q does not exist in the input data", sector),
			})
		}

		if len(sectorCfg.Models) == 0 {
			errs = append(errs, ValidationError{Field: field + ".models", Message: "at least one model must be selected"})
		}
		for _, model := range sectorCfg.Models {
			if !forecast.IsKnownModel(model) {
				errs = append(errs, ValidationError{
					Field:   field + ".models",
					Message: fmt.Sprintf("unknown model %q (known: %s)", model, strings.Join(forecast.KnownModels, ", ")),
				})
			}
		}

		if sectorCfg.HasModel(forecast.ModelMLR) {
			if len(sectorCfg.IndependentVars) > forecast.MaxIndependentVars {
				errs = append(errs, ValidationError{
					Field: field + ".independentVars",
					Message: fmt.Sprintf("at most %d independent variables allowed, got %d",
						forecast.MaxIndependentVars, len(sectorCfg.IndependentVars)),
				})
			}
			if sectorExists {
				for _, v := range sectorCfg.IndependentVars {
					if !table.HasColumn(v) {
						errs = append(errs, ValidationError{
							Field:   field + ".independentVars",
							Message: fmt.Sprintf("variable %q is not a column of sector %q", v, sector),
						})
					}
				}
			}
		}

		if sectorCfg.HasModel(forecast.ModelWAM) && sectorCfg.WindowSize != 0 {
			if sectorCfg.WindowSize < forecast.WindowSizeMin || sectorCfg.WindowSize > forecast.WindowSizeMax {
				errs = append(errs, ValidationError{
					Field: field + ".windowSize",
					Message: fmt.Sprintf("window size must be between %d and %d, got %d",
						forecast.WindowSizeMin, forecast.WindowSizeMax, sectorCfg.WindowSize),
				})
			}
		}
	}

	return errs
}
