package services

import (
	"fmt"

	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/apierr"
	"github.com/soleforge/soleforge-backend/internal/platform/logger"
)

// specRange is an inclusive [Min, Max] manufacturing constraint in
// millimeters.
type specRange struct {
	Min float64
	Max float64
}

// instrumentalRanges is the declared constraint table for every
// geometry-driving field. Both boundaries are accepted values.
var instrumentalRanges = map[string]specRange{
	"overall_dimensions.shoe_length_mm":    {250, 330},
	"overall_dimensions.shoe_width_mm":     {90, 130},
	"overall_dimensions.sole_thickness_mm": {20, 45},
	"last_profile.arch_height_mm":          {5, 35},
	"last_profile.toe_spring_mm":           {5, 25},
	"collar_geometry.collar_height_mm":     {30, 90},
}

type ValidationIssue struct {
	Path     string  `json:"path"`
	Issue    string  `json:"issue"`
	Detail   string  `json:"detail"`
	Min      float64 `json:"min,omitempty"`
	Max      float64 `json:"max,omitempty"`
	Received float64 `json:"received,omitempty"`
}

type ValidationState struct {
	Blocking               bool              `json:"is_blocking"`
	InstrumentalIssues     []ValidationIssue `json:"instrumental_errors"`
	MissingNonInstrumental []string          `json:"missing_non_instrumental"`
	Summary                string            `json:"summary"`
}

// SpecStore validates spec blocks and detects non-instrumental gaps.
// Snapshot persistence itself rides inside GenerationGraph.Create so a
// generation and its spec commit atomically.
type SpecStore interface {
	Validate(instrumental domain.InstrumentalSpec, nonInstrumental domain.NonInstrumentalSpec) ValidationState
	// RequireValid returns ErrValidation when any instrumental issue is
	// blocking.
	RequireValid(instrumental domain.InstrumentalSpec, nonInstrumental domain.NonInstrumentalSpec) (ValidationState, error)
}

type specStore struct {
	log *logger.Logger
}

func NewSpecStore(baseLog *logger.Logger) SpecStore {
	return &specStore{log: baseLog.With("service", "SpecStore")}
}

func instrumentalValue(spec domain.InstrumentalSpec, path string) float64 {
	switch path {
	case "overall_dimensions.shoe_length_mm":
		return spec.OverallDimensions.ShoeLengthMM
	case "overall_dimensions.shoe_width_mm":
		return spec.OverallDimensions.ShoeWidthMM
	case "overall_dimensions.sole_thickness_mm":
		return spec.OverallDimensions.SoleThicknessMM
	case "last_profile.arch_height_mm":
		return spec.LastProfile.ArchHeightMM
	case "last_profile.toe_spring_mm":
		return spec.LastProfile.ToeSpringMM
	case "collar_geometry.collar_height_mm":
		return spec.CollarGeometry.CollarHeightMM
	}
	return 0
}

// instrumentalPaths lists the constraint table keys in stable order for
// reproducible issue lists.
var instrumentalPaths = []string{
	"overall_dimensions.shoe_length_mm",
	"overall_dimensions.shoe_width_mm",
	"overall_dimensions.sole_thickness_mm",
	"last_profile.arch_height_mm",
	"last_profile.toe_spring_mm",
	"collar_geometry.collar_height_mm",
}

func (s *specStore) Validate(instrumental domain.InstrumentalSpec, nonInstrumental domain.NonInstrumentalSpec) ValidationState {
	var issues []ValidationIssue
	for _, path := range instrumentalPaths {
		r := instrumentalRanges[path]
		v := instrumentalValue(instrumental, path)
		switch {
		case v == 0:
			issues = append(issues, ValidationIssue{
				Path:   path,
				Issue:  "missing",
				Detail: "Required instrumental spec is missing.",
				Min:    r.Min,
				Max:    r.Max,
			})
		case v < r.Min:
			issues = append(issues, ValidationIssue{
				Path:     path,
				Issue:    "out_of_range",
				Detail:   "Value below minimum.",
				Min:      r.Min,
				Max:      r.Max,
				Received: v,
			})
		case v > r.Max:
			issues = append(issues, ValidationIssue{
				Path:     path,
				Issue:    "out_of_range",
				Detail:   "Value above maximum.",
				Min:      r.Min,
				Max:      r.Max,
				Received: v,
			})
		}
	}

	missing := nonInstrumental.MissingPaths()

	state := ValidationState{
		Blocking:               len(issues) > 0,
		InstrumentalIssues:     issues,
		MissingNonInstrumental: missing,
	}
	if state.Blocking {
		state.Summary = "Blocking instrumental spec errors present."
	} else {
		state.Summary = "Instrumental specs valid."
	}
	if len(missing) > 0 {
		state.Summary += fmt.Sprintf(" Missing %d non-instrumental fields.", len(missing))
	}
	return state
}

func (s *specStore) RequireValid(instrumental domain.InstrumentalSpec, nonInstrumental domain.NonInstrumentalSpec) (ValidationState, error) {
	state := s.Validate(instrumental, nonInstrumental)
	if state.Blocking {
		first := state.InstrumentalIssues[0]
		return state, fmt.Errorf("%w: %s %s (allowed [%g, %g], received %g)",
			apierr.ErrValidation, first.Path, first.Issue, first.Min, first.Max, first.Received)
	}
	return state, nil
}
