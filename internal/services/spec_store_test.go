package services

import (
	"errors"
	"testing"

	"github.com/soleforge/soleforge-backend/internal/data/repos/testutil"
	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/apierr"
)

func TestValidateBoundaries(t *testing.T) {
	store := NewSpecStore(testutil.Logger(t))

	cases := []struct {
		name     string
		mutate   func(*domain.InstrumentalSpec)
		blocking bool
	}{
		{"midrange", func(s *domain.InstrumentalSpec) {}, false},
		{"length at lower bound", func(s *domain.InstrumentalSpec) { s.OverallDimensions.ShoeLengthMM = 250 }, false},
		{"length at upper bound", func(s *domain.InstrumentalSpec) { s.OverallDimensions.ShoeLengthMM = 330 }, false},
		{"length just below", func(s *domain.InstrumentalSpec) { s.OverallDimensions.ShoeLengthMM = 249 }, true},
		{"length just above", func(s *domain.InstrumentalSpec) { s.OverallDimensions.ShoeLengthMM = 331 }, true},
		{"length missing", func(s *domain.InstrumentalSpec) { s.OverallDimensions.ShoeLengthMM = 0 }, true},
		{"width at bounds", func(s *domain.InstrumentalSpec) { s.OverallDimensions.ShoeWidthMM = 90 }, false},
		{"width too wide", func(s *domain.InstrumentalSpec) { s.OverallDimensions.ShoeWidthMM = 131 }, true},
		{"sole too thin", func(s *domain.InstrumentalSpec) { s.OverallDimensions.SoleThicknessMM = 19 }, true},
		{"arch at upper bound", func(s *domain.InstrumentalSpec) { s.LastProfile.ArchHeightMM = 35 }, false},
		{"toe spring too high", func(s *domain.InstrumentalSpec) { s.LastProfile.ToeSpringMM = 26 }, true},
		{"collar at lower bound", func(s *domain.InstrumentalSpec) { s.CollarGeometry.CollarHeightMM = 30 }, false},
		{"collar too tall", func(s *domain.InstrumentalSpec) { s.CollarGeometry.CollarHeightMM = 91 }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := testutil.ValidInstrumental()
			tc.mutate(&spec)
			state := store.Validate(spec, domain.NonInstrumentalSpec{})
			if state.Blocking != tc.blocking {
				t.Fatalf("Blocking = %v, want %v (issues: %+v)", state.Blocking, tc.blocking, state.InstrumentalIssues)
			}
			_, err := store.RequireValid(spec, domain.NonInstrumentalSpec{})
			if tc.blocking && !errors.Is(err, apierr.ErrValidation) {
				t.Fatalf("RequireValid error = %v, want ErrValidation", err)
			}
			if !tc.blocking && err != nil {
				t.Fatalf("RequireValid unexpected error: %v", err)
			}
		})
	}
}

func TestValidateReportsMissingNonInstrumental(t *testing.T) {
	store := NewSpecStore(testutil.Logger(t))

	state := store.Validate(testutil.ValidInstrumental(), domain.NonInstrumentalSpec{})
	if len(state.MissingNonInstrumental) != len(domain.NonInstrumentalPaths) {
		t.Fatalf("missing = %v, want all %d paths", state.MissingNonInstrumental, len(domain.NonInstrumentalPaths))
	}
	if state.Blocking {
		t.Fatal("missing non-instrumental fields must not block validation")
	}

	var non domain.NonInstrumentalSpec
	non.Materials.Upper = "smooth_leather"
	non.Colors.PrimaryHex = "#000000"
	state = store.Validate(testutil.ValidInstrumental(), non)
	if len(state.MissingNonInstrumental) != len(domain.NonInstrumentalPaths)-2 {
		t.Fatalf("missing = %v, want %d entries", state.MissingNonInstrumental, len(domain.NonInstrumentalPaths)-2)
	}
	for _, p := range state.MissingNonInstrumental {
		if p == "materials.upper" || p == "colors.primary_hex" {
			t.Fatalf("set field %s reported as missing", p)
		}
	}
}
