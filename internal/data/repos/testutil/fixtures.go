package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/soleforge/soleforge-backend/internal/domain"
)

func SeedUser(tb testing.TB, ctx context.Context, tx *gorm.DB, email string) *domain.User {
	tb.Helper()
	u := &domain.User{
		ID:        uuid.New(),
		Email:     email,
		Password:  "pw",
		FirstName: "A",
		LastName:  "B",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedProject(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) *domain.Project {
	tb.Helper()
	p := &domain.Project{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      "runner v1",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed project: %v", err)
	}
	return p
}

// ValidInstrumental is the midrange instrumental block used across tests.
func ValidInstrumental() domain.InstrumentalSpec {
	return domain.InstrumentalSpec{
		OverallDimensions: domain.OverallDimensions{
			ShoeLengthMM:    280,
			ShoeWidthMM:     105,
			SoleThicknessMM: 30,
		},
		LastProfile: domain.LastProfile{
			ArchHeightMM: 15,
			ToeSpringMM:  12,
		},
		CollarGeometry: domain.CollarGeometry{
			CollarHeightMM: 55,
		},
	}
}

func SeedGeneration(tb testing.TB, ctx context.Context, tx *gorm.DB, projectID, createdBy uuid.UUID, source string, parents []uuid.UUID) *domain.Generation {
	tb.Helper()
	g := &domain.Generation{
		ID:        uuid.New(),
		ProjectID: projectID,
		Source:    source,
		ParentIDs: domain.EncodeParents(parents),
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(g).Error; err != nil {
		tb.Fatalf("seed generation: %v", err)
	}
	snap := &domain.SpecSnapshot{
		ID:           uuid.New(),
		GenerationID: g.ID,
		Instrumental: domain.EncodeInstrumental(ValidInstrumental()),
		CreatedAt:    time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(snap).Error; err != nil {
		tb.Fatalf("seed spec snapshot: %v", err)
	}
	return g
}
