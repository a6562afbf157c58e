package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/soleforge/soleforge-backend/internal/data/repos/testutil"
	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/apierr"
	"github.com/soleforge/soleforge-backend/internal/platform/dbctx"
)

func TestCreatePersistsGenerationAndSnapshotTogether(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	gen, err := env.graph.Create(ctx, CreateGenerationInput{
		ProjectID:    env.project.ID,
		Instrumental: testutil.ValidInstrumental(),
		Source:       domain.SourceGenerate,
		CreatedBy:    env.user.ID,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	dbc := dbctx.WithTx(ctx, env.tx)
	snap, err := env.repos.SpecSnapshots.GetByGenerationID(dbc, gen.ID)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if snap == nil {
		t.Fatal("snapshot missing after Create")
	}
	if gen.IsActive {
		t.Fatal("Create must never flip the active pointer")
	}
}

func TestCreateRejectsInvalidInstrumental(t *testing.T) {
	env := newTestEnv(t)
	spec := testutil.ValidInstrumental()
	spec.OverallDimensions.ShoeLengthMM = 249

	_, err := env.graph.Create(context.Background(), CreateGenerationInput{
		ProjectID:    env.project.ID,
		Instrumental: spec,
		Source:       domain.SourceGenerate,
		CreatedBy:    env.user.ID,
	})
	if !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestCreateRejectsUnknownParent(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.graph.Create(context.Background(), CreateGenerationInput{
		ProjectID:    env.project.ID,
		Parents:      []uuid.UUID{uuid.New()},
		Instrumental: testutil.ValidInstrumental(),
		Source:       domain.SourceRegenerate,
		CreatedBy:    env.user.ID,
	})
	if !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation for unknown parent", err)
	}
}

func TestCreateRejectsCrossProjectParent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	other := testutil.SeedProject(t, ctx, env.tx, env.user.ID)
	foreign := testutil.SeedGeneration(t, ctx, env.tx, other.ID, env.user.ID, domain.SourceGenerate, nil)

	_, err := env.graph.Create(ctx, CreateGenerationInput{
		ProjectID:    env.project.ID,
		Parents:      []uuid.UUID{foreign.ID},
		Instrumental: testutil.ValidInstrumental(),
		Source:       domain.SourceRegenerate,
		CreatedBy:    env.user.ID,
	})
	if !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation for cross-project parent", err)
	}
}

func TestMergeSourceRequiresTwoParents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	parent := testutil.SeedGeneration(t, ctx, env.tx, env.project.ID, env.user.ID, domain.SourceGenerate, nil)

	for _, source := range []string{domain.SourceMerge, domain.SourceAIMerge} {
		_, err := env.graph.Create(ctx, CreateGenerationInput{
			ProjectID:    env.project.ID,
			Parents:      []uuid.UUID{parent.ID},
			Instrumental: testutil.ValidInstrumental(),
			Source:       source,
			CreatedBy:    env.user.ID,
		})
		if !errors.Is(err, apierr.ErrValidation) {
			t.Fatalf("source %s with one parent: err = %v, want ErrValidation", source, err)
		}
	}
}

func TestSwitchActiveKeepsSingleActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a := testutil.SeedGeneration(t, ctx, env.tx, env.project.ID, env.user.ID, domain.SourceGenerate, nil)
	b := testutil.SeedGeneration(t, ctx, env.tx, env.project.ID, env.user.ID, domain.SourceRegenerate, []uuid.UUID{a.ID})

	if err := env.graph.SwitchActive(ctx, env.project.ID, a.ID); err != nil {
		t.Fatalf("SwitchActive a: %v", err)
	}
	if err := env.graph.SwitchActive(ctx, env.project.ID, b.ID); err != nil {
		t.Fatalf("SwitchActive b: %v", err)
	}

	var count int64
	if err := env.tx.Model(&domain.Generation{}).
		Where("project_id = ? AND is_active", env.project.ID).
		Count(&count).Error; err != nil {
		t.Fatalf("count active: %v", err)
	}
	if count != 1 {
		t.Fatalf("active generations = %d, want exactly 1", count)
	}

	dbc := dbctx.WithTx(ctx, env.tx)
	active, err := env.repos.Generations.GetActiveByProjectID(dbc, env.project.ID)
	if err != nil {
		t.Fatalf("GetActiveByProjectID: %v", err)
	}
	if active == nil || active.ID != b.ID {
		t.Fatalf("active = %v, want %s", active, b.ID)
	}
}

func TestSwitchActiveRejectsCrossProjectGeneration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	other := testutil.SeedProject(t, ctx, env.tx, env.user.ID)
	foreign := testutil.SeedGeneration(t, ctx, env.tx, other.ID, env.user.ID, domain.SourceGenerate, nil)

	err := env.graph.SwitchActive(ctx, env.project.ID, foreign.ID)
	if !errors.Is(err, apierr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSwitchActiveRefusesUnconfirmedDraft(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	draft := testutil.SeedGeneration(t, ctx, env.tx, env.project.ID, env.user.ID, domain.SourceAIDraft, nil)

	err := env.graph.SwitchActive(ctx, env.project.ID, draft.ID)
	if !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation for unconfirmed draft", err)
	}

	if err := env.graph.ConfirmDraft(ctx, draft.ID, env.user.ID); err != nil {
		t.Fatalf("ConfirmDraft: %v", err)
	}
	// Confirming twice is a no-op, not an error.
	if err := env.graph.ConfirmDraft(ctx, draft.ID, env.user.ID); err != nil {
		t.Fatalf("ConfirmDraft repeat: %v", err)
	}
	if err := env.graph.SwitchActive(ctx, env.project.ID, draft.ID); err != nil {
		t.Fatalf("SwitchActive after confirm: %v", err)
	}
}

func TestConfirmDraftRejectsNonDraft(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	gen := testutil.SeedGeneration(t, ctx, env.tx, env.project.ID, env.user.ID, domain.SourceGenerate, nil)

	err := env.graph.ConfirmDraft(ctx, gen.ID, env.user.ID)
	if !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestLineageRootFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	root := testutil.SeedGeneration(t, ctx, env.tx, env.project.ID, env.user.ID, domain.SourceGenerate, nil)
	childA := testutil.SeedGeneration(t, ctx, env.tx, env.project.ID, env.user.ID, domain.SourceRegenerate, []uuid.UUID{root.ID})
	childB := testutil.SeedGeneration(t, ctx, env.tx, env.project.ID, env.user.ID, domain.SourceRegenerate, []uuid.UUID{root.ID})
	merged := testutil.SeedGeneration(t, ctx, env.tx, env.project.ID, env.user.ID, domain.SourceMerge, []uuid.UUID{childA.ID, childB.ID})

	lineage, err := env.graph.Lineage(ctx, merged.ID)
	if err != nil {
		t.Fatalf("Lineage: %v", err)
	}
	if len(lineage) != 4 {
		t.Fatalf("lineage length = %d, want 4", len(lineage))
	}
	if lineage[0].ID != root.ID {
		t.Fatalf("lineage[0] = %s, want root %s", lineage[0].ID, root.ID)
	}
	if lineage[len(lineage)-1].ID != merged.ID {
		t.Fatalf("lineage tail = %s, want %s", lineage[len(lineage)-1].ID, merged.ID)
	}

	pos := map[uuid.UUID]int{}
	for i, g := range lineage {
		pos[g.ID] = i
	}
	for _, g := range lineage {
		for _, p := range g.Parents() {
			if pos[p] >= pos[g.ID] {
				t.Fatalf("parent %s ordered after child %s", p, g.ID)
			}
		}
	}
}

func TestIsAncestor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	root := testutil.SeedGeneration(t, ctx, env.tx, env.project.ID, env.user.ID, domain.SourceGenerate, nil)
	child := testutil.SeedGeneration(t, ctx, env.tx, env.project.ID, env.user.ID, domain.SourceRegenerate, []uuid.UUID{root.ID})
	sibling := testutil.SeedGeneration(t, ctx, env.tx, env.project.ID, env.user.ID, domain.SourceGenerate, nil)

	if ok, err := env.graph.IsAncestor(ctx, root.ID, child.ID); err != nil || !ok {
		t.Fatalf("IsAncestor(root, child) = %v, %v; want true", ok, err)
	}
	if ok, err := env.graph.IsAncestor(ctx, child.ID, root.ID); err != nil || ok {
		t.Fatalf("IsAncestor(child, root) = %v, %v; want false", ok, err)
	}
	if ok, err := env.graph.IsAncestor(ctx, sibling.ID, child.ID); err != nil || ok {
		t.Fatalf("IsAncestor(sibling, child) = %v, %v; want false", ok, err)
	}
}
