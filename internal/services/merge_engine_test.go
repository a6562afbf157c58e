package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/google/uuid"

	"github.com/soleforge/soleforge-backend/internal/data/repos"
	"github.com/soleforge/soleforge-backend/internal/data/repos/testutil"
	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/apierr"
	"github.com/soleforge/soleforge-backend/internal/platform/dbctx"
)

func newTestMergeEngine(t *testing.T, env *testEnv) MergeEngine {
	t.Helper()
	return NewMergeEngine(
		env.tx, testutil.Logger(t), env.graph, env.audit, NewGeometryBuilder(), DefaultGeomVersion,
		env.repos.Generations, env.repos.SpecSnapshots, env.repos.MergeRecords,
	)
}

// seedDivergentParents creates root -> (a, b) where a and b share the
// instrumental block but disagree on one non-instrumental field.
func seedDivergentParents(t *testing.T, env *testEnv) (a, b *domain.Generation) {
	t.Helper()
	ctx := context.Background()

	root, err := env.graph.Create(ctx, CreateGenerationInput{
		ProjectID:    env.project.ID,
		Instrumental: testutil.ValidInstrumental(),
		Source:       domain.SourceGenerate,
		CreatedBy:    env.user.ID,
	})
	if err != nil {
		t.Fatalf("seed root: %v", err)
	}

	nonA := completeNonInstrumental()
	nonA.Materials.Upper = "suede"
	a, err = env.graph.Create(ctx, CreateGenerationInput{
		ProjectID:       env.project.ID,
		Parents:         []uuid.UUID{root.ID},
		Instrumental:    testutil.ValidInstrumental(),
		NonInstrumental: &nonA,
		Source:          domain.SourceRegenerate,
		CreatedBy:       env.user.ID,
	})
	if err != nil {
		t.Fatalf("seed parent a: %v", err)
	}

	nonB := completeNonInstrumental()
	nonB.Materials.Upper = "canvas"
	b, err = env.graph.Create(ctx, CreateGenerationInput{
		ProjectID:       env.project.ID,
		Parents:         []uuid.UUID{root.ID},
		Instrumental:    testutil.ValidInstrumental(),
		NonInstrumental: &nonB,
		Source:          domain.SourceRegenerate,
		CreatedBy:       env.user.ID,
	})
	if err != nil {
		t.Fatalf("seed parent b: %v", err)
	}
	return a, b
}

func TestMergeRequiresExplicitResolution(t *testing.T) {
	env := newTestEnv(t)
	engine := newTestMergeEngine(t, env)
	a, b := seedDivergentParents(t, env)

	_, err := engine.Merge(context.Background(), MergeInput{
		ProjectID: env.project.ID,
		ParentA:   a.ID,
		ParentB:   b.ID,
		Actor:     env.user.ID,
	})
	if !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation for unresolved conflict", err)
	}
}

func TestMergeAppliesResolutionAndPassThrough(t *testing.T) {
	env := newTestEnv(t)
	engine := newTestMergeEngine(t, env)
	a, b := seedDivergentParents(t, env)
	ctx := context.Background()

	merged, err := engine.Merge(ctx, MergeInput{
		ProjectID:        env.project.ID,
		ParentA:          a.ID,
		ParentB:          b.ID,
		FieldResolutions: map[string]ParentPick{"materials.upper": PickParentB},
		Actor:            env.user.ID,
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Source != domain.SourceMerge {
		t.Fatalf("source = %s, want merge", merged.Source)
	}

	parents := merged.Parents()
	if len(parents) != 2 {
		t.Fatalf("parents = %v, want 2", parents)
	}
	if parents[0].String() > parents[1].String() {
		t.Fatal("parent ids not stored sorted")
	}

	dbc := dbctx.WithTx(ctx, env.tx)
	snap, err := env.repos.SpecSnapshots.GetByGenerationID(dbc, merged.ID)
	if err != nil || snap == nil {
		t.Fatalf("snapshot for merged generation: %v", err)
	}
	non, err := domain.DecodeNonInstrumental(snap.NonInstrumental)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if non.Materials.Upper != "canvas" {
		t.Fatalf("resolution not applied: %q", non.Materials.Upper)
	}
	// Identical fields pass through untouched.
	if non.Colors.PrimaryHex != "#000000" {
		t.Fatalf("pass-through field lost: %q", non.Colors.PrimaryHex)
	}

	rec, err := engine.RecordFor(ctx, merged.ID)
	if err != nil {
		t.Fatalf("RecordFor: %v", err)
	}
	var hashes []string
	if err := json.Unmarshal(rec.ParentHashes, &hashes); err != nil {
		t.Fatalf("unmarshal parent hashes: %v", err)
	}
	if len(hashes) != 2 || !sort.StringsAreSorted(hashes) {
		t.Fatalf("parent hashes = %v, want 2 sorted entries", hashes)
	}
	if rec.ResultHash == "" {
		t.Fatal("merge record missing result hash")
	}
}

func TestMergeOrderIndependentResultHash(t *testing.T) {
	env := newTestEnv(t)
	engine := newTestMergeEngine(t, env)
	a, b := seedDivergentParents(t, env)
	ctx := context.Background()

	res := map[string]ParentPick{"materials.upper": PickParentA}

	mAB, err := engine.Merge(ctx, MergeInput{
		ProjectID: env.project.ID, ParentA: a.ID, ParentB: b.ID,
		FieldResolutions: res, Actor: env.user.ID,
	})
	if err != nil {
		t.Fatalf("merge(a,b): %v", err)
	}
	// Flipping the argument order flips which parent the pick names.
	mBA, err := engine.Merge(ctx, MergeInput{
		ProjectID: env.project.ID, ParentA: b.ID, ParentB: a.ID,
		FieldResolutions: map[string]ParentPick{"materials.upper": PickParentB}, Actor: env.user.ID,
	})
	if err != nil {
		t.Fatalf("merge(b,a): %v", err)
	}

	recAB, _ := engine.RecordFor(ctx, mAB.ID)
	recBA, _ := engine.RecordFor(ctx, mBA.ID)
	if recAB.ResultHash != recBA.ResultHash {
		t.Fatalf("merge result hash depends on order: %s vs %s", recAB.ResultHash, recBA.ResultHash)
	}
}

func TestMergeRejectsFastForward(t *testing.T) {
	env := newTestEnv(t)
	engine := newTestMergeEngine(t, env)
	ctx := context.Background()

	parent, err := env.graph.Create(ctx, CreateGenerationInput{
		ProjectID:    env.project.ID,
		Instrumental: testutil.ValidInstrumental(),
		Source:       domain.SourceGenerate,
		CreatedBy:    env.user.ID,
	})
	if err != nil {
		t.Fatalf("seed parent: %v", err)
	}
	child, err := env.graph.Create(ctx, CreateGenerationInput{
		ProjectID:    env.project.ID,
		Parents:      []uuid.UUID{parent.ID},
		Instrumental: testutil.ValidInstrumental(),
		Source:       domain.SourceRegenerate,
		CreatedBy:    env.user.ID,
	})
	if err != nil {
		t.Fatalf("seed child: %v", err)
	}

	_, err = engine.Merge(ctx, MergeInput{
		ProjectID: env.project.ID, ParentA: parent.ID, ParentB: child.ID, Actor: env.user.ID,
	})
	if !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("fast-forward merge: err = %v, want ErrValidation", err)
	}
}

func TestMergeRejectsDivergentInstrumental(t *testing.T) {
	env := newTestEnv(t)
	engine := newTestMergeEngine(t, env)
	ctx := context.Background()

	a, err := env.graph.Create(ctx, CreateGenerationInput{
		ProjectID:    env.project.ID,
		Instrumental: testutil.ValidInstrumental(),
		Source:       domain.SourceGenerate,
		CreatedBy:    env.user.ID,
	})
	if err != nil {
		t.Fatalf("seed a: %v", err)
	}
	other := testutil.ValidInstrumental()
	other.OverallDimensions.ShoeLengthMM = 300
	b, err := env.graph.Create(ctx, CreateGenerationInput{
		ProjectID:    env.project.ID,
		Instrumental: other,
		Source:       domain.SourceGenerate,
		CreatedBy:    env.user.ID,
	})
	if err != nil {
		t.Fatalf("seed b: %v", err)
	}

	_, err = engine.Merge(ctx, MergeInput{
		ProjectID: env.project.ID, ParentA: a.ID, ParentB: b.ID, Actor: env.user.ID,
	})
	if !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("divergent instrumental: err = %v, want ErrValidation", err)
	}
}

func TestAIMergeRecordsAudit(t *testing.T) {
	env := newTestEnv(t)
	engine := newTestMergeEngine(t, env)
	a, b := seedDivergentParents(t, env)
	ctx := context.Background()

	merged, err := engine.Merge(ctx, MergeInput{
		ProjectID:        env.project.ID,
		ParentA:          a.ID,
		ParentB:          b.ID,
		FieldResolutions: map[string]ParentPick{"materials.upper": PickParentA},
		Actor:            env.user.ID,
		AIProposed:       true,
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Source != domain.SourceAIMerge {
		t.Fatalf("source = %s, want ai_merge", merged.Source)
	}

	dbc := dbctx.WithTx(ctx, env.tx)
	actions, err := env.repos.AIActions.ListByGenerationID(dbc, merged.ID)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(actions) != 1 || actions[0].Mode != domain.AIModeMerge {
		t.Fatalf("actions = %+v, want one merge entry", actions)
	}
}

type failingMergeRecordRepo struct {
	repos.MergeRecordRepo
}

func (failingMergeRecordRepo) Create(dbctx.Context, []*domain.MergeRecord) ([]*domain.MergeRecord, error) {
	return nil, fmt.Errorf("merge_record insert refused")
}

func TestMergeRecordFailureRollsBackGeneration(t *testing.T) {
	env := newTestEnv(t)
	engine := NewMergeEngine(
		env.tx, testutil.Logger(t), env.graph, env.audit, NewGeometryBuilder(), DefaultGeomVersion,
		env.repos.Generations, env.repos.SpecSnapshots, failingMergeRecordRepo{env.repos.MergeRecords},
	)
	a, b := seedDivergentParents(t, env)
	ctx := context.Background()

	var before int64
	if err := env.tx.Model(&domain.Generation{}).Where("project_id = ?", env.project.ID).Count(&before).Error; err != nil {
		t.Fatalf("count before: %v", err)
	}

	_, err := engine.Merge(ctx, MergeInput{
		ProjectID:        env.project.ID,
		ParentA:          a.ID,
		ParentB:          b.ID,
		FieldResolutions: map[string]ParentPick{"materials.upper": PickParentA},
		Actor:            env.user.ID,
	})
	if err == nil {
		t.Fatal("expected error from refused merge record insert")
	}

	var after int64
	if err := env.tx.Model(&domain.Generation{}).Where("project_id = ?", env.project.ID).Count(&after).Error; err != nil {
		t.Fatalf("count after: %v", err)
	}
	if after != before {
		t.Fatalf("failed merge left a generation behind: %d -> %d", before, after)
	}
}

func TestAIMergeAuditFailureRollsBackEverything(t *testing.T) {
	env := newTestEnv(t)
	audit := NewAuditLog(testutil.Logger(t), failingAIActionRepo{env.repos.AIActions})
	engine := NewMergeEngine(
		env.tx, testutil.Logger(t), env.graph, audit, NewGeometryBuilder(), DefaultGeomVersion,
		env.repos.Generations, env.repos.SpecSnapshots, env.repos.MergeRecords,
	)
	a, b := seedDivergentParents(t, env)
	ctx := context.Background()

	var before int64
	if err := env.tx.Model(&domain.Generation{}).Where("project_id = ?", env.project.ID).Count(&before).Error; err != nil {
		t.Fatalf("count before: %v", err)
	}

	_, err := engine.Merge(ctx, MergeInput{
		ProjectID:        env.project.ID,
		ParentA:          a.ID,
		ParentB:          b.ID,
		FieldResolutions: map[string]ParentPick{"materials.upper": PickParentA},
		Actor:            env.user.ID,
		AIProposed:       true,
	})
	if err == nil {
		t.Fatal("expected error from refused audit insert")
	}

	var after, records int64
	if err := env.tx.Model(&domain.Generation{}).Where("project_id = ?", env.project.ID).Count(&after).Error; err != nil {
		t.Fatalf("count after: %v", err)
	}
	if err := env.tx.Model(&domain.MergeRecord{}).Count(&records).Error; err != nil {
		t.Fatalf("count merge records: %v", err)
	}
	if after != before || records != 0 {
		t.Fatalf("failed ai merge left partial state: generations %d -> %d, merge records %d", before, after, records)
	}
}
