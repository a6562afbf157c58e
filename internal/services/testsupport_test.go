package services

import (
	"context"
	"testing"

	"gorm.io/gorm"

	"github.com/soleforge/soleforge-backend/internal/data/repos"
	"github.com/soleforge/soleforge-backend/internal/data/repos/testutil"
	"github.com/soleforge/soleforge-backend/internal/domain"
)

// testEnv wires the service layer over a rolled-back transaction so each
// test starts from an empty graph.
type testEnv struct {
	tx      *gorm.DB
	repos   *repos.Repos
	specs   SpecStore
	graph   GenerationGraph
	audit   AuditLog
	user    *domain.User
	project *domain.Project
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	log := testutil.Logger(t)

	r := repos.New(tx, log)
	specs := NewSpecStore(log)
	graph := NewGenerationGraph(tx, log, specs, r.Projects, r.Generations, r.SpecSnapshots, r.DraftConfirmations)

	ctx := context.Background()
	user := testutil.SeedUser(t, ctx, tx, "designer@example.com")
	project := testutil.SeedProject(t, ctx, tx, user.ID)

	return &testEnv{
		tx:      tx,
		repos:   r,
		specs:   specs,
		graph:   graph,
		audit:   NewAuditLog(log, r.AIActions),
		user:    user,
		project: project,
	}
}

func completeNonInstrumental() domain.NonInstrumentalSpec {
	var non domain.NonInstrumentalSpec
	non.Materials.Upper = "smooth_leather"
	non.Materials.Lining = "mesh_lining"
	non.Materials.Outsole = "rubber_outsole"
	non.Colors.PrimaryHex = "#000000"
	non.Colors.SecondaryHex = "#FFFFFF"
	non.Branding.MonogramPlacement = "heel+toebox"
	non.Branding.EmbroideryThread = "white_thread"
	non.Textures.UpperTexture = "none"
	return non
}
