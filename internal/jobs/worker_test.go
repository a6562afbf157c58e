package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/soleforge/soleforge-backend/internal/data/repos"
	"github.com/soleforge/soleforge-backend/internal/data/repos/testutil"
	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/dbctx"
)

type stubCache struct {
	err error
}

func (s stubCache) EnsureGeometry(context.Context, uuid.UUID) (*domain.GeometryAsset, error) {
	return nil, s.err
}
func (s stubCache) ResolveHash(context.Context, uuid.UUID) (string, error) { return "", s.err }
func (s stubCache) EnqueueBuild(context.Context, uuid.UUID) (*domain.GeometryBuildJob, error) {
	return nil, s.err
}
func (s stubCache) GetBuildStatus(context.Context, uuid.UUID) (*domain.GeometryBuildJob, error) {
	return nil, s.err
}
func (s stubCache) CancelBuild(context.Context, uuid.UUID) error { return s.err }

func TestErroredJobWaitsOutRetryDelayAndCapsAttempts(t *testing.T) {
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	log := testutil.Logger(t)
	r := repos.New(tx, log)
	ctx := context.Background()
	dbc := dbctx.WithTx(ctx, tx)

	user := testutil.SeedUser(t, ctx, tx, "worker@example.com")
	project := testutil.SeedProject(t, ctx, tx, user.ID)
	gen := &domain.Generation{
		ID:        uuid.New(),
		ProjectID: project.ID,
		Source:    domain.SourceGenerate,
		ParentIDs: domain.EncodeParents(nil),
		CreatedBy: user.ID,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := r.Generations.Create(dbc, []*domain.Generation{gen}); err != nil {
		t.Fatalf("seed generation: %v", err)
	}

	now := time.Now().UTC()
	job := &domain.GeometryBuildJob{
		ID:           uuid.New(),
		GenerationID: gen.ID,
		Status:       domain.BuildStatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := r.BuildJobs.Create(dbc, []*domain.GeometryBuildJob{job}); err != nil {
		t.Fatalf("create job: %v", err)
	}

	w := NewWorker(log, r.BuildJobs, stubCache{err: fmt.Errorf("mesh synthesis exploded")})

	executions := 0
	for {
		claimed, err := w.jobs.ClaimNextRunnable(dbc, maxAttempts, retryDelay, staleRunning)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if claimed == nil {
			break
		}
		executions++
		if executions > maxAttempts {
			t.Fatalf("job executed %d times, cap is %d", executions, maxAttempts)
		}
		w.run(ctx, claimed)

		after, err := r.BuildJobs.GetByID(dbc, job.ID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if after.Status != domain.BuildStatusFailed {
			t.Fatalf("errored job status = %s, want failed", after.Status)
		}
		if after.LastErrorAt == nil {
			t.Fatal("failure did not stamp last_error_at")
		}

		// Until the retry delay passes, the job must not be runnable.
		if early, err := w.jobs.ClaimNextRunnable(dbc, maxAttempts, retryDelay, staleRunning); err != nil {
			t.Fatalf("early claim: %v", err)
		} else if early != nil {
			t.Fatal("failed job reclaimed before retry delay elapsed")
		}

		backdated := time.Now().UTC().Add(-retryDelay - time.Minute)
		if err := r.BuildJobs.UpdateFields(dbc, job.ID, map[string]interface{}{
			"last_error_at": backdated,
		}); err != nil {
			t.Fatalf("backdate: %v", err)
		}
	}

	if executions != maxAttempts {
		t.Fatalf("executions = %d, want %d", executions, maxAttempts)
	}

	final, err := r.BuildJobs.GetByID(dbc, job.ID)
	if err != nil {
		t.Fatalf("final reload: %v", err)
	}
	if final.Status != domain.BuildStatusFailed || final.Attempts != maxAttempts {
		t.Fatalf("exhausted job: status=%s attempts=%d, want failed/%d", final.Status, final.Attempts, maxAttempts)
	}
}
