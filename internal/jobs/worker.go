package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soleforge/soleforge-backend/internal/data/repos"
	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/apierr"
	"github.com/soleforge/soleforge-backend/internal/platform/dbctx"
	"github.com/soleforge/soleforge-backend/internal/platform/logger"
	"github.com/soleforge/soleforge-backend/internal/services"
)

const (
	maxAttempts       = 5
	retryDelay        = 30 * time.Second
	staleRunning      = 2 * time.Minute
	heartbeatInterval = 15 * time.Second
)

// Worker drains queued geometry build jobs. Synthesis goes through the
// cache service, so a retried or duplicate job resolves to the existing
// asset instead of building twice.
type Worker struct {
	log   *logger.Logger
	jobs  repos.BuildJobRepo
	cache services.GeometryCache
}

func NewWorker(baseLog *logger.Logger, jobs repos.BuildJobRepo, cache services.GeometryCache) *Worker {
	return &Worker{
		log:   baseLog.With("component", "BuildWorker"),
		jobs:  jobs,
		cache: cache,
	}
}

func (w *Worker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				job, err := w.jobs.ClaimNextRunnable(dbctx.New(ctx), maxAttempts, retryDelay, staleRunning)
				if err != nil {
					w.log.Warn("ClaimNextRunnable failed", "error", err)
					continue
				}
				if job == nil {
					continue
				}
				w.run(ctx, job)
			}
		}
	}()
}

func (w *Worker) run(ctx context.Context, job *domain.GeometryBuildJob) {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := w.jobs.Heartbeat(dbctx.New(hbCtx), job.ID); err != nil {
					w.log.Warn("Heartbeat failed", "job_id", job.ID, "error", err)
				}
			}
		}
	}()
	defer stopHeartbeat()

	// A handler panic marks the job failed instead of killing the loop.
	var buildErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Build handler panic", "job_id", job.ID, "panic", r)
				buildErr = fmt.Errorf("panic during build: %v", r)
			}
		}()
		_, buildErr = w.cache.EnsureGeometry(ctx, job.GenerationID)
	}()

	dbc := dbctx.New(ctx)
	now := time.Now().UTC()
	if buildErr != nil {
		// A build running elsewhere is not a failure; release the job for
		// a later claim by leaving it queued.
		if errors.Is(buildErr, apierr.ErrConcurrentBuild) {
			if err := w.jobs.UpdateFields(dbc, job.ID, map[string]interface{}{
				"status":     domain.BuildStatusQueued,
				"last_error": buildErr.Error(),
				"locked_at":  nil,
			}); err != nil {
				w.log.Error("Job requeue failed", "job_id", job.ID, "error", err)
			}
			return
		}
		// Always park errored jobs as failed: the claim query's retry
		// clause enforces both the delay before the next attempt and the
		// attempt cap, neither of which applies to queued rows. The claim
		// already incremented attempts, so the struct holds the stale
		// pre-claim count.
		attempts := job.Attempts + 1
		if err := w.jobs.UpdateFields(dbc, job.ID, map[string]interface{}{
			"status":        domain.BuildStatusFailed,
			"last_error":    buildErr.Error(),
			"last_error_at": now,
			"locked_at":     nil,
		}); err != nil {
			w.log.Error("Job failure update failed", "job_id", job.ID, "error", err)
		}
		w.log.Warn("Build job errored",
			"job_id", job.ID, "generation_id", job.GenerationID,
			"attempts", attempts, "exhausted", attempts >= maxAttempts, "error", buildErr)
		return
	}

	if err := w.jobs.UpdateFields(dbc, job.ID, map[string]interface{}{
		"status":    domain.BuildStatusSucceeded,
		"locked_at": nil,
	}); err != nil {
		w.log.Error("Job success update failed", "job_id", job.ID, "error", err)
		return
	}
	w.log.Info("Build job succeeded", "job_id", job.ID, "generation_id", job.GenerationID)
}
