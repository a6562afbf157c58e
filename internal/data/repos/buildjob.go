package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/dbctx"
	"github.com/soleforge/soleforge-backend/internal/platform/logger"
)

type BuildJobRepo interface {
	Create(dbc dbctx.Context, jobs []*domain.GeometryBuildJob) ([]*domain.GeometryBuildJob, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.GeometryBuildJob, error)
	GetLatestByGenerationID(dbc dbctx.Context, generationID uuid.UUID) (*domain.GeometryBuildJob, error)
	ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay, staleRunning time.Duration) (*domain.GeometryBuildJob, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	// CancelQueued flips a job to cancelled only while it is still queued.
	// A claimed job runs to completion; partial artifacts never persist.
	CancelQueued(dbc dbctx.Context, id uuid.UUID) (bool, error)
}

type buildJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBuildJobRepo(db *gorm.DB, baseLog *logger.Logger) BuildJobRepo {
	return &buildJobRepo{db: db, log: baseLog.With("repo", "BuildJobRepo")}
}

func (r *buildJobRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *buildJobRepo) Create(dbc dbctx.Context, jobs []*domain.GeometryBuildJob) ([]*domain.GeometryBuildJob, error) {
	if len(jobs) == 0 {
		return []*domain.GeometryBuildJob{}, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *buildJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.GeometryBuildJob, error) {
	var j domain.GeometryBuildJob
	err := r.conn(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&j).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *buildJobRepo) GetLatestByGenerationID(dbc dbctx.Context, generationID uuid.UUID) (*domain.GeometryBuildJob, error) {
	var j domain.GeometryBuildJob
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("generation_id = ?", generationID).
		Order("created_at DESC").
		Limit(1).
		Find(&j).Error
	if err != nil {
		return nil, err
	}
	if j.ID == uuid.Nil {
		return nil, nil
	}
	return &j, nil
}

func (r *buildJobRepo) ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay, staleRunning time.Duration) (*domain.GeometryBuildJob, error) {
	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)
	var claimed *domain.GeometryBuildJob
	err := r.conn(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var job domain.GeometryBuildJob
		q := tx
		if q.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		qErr := q.Where(`
			(
				status = ?
				OR (
					status = ?
					AND attempts < ?
					AND (last_error_at IS NULL OR last_error_at < ?)
				)
				OR (
					status = ?
					AND heartbeat_at IS NOT NULL
					AND heartbeat_at < ?
				)
			)
		`, domain.BuildStatusQueued, domain.BuildStatusFailed, maxAttempts, retryCutoff, domain.BuildStatusRunning, staleCutoff).
			Order("created_at ASC").
			First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := tx.Model(&domain.GeometryBuildJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       domain.BuildStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *buildJobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now()
	return r.conn(dbc).WithContext(dbc.Ctx).
		Model(&domain.GeometryBuildJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *buildJobRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	now := time.Now()
	return r.conn(dbc).WithContext(dbc.Ctx).
		Model(&domain.GeometryBuildJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"heartbeat_at": now, "updated_at": now}).Error
}

func (r *buildJobRepo) CancelQueued(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	res := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&domain.GeometryBuildJob{}).
		Where("id = ? AND status = ?", id, domain.BuildStatusQueued).
		Updates(map[string]interface{}{"status": domain.BuildStatusCancelled, "updated_at": time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
