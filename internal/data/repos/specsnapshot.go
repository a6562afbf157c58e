package repos

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/dbctx"
	"github.com/soleforge/soleforge-backend/internal/platform/logger"
)

type SpecSnapshotRepo interface {
	Create(dbc dbctx.Context, snapshots []*domain.SpecSnapshot) ([]*domain.SpecSnapshot, error)
	GetByGenerationID(dbc dbctx.Context, generationID uuid.UUID) (*domain.SpecSnapshot, error)
	GetByGenerationIDs(dbc dbctx.Context, generationIDs []uuid.UUID) ([]*domain.SpecSnapshot, error)
}

type specSnapshotRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSpecSnapshotRepo(db *gorm.DB, baseLog *logger.Logger) SpecSnapshotRepo {
	return &specSnapshotRepo{db: db, log: baseLog.With("repo", "SpecSnapshotRepo")}
}

func (r *specSnapshotRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *specSnapshotRepo) Create(dbc dbctx.Context, snapshots []*domain.SpecSnapshot) ([]*domain.SpecSnapshot, error) {
	if len(snapshots) == 0 {
		return []*domain.SpecSnapshot{}, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).Create(&snapshots).Error; err != nil {
		return nil, err
	}
	return snapshots, nil
}

func (r *specSnapshotRepo) GetByGenerationID(dbc dbctx.Context, generationID uuid.UUID) (*domain.SpecSnapshot, error) {
	var s domain.SpecSnapshot
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("generation_id = ?", generationID).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *specSnapshotRepo) GetByGenerationIDs(dbc dbctx.Context, generationIDs []uuid.UUID) ([]*domain.SpecSnapshot, error) {
	var out []*domain.SpecSnapshot
	if len(generationIDs) == 0 {
		return out, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("generation_id IN ?", generationIDs).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
