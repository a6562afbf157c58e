package repos

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/dbctx"
	"github.com/soleforge/soleforge-backend/internal/platform/logger"
)

type MergeRecordRepo interface {
	Create(dbc dbctx.Context, records []*domain.MergeRecord) ([]*domain.MergeRecord, error)
	GetByMergedGenerationID(dbc dbctx.Context, generationID uuid.UUID) (*domain.MergeRecord, error)
	ListByResultHash(dbc dbctx.Context, resultHash string) ([]*domain.MergeRecord, error)
}

type mergeRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMergeRecordRepo(db *gorm.DB, baseLog *logger.Logger) MergeRecordRepo {
	return &mergeRecordRepo{db: db, log: baseLog.With("repo", "MergeRecordRepo")}
}

func (r *mergeRecordRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *mergeRecordRepo) Create(dbc dbctx.Context, records []*domain.MergeRecord) ([]*domain.MergeRecord, error) {
	if len(records) == 0 {
		return []*domain.MergeRecord{}, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).Create(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *mergeRecordRepo) GetByMergedGenerationID(dbc dbctx.Context, generationID uuid.UUID) (*domain.MergeRecord, error) {
	var rec domain.MergeRecord
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("merged_generation_id = ?", generationID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *mergeRecordRepo) ListByResultHash(dbc dbctx.Context, resultHash string) ([]*domain.MergeRecord, error) {
	var out []*domain.MergeRecord
	if err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("result_hash = ?", resultHash).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
