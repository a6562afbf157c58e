package repos

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/dbctx"
	"github.com/soleforge/soleforge-backend/internal/platform/logger"
)

type DraftConfirmationRepo interface {
	Create(dbc dbctx.Context, confirmations []*domain.DraftConfirmation) ([]*domain.DraftConfirmation, error)
	GetByGenerationID(dbc dbctx.Context, generationID uuid.UUID) (*domain.DraftConfirmation, error)
}

type draftConfirmationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDraftConfirmationRepo(db *gorm.DB, baseLog *logger.Logger) DraftConfirmationRepo {
	return &draftConfirmationRepo{db: db, log: baseLog.With("repo", "DraftConfirmationRepo")}
}

func (r *draftConfirmationRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *draftConfirmationRepo) Create(dbc dbctx.Context, confirmations []*domain.DraftConfirmation) ([]*domain.DraftConfirmation, error) {
	if len(confirmations) == 0 {
		return []*domain.DraftConfirmation{}, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).Create(&confirmations).Error; err != nil {
		return nil, err
	}
	return confirmations, nil
}

func (r *draftConfirmationRepo) GetByGenerationID(dbc dbctx.Context, generationID uuid.UUID) (*domain.DraftConfirmation, error) {
	var c domain.DraftConfirmation
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("generation_id = ?", generationID).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
