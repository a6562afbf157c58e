package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/dbctx"
	"github.com/soleforge/soleforge-backend/internal/platform/logger"
)

// AIActionRepo is append-only: the interface deliberately exposes no
// update or delete method.
type AIActionRepo interface {
	Create(dbc dbctx.Context, actions []*domain.AIAction) ([]*domain.AIAction, error)
	ListByGenerationID(dbc dbctx.Context, generationID uuid.UUID) ([]*domain.AIAction, error)
	ListByInvokedBy(dbc dbctx.Context, userID uuid.UUID) ([]*domain.AIAction, error)
}

type aiActionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAIActionRepo(db *gorm.DB, baseLog *logger.Logger) AIActionRepo {
	return &aiActionRepo{db: db, log: baseLog.With("repo", "AIActionRepo")}
}

func (r *aiActionRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *aiActionRepo) Create(dbc dbctx.Context, actions []*domain.AIAction) ([]*domain.AIAction, error) {
	if len(actions) == 0 {
		return []*domain.AIAction{}, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).Create(&actions).Error; err != nil {
		return nil, err
	}
	return actions, nil
}

func (r *aiActionRepo) ListByGenerationID(dbc dbctx.Context, generationID uuid.UUID) ([]*domain.AIAction, error) {
	var out []*domain.AIAction
	if err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("generation_id = ?", generationID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *aiActionRepo) ListByInvokedBy(dbc dbctx.Context, userID uuid.UUID) ([]*domain.AIAction, error) {
	var out []*domain.AIAction
	if err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("invoked_by = ?", userID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
