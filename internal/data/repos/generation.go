package repos

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/dbctx"
	"github.com/soleforge/soleforge-backend/internal/platform/logger"
)

type GenerationRepo interface {
	Create(dbc dbctx.Context, generations []*domain.Generation) ([]*domain.Generation, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Generation, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*domain.Generation, error)
	GetByProjectID(dbc dbctx.Context, projectID uuid.UUID) ([]*domain.Generation, error)
	GetActiveByProjectID(dbc dbctx.Context, projectID uuid.UUID) (*domain.Generation, error)
	// ActivateExclusive clears the previous active flag and sets the new
	// one. Must run inside a transaction that holds the project row lock.
	ActivateExclusive(dbc dbctx.Context, projectID, generationID uuid.UUID) error
}

type generationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationRepo(db *gorm.DB, baseLog *logger.Logger) GenerationRepo {
	return &generationRepo{db: db, log: baseLog.With("repo", "GenerationRepo")}
}

func (r *generationRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *generationRepo) Create(dbc dbctx.Context, generations []*domain.Generation) ([]*domain.Generation, error) {
	if len(generations) == 0 {
		return []*domain.Generation{}, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).Create(&generations).Error; err != nil {
		return nil, err
	}
	return generations, nil
}

func (r *generationRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Generation, error) {
	var g domain.Generation
	err := r.conn(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *generationRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*domain.Generation, error) {
	var out []*domain.Generation
	if len(ids) == 0 {
		return out, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *generationRepo) GetByProjectID(dbc dbctx.Context, projectID uuid.UUID) ([]*domain.Generation, error) {
	var out []*domain.Generation
	if err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *generationRepo) GetActiveByProjectID(dbc dbctx.Context, projectID uuid.UUID) (*domain.Generation, error) {
	var g domain.Generation
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("project_id = ? AND is_active", projectID).
		First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *generationRepo) ActivateExclusive(dbc dbctx.Context, projectID, generationID uuid.UUID) error {
	conn := r.conn(dbc).WithContext(dbc.Ctx)
	if err := conn.Model(&domain.Generation{}).
		Where("project_id = ? AND is_active", projectID).
		Update("is_active", false).Error; err != nil {
		return err
	}
	res := conn.Model(&domain.Generation{}).
		Where("id = ? AND project_id = ?", generationID, projectID).
		Update("is_active", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
