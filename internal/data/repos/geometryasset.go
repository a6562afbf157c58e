package repos

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/dbctx"
	"github.com/soleforge/soleforge-backend/internal/platform/logger"
)

type GeometryAssetRepo interface {
	GetByHash(dbc dbctx.Context, geometryHash string) (*domain.GeometryAsset, error)
	// CreateIfAbsent is a single conditional insert against the hash key.
	// It returns the row that won, along with whether this call inserted
	// it. An existing row is never overwritten.
	CreateIfAbsent(dbc dbctx.Context, asset *domain.GeometryAsset) (*domain.GeometryAsset, bool, error)
	// Quarantine flags an asset whose stored identity disagrees with a
	// recomputed hash. The row is kept for forensics, never rewritten.
	Quarantine(dbc dbctx.Context, geometryHash string) error
}

type geometryAssetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGeometryAssetRepo(db *gorm.DB, baseLog *logger.Logger) GeometryAssetRepo {
	return &geometryAssetRepo{db: db, log: baseLog.With("repo", "GeometryAssetRepo")}
}

func (r *geometryAssetRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *geometryAssetRepo) GetByHash(dbc dbctx.Context, geometryHash string) (*domain.GeometryAsset, error) {
	var a domain.GeometryAsset
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("geometry_hash = ?", geometryHash).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *geometryAssetRepo) CreateIfAbsent(dbc dbctx.Context, asset *domain.GeometryAsset) (*domain.GeometryAsset, bool, error) {
	if asset == nil || asset.GeometryHash == "" {
		return nil, false, fmt.Errorf("geometry asset requires a geometry_hash")
	}
	res := r.conn(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "geometry_hash"}},
			DoNothing: true,
		}).
		Create(asset)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return asset, true, nil
	}
	existing, err := r.GetByHash(dbc, asset.GeometryHash)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("geometry asset insert lost race but row is missing: %s", asset.GeometryHash)
	}
	return existing, false, nil
}

func (r *geometryAssetRepo) Quarantine(dbc dbctx.Context, geometryHash string) error {
	return r.conn(dbc).WithContext(dbc.Ctx).
		Model(&domain.GeometryAsset{}).
		Where("geometry_hash = ?", geometryHash).
		Update("quarantined", true).Error
}
