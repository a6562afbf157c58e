package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"

	"github.com/soleforge/soleforge-backend/internal/data/repos"
	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/apierr"
	"github.com/soleforge/soleforge-backend/internal/platform/dbctx"
	"github.com/soleforge/soleforge-backend/internal/platform/gcp"
	"github.com/soleforge/soleforge-backend/internal/platform/logger"
)

const buildClaimTTL = 2 * time.Minute

// GeometryCache is the dedup layer in front of mesh synthesis. Identity
// is the geometry hash; builds happen at most once per hash no matter how
// many generations or instances ask.
type GeometryCache interface {
	// EnsureGeometry returns the asset for a generation, building and
	// uploading it if no asset exists yet for its hash.
	EnsureGeometry(ctx context.Context, generationID uuid.UUID) (*domain.GeometryAsset, error)
	// ResolveHash computes a generation's content address without building.
	ResolveHash(ctx context.Context, generationID uuid.UUID) (string, error)
	EnqueueBuild(ctx context.Context, generationID uuid.UUID) (*domain.GeometryBuildJob, error)
	GetBuildStatus(ctx context.Context, jobID uuid.UUID) (*domain.GeometryBuildJob, error)
	CancelBuild(ctx context.Context, jobID uuid.UUID) error
}

type geometryCache struct {
	log         *logger.Logger
	builder     GeometryBuilder
	resolver    *hashResolver
	geomVersion string
	generations repos.GenerationRepo
	snapshots   repos.SpecSnapshotRepo
	assets      repos.GeometryAssetRepo
	jobs        repos.BuildJobRepo
	bucket      gcp.BucketService
	notifier    BuildNotifier
	rdb         *goredis.Client
	inflight    singleflight.Group
}

func NewGeometryCache(
	baseLog *logger.Logger,
	builder GeometryBuilder,
	geomVersion string,
	generations repos.GenerationRepo,
	snapshots repos.SpecSnapshotRepo,
	assets repos.GeometryAssetRepo,
	jobs repos.BuildJobRepo,
	bucket gcp.BucketService,
	notifier BuildNotifier,
	rdb *goredis.Client,
) GeometryCache {
	return &geometryCache{
		log:         baseLog.With("service", "GeometryCache"),
		builder:     builder,
		resolver:    newHashResolver(builder, geomVersion, generations, snapshots),
		geomVersion: geomVersion,
		generations: generations,
		snapshots:   snapshots,
		assets:      assets,
		jobs:        jobs,
		bucket:      bucket,
		notifier:    notifier,
		rdb:         rdb,
	}
}

func meshObjectKey(hash string) string    { return fmt.Sprintf("mesh/%s.glb", hash) }
func anchorsObjectKey(hash string) string { return fmt.Sprintf("anchors/%s.json", hash) }
func previewObjectKey(hash string) string { return fmt.Sprintf("preview/%s.png", hash) }

func materialHash(non domain.NonInstrumentalSpec) string {
	sum := sha256.Sum256(domain.EncodeNonInstrumental(non))
	return hex.EncodeToString(sum[:])
}

type buildContext struct {
	generation   *domain.Generation
	instrumental domain.InstrumentalSpec
	material     domain.NonInstrumentalSpec
	parentHashes []string
	hash         string
}

func (s *geometryCache) loadBuildContext(dbc dbctx.Context, generationID uuid.UUID) (*buildContext, error) {
	gen, err := s.generations.GetByID(dbc, generationID)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, fmt.Errorf("%w: generation %s", apierr.ErrNotFound, generationID)
	}
	snap, err := s.snapshots.GetByGenerationID(dbc, generationID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("%w: snapshot for generation %s", apierr.ErrNotFound, generationID)
	}
	instrumental, err := domain.DecodeInstrumental(snap.Instrumental)
	if err != nil {
		return nil, fmt.Errorf("decode instrumental for %s: %w", generationID, err)
	}
	material, err := domain.DecodeNonInstrumental(snap.NonInstrumental)
	if err != nil {
		return nil, fmt.Errorf("decode non-instrumental for %s: %w", generationID, err)
	}
	parentHashes, err := s.resolver.ParentHashes(dbc, gen)
	if err != nil {
		return nil, err
	}
	return &buildContext{
		generation:   gen,
		instrumental: instrumental,
		material:     material,
		parentHashes: parentHashes,
		hash:         s.builder.Hash(instrumental, s.geomVersion, parentHashes),
	}, nil
}

func (s *geometryCache) ResolveHash(ctx context.Context, generationID uuid.UUID) (string, error) {
	bc, err := s.loadBuildContext(dbctx.New(ctx), generationID)
	if err != nil {
		return "", err
	}
	return bc.hash, nil
}

func (s *geometryCache) EnsureGeometry(ctx context.Context, generationID uuid.UUID) (*domain.GeometryAsset, error) {
	dbc := dbctx.New(ctx)
	bc, err := s.loadBuildContext(dbc, generationID)
	if err != nil {
		return nil, err
	}

	if existing, err := s.assets.GetByHash(dbc, bc.hash); err != nil {
		return nil, err
	} else if existing != nil {
		if err := s.verifyIntegrity(dbc, existing); err != nil {
			return nil, err
		}
		s.publish(ctx, bc, domain.BuildStatusSucceeded, true)
		return existing, nil
	}

	// Loser of the in-process race waits here and shares the winner's
	// result; the redis claim below arbitrates across instances.
	v, err, _ := s.inflight.Do(bc.hash, func() (interface{}, error) {
		return s.buildAndStore(ctx, bc)
	})
	if err != nil {
		return nil, err
	}
	asset := v.(*domain.GeometryAsset)
	s.publish(ctx, bc, domain.BuildStatusSucceeded, false)
	return asset, nil
}

// verifyIntegrity cross-checks a cache hit against what its row claims.
// The row was fetched by a hash that already encodes the current geom
// version, so builds from older versions live under different hashes and
// never reach this check; a stored version or key that disagrees with
// the row's own hash means the row lies about its key. Quarantine it and
// surface the fault rather than serve it.
func (s *geometryCache) verifyIntegrity(dbc dbctx.Context, asset *domain.GeometryAsset) error {
	if asset.Quarantined {
		return fmt.Errorf("%w: asset %s is quarantined", apierr.ErrIntegrityFault, asset.GeometryHash)
	}
	if asset.GeomVersion != s.geomVersion ||
		asset.MeshKey != meshObjectKey(asset.GeometryHash) ||
		asset.AnchorsKey != anchorsObjectKey(asset.GeometryHash) {
		if err := s.assets.Quarantine(dbc, asset.GeometryHash); err != nil {
			s.log.Error("Quarantine failed", "geometry_hash", asset.GeometryHash, "error", err)
		}
		s.log.Warn("Geometry asset failed integrity check",
			"geometry_hash", asset.GeometryHash, "geom_version", asset.GeomVersion)
		return fmt.Errorf("%w: asset %s failed integrity check", apierr.ErrIntegrityFault, asset.GeometryHash)
	}
	return nil
}

func (s *geometryCache) buildAndStore(ctx context.Context, bc *buildContext) (*domain.GeometryAsset, error) {
	dbc := dbctx.New(ctx)

	// Cross-instance claim. The claim is a TTL key, not a lock: blob I/O
	// happens without holding anything another instance could block on.
	if s.rdb != nil {
		claimKey := "geom:build:" + bc.hash
		ok, err := s.rdb.SetNX(ctx, claimKey, bc.generation.ID.String(), buildClaimTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire build claim: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: geometry %s is being built elsewhere", apierr.ErrConcurrentBuild, bc.hash)
		}
		defer s.rdb.Del(context.WithoutCancel(ctx), claimKey)
	}

	// Another instance may have finished between our miss and the claim.
	if existing, err := s.assets.GetByHash(dbc, bc.hash); err != nil {
		return nil, err
	} else if existing != nil {
		if err := s.verifyIntegrity(dbc, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	result, err := s.builder.Build(bc.instrumental, s.geomVersion, bc.parentHashes)
	if err != nil {
		return nil, fmt.Errorf("synthesize geometry %s: %w", bc.hash, err)
	}
	if result.GeometryHash != bc.hash {
		return nil, fmt.Errorf("%w: builder produced hash %s for expected %s",
			apierr.ErrIntegrityFault, result.GeometryHash, bc.hash)
	}

	anchorsJSON, err := json.Marshal(result.Anchors)
	if err != nil {
		return nil, fmt.Errorf("marshal anchors: %w", err)
	}
	preview, err := renderPreviewPNG(bc.instrumental, result.Anchors)
	if err != nil {
		return nil, fmt.Errorf("render preview: %w", err)
	}

	if err := s.bucket.UploadObjectOnce(ctx, gcp.BucketCategoryGeometry, meshObjectKey(bc.hash), "model/gltf-binary", result.MeshGLB); err != nil {
		return nil, err
	}
	if err := s.bucket.UploadObjectOnce(ctx, gcp.BucketCategoryGeometry, anchorsObjectKey(bc.hash), "application/json", anchorsJSON); err != nil {
		return nil, err
	}
	if err := s.bucket.UploadObjectOnce(ctx, gcp.BucketCategoryPreview, previewObjectKey(bc.hash), "image/png", preview); err != nil {
		return nil, err
	}

	boundsJSON, err := json.Marshal(result.Bounds)
	if err != nil {
		return nil, fmt.Errorf("marshal bounds: %w", err)
	}
	asset := &domain.GeometryAsset{
		ID:           uuid.New(),
		GeometryHash: bc.hash,
		GeomVersion:  s.geomVersion,
		MeshKey:      meshObjectKey(bc.hash),
		AnchorsKey:   anchorsObjectKey(bc.hash),
		PreviewKey:   previewObjectKey(bc.hash),
		Bounds:       datatypes.JSON(boundsJSON),
		MaterialHash: materialHash(bc.material),
		VertexCount:  result.VertexCount,
		FaceCount:    result.FaceCount,
		CreatedAt:    time.Now().UTC(),
	}

	stored, inserted, err := s.assets.CreateIfAbsent(dbc, asset)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Concurrent writer won the row; objects are write-once so both
		// uploads were identical bytes.
		if err := s.verifyIntegrity(dbc, stored); err != nil {
			return nil, err
		}
		s.log.Info("Geometry build raced, reusing winner",
			"geometry_hash", bc.hash, "generation_id", bc.generation.ID)
		return stored, nil
	}

	s.log.Info("Geometry built",
		"geometry_hash", bc.hash, "generation_id", bc.generation.ID,
		"vertices", result.VertexCount, "faces", result.FaceCount)
	return stored, nil
}

func (s *geometryCache) publish(ctx context.Context, bc *buildContext, status string, reused bool) {
	if err := s.notifier.PublishBuildEvent(ctx, BuildEvent{
		GeometryHash: bc.hash,
		GenerationID: bc.generation.ID.String(),
		Status:       status,
		Reused:       reused,
		At:           time.Now().UTC(),
	}); err != nil {
		s.log.Warn("Build event publish failed", "geometry_hash", bc.hash, "error", err)
	}
}

func (s *geometryCache) EnqueueBuild(ctx context.Context, generationID uuid.UUID) (*domain.GeometryBuildJob, error) {
	dbc := dbctx.New(ctx)
	bc, err := s.loadBuildContext(dbc, generationID)
	if err != nil {
		return nil, err
	}

	// An open job for the same generation is returned as-is; enqueue is
	// idempotent while a build is pending.
	latest, err := s.jobs.GetLatestByGenerationID(dbc, generationID)
	if err != nil {
		return nil, err
	}
	if latest != nil && (latest.Status == domain.BuildStatusQueued || latest.Status == domain.BuildStatusRunning) {
		return latest, nil
	}

	now := time.Now().UTC()
	job := &domain.GeometryBuildJob{
		ID:           uuid.New(),
		GenerationID: generationID,
		GeometryHash: bc.hash,
		Status:       domain.BuildStatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	created, err := s.jobs.Create(dbc, []*domain.GeometryBuildJob{job})
	if err != nil {
		return nil, fmt.Errorf("enqueue build: %w", err)
	}
	s.log.Info("Build enqueued", "job_id", job.ID, "generation_id", generationID, "geometry_hash", bc.hash)
	return created[0], nil
}

func (s *geometryCache) GetBuildStatus(ctx context.Context, jobID uuid.UUID) (*domain.GeometryBuildJob, error) {
	job, err := s.jobs.GetByID(dbctx.New(ctx), jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: build job %s", apierr.ErrNotFound, jobID)
	}
	return job, nil
}

func (s *geometryCache) CancelBuild(ctx context.Context, jobID uuid.UUID) error {
	dbc := dbctx.New(ctx)
	job, err := s.jobs.GetByID(dbc, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: build job %s", apierr.ErrNotFound, jobID)
	}
	cancelled, err := s.jobs.CancelQueued(dbc, jobID)
	if err != nil {
		return err
	}
	if !cancelled {
		return fmt.Errorf("%w: job %s is %s; only queued jobs can be cancelled",
			apierr.ErrValidation, jobID, job.Status)
	}
	s.log.Info("Build cancelled", "job_id", jobID)
	return nil
}
