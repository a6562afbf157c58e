package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/soleforge/soleforge-backend/internal/data/repos/testutil"
	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/apierr"
	"github.com/soleforge/soleforge-backend/internal/platform/gcp"
)

// memBucket is an in-memory stand-in for the blob store with the same
// write-once contract: a second upload to an existing key fails.
type memBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads int
}

func newMemBucket() *memBucket {
	return &memBucket{objects: make(map[string][]byte)}
}

func (b *memBucket) objectKey(category gcp.BucketCategory, key string) string {
	return string(category) + "/" + key
}

func (b *memBucket) UploadObjectOnce(_ context.Context, category gcp.BucketCategory, key, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := b.objectKey(category, key)
	if _, exists := b.objects[k]; exists {
		return fmt.Errorf("%w: object %s already exists", apierr.ErrIntegrityFault, k)
	}
	b.objects[k] = append([]byte(nil), payload...)
	b.uploads++
	return nil
}

func (b *memBucket) Download(_ context.Context, category gcp.BucketCategory, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	payload, ok := b.objects[b.objectKey(category, key)]
	if !ok {
		return nil, fmt.Errorf("%w: object %s", apierr.ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

func (b *memBucket) GetObjectAttrs(_ context.Context, category gcp.BucketCategory, key string) (*gcp.ObjectAttrs, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	payload, ok := b.objects[b.objectKey(category, key)]
	if !ok {
		return nil, fmt.Errorf("%w: object %s", apierr.ErrNotFound, key)
	}
	return &gcp.ObjectAttrs{Size: int64(len(payload))}, nil
}

func (b *memBucket) Delete(_ context.Context, category gcp.BucketCategory, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, b.objectKey(category, key))
	return nil
}

func (b *memBucket) GetPublicURL(category gcp.BucketCategory, key string) string {
	return "mem://" + b.objectKey(category, key)
}

func (b *memBucket) uploadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.uploads
}

func newTestCache(t *testing.T, env *testEnv) (GeometryCache, *memBucket) {
	t.Helper()
	log := testutil.Logger(t)
	bucket := newMemBucket()
	cache := NewGeometryCache(
		log, NewGeometryBuilder(), DefaultGeomVersion,
		env.repos.Generations, env.repos.SpecSnapshots,
		env.repos.GeometryAssets, env.repos.BuildJobs,
		bucket, NewBuildNotifier(log, nil), nil,
	)
	return cache, bucket
}

func seedGeneration(t *testing.T, env *testEnv, parents []uuid.UUID, source string) *domain.Generation {
	t.Helper()
	non := completeNonInstrumental()
	gen, err := env.graph.Create(context.Background(), CreateGenerationInput{
		ProjectID:       env.project.ID,
		Parents:         parents,
		Instrumental:    testutil.ValidInstrumental(),
		NonInstrumental: &non,
		Source:          source,
		CreatedBy:       env.user.ID,
	})
	if err != nil {
		t.Fatalf("seed generation: %v", err)
	}
	return gen
}

func TestEnsureGeometryDedupsIdenticalSpecs(t *testing.T) {
	env := newTestEnv(t)
	cache, bucket := newTestCache(t, env)
	ctx := context.Background()

	// Same instrumental block in two distinct generations, even across a
	// parent edge: one asset, one upload set.
	genA := seedGeneration(t, env, nil, domain.SourceGenerate)
	genB := seedGeneration(t, env, []uuid.UUID{genA.ID}, domain.SourceRegenerate)

	hashA, err := cache.ResolveHash(ctx, genA.ID)
	if err != nil {
		t.Fatalf("ResolveHash a: %v", err)
	}
	hashB, err := cache.ResolveHash(ctx, genB.ID)
	if err != nil {
		t.Fatalf("ResolveHash b: %v", err)
	}
	if hashA != hashB {
		t.Fatalf("identical specs hash differently: %s vs %s", hashA, hashB)
	}

	assetA, err := cache.EnsureGeometry(ctx, genA.ID)
	if err != nil {
		t.Fatalf("EnsureGeometry a: %v", err)
	}
	assetB, err := cache.EnsureGeometry(ctx, genB.ID)
	if err != nil {
		t.Fatalf("EnsureGeometry b: %v", err)
	}

	if assetA.ID != assetB.ID {
		t.Fatalf("dedup failed: asset rows %s and %s", assetA.ID, assetB.ID)
	}
	if got := bucket.uploadCount(); got != 3 {
		t.Fatalf("uploads = %d, want 3 (mesh, anchors, preview, once each)", got)
	}
	if assetA.MeshKey != "mesh/"+hashA+".glb" || assetA.AnchorsKey != "anchors/"+hashA+".json" {
		t.Fatalf("object keys not hash-addressed: %s / %s", assetA.MeshKey, assetA.AnchorsKey)
	}
}

func TestEnsureGeometryConcurrentBuildsOnce(t *testing.T) {
	env := newTestEnv(t)
	cache, bucket := newTestCache(t, env)
	gen := seedGeneration(t, env, nil, domain.SourceGenerate)

	const callers = 8
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			asset, err := cache.EnsureGeometry(context.Background(), gen.ID)
			errs[i] = err
			if err == nil {
				ids[i] = asset.ID
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	for i := 1; i < callers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("callers got different assets: %s vs %s", ids[0], ids[i])
		}
	}
	if got := bucket.uploadCount(); got != 3 {
		t.Fatalf("uploads = %d, want exactly one upload set", got)
	}
}

func TestEnsureGeometryQuarantinesTamperedAsset(t *testing.T) {
	env := newTestEnv(t)
	cache, _ := newTestCache(t, env)
	gen := seedGeneration(t, env, nil, domain.SourceGenerate)
	ctx := context.Background()

	asset, err := cache.EnsureGeometry(ctx, gen.ID)
	if err != nil {
		t.Fatalf("EnsureGeometry: %v", err)
	}

	if err := env.tx.Model(&domain.GeometryAsset{}).
		Where("geometry_hash = ?", asset.GeometryHash).
		Update("geom_version", "parametric_v0").Error; err != nil {
		t.Fatalf("tamper: %v", err)
	}

	if _, err := cache.EnsureGeometry(ctx, gen.ID); !errors.Is(err, apierr.ErrIntegrityFault) {
		t.Fatalf("tampered hit: err = %v, want ErrIntegrityFault", err)
	}

	var stored domain.GeometryAsset
	if err := env.tx.Where("geometry_hash = ?", asset.GeometryHash).First(&stored).Error; err != nil {
		t.Fatalf("reload asset: %v", err)
	}
	if !stored.Quarantined {
		t.Fatal("tampered asset was not quarantined")
	}

	// Quarantined rows keep failing rather than silently rebuilding over
	// the stored objects.
	if _, err := cache.EnsureGeometry(ctx, gen.ID); !errors.Is(err, apierr.ErrIntegrityFault) {
		t.Fatalf("quarantined hit: err = %v, want ErrIntegrityFault", err)
	}
}

func TestEnqueueBuildIdempotentWhileOpen(t *testing.T) {
	env := newTestEnv(t)
	cache, _ := newTestCache(t, env)
	gen := seedGeneration(t, env, nil, domain.SourceGenerate)
	ctx := context.Background()

	first, err := cache.EnqueueBuild(ctx, gen.ID)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	again, err := cache.EnqueueBuild(ctx, gen.ID)
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("open job not reused: %s vs %s", first.ID, again.ID)
	}

	if err := cache.CancelBuild(ctx, first.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	fresh, err := cache.EnqueueBuild(ctx, gen.ID)
	if err != nil {
		t.Fatalf("enqueue after cancel: %v", err)
	}
	if fresh.ID == first.ID {
		t.Fatal("cancelled job was resurrected instead of a new one created")
	}
}

func TestCancelBuildOnlyQueued(t *testing.T) {
	env := newTestEnv(t)
	cache, _ := newTestCache(t, env)
	gen := seedGeneration(t, env, nil, domain.SourceGenerate)
	ctx := context.Background()

	if err := cache.CancelBuild(ctx, uuid.New()); !errors.Is(err, apierr.ErrNotFound) {
		t.Fatalf("cancel unknown: err = %v, want ErrNotFound", err)
	}

	job, err := cache.EnqueueBuild(ctx, gen.ID)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := cache.CancelBuild(ctx, job.ID); err != nil {
		t.Fatalf("cancel queued: %v", err)
	}

	got, err := cache.GetBuildStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got.Status != domain.BuildStatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}

	if err := cache.CancelBuild(ctx, job.ID); !errors.Is(err, apierr.ErrValidation) {
		t.Fatalf("double cancel: err = %v, want ErrValidation", err)
	}
}
