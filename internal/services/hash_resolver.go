package services

import (
	"fmt"

	"github.com/soleforge/soleforge-backend/internal/data/repos"
	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/apierr"
	"github.com/soleforge/soleforge-backend/internal/platform/dbctx"
)

// hashResolver computes the content address of a generation's geometry.
// For merge generations the parent hashes participate in identity, so the
// resolver walks the merge subtree; plain generations hash on spec bytes
// and geom version alone, which is what lets identical specs dedup across
// unrelated generations.
type hashResolver struct {
	builder     GeometryBuilder
	geomVersion string
	generations repos.GenerationRepo
	snapshots   repos.SpecSnapshotRepo
}

func newHashResolver(builder GeometryBuilder, geomVersion string, generations repos.GenerationRepo, snapshots repos.SpecSnapshotRepo) *hashResolver {
	return &hashResolver{
		builder:     builder,
		geomVersion: geomVersion,
		generations: generations,
		snapshots:   snapshots,
	}
}

// GeometryHash resolves the content address for one generation.
func (r *hashResolver) GeometryHash(dbc dbctx.Context, gen *domain.Generation) (string, error) {
	snap, err := r.snapshots.GetByGenerationID(dbc, gen.ID)
	if err != nil {
		return "", err
	}
	if snap == nil {
		return "", fmt.Errorf("%w: snapshot for generation %s", apierr.ErrNotFound, gen.ID)
	}
	spec, err := domain.DecodeInstrumental(snap.Instrumental)
	if err != nil {
		return "", fmt.Errorf("decode instrumental for %s: %w", gen.ID, err)
	}
	parentHashes, err := r.ParentHashes(dbc, gen)
	if err != nil {
		return "", err
	}
	return r.builder.Hash(spec, r.geomVersion, parentHashes), nil
}

// ParentHashes returns the sorted-input hash set for a generation: empty
// for non-merge sources, the parents' geometry hashes for merges.
func (r *hashResolver) ParentHashes(dbc dbctx.Context, gen *domain.Generation) ([]string, error) {
	if gen.Source != domain.SourceMerge && gen.Source != domain.SourceAIMerge {
		return nil, nil
	}
	parents, err := r.generations.GetByIDs(dbc, gen.Parents())
	if err != nil {
		return nil, err
	}
	hashes := make([]string, 0, len(parents))
	for _, p := range parents {
		h, err := r.GeometryHash(dbc, p)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}
