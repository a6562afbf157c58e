package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/soleforge/soleforge-backend/internal/data/repos"
	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/apierr"
	"github.com/soleforge/soleforge-backend/internal/platform/dbctx"
	"github.com/soleforge/soleforge-backend/internal/platform/logger"
)

// ParentPick names which side of a non-instrumental conflict wins.
type ParentPick string

const (
	PickParentA ParentPick = "parent_a"
	PickParentB ParentPick = "parent_b"
)

// MergeInput describes one merge request. FieldResolutions must name a
// pick for every non-instrumental field set differently on both parents;
// fields set on only one parent pass through without a resolution.
type MergeInput struct {
	ProjectID        uuid.UUID
	ParentA          uuid.UUID
	ParentB          uuid.UUID
	FieldResolutions map[string]ParentPick
	Actor            uuid.UUID
	AIProposed       bool
}

// MergeEngine combines two divergent generations into a new child.
// Instrumental blocks must already agree byte-for-byte; merges only
// arbitrate appearance.
type MergeEngine interface {
	Merge(ctx context.Context, in MergeInput) (*domain.Generation, error)
	RecordFor(ctx context.Context, mergedGenerationID uuid.UUID) (*domain.MergeRecord, error)
}

type mergeEngine struct {
	db          *gorm.DB
	log         *logger.Logger
	graph       GenerationGraph
	audit       AuditLog
	resolver    *hashResolver
	builder     GeometryBuilder
	geomVersion string
	generations repos.GenerationRepo
	snapshots   repos.SpecSnapshotRepo
	records     repos.MergeRecordRepo
}

func NewMergeEngine(
	db *gorm.DB,
	baseLog *logger.Logger,
	graph GenerationGraph,
	audit AuditLog,
	builder GeometryBuilder,
	geomVersion string,
	generations repos.GenerationRepo,
	snapshots repos.SpecSnapshotRepo,
	records repos.MergeRecordRepo,
) MergeEngine {
	return &mergeEngine{
		db:          db,
		log:         baseLog.With("service", "MergeEngine"),
		graph:       graph,
		audit:       audit,
		resolver:    newHashResolver(builder, geomVersion, generations, snapshots),
		builder:     builder,
		geomVersion: geomVersion,
		generations: generations,
		snapshots:   snapshots,
		records:     records,
	}
}

type mergeParent struct {
	gen             *domain.Generation
	instrumental    domain.InstrumentalSpec
	nonInstrumental domain.NonInstrumentalSpec
	geometryHash    string
}

func (s *mergeEngine) loadParent(dbc dbctx.Context, projectID, id uuid.UUID) (*mergeParent, error) {
	gen, err := s.generations.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if gen == nil || gen.ProjectID != projectID {
		return nil, fmt.Errorf("%w: generation %s in project %s", apierr.ErrNotFound, id, projectID)
	}
	snap, err := s.snapshots.GetByGenerationID(dbc, id)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("%w: snapshot for generation %s", apierr.ErrNotFound, id)
	}
	instrumental, err := domain.DecodeInstrumental(snap.Instrumental)
	if err != nil {
		return nil, fmt.Errorf("decode instrumental for %s: %w", id, err)
	}
	nonInstrumental, err := domain.DecodeNonInstrumental(snap.NonInstrumental)
	if err != nil {
		return nil, fmt.Errorf("decode non-instrumental for %s: %w", id, err)
	}
	hash, err := s.resolver.GeometryHash(dbc, gen)
	if err != nil {
		return nil, err
	}
	return &mergeParent{
		gen:             gen,
		instrumental:    instrumental,
		nonInstrumental: nonInstrumental,
		geometryHash:    hash,
	}, nil
}

func (s *mergeEngine) Merge(ctx context.Context, in MergeInput) (*domain.Generation, error) {
	dbc := dbctx.New(ctx)

	if in.ParentA == in.ParentB {
		return nil, fmt.Errorf("%w: cannot merge a generation with itself", apierr.ErrValidation)
	}

	a, err := s.loadParent(dbc, in.ProjectID, in.ParentA)
	if err != nil {
		return nil, err
	}
	b, err := s.loadParent(dbc, in.ProjectID, in.ParentB)
	if err != nil {
		return nil, err
	}

	// A fast-forward is not a merge; the caller should just switch the
	// active pointer.
	if ff, err := s.graph.IsAncestor(ctx, in.ParentA, in.ParentB); err != nil {
		return nil, err
	} else if ff {
		return nil, fmt.Errorf("%w: %s is an ancestor of %s; use set-active instead of merge",
			apierr.ErrValidation, in.ParentA, in.ParentB)
	}
	if ff, err := s.graph.IsAncestor(ctx, in.ParentB, in.ParentA); err != nil {
		return nil, err
	} else if ff {
		return nil, fmt.Errorf("%w: %s is an ancestor of %s; use set-active instead of merge",
			apierr.ErrValidation, in.ParentB, in.ParentA)
	}

	if !bytes.Equal(CanonicalBytes(a.instrumental), CanonicalBytes(b.instrumental)) {
		return nil, fmt.Errorf("%w: parents have divergent instrumental specs; merge arbitrates appearance only",
			apierr.ErrValidation)
	}

	merged, resolvedPaths, err := mergeNonInstrumental(a.nonInstrumental, b.nonInstrumental, in.FieldResolutions)
	if err != nil {
		return nil, err
	}

	source := domain.SourceMerge
	if in.AIProposed {
		source = domain.SourceAIMerge
	}

	parentHashes := []string{a.geometryHash, b.geometryHash}
	sort.Strings(parentHashes)
	resultHash := s.builder.Hash(a.instrumental, s.geomVersion, parentHashes)

	rawHashes, err := json.Marshal(parentHashes)
	if err != nil {
		return nil, fmt.Errorf("marshal parent hashes: %w", err)
	}

	// Generation, merge record and (for AI merges) audit entry are one
	// atomic write; no merge node can exist without its record.
	var gen *domain.Generation
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.WithTx(ctx, tx)
		var txErr error
		gen, txErr = s.graph.CreateInTx(txc, CreateGenerationInput{
			ProjectID:       in.ProjectID,
			Parents:         []uuid.UUID{in.ParentA, in.ParentB},
			Instrumental:    a.instrumental,
			NonInstrumental: &merged,
			Source:          source,
			CreatedBy:       in.Actor,
		})
		if txErr != nil {
			return txErr
		}
		if _, txErr = s.records.Create(txc, []*domain.MergeRecord{{
			ID:                 uuid.New(),
			MergedGenerationID: gen.ID,
			ParentA:            in.ParentA,
			ParentB:            in.ParentB,
			ParentHashes:       datatypes.JSON(rawHashes),
			ResultHash:         resultHash,
			CreatedAt:          time.Now().UTC(),
		}}); txErr != nil {
			return fmt.Errorf("persist merge record: %w", txErr)
		}
		if in.AIProposed {
			if _, txErr = s.audit.RecordAIActionInTx(txc, RecordAIActionInput{
				GenerationID:   gen.ID,
				Mode:           domain.AIModeMerge,
				FieldsModified: resolvedPaths,
				InvokedBy:      in.Actor,
			}); txErr != nil {
				return txErr
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Generations merged",
		"generation_id", gen.ID, "parent_a", in.ParentA, "parent_b", in.ParentB,
		"result_hash", resultHash, "source", source)
	return gen, nil
}

func (s *mergeEngine) RecordFor(ctx context.Context, mergedGenerationID uuid.UUID) (*domain.MergeRecord, error) {
	rec, err := s.records.GetByMergedGenerationID(dbctx.New(ctx), mergedGenerationID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: merge record for generation %s", apierr.ErrNotFound, mergedGenerationID)
	}
	return rec, nil
}

// mergeNonInstrumental combines two appearance blocks field by field:
// both set and equal → value passes through; both set and different →
// the caller's resolution picks a side; one set → that side wins; neither
// set → stays unset. Returns the conflict paths that were resolved.
func mergeNonInstrumental(a, b domain.NonInstrumentalSpec, resolutions map[string]ParentPick) (domain.NonInstrumentalSpec, []string, error) {
	var merged domain.NonInstrumentalSpec
	var resolved []string
	for _, path := range domain.NonInstrumentalPaths {
		va, _ := a.Field(path)
		vb, _ := b.Field(path)
		switch {
		case va == "" && vb == "":
			// stays unset
		case va != "" && vb == "":
			merged.SetField(path, va)
		case va == "" && vb != "":
			merged.SetField(path, vb)
		case va == vb:
			merged.SetField(path, va)
		default:
			pick, ok := resolutions[path]
			if !ok {
				return domain.NonInstrumentalSpec{}, nil,
					fmt.Errorf("%w: field %s conflicts and has no resolution", apierr.ErrValidation, path)
			}
			switch pick {
			case PickParentA:
				merged.SetField(path, va)
			case PickParentB:
				merged.SetField(path, vb)
			default:
				return domain.NonInstrumentalSpec{}, nil,
					fmt.Errorf("%w: unknown resolution %q for field %s", apierr.ErrValidation, pick, path)
			}
			resolved = append(resolved, path)
		}
	}
	return merged, resolved, nil
}
