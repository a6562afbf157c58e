package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/soleforge/soleforge-backend/internal/data/repos"
	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/apierr"
	"github.com/soleforge/soleforge-backend/internal/platform/dbctx"
	"github.com/soleforge/soleforge-backend/internal/platform/logger"
)

// CreateGenerationInput carries everything needed to append one immutable
// node to a project's history.
type CreateGenerationInput struct {
	ProjectID       uuid.UUID
	Parents         []uuid.UUID
	Instrumental    domain.InstrumentalSpec
	NonInstrumental *domain.NonInstrumentalSpec
	Source          string
	CreatedBy       uuid.UUID
}

// GenerationGraph owns the append-only design history: node creation, the
// single active pointer per project, and pure lineage queries. Nodes are
// acyclic by construction because parents must already exist and edges
// are stored as id lists, never live references.
type GenerationGraph interface {
	Create(ctx context.Context, in CreateGenerationInput) (*domain.Generation, error)
	// CreateInTx appends a node using the caller's transaction, so rows
	// that must exist alongside the generation (merge records, AI audit
	// entries) commit or roll back with it.
	CreateInTx(dbc dbctx.Context, in CreateGenerationInput) (*domain.Generation, error)
	SwitchActive(ctx context.Context, projectID, generationID uuid.UUID) error
	ConfirmDraft(ctx context.Context, generationID, confirmedBy uuid.UUID) error
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*domain.Generation, error)
	Ancestors(ctx context.Context, generationID uuid.UUID) ([]*domain.Generation, error)
	IsAncestor(ctx context.Context, ancestorID, descendantID uuid.UUID) (bool, error)
	// Lineage returns the generation's ancestry plus itself, root-first.
	Lineage(ctx context.Context, generationID uuid.UUID) ([]*domain.Generation, error)
}

type generationGraph struct {
	db            *gorm.DB
	log           *logger.Logger
	specs         SpecStore
	projects      repos.ProjectRepo
	generations   repos.GenerationRepo
	snapshots     repos.SpecSnapshotRepo
	confirmations repos.DraftConfirmationRepo
}

func NewGenerationGraph(
	db *gorm.DB,
	baseLog *logger.Logger,
	specs SpecStore,
	projects repos.ProjectRepo,
	generations repos.GenerationRepo,
	snapshots repos.SpecSnapshotRepo,
	confirmations repos.DraftConfirmationRepo,
) GenerationGraph {
	return &generationGraph{
		db:            db,
		log:           baseLog.With("service", "GenerationGraph"),
		specs:         specs,
		projects:      projects,
		generations:   generations,
		snapshots:     snapshots,
		confirmations: confirmations,
	}
}

func (s *generationGraph) Create(ctx context.Context, in CreateGenerationInput) (*domain.Generation, error) {
	var gen *domain.Generation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		gen, txErr = s.CreateInTx(dbctx.WithTx(ctx, tx), in)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return gen, nil
}

func (s *generationGraph) CreateInTx(dbc dbctx.Context, in CreateGenerationInput) (*domain.Generation, error) {
	if !domain.ValidSource(in.Source) {
		return nil, fmt.Errorf("%w: unknown source %q", apierr.ErrValidation, in.Source)
	}
	if in.CreatedBy == uuid.Nil {
		return nil, fmt.Errorf("%w: missing creator identity", apierr.ErrValidation)
	}
	var nonInstrumental domain.NonInstrumentalSpec
	if in.NonInstrumental != nil {
		nonInstrumental = *in.NonInstrumental
	}
	if _, err := s.specs.RequireValid(in.Instrumental, nonInstrumental); err != nil {
		return nil, err
	}

	project, err := s.projects.GetByID(dbc, in.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", in.ProjectID, err)
	}
	if project == nil {
		return nil, fmt.Errorf("%w: project %s", apierr.ErrNotFound, in.ProjectID)
	}

	if (in.Source == domain.SourceAIMerge || in.Source == domain.SourceMerge) && len(in.Parents) < 2 {
		return nil, fmt.Errorf("%w: source %s requires at least two parents", apierr.ErrValidation, in.Source)
	}

	if len(in.Parents) > 0 {
		parents, err := s.generations.GetByIDs(dbc, in.Parents)
		if err != nil {
			return nil, fmt.Errorf("load parents: %w", err)
		}
		if len(parents) != len(uniqueIDs(in.Parents)) {
			return nil, fmt.Errorf("%w: one or more parent generations do not exist", apierr.ErrValidation)
		}
		for _, p := range parents {
			if p.ProjectID != in.ProjectID {
				return nil, fmt.Errorf("%w: parent %s belongs to project %s, not %s",
					apierr.ErrValidation, p.ID, p.ProjectID, in.ProjectID)
			}
		}
	}

	now := time.Now().UTC()
	gen := &domain.Generation{
		ID:        uuid.New(),
		ProjectID: in.ProjectID,
		Source:    in.Source,
		ParentIDs: domain.EncodeParents(in.Parents),
		CreatedBy: in.CreatedBy,
		CreatedAt: now,
	}
	snap := &domain.SpecSnapshot{
		ID:           uuid.New(),
		GenerationID: gen.ID,
		Instrumental: domain.EncodeInstrumental(in.Instrumental),
		CreatedAt:    now,
	}
	if in.NonInstrumental != nil {
		snap.NonInstrumental = domain.EncodeNonInstrumental(*in.NonInstrumental)
	}

	// Generation and snapshot commit or fail together; the active pointer
	// is untouched here.
	if _, err := s.generations.Create(dbc, []*domain.Generation{gen}); err != nil {
		return nil, fmt.Errorf("persist generation: %w", err)
	}
	if _, err := s.snapshots.Create(dbc, []*domain.SpecSnapshot{snap}); err != nil {
		return nil, fmt.Errorf("persist generation: %w", err)
	}
	s.log.Info("Generation created", "generation_id", gen.ID, "project_id", in.ProjectID, "source", in.Source)
	return gen, nil
}

func (s *generationGraph) SwitchActive(ctx context.Context, projectID, generationID uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.WithTx(ctx, tx)

		// The project row lock is the per-project critical section for
		// pointer swaps.
		project, err := s.projects.LockByID(txc, projectID)
		if err != nil {
			return err
		}
		if project == nil {
			return fmt.Errorf("%w: project %s", apierr.ErrNotFound, projectID)
		}

		gen, err := s.generations.GetByID(txc, generationID)
		if err != nil {
			return err
		}
		if gen == nil || gen.ProjectID != projectID {
			return fmt.Errorf("%w: generation %s in project %s", apierr.ErrNotFound, generationID, projectID)
		}
		if gen.Source == domain.SourceAIDraft {
			conf, err := s.confirmations.GetByGenerationID(txc, generationID)
			if err != nil {
				return err
			}
			if conf == nil {
				return fmt.Errorf("%w: ai_draft generation %s must be confirmed before activation",
					apierr.ErrValidation, generationID)
			}
		}

		if err := s.generations.ActivateExclusive(txc, projectID, generationID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("Active generation switched", "project_id", projectID, "generation_id", generationID)
	return nil
}

func (s *generationGraph) ConfirmDraft(ctx context.Context, generationID, confirmedBy uuid.UUID) error {
	dbc := dbctx.New(ctx)
	gen, err := s.generations.GetByID(dbc, generationID)
	if err != nil {
		return err
	}
	if gen == nil {
		return fmt.Errorf("%w: generation %s", apierr.ErrNotFound, generationID)
	}
	if gen.Source != domain.SourceAIDraft {
		return fmt.Errorf("%w: generation %s is not an ai_draft", apierr.ErrValidation, generationID)
	}
	existing, err := s.confirmations.GetByGenerationID(dbc, generationID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	_, err = s.confirmations.Create(dbc, []*domain.DraftConfirmation{{
		ID:           uuid.New(),
		GenerationID: generationID,
		ConfirmedBy:  confirmedBy,
		CreatedAt:    time.Now().UTC(),
	}})
	return err
}

func (s *generationGraph) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*domain.Generation, error) {
	return s.generations.GetByProjectID(dbctx.New(ctx), projectID)
}

// ancestorSet walks parent edges upward from the given ids and returns
// every reachable generation keyed by id.
func (s *generationGraph) ancestorSet(dbc dbctx.Context, startParents []uuid.UUID) (map[uuid.UUID]*domain.Generation, error) {
	visited := make(map[uuid.UUID]*domain.Generation)
	frontier := startParents
	for len(frontier) > 0 {
		var lookup []uuid.UUID
		for _, id := range frontier {
			if _, ok := visited[id]; !ok {
				lookup = append(lookup, id)
			}
		}
		if len(lookup) == 0 {
			break
		}
		batch, err := s.generations.GetByIDs(dbc, lookup)
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, g := range batch {
			if _, ok := visited[g.ID]; ok {
				continue
			}
			visited[g.ID] = g
			frontier = append(frontier, g.Parents()...)
		}
	}
	return visited, nil
}

func (s *generationGraph) Ancestors(ctx context.Context, generationID uuid.UUID) ([]*domain.Generation, error) {
	dbc := dbctx.New(ctx)
	gen, err := s.generations.GetByID(dbc, generationID)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, fmt.Errorf("%w: generation %s", apierr.ErrNotFound, generationID)
	}
	set, err := s.ancestorSet(dbc, gen.Parents())
	if err != nil {
		return nil, err
	}
	return orderRootFirst(set), nil
}

func (s *generationGraph) IsAncestor(ctx context.Context, ancestorID, descendantID uuid.UUID) (bool, error) {
	dbc := dbctx.New(ctx)
	gen, err := s.generations.GetByID(dbc, descendantID)
	if err != nil {
		return false, err
	}
	if gen == nil {
		return false, fmt.Errorf("%w: generation %s", apierr.ErrNotFound, descendantID)
	}
	set, err := s.ancestorSet(dbc, gen.Parents())
	if err != nil {
		return false, err
	}
	_, ok := set[ancestorID]
	return ok, nil
}

func (s *generationGraph) Lineage(ctx context.Context, generationID uuid.UUID) ([]*domain.Generation, error) {
	dbc := dbctx.New(ctx)
	gen, err := s.generations.GetByID(dbc, generationID)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, fmt.Errorf("%w: generation %s", apierr.ErrNotFound, generationID)
	}
	set, err := s.ancestorSet(dbc, gen.Parents())
	if err != nil {
		return nil, err
	}
	set[gen.ID] = gen
	return orderRootFirst(set), nil
}

// orderRootFirst performs a topological sort over the in-memory subgraph:
// parents always precede children, ties broken by creation time then id
// so the order is stable.
func orderRootFirst(set map[uuid.UUID]*domain.Generation) []*domain.Generation {
	indegree := make(map[uuid.UUID]int, len(set))
	children := make(map[uuid.UUID][]uuid.UUID, len(set))
	for id, g := range set {
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for _, p := range g.Parents() {
			if _, ok := set[p]; !ok {
				continue
			}
			indegree[id]++
			children[p] = append(children[p], id)
		}
	}

	var ready []*domain.Generation
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, set[id])
		}
	}

	less := func(a, b *domain.Generation) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	}

	out := make([]*domain.Generation, 0, len(set))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]
		out = append(out, next)
		for _, childID := range children[next.ID] {
			indegree[childID]--
			if indegree[childID] == 0 {
				ready = append(ready, set[childID])
			}
		}
	}
	return out
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
