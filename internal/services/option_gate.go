package services

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/apierr"
	"github.com/soleforge/soleforge-backend/internal/platform/dbctx"
	"github.com/soleforge/soleforge-backend/internal/platform/logger"
	"github.com/soleforge/soleforge-backend/internal/platform/suggest"
)

//go:embed defaults.yaml
var canonicalDefaultsYAML []byte

// GatePolicy selects how missing non-instrumental fields are handled at
// generation time. There is no implicit default: the caller must choose.
type GatePolicy string

const (
	PolicyUseDefaults GatePolicy = "use_defaults"
	PolicyCancel      GatePolicy = "cancel"
	PolicyAIDraft     GatePolicy = "ai_draft"
)

func ValidGatePolicy(p GatePolicy) bool {
	return p == PolicyUseDefaults || p == PolicyCancel || p == PolicyAIDraft
}

// ResolveInput is one gated generation request. Source must be generate
// or regenerate; the gate itself escalates it to ai_draft when the AI
// policy fills fields.
type ResolveInput struct {
	ProjectID       uuid.UUID
	Parents         []uuid.UUID
	Instrumental    domain.InstrumentalSpec
	NonInstrumental domain.NonInstrumentalSpec
	Source          string
	Policy          GatePolicy
	Actor           uuid.UUID
}

// GateResult reports the persisted generation alongside the dotted paths
// the chosen policy filled in. AppliedFields is empty when the user
// supplied a complete spec.
type GateResult struct {
	Generation    *domain.Generation
	AppliedFields []string
}

// OptionGate fronts GenerationGraph.Create for user-facing generation:
// incomplete appearance data must pass through exactly one of the three
// policies before anything is persisted. The AI collaborator only ever
// sees the non-instrumental block.
type OptionGate interface {
	Resolve(ctx context.Context, in ResolveInput) (*GateResult, error)
}

type optionGate struct {
	db       *gorm.DB
	log      *logger.Logger
	graph    GenerationGraph
	suggest  suggest.Client
	audit    AuditLog
	defaults domain.NonInstrumentalSpec
}

func NewOptionGate(db *gorm.DB, baseLog *logger.Logger, graph GenerationGraph, sg suggest.Client, audit AuditLog) (OptionGate, error) {
	defaults, err := loadCanonicalDefaults()
	if err != nil {
		return nil, fmt.Errorf("load canonical defaults: %w", err)
	}
	return &optionGate{
		db:       db,
		log:      baseLog.With("service", "OptionGate"),
		graph:    graph,
		suggest:  sg,
		audit:    audit,
		defaults: defaults,
	}, nil
}

func loadCanonicalDefaults() (domain.NonInstrumentalSpec, error) {
	var doc map[string]map[string]string
	if err := yaml.Unmarshal(canonicalDefaultsYAML, &doc); err != nil {
		return domain.NonInstrumentalSpec{}, err
	}
	var spec domain.NonInstrumentalSpec
	for section, fields := range doc {
		for field, value := range fields {
			path := section + "." + field
			if !spec.SetField(path, value) {
				return domain.NonInstrumentalSpec{}, fmt.Errorf("defaults table has unknown path %q", path)
			}
		}
	}
	for _, p := range domain.NonInstrumentalPaths {
		if v, _ := spec.Field(p); v == "" {
			return domain.NonInstrumentalSpec{}, fmt.Errorf("defaults table missing path %q", p)
		}
	}
	return spec, nil
}

func (s *optionGate) Resolve(ctx context.Context, in ResolveInput) (*GateResult, error) {
	if !ValidGatePolicy(in.Policy) {
		return nil, fmt.Errorf("%w: unknown gate policy %q", apierr.ErrValidation, in.Policy)
	}
	if in.Source != domain.SourceGenerate && in.Source != domain.SourceRegenerate {
		return nil, fmt.Errorf("%w: option gate only accepts generate or regenerate, got %q",
			apierr.ErrValidation, in.Source)
	}

	missing := in.NonInstrumental.MissingPaths()
	if len(missing) == 0 {
		gen, err := s.createGeneration(ctx, in, in.NonInstrumental, in.Source)
		if err != nil {
			return nil, err
		}
		return &GateResult{Generation: gen}, nil
	}

	switch in.Policy {
	case PolicyCancel:
		return nil, fmt.Errorf("%w: %d non-instrumental fields unset", apierr.ErrCancelled, len(missing))

	case PolicyUseDefaults:
		resolved := in.NonInstrumental
		for _, path := range missing {
			value, _ := s.defaults.Field(path)
			resolved.SetField(path, value)
		}
		gen, err := s.createAudited(ctx, in, resolved, in.Source, domain.AIModeResolve, missing)
		if err != nil {
			return nil, err
		}
		s.log.Info("Defaults applied", "generation_id", gen.ID, "fields", len(missing))
		return &GateResult{Generation: gen, AppliedFields: missing}, nil

	case PolicyAIDraft:
		proposed, err := s.suggest.ProposeNonInstrumental(ctx, in.NonInstrumental, missing)
		if err != nil {
			return nil, fmt.Errorf("ai draft proposal: %w", err)
		}
		// The collaborator may only fill fields that were unset; user
		// values always win.
		resolved := in.NonInstrumental
		var applied []string
		for _, path := range missing {
			value, _ := proposed.Field(path)
			if value == "" {
				continue
			}
			resolved.SetField(path, value)
			applied = append(applied, path)
		}
		gen, err := s.createAudited(ctx, in, resolved, domain.SourceAIDraft, domain.AIModeDraft, applied)
		if err != nil {
			return nil, err
		}
		s.log.Info("AI draft created", "generation_id", gen.ID, "fields", len(applied))
		return &GateResult{Generation: gen, AppliedFields: applied}, nil
	}
	return nil, fmt.Errorf("%w: unhandled gate policy %q", apierr.ErrValidation, in.Policy)
}

func (s *optionGate) createGeneration(ctx context.Context, in ResolveInput, non domain.NonInstrumentalSpec, source string) (*domain.Generation, error) {
	return s.graph.Create(ctx, CreateGenerationInput{
		ProjectID:       in.ProjectID,
		Parents:         in.Parents,
		Instrumental:    in.Instrumental,
		NonInstrumental: &non,
		Source:          source,
		CreatedBy:       in.Actor,
	})
}

// createAudited commits the generation and its audit entry in one
// transaction; a gate-filled generation never exists without its trail.
func (s *optionGate) createAudited(ctx context.Context, in ResolveInput, non domain.NonInstrumentalSpec, source, mode string, fields []string) (*domain.Generation, error) {
	var gen *domain.Generation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.WithTx(ctx, tx)
		var txErr error
		gen, txErr = s.graph.CreateInTx(txc, CreateGenerationInput{
			ProjectID:       in.ProjectID,
			Parents:         in.Parents,
			Instrumental:    in.Instrumental,
			NonInstrumental: &non,
			Source:          source,
			CreatedBy:       in.Actor,
		})
		if txErr != nil {
			return txErr
		}
		_, txErr = s.audit.RecordAIActionInTx(txc, RecordAIActionInput{
			GenerationID:   gen.ID,
			Mode:           mode,
			FieldsModified: fields,
			InvokedBy:      in.Actor,
		})
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return gen, nil
}
