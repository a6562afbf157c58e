package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/soleforge/soleforge-backend/internal/data/repos"
	"github.com/soleforge/soleforge-backend/internal/domain"
	"github.com/soleforge/soleforge-backend/internal/platform/apierr"
	"github.com/soleforge/soleforge-backend/internal/platform/dbctx"
	"github.com/soleforge/soleforge-backend/internal/platform/logger"
)

// RecordAIActionInput captures one AI (or canonical-defaults) invocation
// for the append-only trail. FieldsModified lists the dotted paths the
// action touched, not the values themselves.
type RecordAIActionInput struct {
	GenerationID   uuid.UUID
	Mode           string
	FieldsModified []string
	InvokedBy      uuid.UUID
}

// AuditLog is the append-only record of every AI touch on design data.
// There is deliberately no update or delete path.
type AuditLog interface {
	RecordAIAction(ctx context.Context, in RecordAIActionInput) (*domain.AIAction, error)
	// RecordAIActionInTx writes the entry on the caller's transaction so
	// an AI-origin generation and its audit row commit together.
	RecordAIActionInTx(dbc dbctx.Context, in RecordAIActionInput) (*domain.AIAction, error)
	ListByGeneration(ctx context.Context, generationID uuid.UUID) ([]*domain.AIAction, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.AIAction, error)
}

type auditLog struct {
	log     *logger.Logger
	actions repos.AIActionRepo
}

func NewAuditLog(baseLog *logger.Logger, actions repos.AIActionRepo) AuditLog {
	return &auditLog{
		log:     baseLog.With("service", "AuditLog"),
		actions: actions,
	}
}

func (s *auditLog) RecordAIAction(ctx context.Context, in RecordAIActionInput) (*domain.AIAction, error) {
	return s.RecordAIActionInTx(dbctx.New(ctx), in)
}

func (s *auditLog) RecordAIActionInTx(dbc dbctx.Context, in RecordAIActionInput) (*domain.AIAction, error) {
	if !domain.ValidAIMode(in.Mode) {
		return nil, fmt.Errorf("%w: unknown ai mode %q", apierr.ErrValidation, in.Mode)
	}
	if in.GenerationID == uuid.Nil {
		return nil, fmt.Errorf("%w: ai action requires a generation", apierr.ErrValidation)
	}
	if in.InvokedBy == uuid.Nil {
		return nil, fmt.Errorf("%w: ai action requires an invoking user", apierr.ErrValidation)
	}

	fields := append([]string(nil), in.FieldsModified...)
	sort.Strings(fields)
	if fields == nil {
		fields = []string{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal modified fields: %w", err)
	}

	action := &domain.AIAction{
		ID:             uuid.New(),
		GenerationID:   in.GenerationID,
		Mode:           in.Mode,
		FieldsModified: datatypes.JSON(raw),
		InvokedBy:      in.InvokedBy,
		CreatedAt:      time.Now().UTC(),
	}
	created, err := s.actions.Create(dbc, []*domain.AIAction{action})
	if err != nil {
		return nil, fmt.Errorf("record ai action: %w", err)
	}
	s.log.Info("AI action recorded",
		"mode", in.Mode, "generation_id", in.GenerationID, "fields", len(fields))
	return created[0], nil
}

func (s *auditLog) ListByGeneration(ctx context.Context, generationID uuid.UUID) ([]*domain.AIAction, error) {
	return s.actions.ListByGenerationID(dbctx.New(ctx), generationID)
}

func (s *auditLog) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.AIAction, error) {
	return s.actions.ListByInvokedBy(dbctx.New(ctx), userID)
}
