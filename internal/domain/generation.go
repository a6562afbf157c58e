package domain

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Source tags for a generation. The set matches the design-history
// lifecycle: user-driven builds, imports, AI-originated drafts and merges,
// user-authored merges, and factory feedback rounds.
const (
	SourceGenerate        = "generate"
	SourceRegenerate      = "regenerate"
	SourceImport          = "import"
	SourceAIMerge         = "ai_merge"
	SourceAIDraft         = "ai_draft"
	SourceFactoryFeedback = "factory_feedback"
	SourceMerge           = "merge"
)

func ValidSource(s string) bool {
	switch s {
	case SourceGenerate, SourceRegenerate, SourceImport, SourceAIMerge, SourceAIDraft, SourceFactoryFeedback, SourceMerge:
		return true
	}
	return false
}

// Generation is one immutable node in a project's design history. Every
// field except IsActive is write-once; the active flag is the single
// mutable pointer per project and is only ever flipped inside the
// serialized switch-active transaction.
type Generation struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID uuid.UUID      `gorm:"type:uuid;not null;index" json:"project_id"`
	Project   *Project       `gorm:"constraint:OnDelete:CASCADE;foreignKey:ProjectID;references:ID" json:"project,omitempty"`
	Source    string         `gorm:"column:source;not null" json:"source"`
	ParentIDs datatypes.JSON `gorm:"column:parent_ids;type:jsonb" json:"parent_ids"`
	IsActive  bool           `gorm:"column:is_active;not null;default:false" json:"is_active"`
	CreatedBy uuid.UUID      `gorm:"type:uuid;not null;index" json:"created_by"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
}

func (Generation) TableName() string { return "generation" }

// DraftConfirmation records a user's sign-off on an ai_draft generation.
// Confirmation is modeled as an append-only row instead of a flag on the
// generation so generation rows stay immutable apart from is_active.
type DraftConfirmation struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	GenerationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"generation_id"`
	ConfirmedBy  uuid.UUID `gorm:"type:uuid;not null" json:"confirmed_by"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
}

func (DraftConfirmation) TableName() string { return "draft_confirmation" }

// Parents decodes the stored parent id list. The list is kept sorted so a
// generation's lineage identity does not depend on argument order.
func (g *Generation) Parents() []uuid.UUID {
	if len(g.ParentIDs) == 0 {
		return nil
	}
	var raw []string
	if err := json.Unmarshal(g.ParentIDs, &raw); err != nil {
		return nil
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

// EncodeParents produces the canonical stored form: sorted, deduplicated
// uuid strings as a JSON array.
func EncodeParents(ids []uuid.UUID) datatypes.JSON {
	if len(ids) == 0 {
		return datatypes.JSON([]byte("[]"))
	}
	seen := make(map[string]struct{}, len(ids))
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		s := id.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		raw = append(raw, s)
	}
	sort.Strings(raw)
	b, _ := json.Marshal(raw)
	return datatypes.JSON(b)
}
