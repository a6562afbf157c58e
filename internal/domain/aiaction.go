package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	AIModeResolve = "resolve"
	AIModeDraft   = "draft"
	AIModeMerge   = "merge"
)

func ValidAIMode(m string) bool {
	return m == AIModeResolve || m == AIModeDraft || m == AIModeMerge
}

// AIAction is one append-only audit entry for an AI-originated (or
// canonical-defaults) modification. There is no update or delete path
// anywhere in the codebase.
type AIAction struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	GenerationID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"generation_id"`
	Mode           string         `gorm:"column:mode;not null" json:"mode"`
	FieldsModified datatypes.JSON `gorm:"column:fields_modified;type:jsonb;not null" json:"fields_modified"`
	InvokedBy      uuid.UUID      `gorm:"type:uuid;not null;index" json:"invoked_by"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
}

func (AIAction) TableName() string { return "ai_action" }
