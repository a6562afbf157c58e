package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MergeRecord links a merge generation to the sorted geometry hashes of
// its parents, making merge identity reproducible and auditable.
type MergeRecord struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	MergedGenerationID uuid.UUID      `gorm:"type:uuid;not null;index" json:"merged_generation_id"`
	ParentA            uuid.UUID      `gorm:"type:uuid;not null" json:"parent_a"`
	ParentB            uuid.UUID      `gorm:"type:uuid;not null" json:"parent_b"`
	ParentHashes       datatypes.JSON `gorm:"column:parent_hashes;type:jsonb;not null" json:"parent_hashes"`
	ResultHash         string         `gorm:"column:result_hash;not null;index" json:"result_hash"`
	CreatedAt          time.Time      `gorm:"not null" json:"created_at"`
}

func (MergeRecord) TableName() string { return "merge_record" }
