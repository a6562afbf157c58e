package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// GeometryAsset is a content-addressed build artifact keyed by its
// geometry hash. Many generations whose specs canonicalize to the same
// bytes share one row; rows are write-once and only ever flagged
// quarantined when an integrity fault is detected.
type GeometryAsset struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	GeometryHash string         `gorm:"column:geometry_hash;uniqueIndex;not null" json:"geometry_hash"`
	GeomVersion  string         `gorm:"column:geom_version;not null" json:"geom_version"`
	MeshKey      string         `gorm:"column:mesh_key;not null" json:"mesh_key"`
	AnchorsKey   string         `gorm:"column:anchors_key;not null" json:"anchors_key"`
	PreviewKey   string         `gorm:"column:preview_key" json:"preview_key,omitempty"`
	Bounds       datatypes.JSON `gorm:"column:bounds;type:jsonb" json:"bounds"`
	MaterialHash string         `gorm:"column:material_hash" json:"material_hash,omitempty"`
	VertexCount  int            `gorm:"column:vertex_count;not null;default:0" json:"vertex_count"`
	FaceCount    int            `gorm:"column:face_count;not null;default:0" json:"face_count"`
	Quarantined  bool           `gorm:"column:quarantined;not null;default:false" json:"quarantined"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
}

func (GeometryAsset) TableName() string { return "geometry_asset" }

// Bounds is an axis-aligned bounding box in millimeters.
type Bounds struct {
	Min [3]float64 `json:"min"`
	Max [3]float64 `json:"max"`
}

// AnchorPoints are the attachment points for accessories and branding,
// derived deterministically from the instrumental spec.
type AnchorPoints struct {
	ToeBoxCenter   [3]float64 `json:"toe_box_center"`
	HeelCenter     [3]float64 `json:"heel_center"`
	LateralMidfoot [3]float64 `json:"lateral_midfoot"`
	MedialMidfoot  [3]float64 `json:"medial_midfoot"`
	TongueTop      [3]float64 `json:"tongue_top"`
	CollarBack     [3]float64 `json:"collar_back"`
}

// GeometryBuildJob is one queued mesh synthesis. Claim, heartbeat and
// retry semantics mirror the job worker; the build itself goes through the
// hash-addressed cache so a retried job never synthesizes twice.
type GeometryBuildJob struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	GenerationID uuid.UUID  `gorm:"type:uuid;not null;index" json:"generation_id"`
	GeometryHash string     `gorm:"column:geometry_hash;index" json:"geometry_hash"`
	Status       string     `gorm:"column:status;not null;index" json:"status"`
	Attempts     int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError    string     `gorm:"column:last_error" json:"last_error,omitempty"`
	LastErrorAt  *time.Time `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	HeartbeatAt  *time.Time `gorm:"column:heartbeat_at" json:"heartbeat_at,omitempty"`
	LockedAt     *time.Time `gorm:"column:locked_at" json:"locked_at,omitempty"`
	CreatedAt    time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null" json:"updated_at"`
}

func (GeometryBuildJob) TableName() string { return "geometry_build_job" }

const (
	BuildStatusQueued    = "queued"
	BuildStatusRunning   = "running"
	BuildStatusSucceeded = "succeeded"
	BuildStatusFailed    = "failed"
	BuildStatusCancelled = "cancelled"
)
