package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SpecSnapshot is the immutable spec payload of exactly one generation.
// It is created in the same transaction as its generation and never
// updated or shared.
type SpecSnapshot struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	GenerationID    uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"generation_id"`
	Instrumental    datatypes.JSON `gorm:"column:instrumental_specs;type:jsonb;not null" json:"instrumental_specs"`
	NonInstrumental datatypes.JSON `gorm:"column:non_instrumental_specs;type:jsonb" json:"non_instrumental_specs,omitempty"`
	CreatedAt       time.Time      `gorm:"not null" json:"created_at"`
}

func (SpecSnapshot) TableName() string { return "spec_snapshot" }

// InstrumentalSpec holds the geometry-driving millimeter parameters.
// It is never handed to the AI collaborator: suggestion interfaces accept
// and return NonInstrumentalSpec only.
type InstrumentalSpec struct {
	OverallDimensions OverallDimensions `json:"overall_dimensions"`
	LastProfile       LastProfile       `json:"last_profile"`
	CollarGeometry    CollarGeometry    `json:"collar_geometry"`
}

type OverallDimensions struct {
	ShoeLengthMM    float64 `json:"shoe_length_mm"`
	ShoeWidthMM     float64 `json:"shoe_width_mm"`
	SoleThicknessMM float64 `json:"sole_thickness_mm"`
}

type LastProfile struct {
	ArchHeightMM float64 `json:"arch_height_mm"`
	ToeSpringMM  float64 `json:"toe_spring_mm"`
}

type CollarGeometry struct {
	CollarHeightMM float64 `json:"collar_height_mm"`
}

// NonInstrumentalSpec holds appearance and material parameters. Empty
// string means the field is unset. AI may propose values for unset fields;
// a user must confirm before the result can go active.
type NonInstrumentalSpec struct {
	Materials Materials `json:"materials"`
	Colors    Colors    `json:"colors"`
	Branding  Branding  `json:"branding"`
	Textures  Textures  `json:"textures"`
}

type Materials struct {
	Upper   string `json:"upper,omitempty"`
	Lining  string `json:"lining,omitempty"`
	Outsole string `json:"outsole,omitempty"`
}

type Colors struct {
	PrimaryHex   string `json:"primary_hex,omitempty"`
	SecondaryHex string `json:"secondary_hex,omitempty"`
}

type Branding struct {
	MonogramPlacement string `json:"monogram_placement,omitempty"`
	EmbroideryThread  string `json:"embroidery_thread,omitempty"`
}

type Textures struct {
	UpperTexture string `json:"upper_texture,omitempty"`
}

// NonInstrumentalPaths is the canonical dotted-path enumeration of every
// non-instrumental field, in stable order.
var NonInstrumentalPaths = []string{
	"materials.upper",
	"materials.lining",
	"materials.outsole",
	"colors.primary_hex",
	"colors.secondary_hex",
	"branding.monogram_placement",
	"branding.embroidery_thread",
	"textures.upper_texture",
}

// Field returns the value at a canonical dotted path, or false for an
// unknown path.
func (n *NonInstrumentalSpec) Field(path string) (string, bool) {
	switch path {
	case "materials.upper":
		return n.Materials.Upper, true
	case "materials.lining":
		return n.Materials.Lining, true
	case "materials.outsole":
		return n.Materials.Outsole, true
	case "colors.primary_hex":
		return n.Colors.PrimaryHex, true
	case "colors.secondary_hex":
		return n.Colors.SecondaryHex, true
	case "branding.monogram_placement":
		return n.Branding.MonogramPlacement, true
	case "branding.embroidery_thread":
		return n.Branding.EmbroideryThread, true
	case "textures.upper_texture":
		return n.Textures.UpperTexture, true
	}
	return "", false
}

// SetField writes the value at a canonical dotted path. Unknown paths are
// ignored and reported as false so a suggestion payload can never reach
// outside the non-instrumental block.
func (n *NonInstrumentalSpec) SetField(path, value string) bool {
	switch path {
	case "materials.upper":
		n.Materials.Upper = value
	case "materials.lining":
		n.Materials.Lining = value
	case "materials.outsole":
		n.Materials.Outsole = value
	case "colors.primary_hex":
		n.Colors.PrimaryHex = value
	case "colors.secondary_hex":
		n.Colors.SecondaryHex = value
	case "branding.monogram_placement":
		n.Branding.MonogramPlacement = value
	case "branding.embroidery_thread":
		n.Branding.EmbroideryThread = value
	case "textures.upper_texture":
		n.Textures.UpperTexture = value
	default:
		return false
	}
	return true
}

// MissingPaths lists every canonical non-instrumental field that is unset.
func (n *NonInstrumentalSpec) MissingPaths() []string {
	var missing []string
	for _, p := range NonInstrumentalPaths {
		if v, _ := n.Field(p); v == "" {
			missing = append(missing, p)
		}
	}
	return missing
}

func DecodeInstrumental(raw datatypes.JSON) (InstrumentalSpec, error) {
	var spec InstrumentalSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return InstrumentalSpec{}, err
	}
	return spec, nil
}

func DecodeNonInstrumental(raw datatypes.JSON) (NonInstrumentalSpec, error) {
	var spec NonInstrumentalSpec
	if len(raw) == 0 {
		return spec, nil
	}
	if err := json.Unmarshal(raw, &spec); err != nil {
		return NonInstrumentalSpec{}, err
	}
	return spec, nil
}

func EncodeInstrumental(spec InstrumentalSpec) datatypes.JSON {
	b, _ := json.Marshal(spec)
	return datatypes.JSON(b)
}

func EncodeNonInstrumental(spec NonInstrumentalSpec) datatypes.JSON {
	b, _ := json.Marshal(spec)
	return datatypes.JSON(b)
}
