package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/soleforge/soleforge-backend/internal/domain"
)

// DefaultGeomVersion tags the current synthesis algorithm. Bumping it is
// the only sanctioned way to change geometry output for unchanged specs.
const DefaultGeomVersion = "parametric_v2"

// BuildResult is the full output of one mesh synthesis.
type BuildResult struct {
	GeometryHash string
	GeomVersion  string
	MeshGLB      []byte
	Anchors      domain.AnchorPoints
	Bounds       domain.Bounds
	VertexCount  int
	FaceCount    int
}

// GeometryBuilder is a pure function of (instrumental, geomVersion,
// parent hashes). It holds no state and touches no storage; the cache
// layer decides whether synthesis runs at all.
type GeometryBuilder interface {
	Hash(spec domain.InstrumentalSpec, geomVersion string, parentHashes []string) string
	Build(spec domain.InstrumentalSpec, geomVersion string, parentHashes []string) (*BuildResult, error)
}

type geometryBuilder struct{}

func NewGeometryBuilder() GeometryBuilder {
	return &geometryBuilder{}
}

// CanonicalBytes encodes an instrumental block as a stable byte sequence:
// dotted paths in fixed order, millimeter values at three fractional
// digits. This is the unit of geometry identity; any change here is a
// geom version bump.
func CanonicalBytes(spec domain.InstrumentalSpec) []byte {
	fields := []struct {
		path  string
		value float64
	}{
		{"collar_geometry.collar_height_mm", spec.CollarGeometry.CollarHeightMM},
		{"last_profile.arch_height_mm", spec.LastProfile.ArchHeightMM},
		{"last_profile.toe_spring_mm", spec.LastProfile.ToeSpringMM},
		{"overall_dimensions.shoe_length_mm", spec.OverallDimensions.ShoeLengthMM},
		{"overall_dimensions.shoe_width_mm", spec.OverallDimensions.ShoeWidthMM},
		{"overall_dimensions.sole_thickness_mm", spec.OverallDimensions.SoleThicknessMM},
	}
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, "%s=%.3f;", f.path, f.value)
	}
	return []byte(b.String())
}

func (g *geometryBuilder) Hash(spec domain.InstrumentalSpec, geomVersion string, parentHashes []string) string {
	h := sha256.New()
	h.Write(CanonicalBytes(spec))
	fmt.Fprintf(h, "geom_version=%s;", geomVersion)

	// Merge case: lineage participates in identity. Sorted so the hash is
	// independent of the order parents were supplied in.
	parents := make([]string, 0, len(parentHashes))
	for _, p := range parentHashes {
		if p != "" {
			parents = append(parents, p)
		}
	}
	sort.Strings(parents)
	for _, p := range parents {
		fmt.Fprintf(h, "parent=%s;", p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (g *geometryBuilder) Build(spec domain.InstrumentalSpec, geomVersion string, parentHashes []string) (*BuildResult, error) {
	hash := g.Hash(spec, geomVersion, parentHashes)

	mesh := synthesizeShoeMesh(spec)
	glb, err := encodeGLB(mesh)
	if err != nil {
		return nil, fmt.Errorf("encode glb for %s: %w", hash, err)
	}

	return &BuildResult{
		GeometryHash: hash,
		GeomVersion:  geomVersion,
		MeshGLB:      glb,
		Anchors:      computeAnchors(spec),
		Bounds:       mesh.bounds(),
		VertexCount:  len(mesh.Vertices),
		FaceCount:    len(mesh.Faces),
	}, nil
}
