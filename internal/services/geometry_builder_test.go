package services

import (
	"strings"
	"testing"

	"github.com/soleforge/soleforge-backend/internal/data/repos/testutil"
)

func TestCanonicalBytesStableEncoding(t *testing.T) {
	got := string(CanonicalBytes(testutil.ValidInstrumental()))
	want := "collar_geometry.collar_height_mm=55.000;" +
		"last_profile.arch_height_mm=15.000;" +
		"last_profile.toe_spring_mm=12.000;" +
		"overall_dimensions.shoe_length_mm=280.000;" +
		"overall_dimensions.shoe_width_mm=105.000;" +
		"overall_dimensions.sole_thickness_mm=30.000;"
	if got != want {
		t.Fatalf("canonical bytes\n got  %q\n want %q", got, want)
	}
}

func TestHashDeterministic(t *testing.T) {
	b := NewGeometryBuilder()
	spec := testutil.ValidInstrumental()

	h1 := b.Hash(spec, DefaultGeomVersion, nil)
	h2 := b.Hash(spec, DefaultGeomVersion, nil)
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %s vs %s", h1, h2)
	}
	if len(h1) != 64 || strings.ToLower(h1) != h1 {
		t.Fatalf("hash %q is not lowercase hex sha256", h1)
	}
}

func TestHashSensitiveToSpecAndVersion(t *testing.T) {
	b := NewGeometryBuilder()
	spec := testutil.ValidInstrumental()
	base := b.Hash(spec, DefaultGeomVersion, nil)

	changed := spec
	changed.OverallDimensions.ShoeLengthMM = 281
	if b.Hash(changed, DefaultGeomVersion, nil) == base {
		t.Fatal("hash unchanged after spec change")
	}
	if b.Hash(spec, "parametric_v3", nil) == base {
		t.Fatal("hash unchanged after geom version bump")
	}
}

func TestHashParentOrderIndependent(t *testing.T) {
	b := NewGeometryBuilder()
	spec := testutil.ValidInstrumental()

	ab := b.Hash(spec, DefaultGeomVersion, []string{"aaa", "bbb"})
	ba := b.Hash(spec, DefaultGeomVersion, []string{"bbb", "aaa"})
	if ab != ba {
		t.Fatalf("parent order changed hash: %s vs %s", ab, ba)
	}
	if b.Hash(spec, DefaultGeomVersion, nil) == ab {
		t.Fatal("parent hashes must participate in identity")
	}
	// Empty entries are ignored, not hashed.
	if b.Hash(spec, DefaultGeomVersion, []string{""}) != b.Hash(spec, DefaultGeomVersion, nil) {
		t.Fatal("empty parent hash entry changed identity")
	}
}

func TestBuildMatchesHash(t *testing.T) {
	b := NewGeometryBuilder()
	spec := testutil.ValidInstrumental()

	result, err := b.Build(spec, DefaultGeomVersion, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.GeometryHash != b.Hash(spec, DefaultGeomVersion, nil) {
		t.Fatal("build result hash disagrees with Hash()")
	}
	if result.VertexCount == 0 || result.FaceCount == 0 {
		t.Fatalf("empty mesh: %d vertices, %d faces", result.VertexCount, result.FaceCount)
	}
}

func TestBuildDeterministicBytes(t *testing.T) {
	b := NewGeometryBuilder()
	spec := testutil.ValidInstrumental()

	r1, err := b.Build(spec, DefaultGeomVersion, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	r2, err := b.Build(spec, DefaultGeomVersion, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if string(r1.MeshGLB) != string(r2.MeshGLB) {
		t.Fatal("identical inputs produced different mesh bytes")
	}
	if r1.Anchors != r2.Anchors {
		t.Fatalf("anchors differ: %+v vs %+v", r1.Anchors, r2.Anchors)
	}
	if r1.Bounds != r2.Bounds {
		t.Fatalf("bounds differ: %+v vs %+v", r1.Bounds, r2.Bounds)
	}
}
