package services

import (
	"math"

	"github.com/soleforge/soleforge-backend/internal/domain"
)

// soleProfilePoints is the fixed sample count around the sole outline.
// Changing it changes every mesh, so it is pinned to the geom version.
const soleProfilePoints = 50

type triMesh struct {
	Vertices [][3]float64
	Faces    [][3]int
}

func (m *triMesh) bounds() domain.Bounds {
	if len(m.Vertices) == 0 {
		return domain.Bounds{}
	}
	b := domain.Bounds{Min: m.Vertices[0], Max: m.Vertices[0]}
	for _, v := range m.Vertices[1:] {
		for i := 0; i < 3; i++ {
			if v[i] < b.Min[i] {
				b.Min[i] = v[i]
			}
			if v[i] > b.Max[i] {
				b.Max[i] = v[i]
			}
		}
	}
	return b
}

// soleProfile samples the closed foot-shaped outline: wider at the ball,
// tapered at toe and heel. X runs from heel (0) to toe (length), Y is
// lateral, millimeters.
func soleProfile(spec domain.InstrumentalSpec) [][2]float64 {
	length := spec.OverallDimensions.ShoeLengthMM
	width := spec.OverallDimensions.ShoeWidthMM

	pts := make([][2]float64, soleProfilePoints)
	for i := 0; i < soleProfilePoints; i++ {
		t := 2 * math.Pi * float64(i) / float64(soleProfilePoints)
		x := length/2*math.Cos(t) + length/2

		var widthFactor float64
		if math.Cos(t) > 0 {
			// Front half: toe taper.
			widthFactor = 0.7 + 0.3*math.Cos(2*t)
		} else {
			// Back half: heel taper.
			widthFactor = 0.8 + 0.2*math.Cos(2*t)
		}
		y := width / 2 * math.Sin(t) * widthFactor
		pts[i] = [2]float64{x, y}
	}
	return pts
}

// toeLift is the vertical toe-spring offset at position x along the sole.
// The lift ramps quadratically over the front 30% of the shoe.
func toeLift(spec domain.InstrumentalSpec, x float64) float64 {
	length := spec.OverallDimensions.ShoeLengthMM
	start := 0.7 * length
	if x <= start {
		return 0
	}
	f := (x - start) / (0.3 * length)
	return spec.LastProfile.ToeSpringMM * f * f
}

// archLift raises the top surface over the midfoot, peaking at 45% of the
// length.
func archLift(spec domain.InstrumentalSpec, x float64) float64 {
	length := spec.OverallDimensions.ShoeLengthMM
	center := 0.45 * length
	halfSpan := 0.2 * length
	d := math.Abs(x-center) / halfSpan
	if d >= 1 {
		return 0
	}
	return spec.LastProfile.ArchHeightMM * (1 - d*d)
}

// synthesizeShoeMesh builds the watertight sole body plus a collar ring at
// the heel. Vertex and face layout is fixed; identical specs always yield
// byte-identical geometry.
func synthesizeShoeMesh(spec domain.InstrumentalSpec) *triMesh {
	profile := soleProfile(spec)
	sole := spec.OverallDimensions.SoleThicknessMM
	n := len(profile)

	m := &triMesh{}

	// Bottom ring, then top ring. The top surface carries toe spring and
	// arch lift.
	for _, p := range profile {
		m.Vertices = append(m.Vertices, [3]float64{p[0], p[1], 0})
	}
	for _, p := range profile {
		z := sole + toeLift(spec, p[0]) + archLift(spec, p[0])
		m.Vertices = append(m.Vertices, [3]float64{p[0], p[1], z})
	}
	bottomCenter := len(m.Vertices)
	m.Vertices = append(m.Vertices, [3]float64{spec.OverallDimensions.ShoeLengthMM / 2, 0, 0})
	topCenter := len(m.Vertices)
	m.Vertices = append(m.Vertices, [3]float64{spec.OverallDimensions.ShoeLengthMM / 2, 0, sole})

	// Side wall.
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		bi, bj := i, j
		ti, tj := n+i, n+j
		m.Faces = append(m.Faces, [3]int{bi, bj, tj}, [3]int{bi, tj, ti})
	}
	// Bottom fan (facing down) and top fan (facing up).
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		m.Faces = append(m.Faces, [3]int{bottomCenter, j, i})
		m.Faces = append(m.Faces, [3]int{topCenter, n + i, n + j})
	}

	appendCollarRing(m, spec)
	return m
}

// appendCollarRing adds the ankle collar: an open cylindrical strip
// centered over the heel, rising collar height above the sole surface.
func appendCollarRing(m *triMesh, spec domain.InstrumentalSpec) {
	length := spec.OverallDimensions.ShoeLengthMM
	width := spec.OverallDimensions.ShoeWidthMM
	sole := spec.OverallDimensions.SoleThicknessMM
	collarTop := sole + spec.CollarGeometry.CollarHeightMM

	const ringPoints = 24
	centerX := 0.22 * length
	rx := 0.16 * length
	ry := 0.38 * width

	base := len(m.Vertices)
	for i := 0; i < ringPoints; i++ {
		t := 2 * math.Pi * float64(i) / float64(ringPoints)
		x := centerX + rx*math.Cos(t)
		y := ry * math.Sin(t)
		m.Vertices = append(m.Vertices, [3]float64{x, y, sole})
	}
	for i := 0; i < ringPoints; i++ {
		t := 2 * math.Pi * float64(i) / float64(ringPoints)
		x := centerX + rx*math.Cos(t)
		y := ry * math.Sin(t)
		m.Vertices = append(m.Vertices, [3]float64{x, y, collarTop})
	}
	for i := 0; i < ringPoints; i++ {
		j := (i + 1) % ringPoints
		bi, bj := base+i, base+j
		ti, tj := base+ringPoints+i, base+ringPoints+j
		m.Faces = append(m.Faces, [3]int{bi, bj, tj}, [3]int{bi, tj, ti})
	}
}

// computeAnchors derives the branding and accessory attachment points
// directly from the spec, independent of tessellation.
func computeAnchors(spec domain.InstrumentalSpec) domain.AnchorPoints {
	length := spec.OverallDimensions.ShoeLengthMM
	width := spec.OverallDimensions.ShoeWidthMM
	sole := spec.OverallDimensions.SoleThicknessMM
	collarTop := sole + spec.CollarGeometry.CollarHeightMM

	return domain.AnchorPoints{
		ToeBoxCenter:   [3]float64{0.85 * length, 0, sole + spec.LastProfile.ToeSpringMM},
		HeelCenter:     [3]float64{0.05 * length, 0, sole / 2},
		LateralMidfoot: [3]float64{0.45 * length, -width / 2, sole},
		MedialMidfoot:  [3]float64{0.45 * length, width / 2, sole},
		TongueTop:      [3]float64{0.55 * length, 0, collarTop},
		CollarBack:     [3]float64{0.06 * length, 0, collarTop},
	}
}
