package services

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/fogleman/gg"

	"github.com/soleforge/soleforge-backend/internal/domain"
)

const (
	previewWidthPX  = 640
	previewHeightPX = 360
	previewMarginPX = 32.0
)

// renderPreviewPNG draws a top-down sole outline with the anchor points
// marked. It shares soleProfile with the mesh synthesis, so the preview
// is as deterministic as the geometry itself.
func renderPreviewPNG(spec domain.InstrumentalSpec, anchors domain.AnchorPoints) ([]byte, error) {
	profile := soleProfile(spec)

	length := spec.OverallDimensions.ShoeLengthMM
	width := spec.OverallDimensions.ShoeWidthMM
	if length <= 0 || width <= 0 {
		return nil, fmt.Errorf("preview requires positive dimensions, got %fx%f", length, width)
	}

	scaleX := (previewWidthPX - 2*previewMarginPX) / length
	scaleY := (previewHeightPX - 2*previewMarginPX) / width
	scale := scaleX
	if scaleY < scale {
		scale = scaleY
	}
	toPX := func(x, y float64) (float64, float64) {
		return previewMarginPX + x*scale, previewHeightPX/2 - y*scale
	}

	dc := gg.NewContext(previewWidthPX, previewHeightPX)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	dc.SetRGB(0.1, 0.1, 0.1)
	dc.SetLineWidth(2)
	for i, p := range profile {
		px, py := toPX(p[0], p[1])
		if i == 0 {
			dc.MoveTo(px, py)
		} else {
			dc.LineTo(px, py)
		}
	}
	dc.ClosePath()
	dc.Stroke()

	dc.SetRGB(0.75, 0.15, 0.15)
	for _, a := range [][3]float64{
		anchors.ToeBoxCenter,
		anchors.HeelCenter,
		anchors.LateralMidfoot,
		anchors.MedialMidfoot,
		anchors.CollarBack,
	} {
		px, py := toPX(a[0], a[1])
		dc.DrawCircle(px, py, 4)
		dc.Fill()
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("encode preview png: %w", err)
	}
	return buf.Bytes(), nil
}
