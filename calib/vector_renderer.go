package calib

import (
	"fmt"
	"image/color"
	"image/png"
	"io"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// VectorDensityRenderer renders the calibrated surface as vector
// graphics: one filled path per segment outline, color mapped from its
// density, plus a stroked boundary.
type VectorDensityRenderer struct {
	Geometry   *SurfaceGeometry
	Densities  []float64
	Scale      float64           // Canvas units per world unit
	Padding    float64           // Padding in world units
	Resolution canvas.Resolution // Resolution for PNG output
}

// NewVectorDensityRenderer creates a renderer with default settings.
func NewVectorDensityRenderer(geom *SurfaceGeometry, densities []float64) *VectorDensityRenderer {
	return &VectorDensityRenderer{
		Geometry:   geom,
		Densities:  densities,
		Scale:      1.0,
		Padding:    10.0,
		Resolution: canvas.DPI(300),
	}
}

type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the density surface as an SVG.
func (r *VectorDensityRenderer) RenderToSVG(w io.Writer) error {
	width, height, minX, minY := r.bounds()
	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, minX, minY, height)
	if err := svgRenderer.Close(); err != nil {
		return fmt.Errorf("closing SVG: %w", err)
	}
	return nil
}

// RenderToPNG rasterizes the density surface and encodes it as PNG.
func (r *VectorDensityRenderer) RenderToPNG(w io.Writer) error {
	width, height, minX, minY := r.bounds()
	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, minX, minY, height)
	return png.Encode(w, rast)
}

func (r *VectorDensityRenderer) bounds() (width, height, minX, minY float64) {
	b := r.Geometry.Bound()
	width = (b.Max[0]-b.Min[0])*r.Scale + 2*r.Padding
	height = (b.Max[1]-b.Min[1])*r.Scale + 2*r.Padding
	return width, height, b.Min[0], b.Min[1]
}

func (r *VectorDensityRenderer) renderToCanvas(renderer canvasRenderer, minX, minY, height float64) {
	width, _, _, _ := r.bounds()

	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(x, y float64) (float64, float64) {
		// Canvas origin is bottom-left; flip world y so the surface is
		// drawn the same way as the raster renderer.
		cx := (x-minX)*r.Scale + r.Padding
		cy := height - ((y-minY)*r.Scale + r.Padding)
		return cx, cy
	}

	for i := range r.Geometry.Outlines {
		outline := &r.Geometry.Outlines[i]
		idx := outline.Segment - 1
		density := 0.0
		if idx >= 0 && idx < len(r.Densities) {
			density = r.Densities[idx]
		}

		style := canvas.DefaultStyle
		fill := densityColor(density)
		style.Fill = canvas.Paint{Color: color.RGBA{fill.R, fill.G, fill.B, fill.A}}
		style.Stroke = canvas.Paint{Color: canvas.Black}
		style.StrokeWidth = 0.5

		cp := &canvas.Path{}
		for j, pt := range outline.Points {
			cx, cy := toCanvas(pt[0], pt[1])
			if j == 0 {
				cp.MoveTo(cx, cy)
			} else {
				cp.LineTo(cx, cy)
			}
		}
		cp.Close()
		renderer.RenderPath(cp, style, canvas.Identity)
	}
}
