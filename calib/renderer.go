package calib

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// DensityRenderer rasterizes the calibrated surface as a choropleth:
// each segment outline is filled with a color mapped from its density
// and labeled with "id: value".
type DensityRenderer struct {
	Geometry  *SurfaceGeometry
	Densities []float64
	Scale     float64 // Pixels per world unit
	Padding   int     // Padding around the image in pixels
}

// NewDensityRenderer creates a renderer with default settings.
func NewDensityRenderer(geom *SurfaceGeometry, densities []float64) *DensityRenderer {
	return &DensityRenderer{
		Geometry:  geom,
		Densities: densities,
		Scale:     4.0,
		Padding:   20,
	}
}

// HasDrawableContent reports whether any outline exists to render.
func (r *DensityRenderer) HasDrawableContent() bool {
	return r.Geometry != nil && len(r.Geometry.Outlines) > 0
}

// densityColor maps a density in [0, 1] to a blue-to-red gradient.
// Out-of-range values are clamped.
func densityColor(d float64) color.RGBA {
	d = clamp01(d)
	return color.RGBA{
		R: uint8(math.Round(255 * d)),
		G: 40,
		B: uint8(math.Round(255 * (1 - d))),
		A: 255,
	}
}

// Render draws all segment outlines into an RGBA image.
func (r *DensityRenderer) Render() *image.RGBA {
	bound := r.Geometry.Bound()
	width := int(math.Ceil((bound.Max[0]-bound.Min[0])*r.Scale)) + 2*r.Padding
	height := int(math.Ceil((bound.Max[1]-bound.Min[1])*r.Scale)) + 2*r.Padding
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))

	// White background
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.White)
		}
	}

	for i := range r.Geometry.Outlines {
		outline := &r.Geometry.Outlines[i]
		idx := outline.Segment - 1
		density := 0.0
		if idx >= 0 && idx < len(r.Densities) {
			density = r.Densities[idx]
		}
		r.fillOutline(img, outline, densityColor(density), bound.Min[0], bound.Min[1])

		c := outline.Centroid()
		px, py := r.toPixel(c[0], c[1], bound.Min[0], bound.Min[1])
		label := fmt.Sprintf("%d: %.3f", outline.Segment, density)
		drawLabel(img, px, py, label, color.RGBA{0, 0, 0, 255})
	}

	return img
}

// WritePNG renders and encodes the image as PNG.
func (r *DensityRenderer) WritePNG(w io.Writer) error {
	if !r.HasDrawableContent() {
		return fmt.Errorf("no segment outlines to render")
	}
	if err := png.Encode(w, r.Render()); err != nil {
		return fmt.Errorf("encoding density map PNG: %w", err)
	}
	return nil
}

func (r *DensityRenderer) toPixel(x, y, minX, minY float64) (int, int) {
	return int((x-minX)*r.Scale) + r.Padding, int((y-minY)*r.Scale) + r.Padding
}

// fillOutline fills the outline polygon with a scanline even-odd test.
func (r *DensityRenderer) fillOutline(img *image.RGBA, outline *SegmentOutline, c color.RGBA, minX, minY float64) {
	ring := outline.Ring()
	b := ring.Bound()
	x0, y0 := r.toPixel(b.Min[0], b.Min[1], minX, minY)
	x1, y1 := r.toPixel(b.Max[0], b.Max[1], minX, minY)

	for py := y0; py <= y1; py++ {
		wy := float64(py-r.Padding)/r.Scale + minY
		for px := x0; px <= x1; px++ {
			wx := float64(px-r.Padding)/r.Scale + minX
			if pointInRing(wx, wy, ring) {
				img.Set(px, py, c)
			}
		}
	}
}

// pointInRing is a standard even-odd ray cast against a closed ring.
func pointInRing(x, y float64, ring orb.Ring) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > y) != (yj > y) &&
			x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// drawLabel draws text centered-ish at (x, y) with the basic 7x13 face.
func drawLabel(img *image.RGBA, x, y int, text string, c color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x - len(text)*7/2), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
