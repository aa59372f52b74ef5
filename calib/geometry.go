package calib

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// SegmentOutline is the projected 2-D boundary of one surface segment,
// used for rendering and area reporting. Coordinates are [x, y] pairs in
// the surface projection plane (arbitrary but consistent units).
type SegmentOutline struct {
	Segment int          `json:"segment"`
	Points  [][2]float64 `json:"points"`
}

// SurfaceGeometry holds the outlines for all segments of a surface.
type SurfaceGeometry struct {
	Outlines []SegmentOutline `json:"outlines"`
}

// LoadGeometry loads segment outlines from a JSON file. A missing file
// returns (nil, nil): geometry is optional and only renderers need it.
func LoadGeometry(path string) (*SurfaceGeometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading geometry file: %w", err)
	}
	var geom SurfaceGeometry
	if err := json.Unmarshal(data, &geom); err != nil {
		return nil, fmt.Errorf("parsing geometry file: %w", err)
	}
	for _, o := range geom.Outlines {
		if o.Segment < 1 {
			return nil, fmt.Errorf("geometry outline has segment id %d, must be >= 1", o.Segment)
		}
		if len(o.Points) < 3 {
			return nil, fmt.Errorf("segment %d outline has %d points, need at least 3", o.Segment, len(o.Points))
		}
	}
	return &geom, nil
}

// Ring converts an outline to a closed orb.Ring.
func (o *SegmentOutline) Ring() orb.Ring {
	ring := make(orb.Ring, 0, len(o.Points)+1)
	for _, p := range o.Points {
		ring = append(ring, orb.Point{p[0], p[1]})
	}
	if len(ring) > 0 && ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return ring
}

// Area returns the absolute area enclosed by the outline.
func (o *SegmentOutline) Area() float64 {
	a := planar.Area(o.Ring())
	if a < 0 {
		a = -a
	}
	return a
}

// Centroid returns the area centroid of the outline, used for labels.
func (o *SegmentOutline) Centroid() orb.Point {
	c, _ := planar.CentroidArea(o.Ring())
	return c
}

// Outline returns the outline for a segment id, or nil if absent.
func (g *SurfaceGeometry) Outline(segment int) *SegmentOutline {
	if g == nil {
		return nil
	}
	for i := range g.Outlines {
		if g.Outlines[i].Segment == segment {
			return &g.Outlines[i]
		}
	}
	return nil
}

// Bound returns the bounding box covering every outline.
func (g *SurfaceGeometry) Bound() orb.Bound {
	var bound orb.Bound
	first := true
	for i := range g.Outlines {
		b := g.Outlines[i].Ring().Bound()
		if first {
			bound = b
			first = false
		} else {
			bound = bound.Union(b)
		}
	}
	return bound
}

// Areas returns segment id -> outline area for every outline present.
func (g *SurfaceGeometry) Areas() map[int]float64 {
	areas := make(map[int]float64, len(g.Outlines))
	for i := range g.Outlines {
		areas[g.Outlines[i].Segment] = g.Outlines[i].Area()
	}
	return areas
}
