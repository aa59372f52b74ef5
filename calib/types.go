package calib

import (
	"fmt"
)

// Channel identifies which surface measurement drives a minimization unit.
// It is a closed tag: anything other than the two constants below is
// rejected at construction time.
type Channel string

const (
	// ChannelPtP selects the per-segment peak-to-peak mean, used as-is.
	ChannelPtP Channel = "PtP"
	// ChannelLAT selects the per-segment local activation time mean.
	// LAT values are negated before being handed to a unit: a larger raw
	// LAT is treated like a smaller PtP by the minimization law.
	ChannelLAT Channel = "LAT"
)

// Valid reports whether c is one of the known channel tags.
func (c Channel) Valid() bool {
	return c == ChannelPtP || c == ChannelLAT
}

// ParseChannel converts a string tag into a Channel.
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.Valid() {
		return "", &UnknownChannelError{Channel: c}
	}
	return c, nil
}

// SurfaceData is the narrow read-only view of one surface measurement
// pass. Both slices are 0-indexed: segment s lives at position s-1.
// Implementations must keep the returned slices stable for the duration
// of one Collection.Update call.
type SurfaceData interface {
	// PtPMean returns the per-segment peak-to-peak mean.
	PtPMean() []float64
	// LATMean returns the per-segment local activation time mean.
	LATMean() []float64
}

// Unit is one segment's calibration state and update rule. The
// Collection treats Update as an opaque single-step function: any
// damping, retry, or tolerance logic lives inside the implementation.
type Unit interface {
	// Segment returns the 1-indexed segment id this unit calibrates.
	Segment() int
	// Channel returns the measurement channel this unit consumes.
	Channel() Channel
	// Update maps the current density and a freshly measured
	// (sign-adjusted) value to the next density.
	Update(density, measured float64) float64
}

// Record is one per-unit diagnostic event emitted during an update pass.
type Record struct {
	Segment    int     `json:"segment"`
	Channel    Channel `json:"channel"`
	Measured   float64 `json:"measured"`
	OldDensity float64 `json:"oldDensity"`
	NewDensity float64 `json:"newDensity"`
}

// ConstructionError reports an invalid (segments, channels) pairing at
// collection construction time.
type ConstructionError struct {
	Reason   string
	Segments int
	Channels int
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("building collection: %s (%d segments, %d channels)",
		e.Reason, e.Segments, e.Channels)
}

// UnknownChannelError reports a channel tag outside {PtP, LAT}.
type UnknownChannelError struct {
	Channel Channel
	Segment int
}

func (e *UnknownChannelError) Error() string {
	if e.Segment > 0 {
		return fmt.Sprintf("segment %d: unknown channel %q", e.Segment, string(e.Channel))
	}
	return fmt.Sprintf("unknown channel %q", string(e.Channel))
}

// IndexError reports a segment index that falls outside a 0-indexed
// per-segment array. Index is the attempted position (segment - 1).
type IndexError struct {
	Array   string
	Segment int
	Index   int
	Length  int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("segment %d: index %d out of range for %s (len %d)",
		e.Segment, e.Index, e.Array, e.Length)
}
