package calib

// Collection owns an ordered group of minimization units, one per
// (segment, channel) pair, and performs one whole-vector calibration
// step per Update call.
//
// Densities are 0-indexed by segment-1. Segments without a unit pass
// through Update unchanged. If several units share a segment index the
// unit constructed last wins (kept for compatibility with existing
// calibration setups; see the package tests pinning this).
type Collection struct {
	units    []Unit
	stepTol  float64
	observer Observer
}

// NewCollection builds one unit per (segment, channel) pair, preserving
// input order. The two slices must be the same length; a mismatch is a
// *ConstructionError rather than a silent prefix pairing. Segment ids
// must be >= 1 and channels must be known tags.
//
// stepTol <= 0 falls back to DefaultDensityStepTol. A nil observer
// disables diagnostics.
func NewCollection(segments []int, channels []Channel, stepTol float64, obs Observer) (*Collection, error) {
	if len(segments) != len(channels) {
		return nil, &ConstructionError{
			Reason:   "segment and channel lists differ in length",
			Segments: len(segments),
			Channels: len(channels),
		}
	}
	return newCollection(segments, channels, stepTol, obs)
}

// NewCollectionTruncated is the legacy constructor: it silently pairs the
// common prefix when the lists differ in length, matching the historical
// behavior some configs still rely on. New code should use NewCollection.
func NewCollectionTruncated(segments []int, channels []Channel, stepTol float64, obs Observer) (*Collection, error) {
	n := len(segments)
	if len(channels) < n {
		n = len(channels)
	}
	return newCollection(segments[:n], channels[:n], stepTol, obs)
}

func newCollection(segments []int, channels []Channel, stepTol float64, obs Observer) (*Collection, error) {
	if stepTol <= 0 {
		stepTol = DefaultDensityStepTol
	}
	units := make([]Unit, 0, len(segments))
	for i, seg := range segments {
		if seg < 1 {
			return nil, &ConstructionError{
				Reason:   "segment ids must be >= 1",
				Segments: len(segments),
				Channels: len(channels),
			}
		}
		if !channels[i].Valid() {
			return nil, &ConstructionError{
				Reason:   "unknown channel " + string(channels[i]),
				Segments: len(segments),
				Channels: len(channels),
			}
		}
		units = append(units, NewMinimizer(seg, channels[i], stepTol))
	}
	return &Collection{units: units, stepTol: stepTol, observer: obs}, nil
}

// NewCollectionWithUnits wraps caller-provided units (any update law)
// in a Collection. Unit order is preserved.
func NewCollectionWithUnits(units []Unit, stepTol float64, obs Observer) *Collection {
	if stepTol <= 0 {
		stepTol = DefaultDensityStepTol
	}
	return &Collection{units: units, stepTol: stepTol, observer: obs}
}

// DensityStepTol returns the step tolerance shared with the units.
func (c *Collection) DensityStepTol() float64 { return c.stepTol }

// Len returns the number of owned units.
func (c *Collection) Len() int { return len(c.units) }

// Segments returns the segment ids of all owned units in unit order.
// The slice is rebuilt on every call so it always reflects current
// membership.
func (c *Collection) Segments() []int {
	segments := make([]int, len(c.units))
	for i, u := range c.units {
		segments[i] = u.Segment()
	}
	return segments
}

// Channels returns the channel tags of all owned units in unit order,
// rebuilt on every call.
func (c *Collection) Channels() []Channel {
	channels := make([]Channel, len(c.units))
	for i, u := range c.units {
		channels[i] = u.Channel()
	}
	return channels
}

// MaxSegment returns the largest segment id any unit references, or 0
// for an empty collection.
func (c *Collection) MaxSegment() int {
	max := 0
	for _, u := range c.units {
		if u.Segment() > max {
			max = u.Segment()
		}
	}
	return max
}

// updateUnit performs one unit's calibration step against the given
// densities and surface snapshot, returning the (old, new) density pair.
// The densities slice is indexed but not written; the caller owns the
// write so later units can overwrite earlier ones at a shared index.
func (c *Collection) updateUnit(u Unit, densities []float64, surface SurfaceData) (float64, float64, error) {
	var values []float64
	negate := false
	switch u.Channel() {
	case ChannelPtP:
		values = surface.PtPMean()
	case ChannelLAT:
		values = surface.LATMean()
		negate = true
	default:
		return 0, 0, &UnknownChannelError{Channel: u.Channel(), Segment: u.Segment()}
	}

	idx := u.Segment() - 1
	if idx < 0 || idx >= len(values) {
		return 0, 0, &IndexError{Array: measurementArrayName(u.Channel()), Segment: u.Segment(), Index: idx, Length: len(values)}
	}
	if idx >= len(densities) {
		return 0, 0, &IndexError{Array: "densities", Segment: u.Segment(), Index: idx, Length: len(densities)}
	}

	value := values[idx]
	if negate {
		value = -value
	}
	density := densities[idx]

	densityNew := u.Update(density, value)

	if c.observer != nil {
		c.observer.Observe(Record{
			Segment:    u.Segment(),
			Channel:    u.Channel(),
			Measured:   value,
			OldDensity: density,
			NewDensity: densityNew,
		})
	}
	return density, densityNew, nil
}

// Update performs one calibration step for every owned unit, in
// construction order, against a read-only surface snapshot.
//
// The input densities slice is never mutated: the new vector is written
// into a private copy and returned. Entries for segments without a unit
// keep their input value. Errors abort the pass and propagate; there are
// no retries and no partial-result suppression.
func (c *Collection) Update(densities []float64, surface SurfaceData) ([]float64, error) {
	next := make([]float64, len(densities))
	copy(next, densities)

	for _, u := range c.units {
		_, densityNew, err := c.updateUnit(u, next, surface)
		if err != nil {
			return nil, err
		}
		next[u.Segment()-1] = densityNew
	}
	return next, nil
}

func measurementArrayName(c Channel) string {
	if c == ChannelLAT {
		return "latMeanPerSegment"
	}
	return "ptpMeanPerSegment"
}
