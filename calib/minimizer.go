package calib

import (
	"math"
)

const (
	// DefaultDensityStepTol is the step tolerance below which a unit
	// considers its segment settled and stops moving the density.
	DefaultDensityStepTol = 0.01

	// defaultFirstStep is the exploratory step taken on the first update,
	// before a secant slope estimate exists.
	defaultFirstStep = 0.05

	// defaultMaxStep bounds a single secant step so a flat slope estimate
	// cannot throw the density across the whole [0, 1] range.
	defaultMaxStep = 0.25
)

// Minimizer is the default Unit implementation: a damped secant iteration
// that drives the (sign-adjusted) measured value toward zero by adjusting
// its segment's density. Densities are kept inside [0, 1].
//
// The Collection only depends on the Unit interface, so a different update
// law can be swapped in via NewCollectionWithUnits.
type Minimizer struct {
	segment int
	channel Channel
	stepTol float64

	prevDensity float64
	prevValue   float64
	primed      bool
}

// NewMinimizer creates a unit for one (segment, channel) pair.
// stepTol <= 0 falls back to DefaultDensityStepTol.
func NewMinimizer(segment int, channel Channel, stepTol float64) *Minimizer {
	if stepTol <= 0 {
		stepTol = DefaultDensityStepTol
	}
	return &Minimizer{
		segment: segment,
		channel: channel,
		stepTol: stepTol,
	}
}

// Segment returns the 1-indexed segment id.
func (m *Minimizer) Segment() int { return m.segment }

// Channel returns the measurement channel.
func (m *Minimizer) Channel() Channel { return m.channel }

// Update performs one calibration step. The first call takes a fixed
// exploratory step away from the measured value; later calls use the
// secant slope between the last two (density, value) pairs.
func (m *Minimizer) Update(density, measured float64) float64 {
	step := m.step(density, measured)

	m.prevDensity = density
	m.prevValue = measured
	m.primed = true

	if math.Abs(step) < m.stepTol {
		// Settled: moving less than the tolerance is treated as no move,
		// so a fixed-point loop over the collection can terminate.
		return density
	}
	return clamp01(density + step)
}

func (m *Minimizer) step(density, measured float64) float64 {
	if measured == 0 {
		return 0
	}
	if !m.primed {
		// No slope estimate yet: step against the sign of the response.
		if measured > 0 {
			return defaultFirstStep
		}
		return -defaultFirstStep
	}

	dd := density - m.prevDensity
	dv := measured - m.prevValue
	if dd == 0 || dv == 0 {
		// Degenerate secant: repeat the exploratory step.
		if measured > 0 {
			return defaultFirstStep
		}
		return -defaultFirstStep
	}

	step := -measured * dd / dv
	if step > defaultMaxStep {
		step = defaultMaxStep
	} else if step < -defaultMaxStep {
		step = -defaultMaxStep
	}
	return step
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
