package calib

import (
	"fmt"
	"io"
	"log/slog"
)

// Observer receives one Record per unit per Update call. It is a side
// channel for calibration progress, not part of the functional contract:
// a failing or slow observer must not change the computed densities.
type Observer interface {
	Observe(Record)
}

// NopObserver discards all records.
type NopObserver struct{}

func (NopObserver) Observe(Record) {}

// WriterObserver writes the classic three-line diagnostic block per unit:
//
//	SEGMENT : 3
//	    LAT : -0.800
//	DENSITY : 0.500 --> 0.450
type WriterObserver struct {
	W io.Writer
}

func (o WriterObserver) Observe(r Record) {
	fmt.Fprintf(o.W, "SEGMENT : %d\n", r.Segment)
	fmt.Fprintf(o.W, "    %s : %.3f\n", r.Channel, r.Measured)
	fmt.Fprintf(o.W, "DENSITY : %.3f --> %.3f\n", r.OldDensity, r.NewDensity)
}

// SlogObserver emits records as structured log events.
type SlogObserver struct {
	Logger *slog.Logger
}

func (o SlogObserver) Observe(r Record) {
	o.Logger.Info("unit update",
		"segment", r.Segment,
		"channel", string(r.Channel),
		"measured", r.Measured,
		"density_old", r.OldDensity,
		"density_new", r.NewDensity,
	)
}

// MultiObserver fans records out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) Observe(r Record) {
	for _, o := range m {
		o.Observe(r)
	}
}

// RecordingObserver collects records in memory, mainly for tests and the
// per-iteration history kept by the session runner.
type RecordingObserver struct {
	Records []Record
}

func (o *RecordingObserver) Observe(r Record) {
	o.Records = append(o.Records, r)
}

// Reset drops all collected records.
func (o *RecordingObserver) Reset() {
	o.Records = o.Records[:0]
}
