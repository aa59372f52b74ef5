package calib

import (
	"strings"
	"testing"
)

func TestParseChannel(t *testing.T) {
	for _, s := range []string{"PtP", "LAT"} {
		c, err := ParseChannel(s)
		if err != nil {
			t.Errorf("ParseChannel(%q): %v", s, err)
		}
		if string(c) != s {
			t.Errorf("ParseChannel(%q) = %q", s, c)
		}
	}

	// Tags are case-sensitive and closed.
	for _, s := range []string{"ptp", "lat", "RMS", ""} {
		if _, err := ParseChannel(s); err == nil {
			t.Errorf("ParseChannel(%q) should fail", s)
		}
	}
}

func TestErrorMessages(t *testing.T) {
	cerr := &ConstructionError{Reason: "lists differ", Segments: 3, Channels: 2}
	if msg := cerr.Error(); !strings.Contains(msg, "3 segments") || !strings.Contains(msg, "2 channels") {
		t.Errorf("ConstructionError message: %q", msg)
	}

	uerr := &UnknownChannelError{Channel: "RMS", Segment: 4}
	if msg := uerr.Error(); !strings.Contains(msg, "segment 4") || !strings.Contains(msg, "RMS") {
		t.Errorf("UnknownChannelError message: %q", msg)
	}
	bare := &UnknownChannelError{Channel: "RMS"}
	if msg := bare.Error(); strings.Contains(msg, "segment") {
		t.Errorf("segment-less UnknownChannelError should omit the segment: %q", msg)
	}

	ierr := &IndexError{Array: "ptpMeanPerSegment", Segment: 9, Index: 8, Length: 5}
	msg := ierr.Error()
	for _, want := range []string{"segment 9", "index 8", "ptpMeanPerSegment", "len 5"} {
		if !strings.Contains(msg, want) {
			t.Errorf("IndexError message %q missing %q", msg, want)
		}
	}
}
