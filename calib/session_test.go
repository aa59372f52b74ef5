package calib

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// halvingUnit closes half the distance to its target each pass, so the
// session's fixed-point loop converges geometrically.
func halvingUnit(segment int, channel Channel, target float64) *stubUnit {
	return &stubUnit{
		segment: segment,
		channel: channel,
		update: func(density, _ float64) float64 {
			return density + 0.5*(target-density)
		},
	}
}

func flatSnapshotProvider(segments int) SnapshotProvider {
	return SnapshotProviderFunc(func(ctx context.Context, _ []float64) (*Snapshot, error) {
		return &Snapshot{
			PtPMeanPerSegment: make([]float64, segments),
			LATMeanPerSegment: make([]float64, segments),
		}, nil
	})
}

func TestSession_RunConverges(t *testing.T) {
	c := NewCollectionWithUnits([]Unit{
		halvingUnit(1, ChannelPtP, 0.9),
		halvingUnit(2, ChannelLAT, 0.3),
	}, 0.01, nil)

	session := NewSession(c, flatSnapshotProvider(2), 30)
	initial := []float64{0.5, 0.5}

	result, err := session.Run(context.Background(), initial)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Converged {
		t.Fatalf("did not converge in %d iterations", len(result.Iterations))
	}
	if initial[0] != 0.5 || initial[1] != 0.5 {
		t.Errorf("initial vector mutated: %v", initial)
	}

	final := result.Densities
	if final[0] < 0.85 || final[0] > 0.95 {
		t.Errorf("final[0] = %g, want near 0.9", final[0])
	}
	if final[1] < 0.25 || final[1] > 0.35 {
		t.Errorf("final[1] = %g, want near 0.3", final[1])
	}

	// Steps must shrink monotonically for this update law, and the last
	// iteration is the converged one.
	for i := 1; i < len(result.Iterations); i++ {
		if result.Iterations[i].MaxStep >= result.Iterations[i-1].MaxStep {
			t.Errorf("step grew at iteration %d: %g -> %g",
				i+1, result.Iterations[i-1].MaxStep, result.Iterations[i].MaxStep)
		}
	}
	last := result.Iterations[len(result.Iterations)-1]
	if !last.Converged {
		t.Error("last iteration not marked converged")
	}
	if len(last.Records) != 2 {
		t.Errorf("last iteration has %d records, want 2", len(last.Records))
	}
}

func TestSession_RunHitsIterationCap(t *testing.T) {
	restless := &stubUnit{
		segment: 1,
		channel: ChannelPtP,
		update:  func(density, _ float64) float64 { return density + 0.05 },
	}
	c := NewCollectionWithUnits([]Unit{restless}, 0.01, nil)
	session := NewSession(c, flatSnapshotProvider(1), 5)

	result, err := session.Run(context.Background(), []float64{0})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Converged {
		t.Error("Converged = true for a unit that never settles")
	}
	if len(result.Iterations) != 5 {
		t.Errorf("ran %d iterations, want 5", len(result.Iterations))
	}
}

func TestSession_ProviderErrorAborts(t *testing.T) {
	c := NewCollectionWithUnits([]Unit{halvingUnit(1, ChannelPtP, 0.5)}, 0.01, nil)
	boom := errors.New("pipeline down")
	provider := SnapshotProviderFunc(func(ctx context.Context, _ []float64) (*Snapshot, error) {
		return nil, boom
	})

	session := NewSession(c, provider, 10)
	_, err := session.Run(context.Background(), []float64{0.5})
	if !errors.Is(err, boom) {
		t.Errorf("expected provider error, got %v", err)
	}
}

func TestSession_ShortSnapshotAborts(t *testing.T) {
	c := NewCollectionWithUnits([]Unit{halvingUnit(3, ChannelPtP, 0.5)}, 0.01, nil)
	session := NewSession(c, flatSnapshotProvider(2), 10)

	_, err := session.Run(context.Background(), []float64{0.5, 0.5, 0.5})
	if err == nil {
		t.Error("expected validation error for snapshot shorter than MaxSegment")
	}
}

func TestSession_ContextCancellation(t *testing.T) {
	c := NewCollectionWithUnits([]Unit{halvingUnit(1, ChannelPtP, 0.9)}, 0.0001, nil)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	provider := SnapshotProviderFunc(func(ctx context.Context, _ []float64) (*Snapshot, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return &Snapshot{
			PtPMeanPerSegment: []float64{0},
			LATMeanPerSegment: []float64{0},
		}, nil
	})

	session := NewSession(c, provider, 100)
	_, err := session.Run(ctx, []float64{0.1})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSession_Step(t *testing.T) {
	c := NewCollectionWithUnits([]Unit{halvingUnit(1, ChannelPtP, 0.9)}, 0.01, nil)
	session := NewSession(c, nil, 10)

	snap := &Snapshot{
		PtPMeanPerSegment: []float64{1.0},
		LATMeanPerSegment: []float64{0.0},
	}
	next, maxStep, err := session.Step([]float64{0.5}, snap)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if next[0] != 0.7 {
		t.Errorf("next[0] = %g, want 0.7", next[0])
	}
	if fmt.Sprintf("%.3f", maxStep) != "0.200" {
		t.Errorf("maxStep = %g, want 0.2", maxStep)
	}

	records := session.Records()
	if len(records) != 1 || records[0].Segment != 1 {
		t.Errorf("Records() = %+v, want one record for segment 1", records)
	}
}

func TestMaxDensityStep(t *testing.T) {
	got := MaxDensityStep([]float64{0.1, 0.5, 0.9}, []float64{0.15, 0.4, 0.9})
	if fmt.Sprintf("%.3f", got) != "0.100" {
		t.Errorf("MaxDensityStep = %g, want 0.1", got)
	}
	if MaxDensityStep(nil, nil) != 0 {
		t.Error("MaxDensityStep(nil, nil) should be 0")
	}
}
