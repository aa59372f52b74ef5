package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kwv/fibrocal/calib"
)

func testApp(t *testing.T) *App {
	t.Helper()

	collection, err := calib.NewCollection(
		[]int{1, 2},
		[]calib.Channel{calib.ChannelPtP, calib.ChannelLAT},
		0.01, nil)
	if err != nil {
		t.Fatalf("building collection: %v", err)
	}

	metrics := calib.NewMetrics()
	metrics.SetManagedUnits(collection.Len())

	return &App{
		Config: &calib.Config{
			Segments: []calib.SegmentConfig{
				{ID: 1, Channel: "PtP"},
				{ID: 2, Channel: "LAT"},
			},
		},
		Collection: collection,
		Tracker:    calib.NewStateTracker(),
		Metrics:    metrics,
		Geometry: &calib.SurfaceGeometry{
			Outlines: []calib.SegmentOutline{
				{Segment: 1, Points: [][2]float64{{0, 0}, {10, 0}, {10, 10}, {0, 10}}},
				{Segment: 2, Points: [][2]float64{{10, 0}, {20, 0}, {20, 10}, {10, 10}}},
			},
		},
		Log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	app := testApp(t)
	handler := newHTTPServer(app)

	rec := get(t, handler, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var status struct {
		Status      string `json:"status"`
		HasSnapshot bool   `json:"hasSnapshot"`
		MQTT        bool   `json:"mqttConnected"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decoding health response: %v", err)
	}
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
	if status.HasSnapshot || status.MQTT {
		t.Errorf("fresh app should report no snapshot and no MQTT: %+v", status)
	}
}

func TestDensitiesEndpoint(t *testing.T) {
	app := testApp(t)
	app.Tracker.UpdateDensities([]float64{0.4, 0.6}, 2, 0.05, false)
	handler := newHTTPServer(app)

	rec := get(t, handler, "/densities")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Densities []float64       `json:"densities"`
		Status    calib.RunStatus `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding densities response: %v", err)
	}
	if len(resp.Densities) != 2 || resp.Densities[0] != 0.4 {
		t.Errorf("densities = %v, want [0.4 0.6]", resp.Densities)
	}
	if resp.Status.Iteration != 2 {
		t.Errorf("iteration = %d, want 2", resp.Status.Iteration)
	}
}

func TestSegmentsEndpoint(t *testing.T) {
	app := testApp(t)
	handler := newHTTPServer(app)

	rec := get(t, handler, "/segments")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Segments []int              `json:"segments"`
		Channels []calib.Channel    `json:"channels"`
		StepTol  float64            `json:"densityStepTol"`
		Areas    map[string]float64 `json:"areas"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding segments response: %v", err)
	}
	if len(resp.Segments) != 2 || resp.Segments[1] != 2 {
		t.Errorf("segments = %v, want [1 2]", resp.Segments)
	}
	if resp.Channels[0] != calib.ChannelPtP || resp.Channels[1] != calib.ChannelLAT {
		t.Errorf("channels = %v", resp.Channels)
	}
	if resp.StepTol != 0.01 {
		t.Errorf("stepTol = %g, want 0.01", resp.StepTol)
	}
	if len(resp.Areas) != 2 {
		t.Errorf("areas = %v, want 2 entries", resp.Areas)
	}
}

func TestDensityMapPNGEndpoint(t *testing.T) {
	app := testApp(t)
	app.Tracker.SetDensities([]float64{0.2, 0.8})
	handler := newHTTPServer(app)

	rec := get(t, handler, "/density-map.png")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q, want image/png", ct)
	}
	if rec.Body.Len() == 0 {
		t.Error("empty PNG body")
	}
}

func TestDensityMapPNGEndpoint_NoGeometry(t *testing.T) {
	app := testApp(t)
	app.Geometry = nil
	handler := newHTTPServer(app)

	rec := get(t, handler, "/density-map.png")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestDensityMapSVGEndpoint(t *testing.T) {
	app := testApp(t)
	app.Tracker.SetDensities([]float64{0.2, 0.8})
	handler := newHTTPServer(app)

	rec := get(t, handler, "/density-map.svg")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/svg+xml" {
		t.Errorf("content type = %q, want image/svg+xml", ct)
	}
	if !strings.Contains(rec.Body.String(), "<svg") {
		t.Error("body does not look like SVG")
	}
}

func TestHistoryEndpoint_NoStore(t *testing.T) {
	app := testApp(t)
	handler := newHTTPServer(app)

	rec := get(t, handler, "/history")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	app := testApp(t)
	handler := newHTTPServer(app)

	rec := get(t, handler, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "fibrocal_managed_units 2") {
		t.Error("metrics output missing managed-units gauge")
	}
}
