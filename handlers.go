package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/kwv/fibrocal/calib"
)

// newHTTPServer creates an HTTP server with all endpoints.
func newHTTPServer(a *App) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status      string    `json:"status"`
			Timestamp   time.Time `json:"timestamp"`
			HasSnapshot bool      `json:"hasSnapshot"`
			MQTT        bool      `json:"mqttConnected"`
		}{
			Status:      "ok",
			Timestamp:   time.Now(),
			HasSnapshot: a.Tracker.HasSnapshot(),
			MQTT:        a.MQTT.IsConnected(),
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			a.Log.Warn("encoding health status", "err", err)
		}
	})

	// Current density vector and run status
	mux.HandleFunc("/densities", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := struct {
			Densities []float64       `json:"densities"`
			Status    calib.RunStatus `json:"status"`
		}{
			Densities: a.Tracker.Densities(),
			Status:    a.Tracker.Status(),
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			a.Log.Warn("encoding densities", "err", err)
		}
	})

	// Managed segments: ids, channels, and optional outline areas
	mux.HandleFunc("/segments", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var areas map[int]float64
		if a.Geometry != nil {
			areas = a.Geometry.Areas()
		}
		resp := struct {
			Segments []int           `json:"segments"`
			Channels []calib.Channel `json:"channels"`
			StepTol  float64         `json:"densityStepTol"`
			Areas    map[int]float64 `json:"areas,omitempty"`
		}{
			Segments: a.Collection.Segments(),
			Channels: a.Collection.Channels(),
			StepTol:  a.Collection.DensityStepTol(),
			Areas:    areas,
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			a.Log.Warn("encoding segments", "err", err)
		}
	})

	// Raster density map
	mux.HandleFunc("/density-map.png", func(w http.ResponseWriter, r *http.Request) {
		renderer := calib.NewDensityRenderer(a.Geometry, a.Tracker.Densities())
		if !renderer.HasDrawableContent() {
			http.Error(w, "No segment geometry configured", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.WritePNG(w); err != nil {
			a.Log.Warn("rendering density map PNG", "err", err)
		}
	})

	// Vector density map
	mux.HandleFunc("/density-map.svg", func(w http.ResponseWriter, r *http.Request) {
		if a.Geometry == nil || len(a.Geometry.Outlines) == 0 {
			http.Error(w, "No segment geometry configured", http.StatusServiceUnavailable)
			return
		}
		renderer := calib.NewVectorDensityRenderer(a.Geometry, a.Tracker.Densities())
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToSVG(w); err != nil {
			a.Log.Warn("rendering density map SVG", "err", err)
		}
	})

	// Run history from the SQLite store
	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		if a.Store == nil {
			http.Error(w, "History store not configured", http.StatusServiceUnavailable)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		runs, err := a.Store.RecentRuns(r.Context(), limit)
		if err != nil {
			a.Log.Warn("querying run history", "err", err)
			http.Error(w, "History query failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(runs); err != nil {
			a.Log.Warn("encoding run history", "err", err)
		}
	})

	// Prometheus metrics
	mux.Handle("/metrics", a.Metrics.Handler(func() {
		a.Metrics.SetManagedUnits(a.Collection.Len())
	}))

	return mux
}
