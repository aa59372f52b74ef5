package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kwv/fibrocal/calib"
)

// App encapsulates the application state and dependencies.
type App struct {
	Config     *calib.Config
	Collection *calib.Collection
	Tracker    *calib.StateTracker
	Metrics    *calib.Metrics
	Store      *calib.Store
	Geometry   *calib.SurfaceGeometry
	MQTT       *calib.MQTTClient
	Publisher  *calib.Publisher
	Log        *slog.Logger

	// CLI options
	ConfigFile    string
	SnapshotFile  string
	DensitiesFile string
	OutputFile    string
	HTTPPort      int
}

// NewApp creates an App with the shared pieces every mode needs: config,
// collection, state tracker, and metrics.
func NewApp(configFile string, logger *slog.Logger) (*App, error) {
	config, err := calib.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}

	collection, err := config.BuildCollection(calib.MultiObserver{
		calib.WriterObserver{W: os.Stdout},
		calib.SlogObserver{Logger: logger},
	})
	if err != nil {
		return nil, err
	}

	metrics := calib.NewMetrics()
	metrics.SetManagedUnits(collection.Len())

	app := &App{
		Config:     config,
		Collection: collection,
		Tracker:    calib.NewStateTracker(),
		Metrics:    metrics,
		Log:        logger,
		ConfigFile: configFile,
		HTTPPort:   config.HTTPPort,
	}

	if config.GeometryFile != "" {
		geom, err := calib.LoadGeometry(config.GeometryFile)
		if err != nil {
			return nil, err
		}
		app.Geometry = geom
	}
	if config.HistoryDB != "" {
		store, err := calib.OpenStore(config.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("opening history store: %w", err)
		}
		app.Store = store
	}

	return app, nil
}

// Close releases resources held by the app.
func (a *App) Close() {
	if a.MQTT != nil {
		a.MQTT.Disconnect()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Log.Warn("closing history store", "err", err)
		}
	}
}

// RunOnce performs a single whole-collection update from files: load a
// snapshot and a density vector, run one pass, write the result.
func (a *App) RunOnce() error {
	snap, err := calib.LoadSnapshot(a.SnapshotFile)
	if err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("snapshot file not found: %s", a.SnapshotFile)
	}

	densities, err := a.loadOrSeedDensities()
	if err != nil {
		return err
	}

	session := a.newSession(nil)
	next, maxStep, err := session.Step(densities, snap)
	if err != nil {
		return err
	}

	converged := maxStep < a.Collection.DensityStepTol()
	a.Metrics.ObserveIteration(maxStep, converged, a.Collection.Len())
	a.Log.Info("pass complete", "max_step", maxStep, "converged", converged)

	return calib.SaveDensities(a.OutputFile, next)
}

// RunLoop iterates to convergence against a directory of numbered
// snapshot files (snapshot-001.json, snapshot-002.json, ...), one file
// per iteration, standing in for a live measurement pipeline.
func (a *App) RunLoop(snapshotDir string) error {
	densities, err := a.loadOrSeedDensities()
	if err != nil {
		return err
	}

	iteration := 0
	provider := calib.SnapshotProviderFunc(func(ctx context.Context, _ []float64) (*calib.Snapshot, error) {
		iteration++
		path := fmt.Sprintf("%s/snapshot-%03d.json", snapshotDir, iteration)
		snap, err := calib.LoadSnapshot(path)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			return nil, fmt.Errorf("no snapshot for iteration %d: %s", iteration, path)
		}
		return snap, nil
	})

	session := a.newSession(provider)
	result, err := session.Run(context.Background(), densities)
	if err != nil {
		return err
	}

	a.Log.Info("run complete",
		"iterations", len(result.Iterations),
		"converged", result.Converged,
	)
	return calib.SaveDensities(a.OutputFile, result.Densities)
}

// RunServe starts the live service: every MQTT surface snapshot drives
// one calibration pass, results are published back and served over HTTP
// until SIGINT/SIGTERM.
func (a *App) RunServe() error {
	densities, err := a.loadOrSeedDensities()
	if err != nil {
		return err
	}
	a.Tracker.SetDensities(densities)

	session := a.newSession(nil)

	iteration := 0
	handler := func(raw []byte, snap *calib.Snapshot, err error) {
		if err != nil {
			a.Log.Error("decoding surface snapshot", "err", err)
			a.Metrics.IncErrors()
			return
		}
		a.Tracker.UpdateSnapshot(snap)

		current := a.Tracker.Densities()
		next, maxStep, err := session.Step(current, snap)
		if err != nil {
			a.Log.Error("update pass failed", "err", err)
			return
		}
		iteration++
		converged := maxStep < a.Collection.DensityStepTol()
		a.Tracker.UpdateDensities(next, iteration, maxStep, converged)
		a.Metrics.ObserveIteration(maxStep, converged, a.Collection.Len())

		if a.Publisher != nil {
			if err := a.Publisher.PublishDensities(next, iteration, maxStep, converged); err != nil {
				a.Log.Warn("publishing densities", "err", err)
			}
			if err := a.Publisher.PublishRecords(session.Records()); err != nil {
				a.Log.Warn("publishing records", "err", err)
			}
		}
	}

	mqttClient, err := calib.InitMQTT(a.Config, handler)
	if err != nil {
		return fmt.Errorf("initializing MQTT: %w", err)
	}
	a.MQTT = mqttClient
	if mqttClient != nil {
		a.Publisher = calib.NewPublisher(mqttClient.Client(), a.Config.MQTT.PublishPrefix)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.HTTPPort),
		Handler:           newHTTPServer(a),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.Log.Info("HTTP server listening", "port", a.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Log.Error("HTTP server failed", "err", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	a.Log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.Log.Warn("HTTP shutdown", "err", err)
	}
	return nil
}

func (a *App) newSession(provider calib.SnapshotProvider) *calib.Session {
	session := calib.NewSession(a.Collection, provider, a.Config.MaxIterations)
	session.Store = a.Store
	session.Metrics = a.Metrics
	session.Tracker = a.Tracker
	return session
}

func (a *App) loadOrSeedDensities() ([]float64, error) {
	if a.DensitiesFile != "" {
		if _, err := os.Stat(a.DensitiesFile); err == nil {
			return calib.LoadDensities(a.DensitiesFile)
		}
	}
	return a.Config.InitialDensities(), nil
}
