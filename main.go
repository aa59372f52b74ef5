package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
)

// Version is set at build time via -ldflags
var Version = "dev"

var (
	configFile    = flag.String("config", "config.yaml", "Path to configuration file")
	once          = flag.Bool("once", false, "Run a single update pass from files and exit")
	runDir        = flag.String("run", "", "Iterate to convergence against numbered snapshot files in this directory")
	serveMode     = flag.Bool("serve", false, "Run the live MQTT + HTTP service")
	snapshotFile  = flag.String("snapshot", "snapshot.json", "Surface snapshot file for --once")
	densitiesFile = flag.String("densities", "", "Density vector file (default: initialDensity from config)")
	outputFile    = flag.String("output", "densities-out.json", "Output file for --once and --run")
	httpPort      = flag.Int("http-port", 0, "HTTP server port (overrides config)")
	logLevel      = flag.String("log-level", "info", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	// .env is optional; system env and config cover the rest.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
	}

	logger := newLogger(*logLevel)
	logger.Info("fibrocal starting", "version", Version)

	app, err := NewApp(*configFile, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer app.Close()

	app.SnapshotFile = *snapshotFile
	app.DensitiesFile = *densitiesFile
	app.OutputFile = *outputFile
	if *httpPort != 0 {
		app.HTTPPort = *httpPort
	}

	switch {
	case *once:
		err = app.RunOnce()
	case *runDir != "":
		err = app.RunLoop(*runDir)
	case *serveMode:
		err = app.RunServe()
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("run failed", "err", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: lvl}))
}
