// Command racecore runs the GPS correction pipeline: an HTTP server exposing
// the correction endpoint and its diagnostics, plus a loadroute subcommand
// for provisioning an event detail's course ahead of race day.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/racecore/internal/api"
	"github.com/banshee-data/racecore/internal/config"
	"github.com/banshee-data/racecore/internal/fsutil"
	"github.com/banshee-data/racecore/internal/pipeline"
	"github.com/banshee-data/racecore/internal/security"
	"github.com/banshee-data/racecore/internal/store"
	"github.com/banshee-data/racecore/internal/timeutil"
	"github.com/banshee-data/racecore/internal/version"
)

func usage() {
	fmt.Fprintf(os.Stderr, `racecore is the GPS correction pipeline server and route loader.

Usage:
  racecore serve [-listen :8080] [-db racecore.db] [-config config/tuning.defaults.json]
  racecore loadroute [-db racecore.db] [-config config/tuning.defaults.json] <eventId> <eventDetailId> <path.gpx>
  racecore version

`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "loadroute":
		runLoadRoute(os.Args[2:])
	case "version":
		fmt.Printf("racecore %s (commit %s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
	default:
		usage()
		os.Exit(2)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	listen := fs.String("listen", ":8080", "HTTP listen address")
	dbPath := fs.String("db", "racecore.db", "sqlite database path")
	configPath := fs.String("config", config.DefaultConfigPath, "tuning defaults JSON path")
	if err := fs.Parse(args); err != nil {
		log.Fatalf("racecore: parse serve flags: %v", err)
	}

	cfg, err := config.LoadCorrectionConfig(*configPath)
	if err != nil {
		log.Printf("racecore: using built-in tuning defaults, could not load %s: %v", *configPath, err)
		cfg = config.EmptyCorrectionConfig()
	}

	clock := timeutil.RealClock{}
	s, err := store.Open(*dbPath, clock)
	if err != nil {
		log.Fatalf("racecore: open store: %v", err)
	}
	defer s.Close()

	p := pipeline.New(s, clock, pipeline.ConfigFromTuning(cfg))

	sweep := store.NewTTLSweepWorker(s)
	sweep.Start()
	defer sweep.Stop()

	server := api.NewServer(p, s)
	server.AttachAdminRoutes()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("racecore %s: serving on %s (db=%s)", version.Version, *listen, *dbPath)
	if err := server.Start(ctx, *listen); err != nil {
		log.Fatalf("racecore: server error: %v", err)
	}
	log.Print("racecore: shutdown complete")
}

func runLoadRoute(args []string) {
	fs := flag.NewFlagSet("loadroute", flag.ExitOnError)
	dbPath := fs.String("db", "racecore.db", "sqlite database path")
	configPath := fs.String("config", config.DefaultConfigPath, "tuning defaults JSON path")
	if err := fs.Parse(args); err != nil {
		log.Fatalf("racecore: parse loadroute flags: %v", err)
	}
	rest := fs.Args()
	if len(rest) != 3 {
		usage()
		os.Exit(2)
	}

	var eventID, eventDetailID int64
	if _, err := fmt.Sscanf(rest[0], "%d", &eventID); err != nil {
		log.Fatalf("racecore: invalid eventId %q: %v", rest[0], err)
	}
	if _, err := fmt.Sscanf(rest[1], "%d", &eventDetailID); err != nil {
		log.Fatalf("racecore: invalid eventDetailId %q: %v", rest[1], err)
	}
	gpxPath := rest[2]

	cwd, err := os.Getwd()
	if err != nil {
		log.Fatalf("racecore: get working directory: %v", err)
	}
	if err := security.ValidateGPXSourcePath(gpxPath, cwd); err != nil {
		log.Fatalf("racecore: reject gpx path: %v", err)
	}

	var fsys fsutil.FileSystem = fsutil.OSFileSystem{}
	gpxBytes, err := fsys.ReadFile(gpxPath)
	if err != nil {
		log.Fatalf("racecore: read gpx file: %v", err)
	}

	cfg, err := config.LoadCorrectionConfig(*configPath)
	if err != nil {
		log.Printf("racecore: using built-in tuning defaults, could not load %s: %v", *configPath, err)
		cfg = config.EmptyCorrectionConfig()
	}

	clock := timeutil.RealClock{}
	s, err := store.Open(*dbPath, clock)
	if err != nil {
		log.Fatalf("racecore: open store: %v", err)
	}
	defer s.Close()

	summary, err := s.LoadRoute(context.Background(), eventID, eventDetailID, gpxBytes, pipeline.RouteConfigFromTuning(cfg), cfg.GetRouteTTL())
	if err != nil {
		log.Fatalf("racecore: load route: %v", err)
	}

	log.Printf("racecore: loaded route event=%d detail=%d revision=%s points=%d distance=%.1fm",
		summary.EventID, summary.EventDetailID, summary.RevisionID, summary.PointCount, summary.TotalDistance)
}
