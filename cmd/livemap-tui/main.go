package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/unklstewy/ads-livemap/internal/db"
	"github.com/unklstewy/ads-livemap/internal/livemap"
	"github.com/unklstewy/ads-livemap/internal/logging"
	"github.com/unklstewy/ads-livemap/internal/scene"
	"github.com/unklstewy/ads-livemap/pkg/adsb"
	"github.com/unklstewy/ads-livemap/pkg/config"
)

var (
	// Version information (set by build flags)
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/livemap.json", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("livemap-tui version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}
	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logs := NewLogManager(200)
	logger := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Dir:     cfg.Log.Dir,
		Console: logs,
	})
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := adsb.NewClient(adsb.ClientConfig{
		URL:               cfg.Feed.URL,
		Timeout:           cfg.Feed.Timeout(),
		MinRequestSpacing: cfg.Feed.MinRequestSpacing(),
	})
	defer client.Close()

	opts := []livemap.Option{
		livemap.WithInterval(cfg.Feed.PollInterval()),
		livemap.WithStaleAfter(cfg.Tracks.StaleAfterCycles),
		livemap.WithLogger(logger.Logger),
	}
	if cfg.Database.Enabled {
		archive, err := db.OpenArchive(ctx, cfg.Database, logger.Logger)
		if err != nil {
			log.Fatalf("Failed to open archive: %v", err)
		}
		defer archive.Close()
		opts = append(opts, livemap.WithArchive(archive))
	}

	sc := scene.New()
	loop := livemap.New(client, sc, opts...)
	vp := viewportFor(cfg.Map.CenterLat, cfg.Map.CenterLon, cfg.Map.RadiusNM)

	app := NewApp(loop, sc, vp, logs, logger.Logger)
	if err := app.Run(ctx); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

// printHelp displays help information
func printHelp() {
	fmt.Println(`livemap-tui - terminal live map of ADS-B traffic

USAGE:
    livemap-tui [OPTIONS]

OPTIONS:
    -config string
        Path to configuration file (default "configs/livemap.json")
    -version
        Show version information
    -help
        Show this help message

CONTROLS:
    Mouse click     Show or hide the trail of the nearest aircraft
    ↑/↓, j/k        Move the cursor between aircraft
    ENTER, SPACE    Show or hide the trail of the aircraft under the cursor
    c               Center the map on the cursor aircraft
    +/-             Zoom in/out
    0               Reset zoom and center
    q, ESC          Quit

Only one trail is shown at a time. Selecting another aircraft moves it;
selecting the shown one again hides it.`)
}
