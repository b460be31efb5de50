package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unklstewy/ads-livemap/internal/db"
	"github.com/unklstewy/ads-livemap/internal/livemap"
	"github.com/unklstewy/ads-livemap/internal/logging"
	"github.com/unklstewy/ads-livemap/internal/render"
	"github.com/unklstewy/ads-livemap/pkg/adsb"
	"github.com/unklstewy/ads-livemap/pkg/config"
)

// livemap runs the reconciliation loop without a viewer. Render commands
// go to the debug log; with the archive enabled every accepted position
// is written to PostgreSQL.
func main() {
	configPath := flag.String("config", "configs/livemap.json", "Path to configuration file")
	flag.Parse()

	log.Println("===========================================")
	log.Println("  ADS-B Live Map (headless)")
	log.Println("===========================================")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Dir:     cfg.Log.Dir,
		Console: os.Stderr,
	})
	defer logger.Close()

	log.Printf("Configuration loaded from: %s", *configPath)
	log.Printf("Feed: %s", cfg.Feed.URL)
	log.Printf("Poll interval: %v", cfg.Feed.PollInterval())
	if cfg.Tracks.StaleAfterCycles > 0 {
		log.Printf("Tracks pruned after %d missed cycles", cfg.Tracks.StaleAfterCycles)
	} else {
		log.Println("Tracks are never pruned")
	}

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

	var archive *db.Archive
	if cfg.Database.Enabled {
		log.Println("\nConnecting to archive database...")
		archive, err = db.OpenArchive(ctx, cfg.Database, logger.Logger)
		if err != nil {
			log.Fatalf("Failed to open archive: %v", err)
		}
		defer archive.Close()
		log.Println("✓ Archive connected, schema initialized")
		opts = append(opts, livemap.WithArchive(archive))
	}

	sink := render.Func(func(cmd render.Command) {
		logger.Debug("render", slog.String("command", cmd.String()))
	})
	loop := livemap.New(client, sink, opts...)

	done := make(chan error, 1)
	go func() {
		done <- loop.Run(ctx)
	}()

	log.Println("\n===========================================")
	log.Println("  Live map engine started")
	log.Println("  Press Ctrl+C to stop")
	log.Println("===========================================")

	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()

	maintenance := time.NewTicker(5 * time.Minute)
	defer maintenance.Stop()

	for {
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Fatalf("Loop stopped: %v", err)
			}
			log.Println("\nShutting down gracefully...")
			log.Println("✓ Live map engine stopped")
			return

		case <-statsTicker.C:
			printStats(ctx, loop.Stats(), archive)

		case <-maintenance.C:
			if archive == nil {
				continue
			}
			if err := archive.Maintain(ctx); err != nil {
				logger.Warn("archive maintenance failed", slog.Any("error", err))
			}
		}
	}
}

// printStats displays current statistics.
func printStats(ctx context.Context, s livemap.Stats, archive *db.Archive) {
	log.Println("-------------------------------------------")
	log.Printf("Tracks: %d (created %d, pruned %d)", s.Tracks, s.Created, s.Pruned)
	log.Printf("Cycles: %d, failed polls: %d, dropped ticks: %d", s.Cycles, s.PollsFailed, s.TicksDropped)
	log.Printf("Observations: %d accepted, %d rejected", s.Accepted, s.Rejected)
	if !s.LastPoll.IsZero() {
		log.Printf("Last poll: %s (%s ago)", s.LastPoll.Format("15:04:05"), time.Since(s.LastPoll).Round(time.Second))
	}
	if s.Selected != "" {
		log.Printf("Trail shown: %s", s.Selected)
	}

	if archive != nil {
		as, err := archive.Stats(ctx)
		if err != nil {
			log.Printf("Archive: unavailable (%v)", err)
		} else {
			log.Printf("Archive: %d positions, %d aircraft", as.Positions, as.Aircraft)
		}
	}
}
