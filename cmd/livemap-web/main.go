// ADS-B Live Map web server
// Serves the Leaflet map and streams render commands over a WebSocket
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

	"golang.org/x/sync/errgroup"

	"github.com/unklstewy/ads-livemap/internal/db"
	"github.com/unklstewy/ads-livemap/internal/livemap"
	"github.com/unklstewy/ads-livemap/internal/logging"
	"github.com/unklstewy/ads-livemap/internal/web"
	"github.com/unklstewy/ads-livemap/pkg/adsb"
	"github.com/unklstewy/ads-livemap/pkg/config"
)

var (
	configPath = flag.String("config", "configs/livemap.json", "Path to configuration file")
	addr       = flag.String("addr", "", "Listen address (overrides server.host/server.port)")
)

func main() {
	flag.Parse()

	log.Println("🚀 Starting ADS-B Live Map web server...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Dir:     cfg.Log.Dir,
		Console: os.Stderr,
	})
	defer logger.Close()

	listen := cfg.Server.Addr()
	if *addr != "" {
		listen = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := adsb.NewClient(adsb.ClientConfig{
		URL:               cfg.Feed.URL,
		Timeout:           cfg.Feed.Timeout(),
		MinRequestSpacing: cfg.Feed.MinRequestSpacing(),
	})
	defer client.Close()
	log.Printf("📡 Feed: %s every %v", client.URL(), cfg.Feed.PollInterval())

	opts := []livemap.Option{
		livemap.WithInterval(cfg.Feed.PollInterval()),
		livemap.WithStaleAfter(cfg.Tracks.StaleAfterCycles),
		livemap.WithLogger(logger.Logger),
	}

	var archive *db.Archive
	if cfg.Database.Enabled {
		archive, err = db.OpenArchive(ctx, cfg.Database, logger.Logger)
		if err != nil {
			log.Fatalf("Failed to open archive: %v", err)
		}
		defer archive.Close()
		log.Printf("🗄  Archive: %s@%s:%d/%s", cfg.Database.Username, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
		opts = append(opts, livemap.WithArchive(archive))
	}

	hub := web.NewHub(logger.Logger)
	loop := livemap.New(client, hub, opts...)
	srv := web.NewServer(loop, hub, cfg, logger.Logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := loop.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return srv.ListenAndServe(gctx, listen)
	})

	if archive != nil {
		g.Go(func() error {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := archive.Maintain(gctx); err != nil {
						logger.Warn("archive maintenance failed", slog.Any("error", err))
					}
				}
			}
		})
	}

	log.Printf("✅ Map available at http://%s/", listen)

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("👋 Server stopped")
}
