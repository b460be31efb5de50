// livemap-term is a bubbletea radar view of the live map.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/unklstewy/ads-livemap/internal/livemap"
	"github.com/unklstewy/ads-livemap/internal/logging"
	"github.com/unklstewy/ads-livemap/internal/scene"
	"github.com/unklstewy/ads-livemap/pkg/adsb"
	"github.com/unklstewy/ads-livemap/pkg/config"
	"github.com/unklstewy/ads-livemap/pkg/coordinates"
)

func main() {
	configPath := flag.String("config", "configs/livemap.json", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// The terminal belongs to the UI; logs only go to the file.
	logger := logging.New(logging.Options{
		Level: cfg.Log.Level,
		Dir:   cfg.Log.Dir,
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

	sc := scene.New()
	loop := livemap.New(client, sc,
		livemap.WithInterval(cfg.Feed.PollInterval()),
		livemap.WithStaleAfter(cfg.Tracks.StaleAfterCycles),
		livemap.WithLogger(logger.Logger),
	)

	loopErr := make(chan error, 1)
	go func() {
		loopErr <- loop.Run(ctx)
	}()

	vp := scene.Viewport{
		Center:   coordinates.Geographic{Latitude: cfg.Map.CenterLat, Longitude: cfg.Map.CenterLon},
		RadiusNM: cfg.Map.RadiusNM,
	}
	p := tea.NewProgram(newModel(loop, sc, vp),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	stop()
	if err := <-loopErr; err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
