package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unklstewy/ads-livemap/pkg/adsb"
	"github.com/unklstewy/ads-livemap/pkg/config"
)

// feed-rate brackets the shortest poll interval the configured feed
// accepts before answering 429 (Too Many Requests).
func main() {
	configPath := flag.String("config", "configs/livemap.json", "Path to configuration file")
	minDelay := flag.Float64("min", 1.0, "Minimum delay between calls in seconds")
	maxDelay := flag.Float64("max", 10.0, "Maximum delay between calls in seconds")
	testCalls := flag.Int("calls", 5, "Number of test calls per interval")
	flag.Parse()

	log.Println("=========================================")
	log.Println("  ADS-B Feed Rate Limit Tester")
	log.Println("=========================================")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// No client-side spacing: the delays under test are the spacing
	client := adsb.NewClient(adsb.ClientConfig{
		URL:     cfg.Feed.URL,
		Timeout: cfg.Feed.Timeout(),
	})
	defer client.Close()

	log.Printf("Testing feed: %s", client.URL())
	log.Printf("Bracketing range: %.1fs - %.1fs", *minDelay, *maxDelay)
	log.Printf("Test calls per interval: %d", *testCalls)
	log.Println()

	currentDelay := *maxDelay // Start with conservative (slow) rate
	minSafe := *maxDelay
	maxFailed := *minDelay

	iteration := 1
bracket:
	for maxFailed < minSafe-0.5 { // Continue until bracket is within 0.5 seconds
		log.Printf("Iteration %d: Testing %.2f second delay...", iteration, currentDelay)

		retryAfter, err := testCallRate(ctx, client, currentDelay, *testCalls)
		switch {
		case err != nil:
			log.Printf("  ✗ Failed with %.2fs delay: %v", currentDelay, err)
			os.Exit(1)

		case retryAfter < 0:
			log.Printf("  ✓ Success with %.2fs delay", currentDelay)
			minSafe = currentDelay
			if currentDelay <= maxFailed {
				break bracket
			}
			currentDelay = (currentDelay + maxFailed) / 2.0

		default:
			log.Printf("  ✗ Rate limited (429) with %.2fs delay", currentDelay)
			maxFailed = currentDelay
			if currentDelay < minSafe {
				currentDelay = (currentDelay + minSafe) / 2.0
			} else {
				currentDelay = *maxDelay
				minSafe = *maxDelay
			}
		}

		log.Println()
		iteration++
		if iteration > 10 {
			log.Println("Maximum iterations reached")
			break
		}

		// Let the server's window reset before the next round
		pause := 3 * time.Second
		if retryAfter > pause {
			pause = retryAfter
		}
		select {
		case <-ctx.Done():
			log.Fatal("Interrupted")
		case <-time.After(pause):
		}
	}

	log.Println("=========================================")
	log.Println("  Test Results")
	log.Println("=========================================")
	log.Printf("Recommended poll interval: %.1f seconds", minSafe)
	log.Printf("Update your livemap.json:")
	log.Printf("  \"feed\": {\"poll_interval_seconds\": %.1f}", minSafe)
	log.Println()
	log.Printf("This allows approximately %.0f polls per minute", 60.0/minSafe)
	log.Println("=========================================")
}

// testCallRate makes numCalls requests delaySeconds apart. It returns -1
// when every call succeeded, or the server's Retry-After (possibly 0) on
// the first 429. Any other failure is returned as an error.
func testCallRate(ctx context.Context, client *adsb.Client, delaySeconds float64, numCalls int) (time.Duration, error) {
	delay := time.Duration(delaySeconds * float64(time.Second))

	for i := 0; i < numCalls; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(delay):
			}
		}

		batch, err := client.Fetch(ctx)
		if err != nil {
			if rle, ok := adsb.IsRateLimitError(err); ok {
				if rle.Headers.Limit >= 0 {
					log.Printf("    Limit %d, remaining %d", rle.Headers.Limit, rle.Headers.Remaining)
				}
				return rle.RetryAfter, nil
			}
			return 0, err
		}

		log.Printf("    Call %d/%d: Success (%d aircraft)", i+1, numCalls, len(batch))
	}

	return -1, nil
}
