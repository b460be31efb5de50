package adsb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestNewClient tests client construction.
func TestNewClient(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		client := NewClient(ClientConfig{})

		if client.URL() != DefaultURL {
			t.Errorf("Expected URL %s, got %s", DefaultURL, client.URL())
		}
		if client.httpClient.Timeout != DefaultTimeout {
			t.Errorf("Expected timeout %v, got %v", DefaultTimeout, client.httpClient.Timeout)
		}
	})

	t.Run("Custom values", func(t *testing.T) {
		client := NewClient(ClientConfig{
			URL:               "https://api.test.com/v2/all",
			Timeout:           3 * time.Second,
			MinRequestSpacing: 2 * time.Second,
		})

		if client.URL() != "https://api.test.com/v2/all" {
			t.Errorf("Expected custom URL, got %s", client.URL())
		}
		if client.httpClient.Timeout != 3*time.Second {
			t.Errorf("Expected timeout 3s, got %v", client.httpClient.Timeout)
		}
	})
}

// TestFetch tests fetching a snapshot.
func TestFetch(t *testing.T) {
	t.Run("Successful request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v2/ladd" {
				t.Errorf("Expected path /v2/ladd, got %s", r.URL.Path)
			}
			fmt.Fprint(w, `{"ac":[
				{"hex":"4bb1a2","flight":"THY7AB  ","lat":39.9,"lon":32.8,"seen":1.5},
				{"hex":"a12345","flight":"UAL123","lat":35.5,"lon":-80.5}
			],"total":2,"now":1700000000000,"msg":"No error"}`)
		}))
		defer server.Close()

		client := NewClient(ClientConfig{URL: server.URL + "/v2/ladd"})
		batch, err := client.Fetch(context.Background())
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(batch) != 2 {
			t.Fatalf("Expected 2 observations, got %d", len(batch))
		}

		obs := batch[0]
		if obs.Hex != "4bb1a2" {
			t.Errorf("Expected hex 4bb1a2, got %s", obs.Hex)
		}
		if obs.Label() != "THY7AB" {
			t.Errorf("Expected trimmed label THY7AB, got %q", obs.Label())
		}
		pos := obs.Position()
		if pos.Latitude != 39.9 || pos.Longitude != 32.8 {
			t.Errorf("Expected position (39.9, 32.8), got %v", pos)
		}
	})

	t.Run("Keeps aircraft with missing position", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"ac":[
				{"hex":"a11111","lat":35.0,"lon":-80.0},
				{"hex":"a22222","lon":-80.0},
				{"hex":"a33333","lat":35.0}
			]}`)
		}))
		defer server.Close()

		client := NewClient(ClientConfig{URL: server.URL})
		batch, err := client.Fetch(context.Background())
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(batch) != 3 {
			t.Fatalf("Expected all 3 records, got %d", len(batch))
		}
		if batch[1].Position().Finite() {
			t.Error("Expected missing latitude to produce a non-finite position")
		}
		if batch[2].Position().Finite() {
			t.Error("Expected missing longitude to produce a non-finite position")
		}
	})

	t.Run("Empty feed", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"total":0}`)
		}))
		defer server.Close()

		batch, err := NewClient(ClientConfig{URL: server.URL}).Fetch(context.Background())
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if batch == nil || len(batch) != 0 {
			t.Errorf("Expected empty non-nil batch, got %v", batch)
		}
	})

	t.Run("Handles rate limit error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "30")
			w.Header().Set("X-Rate-Limit-Limit", "100")
			w.Header().Set("X-Rate-Limit-Remaining", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("Rate limit exceeded"))
		}))
		defer server.Close()

		_, err := NewClient(ClientConfig{URL: server.URL}).Fetch(context.Background())
		if err == nil {
			t.Fatal("Expected rate limit error, got nil")
		}

		rle, ok := IsRateLimitError(err)
		if !ok {
			t.Fatal("Expected RateLimitError type")
		}
		if rle.StatusCode != 429 {
			t.Errorf("Expected status 429, got %d", rle.StatusCode)
		}
		if rle.RetryAfter != 30*time.Second {
			t.Errorf("Expected retry after 30s, got %v", rle.RetryAfter)
		}
		if rle.Headers.Limit != 100 {
			t.Errorf("Expected limit 100, got %d", rle.Headers.Limit)
		}
	})

	t.Run("Handles HTTP error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("Internal error"))
		}))
		defer server.Close()

		_, err := NewClient(ClientConfig{URL: server.URL}).Fetch(context.Background())
		if err == nil {
			t.Fatal("Expected error, got nil")
		}
		if !strings.Contains(err.Error(), "500") {
			t.Errorf("Expected status code in error, got %v", err)
		}
	})

	t.Run("Handles malformed JSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"ac":[`)
		}))
		defer server.Close()

		if _, err := NewClient(ClientConfig{URL: server.URL}).Fetch(context.Background()); err == nil {
			t.Fatal("Expected parse error, got nil")
		}
	})

	t.Run("Cancelled context", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"ac":[]}`)
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := NewClient(ClientConfig{URL: server.URL}).Fetch(ctx)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	})
}

// TestMinRequestSpacing tests client-side rate limiting.
func TestMinRequestSpacing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ac":[]}`)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{URL: server.URL, MinRequestSpacing: 300 * time.Millisecond})
	ctx := context.Background()

	// First call should be immediate
	start := time.Now()
	if _, err := client.Fetch(ctx); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("First call should be immediate, took %v", elapsed)
	}

	// Second call should wait for the spacing
	start = time.Now()
	if _, err := client.Fetch(ctx); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 250*time.Millisecond {
		t.Errorf("Expected ~300ms wait, got %v", elapsed)
	}
}

// TestObservation tests observation accessors.
func TestObservation(t *testing.T) {
	t.Run("Missing position is NaN", func(t *testing.T) {
		pos := Observation{Hex: "abc123"}.Position()
		if !math.IsNaN(pos.Latitude) || !math.IsNaN(pos.Longitude) {
			t.Errorf("Expected NaN coordinates, got %v", pos)
		}
	})

	t.Run("ObservedAt uses seen", func(t *testing.T) {
		now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		obs := Observation{Seen: floatPtr(3.0)}
		if got := obs.ObservedAt(now); !got.Equal(now.Add(-3 * time.Second)) {
			t.Errorf("Expected 3s before now, got %v", got)
		}
		if got := (Observation{}).ObservedAt(now); !got.Equal(now) {
			t.Errorf("Expected now when seen is absent, got %v", got)
		}
	})
}

// TestParseRetryAfter tests Retry-After header parsing.
func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected time.Duration
	}{
		{"Empty header", "", 0},
		{"Delay seconds", "30", 30 * time.Second},
		{"Zero seconds", "0", 0},
		{"Negative (invalid)", "-10", 0},
		{"HTTP date in the past", "Wed, 21 Oct 2015 07:28:00 GMT", 0},
		{"Invalid string", "invalid", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			if tt.header != "" {
				headers.Set("Retry-After", tt.header)
			}

			if result := parseRetryAfter(headers); result != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, result)
			}
		})
	}
}

// TestExtractRateLimitHeaders tests rate limit header extraction.
func TestExtractRateLimitHeaders(t *testing.T) {
	t.Run("Standard headers", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("X-Rate-Limit-Limit", "100")
		headers.Set("X-Rate-Limit-Remaining", "25")
		headers.Set("X-Rate-Limit-Reset", "1609459200")

		result := extractRateLimitHeaders(headers)

		if result.Limit != 100 {
			t.Errorf("Expected limit 100, got %d", result.Limit)
		}
		if result.Remaining != 25 {
			t.Errorf("Expected remaining 25, got %d", result.Remaining)
		}
		if !result.Reset.Equal(time.Unix(1609459200, 0)) {
			t.Errorf("Expected reset %v, got %v", time.Unix(1609459200, 0), result.Reset)
		}
	})

	t.Run("Alternative header names", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("X-RateLimit-Limit", "200")
		headers.Set("X-RateLimit-Remaining", "50")

		result := extractRateLimitHeaders(headers)

		if result.Limit != 200 {
			t.Errorf("Expected limit 200, got %d", result.Limit)
		}
		if result.Remaining != 50 {
			t.Errorf("Expected remaining 50, got %d", result.Remaining)
		}
	})

	t.Run("Missing headers", func(t *testing.T) {
		result := extractRateLimitHeaders(http.Header{})

		if result.Limit != -1 {
			t.Errorf("Expected limit -1, got %d", result.Limit)
		}
		if result.Remaining != -1 {
			t.Errorf("Expected remaining -1, got %d", result.Remaining)
		}
	})
}

// TestRateLimitError tests rate limit error handling.
func TestRateLimitError(t *testing.T) {
	t.Run("Error message with retry after", func(t *testing.T) {
		err := &RateLimitError{StatusCode: 429, RetryAfter: 30 * time.Second, Message: "Rate limit exceeded"}

		expected := "Rate limit exceeded (retry after 30s)"
		if err.Error() != expected {
			t.Errorf("Expected %q, got %q", expected, err.Error())
		}
	})

	t.Run("IsRateLimitError sees through wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("poll: %w", &RateLimitError{StatusCode: 429})
		rle, ok := IsRateLimitError(wrapped)
		if !ok {
			t.Fatal("Expected true for wrapped RateLimitError")
		}
		if rle.StatusCode != 429 {
			t.Errorf("Expected status 429, got %d", rle.StatusCode)
		}

		if _, ok := IsRateLimitError(fmt.Errorf("normal error")); ok {
			t.Error("Expected false for normal error")
		}
	})
}

// Helper functions
func floatPtr(f float64) *float64 {
	return &f
}

// TestAltitude tests alt_baro decoding.
func TestAltitude(t *testing.T) {
	tests := []struct {
		name       string
		altBaro    interface{}
		wantFeet   float64
		wantGround bool
	}{
		{"Numeric", float64(35000), 35000, false},
		{"Ground", "ground", 0, true},
		{"Missing", nil, 0, false},
		{"Unknown string", "n/a", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feet, ground := Observation{AltBaro: tt.altBaro}.Altitude()
			if feet != tt.wantFeet || ground != tt.wantGround {
				t.Errorf("Expected (%v, %v), got (%v, %v)", tt.wantFeet, tt.wantGround, feet, ground)
			}
		})
	}
}
