package adsb

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/unklstewy/ads-livemap/pkg/coordinates"
)

// Observation is one aircraft record from a poll batch.
// Position fields are pointers because feeds omit them for aircraft
// without a position lock.
type Observation struct {
	// Hex is the ICAO Mode S hex code (e.g., "4bb1a2")
	Hex string `json:"hex"`

	// Flight is the callsign/flight number, usually space padded
	Flight string `json:"flight,omitempty"`

	// Lat is latitude in decimal degrees
	Lat *float64 `json:"lat,omitempty"`

	// Lon is longitude in decimal degrees
	Lon *float64 `json:"lon,omitempty"`

	// AltBaro is barometric altitude in feet, or the string "ground"
	AltBaro interface{} `json:"alt_baro,omitempty"`

	// GroundSpeed is ground speed in knots
	GroundSpeed *float64 `json:"gs,omitempty"`

	// Track is the true track over ground in degrees as reported by the aircraft
	Track *float64 `json:"track,omitempty"`

	// Seen is seconds since the last message from this aircraft
	Seen *float64 `json:"seen,omitempty"`
}

// Altitude returns the barometric altitude in feet and whether the aircraft
// is on the ground. Unknown altitude is reported as 0.
func (o Observation) Altitude() (feet float64, onGround bool) {
	switch v := o.AltBaro.(type) {
	case float64:
		return v, false
	case string:
		return 0, v == "ground"
	default:
		return 0, false
	}
}

// Label returns the trimmed flight designator.
func (o Observation) Label() string {
	return strings.TrimSpace(o.Flight)
}

// Position returns the reported coordinate. A missing latitude or longitude
// is returned as NaN so downstream validation rejects it.
func (o Observation) Position() coordinates.Geographic {
	pos := coordinates.Geographic{Latitude: math.NaN(), Longitude: math.NaN()}
	if o.Lat != nil {
		pos.Latitude = *o.Lat
	}
	if o.Lon != nil {
		pos.Longitude = *o.Lon
	}
	return pos
}

// ObservedAt returns when the observation was made, relative to now.
func (o Observation) ObservedAt(now time.Time) time.Time {
	if o.Seen == nil || *o.Seen < 0 {
		return now
	}
	return now.Add(-time.Duration(*o.Seen * float64(time.Second)))
}

// DataSource is the interface all poll sources implement.
// A source returns the full current batch on every call; it never retries.
type DataSource interface {
	// Fetch returns every aircraft in the current snapshot.
	Fetch(ctx context.Context) ([]Observation, error)

	// Close cleanly shuts down the data source connection.
	Close() error
}
