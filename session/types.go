// Package session defines the drive-session domain model shared by the
// cache, pending queue, and sync layers.
package session

import "time"

// GeoPoint is a single recorded position in degrees.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// WeatherSample is a point-in-time weather observation attached to a
// drive session. SampleTime is the moment the observation is "as of",
// in milliseconds since epoch, which may be well before the sample was
// fetched (retroactive lookups for offline-recorded sessions).
type WeatherSample struct {
	TemperatureC    float64 `json:"temperature_c"`
	WindSpeedKmh    float64 `json:"wind_speed_kmh"`
	PrecipitationMm float64 `json:"precipitation_mm"`
	Condition       string  `json:"condition"`
	SampleTime      int64   `json:"sample_time"`
}

// RouteInfo summarizes a map-matched drive path.
type RouteInfo struct {
	DistanceKm  float64 `json:"distance_km"`
	AvgSpeedKmh float64 `json:"avg_speed_kmh"`
}

// DriveSession is one completed practice drive. Weather and Route stay
// nil until enrichment succeeds, either inline at save time or later
// during a reconciliation pass.
type DriveSession struct {
	ID             string         `json:"id"`
	ElapsedSeconds int            `json:"elapsed_seconds"`
	Path           []GeoPoint     `json:"path"`
	Weather        *WeatherSample `json:"weather,omitempty"`
	Route          *RouteInfo     `json:"route,omitempty"`
	Vehicle        string         `json:"vehicle,omitempty"`
	CreatedAt      int64          `json:"created_at"`
	LocationFixAt  int64          `json:"location_fix_at"`
}

// LastPoint returns the final recorded position, or false when the path
// is empty.
func (s *DriveSession) LastPoint() (GeoPoint, bool) {
	if len(s.Path) == 0 {
		return GeoPoint{}, false
	}
	return s.Path[len(s.Path)-1], true
}

// NowMillis returns the current time in milliseconds since epoch, the
// timestamp unit used across the persisted model.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
