// Package pending holds domain records awaiting commit to the
// authoritative backend: a durable queue over a key-value store plus an
// in-memory observable mirror for UI layers.
package pending

import (
	"fmt"

	"github.com/roadbook/roadbook/session"
)

// Kind tags a pending record. The legacy per-field request kinds are
// reconciliation bookkeeping carried alongside their parent session;
// they never show up in the default UI-facing listing.
type Kind string

const (
	KindDriveSession   Kind = "drive_session"
	KindWeatherRequest Kind = "weather_request"
	KindRouteRequest   Kind = "route_request"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindDriveSession, KindWeatherRequest, KindRouteRequest:
		return true
	}
	return false
}

// Placeholder reports whether k is a legacy remote-call placeholder,
// hidden from default listings and protected from non-forced removal.
func (k Kind) Placeholder() bool {
	switch k {
	case KindDriveSession:
		return false
	case KindWeatherRequest, KindRouteRequest:
		return true
	}
	return false
}

// Record is one queued item. Exactly one payload group is set,
// according to Kind.
type Record struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	CreatedAt int64  `json:"created_at"`

	// ParentID links a placeholder record to its drive session.
	ParentID string `json:"parent_id,omitempty"`

	// Session is set for KindDriveSession.
	Session *session.DriveSession `json:"session,omitempty"`

	// Point and FixAt are set for KindWeatherRequest.
	Point *session.GeoPoint `json:"point,omitempty"`
	FixAt int64             `json:"fix_at,omitempty"`

	// Path and ElapsedSeconds are set for KindRouteRequest.
	Path           []session.GeoPoint `json:"path,omitempty"`
	ElapsedSeconds int                `json:"elapsed_seconds,omitempty"`
}

// Validate checks the record is internally consistent.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("pending record missing id")
	}
	switch r.Kind {
	case KindDriveSession:
		if r.Session == nil {
			return fmt.Errorf("drive-session record %s missing session payload", r.ID)
		}
	case KindWeatherRequest:
		if r.Point == nil {
			return fmt.Errorf("weather-request record %s missing point", r.ID)
		}
	case KindRouteRequest:
		if len(r.Path) == 0 {
			return fmt.Errorf("route-request record %s missing path", r.ID)
		}
	default:
		return fmt.Errorf("record %s has unknown kind %q", r.ID, r.Kind)
	}
	return nil
}
