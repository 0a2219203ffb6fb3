package syncer

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/roadbook/roadbook/backend"
	"github.com/roadbook/roadbook/pending"
	"github.com/roadbook/roadbook/session"
)

// SaveInput is what the recording layer hands over when a drive ends.
type SaveInput struct {
	ElapsedSeconds int
	Path           []session.GeoPoint
	Vehicle        string
	// LocationFixAt is when the last location fix was taken (ms since
	// epoch); zero means now. Retroactive weather lookups use it.
	LocationFixAt int64
}

// Saver is the single entry point the UI layer calls at the end of a
// recording. Save never fails: when the online path cannot complete,
// the session lands in the pending queue and syncs later.
type Saver struct {
	backend backend.Backend
	queue   *pending.Queue
	weather WeatherFetcher
	routes  RouteMatcher
	conn    Connectivity
	log     zerolog.Logger
}

// NewSaver wires a Saver. weather and routes may be nil to skip inline
// enrichment.
func NewSaver(be backend.Backend, queue *pending.Queue, weather WeatherFetcher, routes RouteMatcher, conn Connectivity, logger zerolog.Logger) *Saver {
	return &Saver{
		backend: be,
		queue:   queue,
		weather: weather,
		routes:  routes,
		conn:    conn,
		log:     logger.With().Str("component", "saver").Logger(),
	}
}

// Save persists the finished drive and returns its id. Online it
// enriches best-effort and commits directly; offline, or when the
// online attempt fails, it enqueues a pending record plus its legacy
// sub-requests. The returned id is always non-empty.
func (sv *Saver) Save(ctx context.Context, in SaveInput) string {
	now := session.NowMillis()
	fixAt := in.LocationFixAt
	if fixAt == 0 {
		fixAt = now
	}

	s := &session.DriveSession{
		ID:             uuid.NewString(),
		ElapsedSeconds: in.ElapsedSeconds,
		Path:           in.Path,
		Vehicle:        in.Vehicle,
		CreatedAt:      now,
		LocationFixAt:  fixAt,
	}

	if sv.conn.Online() {
		err := sv.saveOnline(ctx, s)
		if err == nil {
			return s.ID
		}
		sv.log.Warn().Err(err).Str("id", s.ID).Msg("online save failed, falling back to pending queue")
	}

	sv.saveOffline(ctx, s)
	return s.ID
}

func (sv *Saver) saveOnline(ctx context.Context, s *session.DriveSession) error {
	if sv.weather != nil {
		if last, ok := s.LastPoint(); ok {
			sample, err := sv.weather.Fetch(ctx, last.Latitude, last.Longitude, s.LocationFixAt)
			if err != nil {
				sv.log.Warn().Err(err).Str("id", s.ID).Msg("inline weather enrichment failed")
			} else {
				s.Weather = sample
			}
		}
	}
	if sv.routes != nil && len(s.Path) >= 2 {
		route, err := sv.routes.Match(ctx, s.Path, s.ElapsedSeconds)
		if err != nil {
			sv.log.Warn().Err(err).Str("id", s.ID).Msg("inline route enrichment failed")
		} else {
			s.Route = route
		}
	}
	return sv.backend.CommitDriveSession(ctx, s)
}

// saveOffline enqueues the pending record and its legacy sub-requests.
// Each enqueue gets one retry; persistent failure is logged and
// swallowed so the caller still receives an id.
func (sv *Saver) saveOffline(ctx context.Context, s *session.DriveSession) {
	records := []pending.Record{{
		ID:        s.ID,
		Kind:      pending.KindDriveSession,
		CreatedAt: s.CreatedAt,
		Session:   s,
	}}

	if last, ok := s.LastPoint(); ok {
		records = append(records, pending.Record{
			ID:        uuid.NewString(),
			Kind:      pending.KindWeatherRequest,
			CreatedAt: s.CreatedAt,
			ParentID:  s.ID,
			Point:     &last,
			FixAt:     s.LocationFixAt,
		})
	}
	if len(s.Path) >= 2 {
		records = append(records, pending.Record{
			ID:             uuid.NewString(),
			Kind:           pending.KindRouteRequest,
			CreatedAt:      s.CreatedAt,
			ParentID:       s.ID,
			Path:           s.Path,
			ElapsedSeconds: s.ElapsedSeconds,
		})
	}

	for _, rec := range records {
		if err := sv.queue.Enqueue(ctx, rec); err != nil {
			sv.log.Warn().Err(err).Str("id", rec.ID).Msg("enqueue failed, retrying once")
			if err := sv.queue.Enqueue(ctx, rec); err != nil {
				sv.log.Error().Err(err).Str("id", rec.ID).Msg("enqueue failed after retry, record lost")
			}
		}
	}
	sv.log.Info().Str("id", s.ID).Msg("session saved offline, will sync later")
}
