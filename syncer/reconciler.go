// Package syncer drains the pending queue when connectivity allows:
// each pass enriches queued drive sessions with any still-missing
// weather or route data, commits them to the authoritative backend,
// and cleans up. It also hosts the save entry point the UI layer calls
// at the end of a recording.
package syncer

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/roadbook/roadbook/backend"
	"github.com/roadbook/roadbook/pending"
	"github.com/roadbook/roadbook/session"
)

// WeatherFetcher is the remote weather lookup used for enrichment.
type WeatherFetcher interface {
	Fetch(ctx context.Context, lat, lon float64, asOf int64) (*session.WeatherSample, error)
}

// RouteMatcher is the remote map-matching lookup used for enrichment.
type RouteMatcher interface {
	Match(ctx context.Context, path []session.GeoPoint, elapsedSeconds int) (*session.RouteInfo, error)
}

// PassResult summarizes one reconciliation pass.
type PassResult struct {
	// Ran is false when the pass was skipped: offline, or another
	// pass was already in flight.
	Ran bool
	// Visited counts drive-session records examined.
	Visited int
	// Committed counts records committed and dequeued.
	Committed int
	// Deferred counts records left queued because neither weather nor
	// route info could be obtained yet.
	Deferred int
	// Failed counts records whose backend commit failed.
	Failed int
}

// Reconciler runs reconciliation passes over the pending queue.
type Reconciler struct {
	queue   *pending.Queue
	mirror  *pending.Mirror
	backend backend.Backend
	weather WeatherFetcher
	routes  RouteMatcher
	conn    Connectivity
	log     zerolog.Logger

	syncing atomic.Bool
}

// NewReconciler wires a Reconciler. weather and routes may be nil, in
// which case the corresponding enrichment is skipped.
func NewReconciler(queue *pending.Queue, mirror *pending.Mirror, be backend.Backend, weather WeatherFetcher, routes RouteMatcher, conn Connectivity, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		queue:   queue,
		mirror:  mirror,
		backend: be,
		weather: weather,
		routes:  routes,
		conn:    conn,
		log:     logger.With().Str("component", "syncer").Logger(),
	}
}

// Syncing reports whether a pass is currently in flight.
func (r *Reconciler) Syncing() bool { return r.syncing.Load() }

// LastSync returns the completion time of the last pass that committed
// at least one record.
func (r *Reconciler) LastSync(ctx context.Context) (t int64, ok bool) {
	ts, found := r.queue.LastSync(ctx)
	if !found {
		return 0, false
	}
	return ts.UnixMilli(), true
}

// RunPass executes one reconciliation pass over a snapshot of the
// queue taken at pass start. Records enqueued mid-pass wait for the
// next one. Re-entrant calls and offline calls return immediately with
// Ran=false. RunPass never returns an error: per-record failures are
// logged and recorded in the mirror's error state.
func (r *Reconciler) RunPass(ctx context.Context) PassResult {
	var res PassResult

	if !r.conn.Online() {
		return res
	}
	if !r.syncing.CompareAndSwap(false, true) {
		return res
	}
	defer r.syncing.Store(false)

	res.Ran = true

	snapshot, err := r.queue.ListAll(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("read pending queue for sync pass")
		return res
	}
	if len(snapshot) == 0 {
		return res
	}

	r.log.Info().Int("queued", len(snapshot)).Msg("sync pass start")

	seen := make(map[string]bool)
	for i := range snapshot {
		rec := snapshot[i]
		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true

		// Placeholder records are bookkeeping; they leave the queue
		// with their parent session.
		if rec.Kind != pending.KindDriveSession || rec.Session == nil {
			continue
		}
		res.Visited++
		r.reconcileSession(ctx, rec, &res)
	}

	if res.Committed > 0 {
		if err := r.queue.MarkSynced(ctx); err != nil {
			r.log.Warn().Err(err).Msg("stamp last sync time")
		}
	}

	r.log.Info().
		Int("visited", res.Visited).
		Int("committed", res.Committed).
		Int("deferred", res.Deferred).
		Int("failed", res.Failed).
		Msg("sync pass done")
	return res
}

func (r *Reconciler) reconcileSession(ctx context.Context, rec pending.Record, res *PassResult) {
	s := rec.Session

	if s.Weather == nil && r.weather != nil {
		if last, ok := s.LastPoint(); ok {
			// Use the recorded fix time, not now, so the lookup is
			// retroactively correct.
			sample, err := r.weather.Fetch(ctx, last.Latitude, last.Longitude, s.LocationFixAt)
			if err != nil {
				r.log.Warn().Err(err).Str("id", rec.ID).Msg("weather enrichment failed, record stays pending")
			} else {
				s.Weather = sample
			}
		}
	}

	if s.Route == nil && r.routes != nil && len(s.Path) >= 2 {
		route, err := r.routes.Match(ctx, s.Path, s.ElapsedSeconds)
		if err != nil {
			r.log.Warn().Err(err).Str("id", rec.ID).Msg("route enrichment failed, record stays pending")
		} else {
			s.Route = route
		}
	}

	if s.Weather == nil && s.Route == nil {
		// Not yet ready, not a failure: no error state recorded.
		res.Deferred++
		return
	}

	if err := r.backend.CommitDriveSession(ctx, s); err != nil {
		r.log.Error().Err(err).Str("id", rec.ID).Msg("backend commit failed")
		// Re-persist so enrichment gained this pass is not lost.
		if qerr := r.queue.Enqueue(ctx, rec); qerr != nil {
			r.log.Error().Err(qerr).Str("id", rec.ID).Msg("re-persist enriched record")
		}
		r.mirror.SetError(rec.ID, err.Error())
		res.Failed++
		return
	}

	if err := r.queue.Dequeue(ctx, rec.ID, true); err != nil {
		r.log.Error().Err(err).Str("id", rec.ID).Msg("dequeue committed record")
	}
	r.mirror.ClearError(rec.ID)
	res.Committed++
	r.log.Info().Str("id", rec.ID).Msg("pending session committed")
}
