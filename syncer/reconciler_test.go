package syncer

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/roadbook/roadbook/backend"
	"github.com/roadbook/roadbook/kvstore"
	"github.com/roadbook/roadbook/pending"
	"github.com/roadbook/roadbook/session"
)

type fakeWeather struct {
	sample   *session.WeatherSample
	err      error
	calls    int
	lastAsOf int64
}

func (f *fakeWeather) Fetch(_ context.Context, _, _ float64, asOf int64) (*session.WeatherSample, error) {
	f.calls++
	f.lastAsOf = asOf
	if f.err != nil {
		return nil, f.err
	}
	return f.sample, nil
}

type fakeRoutes struct {
	route *session.RouteInfo
	err   error
	calls int
}

func (f *fakeRoutes) Match(_ context.Context, _ []session.GeoPoint, _ int) (*session.RouteInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.route, nil
}

type fixture struct {
	queue   *pending.Queue
	mirror  *pending.Mirror
	backend *backend.Memory
	weather *fakeWeather
	routes  *fakeRoutes
	conn    *Static
	rec     *Reconciler
}

func newFixture(online bool) *fixture {
	f := &fixture{
		mirror:  pending.NewMirror(),
		backend: backend.NewMemory(),
		weather: &fakeWeather{sample: &session.WeatherSample{TemperatureC: 14, SampleTime: 1000}},
		routes:  &fakeRoutes{route: &session.RouteInfo{DistanceKm: 5.2, AvgSpeedKmh: 31}},
		conn:    NewStatic(online),
	}
	f.queue = pending.NewQueue(kvstore.NewMemory(), f.mirror, zerolog.Nop())
	f.rec = NewReconciler(f.queue, f.mirror, f.backend, f.weather, f.routes, f.conn, zerolog.Nop())
	return f
}

func pendingSession(id string, points int) pending.Record {
	path := make([]session.GeoPoint, points)
	for i := range path {
		path[i] = session.GeoPoint{Latitude: 48.85 + float64(i)*0.001, Longitude: 2.35}
	}
	return pending.Record{
		ID:   id,
		Kind: pending.KindDriveSession,
		Session: &session.DriveSession{
			ID:             id,
			ElapsedSeconds: 900,
			Path:           path,
			LocationFixAt:  1_700_000_000_000,
		},
	}
}

func TestPassCommitsEnrichableRecordsAndIsIdempotent(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()

	require.NoError(t, f.queue.Enqueue(ctx, pendingSession("s1", 3)))
	require.NoError(t, f.queue.Enqueue(ctx, pendingSession("s2", 3)))

	res := f.rec.RunPass(ctx)
	require.True(t, res.Ran)
	require.Equal(t, 2, res.Committed)
	require.Equal(t, 2, f.backend.Count())

	left, err := f.queue.ListAll(ctx)
	require.NoError(t, err)
	require.Empty(t, left)

	// Second pass over the drained queue is a no-op.
	res = f.rec.RunPass(ctx)
	require.True(t, res.Ran)
	require.Zero(t, res.Visited)
	require.Zero(t, res.Committed)
	require.Empty(t, f.mirror.SyncErrors())
}

func TestPassUsesRecordedFixTimeForWeather(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()

	require.NoError(t, f.queue.Enqueue(ctx, pendingSession("s1", 2)))
	f.rec.RunPass(ctx)

	require.Equal(t, int64(1_700_000_000_000), f.weather.lastAsOf,
		"weather lookup must use the stored fix time, not now")
}

func TestPartialEnrichmentStaysQueuedWithoutError(t *testing.T) {
	f := newFixture(true)
	f.weather.err = errors.New("weather service down")
	f.routes.err = errors.New("matcher down")
	ctx := context.Background()

	require.NoError(t, f.queue.Enqueue(ctx, pendingSession("s1", 3)))

	res := f.rec.RunPass(ctx)
	require.True(t, res.Ran)
	require.Equal(t, 1, res.Deferred)
	require.Zero(t, res.Committed)

	left, err := f.queue.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1, "unenrichable record stays queued for the next pass")

	// "Not yet ready" is not a failure: no error state recorded.
	require.Empty(t, f.mirror.SyncErrors())
}

func TestCommitFailureKeepsRecordQueuedWithError(t *testing.T) {
	f := newFixture(true)
	f.backend.FailWith = errors.New("backend unavailable")
	ctx := context.Background()

	require.NoError(t, f.queue.Enqueue(ctx, pendingSession("s1", 3)))

	res := f.rec.RunPass(ctx)
	require.Equal(t, 1, res.Failed)

	left, err := f.queue.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	// Enrichment gained during the failed pass is re-persisted.
	require.NotNil(t, left[0].Session.Weather)
	require.Equal(t, "backend unavailable", f.mirror.SyncErrors()["s1"])

	// Once the backend recovers, the next pass drains the queue and
	// clears the error.
	f.backend.FailWith = nil
	res = f.rec.RunPass(ctx)
	require.Equal(t, 1, res.Committed)
	require.Empty(t, f.mirror.SyncErrors())
}

func TestPassSkippedWhileOffline(t *testing.T) {
	f := newFixture(false)
	ctx := context.Background()

	require.NoError(t, f.queue.Enqueue(ctx, pendingSession("s1", 3)))

	res := f.rec.RunPass(ctx)
	require.False(t, res.Ran)
	require.Zero(t, f.weather.calls)

	left, err := f.queue.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
}

func TestDuplicateIDsVisitedOnce(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()

	require.NoError(t, f.queue.Enqueue(ctx, pendingSession("s1", 3)))
	res := f.rec.RunPass(ctx)
	require.Equal(t, 1, res.Visited)
	require.Equal(t, 1, f.weather.calls)
}

func TestPlaceholdersLeaveQueueWithParent(t *testing.T) {
	f := newFixture(true)
	ctx := context.Background()

	rec := pendingSession("s1", 3)
	require.NoError(t, f.queue.Enqueue(ctx, rec))
	last := rec.Session.Path[len(rec.Session.Path)-1]
	require.NoError(t, f.queue.Enqueue(ctx, pending.Record{
		ID: "w1", Kind: pending.KindWeatherRequest, ParentID: "s1", Point: &last,
	}))

	f.rec.RunPass(ctx)

	left, err := f.queue.ListAll(ctx)
	require.NoError(t, err)
	require.Empty(t, left, "placeholder removed together with committed parent")
}
