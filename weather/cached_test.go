package weather

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/roadbook/roadbook/geocache"
	"github.com/roadbook/roadbook/kvstore"
	"github.com/roadbook/roadbook/session"
)

type fakeFetcher struct {
	sample *session.WeatherSample
	err    error
	calls  int
}

func (f *fakeFetcher) Fetch(_ context.Context, _, _ float64, asOf int64) (*session.WeatherSample, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	s := *f.sample
	s.SampleTime = asOf
	return &s, nil
}

func newCachedFixture(online bool) (*CachedClient, *fakeFetcher) {
	remote := &fakeFetcher{sample: &session.WeatherSample{TemperatureC: 11, Condition: "cloudy"}}
	cache := geocache.New(kvstore.NewMemory(), zerolog.Nop(), geocache.Config{})
	c := NewCachedClient(remote, cache, func() bool { return online }, zerolog.Nop())
	return c, remote
}

func TestSampleReadThrough(t *testing.T) {
	c, remote := newCachedFixture(true)
	ctx := context.Background()
	asOf := time.Now().UnixMilli()

	first := c.Sample(ctx, 48.8566, 2.3522, asOf)
	if first == nil {
		t.Fatal("expected a sample from the remote")
	}
	if remote.calls != 1 {
		t.Fatalf("expected 1 remote call, got %d", remote.calls)
	}

	// A nearby, near-in-time request is served from the cache.
	second := c.Sample(ctx, 48.8570, 2.3530, asOf+10*60*1000)
	if second == nil {
		t.Fatal("expected a cached sample")
	}
	if remote.calls != 1 {
		t.Fatalf("expected cache hit, but remote was called %d times", remote.calls)
	}
	if second.TemperatureC != first.TemperatureC {
		t.Errorf("cached sample differs: %v vs %v", second.TemperatureC, first.TemperatureC)
	}

	// Far away: outside the radius, goes back to the remote.
	c.Sample(ctx, 45.7640, 4.8357, asOf)
	if remote.calls != 2 {
		t.Fatalf("expected a remote call for a distant position, got %d calls", remote.calls)
	}
}

func TestFetchServesEnrichmentFromCache(t *testing.T) {
	c, remote := newCachedFixture(true)
	ctx := context.Background()
	asOf := time.Now().UnixMilli()

	// Seed the cache through the read-through path.
	if c.Sample(ctx, 48.8566, 2.3522, asOf) == nil {
		t.Fatal("expected a sample from the remote")
	}

	// The error-returning shape used for sync enrichment must hit the
	// same cache instead of going remote again.
	got, err := c.Fetch(ctx, 48.8570, 2.3530, asOf+10*60*1000)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got == nil {
		t.Fatal("expected a cached sample")
	}
	if remote.calls != 1 {
		t.Fatalf("expected cache hit, but remote was called %d times", remote.calls)
	}
}

func TestFetchOfflineMissReturnsUnavailable(t *testing.T) {
	c, remote := newCachedFixture(false)

	got, err := c.Fetch(context.Background(), 48.85, 2.35, 0)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil sample, got %+v", got)
	}
	if remote.calls != 0 {
		t.Fatal("remote must not be called while offline")
	}
}

func TestSampleOfflineWithoutCacheReturnsNil(t *testing.T) {
	c, remote := newCachedFixture(false)

	if got := c.Sample(context.Background(), 48.85, 2.35, 0); got != nil {
		t.Fatalf("expected nil while offline with an empty cache, got %+v", got)
	}
	if remote.calls != 0 {
		t.Fatal("remote must not be called while offline")
	}
}

func TestSampleRemoteFailureIsSilent(t *testing.T) {
	c, remote := newCachedFixture(true)
	remote.err = errors.New("503 from provider")

	// Never panics, never errors: nil is the failure value.
	if got := c.Sample(context.Background(), 48.85, 2.35, 0); got != nil {
		t.Fatalf("expected nil on remote failure, got %+v", got)
	}
}
