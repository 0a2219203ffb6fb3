package weather

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/roadbook/roadbook/geocache"
	"github.com/roadbook/roadbook/session"
)

// Fetcher abstracts the remote weather lookup.
type Fetcher interface {
	Fetch(ctx context.Context, lat, lon float64, asOf int64) (*session.WeatherSample, error)
}

const (
	// DefaultTimeTolerance is how far a cached sample's time may sit
	// from the requested as-of moment and still count as a hit.
	DefaultTimeTolerance = time.Hour

	// DefaultRadiusMeters is the matching geographic radius.
	DefaultRadiusMeters = 10_000
)

// CachedClient is the read-through path the UI layer calls: cache
// first, remote on a miss when online, cache the result. It never
// returns an error; a nil sample is always a valid, silent outcome.
type CachedClient struct {
	remote    Fetcher
	cache     *geocache.Cache
	online    func() bool
	log       zerolog.Logger
	tolerance time.Duration
	radiusM   float64
}

// CachedOption configures a CachedClient.
type CachedOption func(*CachedClient)

func WithTolerance(d time.Duration) CachedOption {
	return func(c *CachedClient) { c.tolerance = d }
}

func WithRadiusMeters(m float64) CachedOption {
	return func(c *CachedClient) { c.radiusM = m }
}

// NewCachedClient fronts remote with cache. online gates remote calls;
// pass a connectivity check, or nil to always allow them.
func NewCachedClient(remote Fetcher, cache *geocache.Cache, online func() bool, logger zerolog.Logger, opts ...CachedOption) *CachedClient {
	c := &CachedClient{
		remote:    remote,
		cache:     cache,
		online:    online,
		log:       logger.With().Str("component", "weather").Logger(),
		tolerance: DefaultTimeTolerance,
		radiusM:   DefaultRadiusMeters,
	}
	if c.online == nil {
		c.online = func() bool { return true }
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Sample returns the weather near (lat, lon) as of asOf, or nil when
// neither the cache nor the remote can answer.
func (c *CachedClient) Sample(ctx context.Context, lat, lon float64, asOf int64) *session.WeatherSample {
	if asOf <= 0 {
		asOf = session.NowMillis()
	}
	pos := session.GeoPoint{Latitude: lat, Longitude: lon}

	if entry := c.cache.FindApproximate(ctx, pos, asOf, c.tolerance, c.radiusM); entry != nil {
		var sample session.WeatherSample
		if err := json.Unmarshal(entry.Payload, &sample); err == nil {
			return &sample
		}
		c.log.Error().Str("key", entry.Key).Msg("cached weather payload undecodable, refetching")
	}

	if !c.online() {
		return nil
	}

	sample, err := c.remote.Fetch(ctx, lat, lon, asOf)
	if err != nil {
		c.log.Warn().Err(err).Float64("lat", lat).Float64("lon", lon).Msg("remote weather lookup failed")
		return nil
	}

	if payload, err := json.Marshal(sample); err == nil {
		c.cache.Insert(ctx, &pos, sample.SampleTime, payload)
	}
	return sample
}

// ErrUnavailable is returned by Fetch when neither the cache nor the
// remote could produce a sample.
var ErrUnavailable = errors.New("weather sample unavailable")

// Fetch adapts the read-through lookup to the error-returning fetcher
// shape the enrichment paths consume, so queued sessions also benefit
// from cache hits.
func (c *CachedClient) Fetch(ctx context.Context, lat, lon float64, asOf int64) (*session.WeatherSample, error) {
	if sample := c.Sample(ctx, lat, lon, asOf); sample != nil {
		return sample, nil
	}
	return nil, ErrUnavailable
}
