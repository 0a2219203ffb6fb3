// Package weather fetches point-in-time weather observations and
// fronts them with the approximate cache so nearby, recent lookups
// skip the network.
package weather

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/roadbook/roadbook/session"
)

const (
	DefaultBaseURL    = "https://api.open-meteo.com/v1"
	DefaultArchiveURL = "https://archive-api.open-meteo.com/v1"

	// archiveCutoff is how far back the forecast endpoint can answer;
	// older as-of timestamps go to the archive endpoint instead.
	archiveCutoff = 5 * 24 * time.Hour
)

// Client fetches weather observations over HTTP.
type Client struct {
	http       *http.Client
	baseURL    string
	archiveURL string
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithBaseURL(raw string) Option {
	return func(c *Client) { c.baseURL = raw }
}

func WithArchiveURL(raw string) Option {
	return func(c *Client) { c.archiveURL = raw }
}

// NewClient creates a weather client against the default endpoints.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{Timeout: 15 * time.Second},
		baseURL:    DefaultBaseURL,
		archiveURL: DefaultArchiveURL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fetch returns the weather at (lat, lon) as of asOf (ms since epoch;
// zero means now). Recent timestamps use the forecast endpoint's
// current conditions; older ones hit the archive endpoint and pick the
// hourly value nearest asOf, so offline-recorded sessions get weather
// that is retroactively correct.
func (c *Client) Fetch(ctx context.Context, lat, lon float64, asOf int64) (*session.WeatherSample, error) {
	now := time.Now()
	if asOf <= 0 {
		asOf = now.UnixMilli()
	}
	asOfTime := time.UnixMilli(asOf).UTC()

	if now.Sub(asOfTime) > archiveCutoff {
		return c.fetchArchive(ctx, lat, lon, asOfTime)
	}
	return c.fetchCurrent(ctx, lat, lon, asOf)
}

func (c *Client) fetchCurrent(ctx context.Context, lat, lon float64, asOf int64) (*session.WeatherSample, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", lat))
	q.Set("longitude", fmt.Sprintf("%.4f", lon))
	q.Set("current", "temperature_2m,precipitation,weather_code,wind_speed_10m")

	body, err := c.get(ctx, c.baseURL+"/forecast?"+q.Encode())
	if err != nil {
		return nil, err
	}

	cur := gjson.GetBytes(body, "current")
	if !cur.Exists() {
		return nil, fmt.Errorf("weather response missing current block")
	}
	return &session.WeatherSample{
		TemperatureC:    cur.Get("temperature_2m").Float(),
		WindSpeedKmh:    cur.Get("wind_speed_10m").Float(),
		PrecipitationMm: cur.Get("precipitation").Float(),
		Condition:       conditionFromCode(int(cur.Get("weather_code").Int())),
		SampleTime:      asOf,
	}, nil
}

func (c *Client) fetchArchive(ctx context.Context, lat, lon float64, asOf time.Time) (*session.WeatherSample, error) {
	day := asOf.Format("2006-01-02")
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", lat))
	q.Set("longitude", fmt.Sprintf("%.4f", lon))
	q.Set("start_date", day)
	q.Set("end_date", day)
	q.Set("hourly", "temperature_2m,precipitation,weather_code,wind_speed_10m")
	q.Set("timeformat", "unixtime")

	body, err := c.get(ctx, c.archiveURL+"/archive?"+q.Encode())
	if err != nil {
		return nil, err
	}

	times := gjson.GetBytes(body, "hourly.time").Array()
	if len(times) == 0 {
		return nil, fmt.Errorf("weather archive returned no hourly data for %s", day)
	}

	// Pick the hour nearest the as-of moment.
	target := asOf.Unix()
	best := 0
	bestDiff := int64(1<<63 - 1)
	for i, t := range times {
		diff := target - t.Int()
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			bestDiff = diff
			best = i
		}
	}

	idx := fmt.Sprintf("%d", best)
	return &session.WeatherSample{
		TemperatureC:    gjson.GetBytes(body, "hourly.temperature_2m."+idx).Float(),
		WindSpeedKmh:    gjson.GetBytes(body, "hourly.wind_speed_10m."+idx).Float(),
		PrecipitationMm: gjson.GetBytes(body, "hourly.precipitation."+idx).Float(),
		Condition:       conditionFromCode(int(gjson.GetBytes(body, "hourly.weather_code."+idx).Int())),
		SampleTime:      times[best].Int() * 1000,
	}, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather endpoint returned %d", resp.StatusCode)
	}
	return body, nil
}

// conditionFromCode maps WMO weather codes to coarse conditions.
func conditionFromCode(code int) string {
	switch {
	case code == 0:
		return "clear"
	case code <= 3:
		return "cloudy"
	case code <= 48:
		return "fog"
	case code <= 67:
		return "rain"
	case code <= 77:
		return "snow"
	case code <= 82:
		return "rain"
	case code <= 86:
		return "snow"
	default:
		return "storm"
	}
}
