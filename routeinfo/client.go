// Package routeinfo summarizes drive paths through an OSRM-style
// map-matching endpoint.
package routeinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roadbook/roadbook/session"
)

const DefaultBaseURL = "https://router.project-osrm.org"

// maxMatchPoints caps the coordinates sent to the match endpoint;
// longer paths are downsampled evenly.
const maxMatchPoints = 100

// ErrNoMatch is returned when the matcher cannot snap the path to the
// road network.
var ErrNoMatch = errors.New("path could not be map-matched")

// Client calls the map-matching service.
type Client struct {
	http    *http.Client
	baseURL string
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithBaseURL(raw string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(raw, "/") }
}

// NewClient creates a matching client against the public OSRM demo
// server by default.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 15 * time.Second},
		baseURL: DefaultBaseURL,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type matchResponse struct {
	Code      string `json:"code"`
	Matchings []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
	} `json:"matchings"`
}

// Match snaps path to the road network and returns a summary. The
// average speed uses the recorded elapsed duration, not the matcher's
// estimate, so stops during the drive count.
func (c *Client) Match(ctx context.Context, path []session.GeoPoint, elapsedSeconds int) (*session.RouteInfo, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("match needs at least 2 points, got %d", len(path))
	}

	points := downsample(path, maxMatchPoints)
	coords := make([]string, len(points))
	for i, p := range points {
		coords[i] = fmt.Sprintf("%.6f,%.6f", p.Longitude, p.Latitude)
	}

	u := fmt.Sprintf("%s/match/v1/driving/%s?overview=false", c.baseURL, strings.Join(coords, ";"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
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
		return nil, fmt.Errorf("match endpoint returned %d", resp.StatusCode)
	}

	var mr matchResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		return nil, fmt.Errorf("decode match response: %w", err)
	}
	if mr.Code != "Ok" || len(mr.Matchings) == 0 {
		return nil, ErrNoMatch
	}

	var distanceM float64
	for _, m := range mr.Matchings {
		distanceM += m.Distance
	}

	info := &session.RouteInfo{DistanceKm: distanceM / 1000}
	if elapsedSeconds > 0 {
		info.AvgSpeedKmh = info.DistanceKm / (float64(elapsedSeconds) / 3600)
	}
	return info, nil
}

// downsample keeps at most max points, always including the endpoints.
func downsample(path []session.GeoPoint, max int) []session.GeoPoint {
	if len(path) <= max {
		return path
	}
	out := make([]session.GeoPoint, 0, max)
	step := float64(len(path)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		out = append(out, path[int(float64(i)*step+0.5)])
	}
	out[max-1] = path[len(path)-1]
	return out
}
