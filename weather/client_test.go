package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchCurrentConditions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/forecast" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("latitude"); got != "48.8566" {
			t.Errorf("latitude = %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"current": {
				"temperature_2m": 13.4,
				"precipitation": 0.2,
				"weather_code": 61,
				"wind_speed_10m": 18.7
			}
		}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	sample, err := c.Fetch(context.Background(), 48.8566, 2.3522, 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if sample.TemperatureC != 13.4 {
		t.Errorf("temperature = %v", sample.TemperatureC)
	}
	if sample.Condition != "rain" {
		t.Errorf("condition = %q, want rain for WMO 61", sample.Condition)
	}
	if sample.SampleTime == 0 {
		t.Error("sample time must be stamped")
	}
}

func TestFetchArchivePicksNearestHour(t *testing.T) {
	// As-of far enough in the past to route to the archive endpoint.
	asOf := time.Now().Add(-30 * 24 * time.Hour).Truncate(time.Hour)

	base := asOf.Add(-2 * time.Hour).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/archive" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"hourly": {
				"time": [` +
			formatInts(base, base+3600, base+7200, base+10800) + `],
				"temperature_2m": [1.0, 2.0, 3.0, 4.0],
				"precipitation": [0, 0, 0.5, 0],
				"weather_code": [0, 2, 61, 3],
				"wind_speed_10m": [10, 11, 12, 13]
			}
		}`))
	}))
	defer srv.Close()

	c := NewClient(WithArchiveURL(srv.URL))
	sample, err := c.Fetch(context.Background(), 48.85, 2.35, asOf.UnixMilli())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	// asOf sits exactly on the third hourly slot (base+2h).
	if sample.TemperatureC != 3.0 {
		t.Errorf("temperature = %v, want the hour nearest as-of", sample.TemperatureC)
	}
	if sample.Condition != "rain" {
		t.Errorf("condition = %q, want rain", sample.Condition)
	}
	if sample.SampleTime != (base+7200)*1000 {
		t.Errorf("sample time = %d, want %d", sample.SampleTime, (base+7200)*1000)
	}
}

func TestFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	if _, err := c.Fetch(context.Background(), 48.85, 2.35, 0); err == nil {
		t.Fatal("expected an error on a 500 response")
	}
}

func formatInts(vals ...int64) string {
	out := ""
	for i, v := range vals {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%d", v)
	}
	return out
}
