package cli

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/shopcord/internal/health"
	"github.com/vietddude/shopcord/internal/infra/discord"
	"github.com/vietddude/shopcord/internal/infra/discord/cache"
	"github.com/vietddude/shopcord/internal/infra/discord/classify"
	"github.com/vietddude/shopcord/internal/infra/discord/monitor"
	"github.com/vietddude/shopcord/internal/infra/discord/ratelimit"
)

type staticSource struct{ stats discord.Stats }

func (s staticSource) HealthStatus() monitor.Health { return s.stats.Health }
func (s staticSource) Stats() discord.Stats         { return s.stats }

func TestFetchStats(t *testing.T) {
	want := discord.Stats{
		Health:     monitor.Health{Status: monitor.StatusDegraded, ErrorRate: 0.12},
		Metrics:    monitor.Snapshot{TotalRequests: 40, CacheHits: 25},
		Cache:      cache.Stats{Size: 3, MaxSize: 2000, HitRate: 0.5},
		RateLimits: ratelimit.Stats{TotalHits: 2, BucketHits: map[string]int{"abc": 2}},
		Alerts: []monitor.Alert{{
			Type:     monitor.AlertHighErrorRate,
			Severity: classify.SeverityHigh,
			Message:  "error rate 12.0% above threshold",
			RaisedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		}},
	}
	srv := httptest.NewServer(health.NewServer(staticSource{want}, 0, time.Second, time.Second).Handler())
	defer srv.Close()

	got, err := fetchStats(context.Background(), srv.Client(), srv.URL+"/health/detailed")
	require.NoError(t, err)
	assert.Equal(t, monitor.StatusDegraded, got.Health.Status)
	assert.Equal(t, uint64(25), got.Metrics.CacheHits)
	assert.Equal(t, 2, got.RateLimits.BucketHits["abc"])
	require.Len(t, got.Alerts, 1)
	assert.Equal(t, classify.SeverityHigh, got.Alerts[0].Severity)

	var buf bytes.Buffer
	printStats(&buf, got)
	out := buf.String()
	assert.Contains(t, out, "degraded")
	assert.Contains(t, out, "3/2000")
	assert.Contains(t, out, "abc")
	assert.Contains(t, out, "high_error_rate")
	assert.Contains(t, out, "HIGH")
}

func TestFetchStats_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := fetchStats(context.Background(), srv.Client(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, logLevel("", false))
	assert.Equal(t, slog.LevelWarn, logLevel("warn", false))
	assert.Equal(t, slog.LevelError, logLevel("error", false))
	assert.Equal(t, slog.LevelDebug, logLevel("info", true))
}
