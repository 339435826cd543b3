package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/shopcord/internal/infra/discord/classify"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func headers(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func TestLogicalBucket(t *testing.T) {
	tests := []struct {
		route string
		want  string
	}{
		{"/users/@me/guilds", BucketUserGuilds},
		{"https://discord.com/api/v10/users/@me/guilds?with_counts=true", BucketUserGuilds},
		{"/users/@me", BucketUserMe},
		{"/oauth2/token", BucketOAuthToken},
		{"/guilds/81384788765712384/members/1234", BucketGuildMembers},
		{"/guilds/81384788765712384/members", BucketGuildMembers},
		{"/guilds/81384788765712384", BucketGuildInfo},
		{"/guilds/81384788765712384/channels", "/guilds/:id/channels"},
		{"/channels/123/messages/456", "/channels/:id/messages/:id"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LogicalBucket(tt.route), tt.route)
	}
}

func TestTracker_BucketIsolation(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(WithClock(clock.Now))

	tr.UpdateFromHeaders(headers(
		HeaderLimit, "5", HeaderRemaining, "0", HeaderResetAfter, "2", HeaderBucket, "bucket-a",
	), "/users/@me/guilds")
	tr.UpdateFromHeaders(headers(
		HeaderLimit, "5", HeaderRemaining, "4", HeaderResetAfter, "10", HeaderBucket, "bucket-b",
	), "/users/@me")

	a, ok := tr.State("/users/@me/guilds")
	require.True(t, ok)
	b, ok := tr.State("/users/@me")
	require.True(t, ok)

	assert.Equal(t, 0, a.Remaining)
	assert.Equal(t, 4, b.Remaining)
	assert.Equal(t, clock.Now().Add(10*time.Second), b.ResetAt)

	// Overwriting A leaves B untouched.
	tr.UpdateFromHeaders(headers(
		HeaderLimit, "5", HeaderRemaining, "3", HeaderResetAfter, "1", HeaderBucket, "bucket-a",
	), "/users/@me/guilds")
	b2, _ := tr.State("/users/@me")
	assert.Equal(t, b, b2)

	assert.Equal(t, time.Duration(0), tr.ShouldWait("/users/@me"))
	assert.Equal(t, "bucket-a", tr.Bucket("/users/@me/guilds"))
}

func TestTracker_ShouldWaitExhaustedBucket(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(WithClock(clock.Now))

	tr.UpdateFromHeaders(headers(
		HeaderLimit, "5", HeaderRemaining, "0", HeaderResetAfter, "2.5",
	), "/guilds/1/channels")

	assert.Equal(t, 2500*time.Millisecond, tr.ShouldWait("/guilds/2/channels"))

	clock.Advance(1 * time.Second)
	assert.Equal(t, 1500*time.Millisecond, tr.ShouldWait("/guilds/1/channels"))
}

func TestTracker_GlobalSupersedesBucket(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(WithClock(clock.Now))

	tr.UpdateFromHeaders(headers(
		HeaderLimit, "5", HeaderRemaining, "4", HeaderResetAfter, "10",
	), "/users/@me")
	tr.UpdateFromHeaders(headers(HeaderGlobal, "true", HeaderRetryAfter, "3"), "/users/@me/guilds")

	wait := tr.ShouldWait("/users/@me")
	assert.Equal(t, 3*time.Second+DefaultSafetyBuffer, wait)
	assert.True(t, tr.Stats().GlobalActive)
}

func TestTracker_ExpiryClearsState(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(WithClock(clock.Now))

	tr.UpdateFromHeaders(headers(
		HeaderLimit, "5", HeaderRemaining, "0", HeaderResetAfter, "1",
	), "/users/@me")
	tr.UpdateFromHeaders(headers(HeaderGlobal, "true", HeaderResetAfter, "1"), "/oauth2/token")

	require.Greater(t, tr.ShouldWait("/users/@me"), time.Duration(0))

	clock.Advance(2 * time.Second)
	assert.Equal(t, time.Duration(0), tr.ShouldWait("/users/@me"))

	_, ok := tr.State("/users/@me")
	assert.False(t, ok)
	assert.False(t, tr.Stats().GlobalActive)
	assert.Equal(t, 0, tr.Stats().ActiveBuckets)
}

func TestTracker_HandleRateLimitError(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(WithClock(clock.Now))

	err := &classify.HTTPError{
		Status: 429,
		Header: headers(HeaderResetAfter, "2", HeaderBucket, "abc", HeaderLimit, "10", HeaderRemaining, "0"),
	}
	wait := tr.HandleRateLimitError(err, "/users/@me/guilds")
	assert.Equal(t, 2*time.Second+DefaultSafetyBuffer, wait)
	assert.Equal(t, wait, tr.ShouldWait("/users/@me/guilds"))

	// No hints at all: default wait plus buffer.
	wait = tr.HandleRateLimitError(&classify.HTTPError{Status: 429}, "/guilds/1")
	assert.Equal(t, DefaultRateLimitWait+DefaultSafetyBuffer, wait)

	// Tiny hint is floored.
	wait = tr.HandleRateLimitError(&classify.HTTPError{
		Status: 429,
		Header: headers(HeaderResetAfter, "0.1"),
	}, "/guilds/2/roles")
	assert.Equal(t, MinRateLimitWait, wait)

	// Global flag in body.
	wait = tr.HandleRateLimitError(&classify.HTTPError{
		Status: 429,
		Body:   []byte(`{"message":"You are being rate limited.","retry_after":4,"global":true}`),
	}, "/channels/1/messages")
	assert.Equal(t, 4*time.Second+DefaultSafetyBuffer, wait)

	stats := tr.Stats()
	assert.Equal(t, 4, stats.TotalHits)
	assert.Equal(t, 1, stats.GlobalHits)
	assert.Equal(t, 1, stats.BucketHits["abc"])
	assert.Equal(t, 1, stats.EndpointHits["/users/@me/guilds"])
	assert.Equal(t, 4*time.Second+DefaultSafetyBuffer, stats.MaxWait)
	assert.True(t, stats.GlobalActive)
	assert.Greater(t, stats.AverageWait, MinRateLimitWait)
}

func TestTracker_IsApproachingLimit(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(WithClock(clock.Now))

	tr.UpdateFromHeaders(headers(
		HeaderLimit, "10", HeaderRemaining, "1", HeaderResetAfter, "5",
	), "/users/@me")
	tr.UpdateFromHeaders(headers(
		HeaderLimit, "10", HeaderRemaining, "5", HeaderResetAfter, "5",
	), "/oauth2/token")

	assert.True(t, tr.IsApproachingLimit("/users/@me", 0.1))
	assert.False(t, tr.IsApproachingLimit("/oauth2/token", 0.1))
	assert.True(t, tr.IsApproachingLimit("/oauth2/token", 0.5))
	assert.False(t, tr.IsApproachingLimit("/guilds/1", 0.1))
}

func TestTracker_WaitHonoursContext(t *testing.T) {
	clock := newFakeClock()
	var slept time.Duration
	tr := NewTracker(
		WithClock(clock.Now),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			slept = d
			return ctx.Err()
		}),
	)

	require.NoError(t, tr.Wait(context.Background(), "/users/@me"))
	assert.Equal(t, time.Duration(0), slept)

	tr.UpdateFromHeaders(headers(HeaderRemaining, "0", HeaderResetAfter, "2"), "/users/@me")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tr.Wait(ctx, "/users/@me"), context.Canceled)
	assert.Equal(t, 2*time.Second, slept)
}

func TestTracker_Sweep(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(WithClock(clock.Now))

	tr.UpdateFromHeaders(headers(HeaderRemaining, "0", HeaderResetAfter, "1"), "/users/@me")
	tr.UpdateFromHeaders(headers(HeaderRemaining, "0", HeaderResetAfter, "10"), "/oauth2/token")

	clock.Advance(5 * time.Second)
	assert.Equal(t, 1, tr.Sweep())
	assert.Equal(t, 1, tr.Stats().ActiveBuckets)
}

func TestTracker_Concurrency(t *testing.T) {
	tr := NewTracker()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.UpdateFromHeaders(headers(HeaderLimit, "5", HeaderRemaining, "3", HeaderResetAfter, "1"), "/users/@me")
			tr.ShouldWait("/users/@me")
			if i%10 == 0 {
				tr.HandleRateLimitError(&classify.HTTPError{Status: 429}, "/users/@me/guilds")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, tr.Stats().TotalHits)
}
