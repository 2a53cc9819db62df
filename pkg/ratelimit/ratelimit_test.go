package ratelimit_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paykit/subsvc/pkg/ratelimit"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	store := ratelimit.NewMemoryStore()

	_, err := ratelimit.New(nil, ratelimit.Config{Limit: 1, Interval: time.Minute})
	assert.ErrorIs(t, err, ratelimit.ErrStoreRequired)

	_, err = ratelimit.New(store, ratelimit.Config{Limit: 0, Interval: time.Minute})
	assert.ErrorIs(t, err, ratelimit.ErrInvalidLimit)

	_, err = ratelimit.New(store, ratelimit.Config{Limit: 1, Interval: 0})
	assert.ErrorIs(t, err, ratelimit.ErrInvalidInterval)
}

func TestLimiterFixedWindow(t *testing.T) {
	t.Parallel()

	limiter, err := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Config{Limit: 3, Interval: time.Minute})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		result, err := limiter.Allow(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, result.Allowed, "request %d within the limit", i)
		assert.Equal(t, 3-i, result.Remaining)
	}

	result, err := limiter.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)

	// Other keys keep their own window.
	result, err = limiter.Allow(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestMemoryStoreWindowReset(t *testing.T) {
	t.Parallel()

	store := ratelimit.NewMemoryStore()
	ctx := context.Background()

	count, _, err := store.Incr(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, _, err = store.Incr(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	time.Sleep(20 * time.Millisecond)

	count, _, err = store.Incr(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "expired window starts counting from scratch")
}

func TestRedisStore(t *testing.T) {
	t.Parallel()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := ratelimit.NewRedisStore(client)
	ctx := context.Background()

	count, resetAt, err := store.Incr(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.True(t, resetAt.After(time.Now()))

	count, _, err = store.Incr(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// The window expiry set on creation survives subsequent increments.
	srv.FastForward(time.Minute + time.Second)
	count, _, err = store.Incr(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

type failingStore struct{}

func (failingStore) Incr(context.Context, string, time.Duration) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("backend down")
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	newHandler := func() http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}

	t.Run("allows within limit and sets headers", func(t *testing.T) {
		t.Parallel()

		limiter, err := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Config{Limit: 2, Interval: time.Minute})
		require.NoError(t, err)
		h := ratelimit.Middleware(limiter, ratelimit.ByRemoteAddr)(newHandler())

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("rejects over the limit", func(t *testing.T) {
		t.Parallel()

		limiter, err := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Config{Limit: 1, Interval: time.Minute})
		require.NoError(t, err)
		h := ratelimit.Middleware(limiter, ratelimit.ByRemoteAddr)(newHandler())

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	})

	t.Run("empty key bypasses the limiter", func(t *testing.T) {
		t.Parallel()

		limiter, err := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Config{Limit: 1, Interval: time.Minute})
		require.NoError(t, err)
		h := ratelimit.Middleware(limiter, func(*http.Request) string { return "" })(newHandler())

		for i := 0; i < 5; i++ {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		}
	})

	t.Run("store errors fail open", func(t *testing.T) {
		t.Parallel()

		limiter, err := ratelimit.New(failingStore{}, ratelimit.Config{Limit: 1, Interval: time.Minute})
		require.NoError(t, err)
		h := ratelimit.Middleware(limiter, ratelimit.ByRemoteAddr)(newHandler())

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code, "a broken counting backend must not block requests")
	})
}
