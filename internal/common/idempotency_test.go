package common

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestIdemMiddlewareRejectsReplay(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	calls := 0
	handler := Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	first := httptest.NewRequest(http.MethodPost, "/tabs", nil)
	first.Header.Set("Idempotency-Key", "abc-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, first)
	require.Equal(t, http.StatusCreated, rr.Code)

	replay := httptest.NewRequest(http.MethodPost, "/tabs", nil)
	replay.Header.Set("Idempotency-Key", "abc-123")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, replay)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, 1, calls, "handler must run once per key")
}

func TestIdemMiddlewarePassThroughWithoutKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	calls := 0
	handler := Idem{R: client}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/tabs", nil))
		require.Equal(t, http.StatusOK, rr.Code)
	}
	require.Equal(t, 2, calls)
}
