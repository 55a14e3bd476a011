package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queryhub/internal/runs"
)

func TestIPRateLimiterWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l := newIPRateLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("1.2.3.4"))
	assert.True(t, l.allow("1.2.3.4"))
	assert.False(t, l.allow("1.2.3.4"))
	assert.True(t, l.allow("5.6.7.8"))

	now = now.Add(61 * time.Second)
	assert.True(t, l.allow("1.2.3.4"))
	assert.Len(t, l.entries, 1)
}

func TestRateLimitSkipsStreams(t *testing.T) {
	l := newIPRateLimiter(1, time.Minute)
	h := l.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(path string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}
	assert.Equal(t, http.StatusNoContent, serve("/v1/runs"))
	assert.Equal(t, http.StatusTooManyRequests, serve("/v1/runs"))
	assert.Equal(t, http.StatusNoContent, serve("/v1/runs/x/stream"))
}

func TestCORS(t *testing.T) {
	h := corsMiddleware([]string{"https://app.example.com/"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "http://api.example.com/v1/runs", nil)
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := preflight("https://app.example.com")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	assert.Equal(t, http.StatusNoContent, preflight("http://localhost:5173").Code)
	assert.Equal(t, http.StatusNoContent, preflight("https://api.example.com").Code)
	assert.Equal(t, http.StatusForbidden, preflight("https://evil.example.com").Code)

	// Disallowed simple requests pass through without CORS headers.
	req := httptest.NewRequest(http.MethodGet, "http://api.example.com/v1/runs", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"":                "",
		"Bearer abc":      "abc",
		"bearer  abc ":    "abc",
		"Basic abc":       "",
		"Bearer":          "",
		"Bearer qh_x y z": "qh_x y z",
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		assert.Equal(t, want, bearerToken(req), header)
	}
}

func TestBrokerDeliversAndDrops(t *testing.T) {
	b := NewBroker()
	id := uuid.New()
	ch := b.subscribe(id)

	b.RunStatusChanged(id, runs.StatusRunning)
	b.RunStatusChanged(uuid.New(), runs.StatusFailed)
	ev := <-ch
	assert.Equal(t, id.String(), ev.RunID)
	assert.Equal(t, "running", ev.Status)

	// A full subscriber never blocks the publisher.
	for i := 0; i < 20; i++ {
		b.RunStatusChanged(id, runs.StatusRunning)
	}
	assert.Len(t, ch, cap(ch))

	b.unsubscribe(id, ch)
	_, open := <-drain(ch)
	assert.False(t, open)
	b.RunStatusChanged(id, runs.StatusCompleted)
	require.Empty(t, b.subs)
}

func drain(ch chan statusEventDTO) chan statusEventDTO {
	for len(ch) > 0 {
		<-ch
	}
	return ch
}
