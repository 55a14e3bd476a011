package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchSendsQuery(t *testing.T) {
	var got dispatchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"type":"comparative","response":"X beats Y"}`))
	}))
	defer srv.Close()

	d, err := NewDispatcher(DispatcherConfig{URL: srv.URL})
	require.NoError(t, err)

	resp, err := d.Dispatch(context.Background(), "compare X and Y")
	require.NoError(t, err)
	assert.Equal(t, "compare X and Y", got.Query)
	assert.Equal(t, "comparative", resp.Type())
	assert.NotEmpty(t, resp.Raw)
}

func TestDispatchNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	d, err := NewDispatcher(DispatcherConfig{URL: srv.URL})
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), "q")
	var de *DispatchError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, http.StatusBadGateway, de.StatusCode)
	assert.Contains(t, de.Cause, "HTTP 502")
	assert.Contains(t, de.Cause, "upstream exploded")
}

func TestDispatchTimeoutIsSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	d, err := NewDispatcher(DispatcherConfig{URL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), "slow")
	var de *DispatchError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, de.Cause, "timed out")
	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatchInvalidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()

	d, err := NewDispatcher(DispatcherConfig{URL: srv.URL})
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), "q")
	var de *DispatchError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, de.Cause, "invalid response")
}

func TestDispatchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	d, err := NewDispatcher(DispatcherConfig{URL: url})
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), "q")
	var de *DispatchError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, de.Cause, "agent request failed")
}

func TestNewDispatcherRequiresURL(t *testing.T) {
	_, err := NewDispatcher(DispatcherConfig{URL: "  "})
	assert.Error(t, err)
}
