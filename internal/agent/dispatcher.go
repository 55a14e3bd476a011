// Package agent talks to the external analytics agent and turns its replies
// into a final text plus typed artifacts.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 8 << 20
	maxErrorSnippet  = 512
)

type DispatcherConfig struct {
	URL     string
	Timeout time.Duration
	// HTTPClient is optional; its own Timeout is ignored in favor of Timeout.
	HTTPClient *http.Client
}

// DispatchError describes why a single agent call failed. Dispatch never
// retries; the caller records Cause on the failed run.
type DispatchError struct {
	Cause      string
	StatusCode int
	Err        error
}

func (e *DispatchError) Error() string { return e.Cause }

func (e *DispatchError) Unwrap() error { return e.Err }

type Dispatcher struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	u := strings.TrimSpace(cfg.URL)
	if u == "" {
		return nil, errors.New("agent url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Dispatcher{url: u, timeout: timeout, client: client}, nil
}

type dispatchRequest struct {
	Query string `json:"query"`
}

// Dispatch posts query to the agent and parses the reply. Every failure is
// returned as a *DispatchError.
func (d *Dispatcher) Dispatch(ctx context.Context, query string) (Response, error) {
	body, err := json.Marshal(dispatchRequest{Query: query})
	if err != nil {
		return Response{}, &DispatchError{Cause: "encode agent request: " + err.Error(), Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, &DispatchError{Cause: "build agent request: " + err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, &DispatchError{
				Cause: fmt.Sprintf("agent request timed out after %s", d.timeout),
				Err:   err,
			}
		}
		return Response{}, &DispatchError{Cause: "agent request failed: " + err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, &DispatchError{
				Cause:      fmt.Sprintf("agent request timed out after %s", d.timeout),
				StatusCode: resp.StatusCode,
				Err:        err,
			}
		}
		return Response{}, &DispatchError{Cause: "read agent response: " + err.Error(), StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{}, &DispatchError{
			Cause:      fmt.Sprintf("agent returned HTTP %d: %s", resp.StatusCode, snippet(raw)),
			StatusCode: resp.StatusCode,
		}
	}
	if len(raw) > maxResponseBytes {
		return Response{}, &DispatchError{Cause: "agent response too large", StatusCode: resp.StatusCode}
	}

	parsed, err := ParseResponse(raw)
	if err != nil {
		return Response{}, &DispatchError{Cause: "agent returned an invalid response: " + err.Error(), StatusCode: resp.StatusCode, Err: err}
	}
	return parsed, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "empty body"
	}
	if len(s) > maxErrorSnippet {
		s = s[:maxErrorSnippet] + "..."
	}
	return s
}
