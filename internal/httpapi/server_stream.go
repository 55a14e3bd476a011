package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"queryhub/internal/runs"
)

const defaultSSEKeepAlive = 15 * time.Second

// handleRunStreamSSE emits a "status" event for the run's current status and
// for every later transition, and ends once the run is terminal.
func (s server) handleRunStreamSSE(w http.ResponseWriter, r *http.Request) {
	runID, ok := uuidParam(w, r, "runID", "run")
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	ctx := r.Context()

	// Subscribe before reading so no transition between the two is lost.
	ch := s.br.subscribe(runID)
	defer s.br.unsubscribe(runID, ch)

	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	run, err := s.runs.GetRun(readCtx, requesterFromCtx(ctx), runID)
	cancel()
	if err != nil {
		writeError(ctx, w, "get run failed", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriterSize(w, 4*1024)
	send := func(ev statusEventDTO) bool {
		if err := writeSSE(bw, "status", ev); err != nil {
			logError(ctx, "sse write failed", err)
			return false
		}
		if err := bw.Flush(); err != nil {
			logError(ctx, "sse flush failed", err)
			return false
		}
		flusher.Flush()
		return true
	}

	current := run.Status
	if !send(statusEventDTO{RunID: run.ID.String(), Status: string(current), At: formatTime(time.Now())}) {
		return
	}
	if current.Terminal() {
		return
	}

	keepAlive := time.NewTicker(s.sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			st := runs.Status(ev.Status)
			if st == current {
				continue
			}
			current = st
			if !send(ev) || st.Terminal() {
				return
			}
		case <-keepAlive.C:
			// Runs failed by the reaper in another process never reach the
			// broker; the store is the source of truth.
			readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			run, err := s.runs.GetRun(readCtx, requesterFromCtx(ctx), runID)
			cancel()
			switch {
			case errors.Is(err, runs.ErrNotFound):
				return
			case err != nil:
				logError(ctx, "sse reread run failed", err)
			case run.Status != current:
				current = run.Status
				if !send(statusEventDTO{RunID: run.ID.String(), Status: string(current), At: formatTime(time.Now())}) || current.Terminal() {
					return
				}
				continue
			}
			if _, err := bw.WriteString(": keepalive\n\n"); err != nil {
				logError(ctx, "sse keepalive write failed", err)
				return
			}
			if err := bw.Flush(); err != nil {
				logError(ctx, "sse flush failed", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w *bufio.Writer, eventName string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := w.WriteString("event: " + eventName + "\n"); err != nil {
		return err
	}
	if _, err := w.WriteString("data: "); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	if _, err := w.WriteString("\n\n"); err != nil {
		return err
	}
	return nil
}
