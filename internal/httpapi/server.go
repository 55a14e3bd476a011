package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"queryhub/internal/objstore"
	"queryhub/internal/runs"
)

const defaultMaxUploadBytes = 20 << 20

type server struct {
	runs       *runs.Service
	users      runs.UserStore
	br         *Broker
	auth       *authenticator
	adminToken string

	objCfg         objstore.Config
	files          objstore.Store
	uploads        objstore.Assumer
	maxUploadBytes int64
	sseKeepAlive   time.Duration
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logErrorNoCtx("writeJSON encode failed", err)
	}
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func readJSONLimited(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := readJSON(r, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

// writeError maps the runs error taxonomy onto HTTP statuses.
func writeError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	var qe *runs.QuotaError
	switch {
	case errors.As(err, &qe):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "quota_exceeded", "scope": qe.Scope, "limit": qe.Limit})
	case errors.Is(err, runs.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": validationMessage(err)})
	case errors.Is(err, runs.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	case errors.Is(err, runs.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	case errors.Is(err, runs.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		logError(ctx, msg, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msg})
	}
}

func validationMessage(err error) string {
	return strings.TrimPrefix(err.Error(), runs.ErrValidation.Error()+": ")
}

func uuidParam(w http.ResponseWriter, r *http.Request, name, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + what + " id"})
		return uuid.Nil, false
	}
	return id, true
}

// pageParams reads limit/offset; zero means the service default.
func pageParams(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	q := r.URL.Query()
	var limit, offset int
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return 0, 0, false
		}
		limit = n
	}
	if v := strings.TrimSpace(q.Get("offset")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid offset"})
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}
