package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"queryhub/internal/keys"
	"queryhub/internal/runs"
)

const (
	defaultAuthCacheTTL = 30 * time.Second
	authCacheSize       = 4096
	authLookupTimeout   = 5 * time.Second
)

type ctxKey string

const ctxRequester ctxKey = "requester"

var errInvalidToken = errors.New("invalid token")

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// authenticator resolves bearer keys to requesters. Successful lookups are
// cached by key hash for a short TTL; failures are never cached.
type authenticator struct {
	users  runs.UserStore
	pepper string
	cache  *expirable.LRU[string, runs.Requester]
}

func newAuthenticator(users runs.UserStore, pepper string, ttl time.Duration) *authenticator {
	if ttl <= 0 {
		ttl = defaultAuthCacheTTL
	}
	return &authenticator{
		users:  users,
		pepper: pepper,
		cache:  expirable.NewLRU[string, runs.Requester](authCacheSize, nil, ttl),
	}
}

func (a *authenticator) lookup(ctx context.Context, apiKey string) (runs.Requester, error) {
	if !keys.WellFormed(apiKey) {
		return runs.Requester{}, errInvalidToken
	}
	hash := keys.HashAPIKey(a.pepper, apiKey)
	if req, ok := a.cache.Get(hash); ok {
		return req, nil
	}

	ctx, cancel := context.WithTimeout(ctx, authLookupTimeout)
	defer cancel()
	req, err := a.users.LookupAPIKey(ctx, hash)
	if errors.Is(err, runs.ErrNotFound) {
		return runs.Requester{}, errInvalidToken
	}
	if err != nil {
		return runs.Requester{}, err
	}
	a.cache.Add(hash, req)
	return req, nil
}

// authenticate writes the error response itself when it returns false.
func (s server) authenticate(w http.ResponseWriter, r *http.Request, required bool) (runs.Requester, bool) {
	apiKey := bearerToken(r)
	if apiKey == "" {
		if required {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
			return runs.Requester{}, false
		}
		return runs.Anonymous(), true
	}
	req, err := s.auth.lookup(r.Context(), apiKey)
	if errors.Is(err, errInvalidToken) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		return runs.Requester{}, false
	}
	if err != nil {
		logError(r.Context(), "auth lookup failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "auth lookup failed"})
		return runs.Requester{}, false
	}
	return req, true
}

func (s server) userAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, ok := s.authenticate(w, r, true)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxRequester, req)))
	})
}

// optionalAuthMiddleware lets anonymous callers through; a presented but
// invalid key is still rejected.
func (s server) optionalAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, ok := s.authenticate(w, r, false)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxRequester, req)))
	})
}

// adminAuthMiddleware accepts the bootstrap admin token or an admin user key.
func (s server) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
			return
		}
		if keys.TokenEqual(s.adminToken, token) {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxRequester, runs.Anonymous())))
			return
		}
		req, ok := s.authenticate(w, r, true)
		if !ok {
			return
		}
		if !req.Privileged() {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxRequester, req)))
	})
}

func requesterFromCtx(ctx context.Context) runs.Requester {
	req, _ := ctx.Value(ctxRequester).(runs.Requester)
	return req
}
