// Package httpapi is the HTTP surface: chi router, bearer-key auth, run and
// conversation handlers, direct-upload credentials, and SSE status streams.
package httpapi

import (
	"time"

	"queryhub/internal/objstore"
	"queryhub/internal/runs"
)

type Deps struct {
	Runs       *runs.Service
	Users      runs.UserStore
	Broker     *Broker
	Pepper     string
	AdminToken string

	// Objstore enables direct uploads and presigned downloads. Uploads is
	// nil when no object store is configured.
	Objstore       objstore.Config
	Files          objstore.Store
	Uploads        objstore.Assumer
	MaxUploadBytes int64

	IPRateLimitPerMinute int
	CORSOrigins          []string
	AuthCacheTTL         time.Duration
	// SSEKeepAlive is the stream keepalive period; each tick also rereads
	// the run so failures written by another process reach the client.
	SSEKeepAlive         time.Duration
}
