package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(serverErrorLoggerMiddleware)
	r.Use(corsMiddleware(d.CORSOrigins))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(newIPRateLimiter(d.IPRateLimitPerMinute, time.Minute).middleware)
	r.Use(middleware.Heartbeat("/healthz"))

	br := d.Broker
	if br == nil {
		br = NewBroker()
	}
	maxUpload := d.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	keepAlive := d.SSEKeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultSSEKeepAlive
	}
	s := server{
		runs:       d.Runs,
		users:      d.Users,
		br:         br,
		auth:       newAuthenticator(d.Users, d.Pepper, d.AuthCacheTTL),
		adminToken: d.AdminToken,

		objCfg:         d.Objstore,
		files:          d.Files,
		uploads:        d.Uploads,
		maxUploadBytes: maxUpload,
		sseKeepAlive:   keepAlive,
	}

	r.Route("/v1", func(r chi.Router) {
		// Anonymous runs are allowed; a presented key must still be valid.
		r.Group(func(r chi.Router) {
			r.Use(s.optionalAuthMiddleware)
			r.Post("/runs", s.handleCreateRun)
			r.Get("/runs/{runID}", s.handleGetRun)
			r.Get("/runs/{runID}/artifacts", s.handleListRunArtifacts)
			r.Get("/runs/{runID}/files/{fileID}", s.handleGetRunFile)
			r.Get("/runs/{runID}/stream", s.handleRunStreamSSE)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.userAuthMiddleware)
			r.Get("/me", s.handleGetMe)
			r.Get("/runs", s.handleListRuns)
			r.Delete("/runs/{runID}", s.handleDeleteRun)

			r.Post("/conversations", s.handleCreateConversation)
			r.Get("/conversations", s.handleListConversations)
			r.Get("/conversations/{conversationID}", s.handleGetConversation)
			r.Get("/conversations/{conversationID}/runs", s.handleListConversationRuns)
			r.Delete("/conversations/{conversationID}", s.handleDeleteConversation)

			r.Post("/uploads/credentials", s.handleIssueUploadCredentials)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminAuthMiddleware)
			r.Post("/users/issue-key", s.handleAdminIssueUserKey)
		})
	})

	return r
}
