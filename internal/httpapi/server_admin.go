package httpapi

import (
	"context"
	"net/http"
	"time"

	"queryhub/internal/keys"
	"queryhub/internal/runs"
)

type adminIssueUserKeyRequest struct {
	Role string `json:"role"`
}

type adminIssueUserKeyResponse struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	APIKey string `json:"api_key"`
}

func (s server) handleAdminIssueUserKey(w http.ResponseWriter, r *http.Request) {
	var body adminIssueUserKeyRequest
	if r.ContentLength != 0 {
		if !readJSONLimited(w, r, &body, 4*1024) {
			return
		}
	}
	role := runs.RoleUser
	if body.Role != "" {
		role = runs.Role(body.Role)
	}
	if !role.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "role must be user or admin"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	apiKey, err := keys.NewAPIKey()
	if err != nil {
		logError(ctx, "admin issue user key: key generation failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "key generation failed"})
		return
	}
	userID, err := s.users.CreateUserWithKey(ctx, role, keys.HashAPIKey(s.auth.pepper, apiKey))
	if err != nil {
		logError(ctx, "admin issue user key: create user failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "create user failed"})
		return
	}

	req := requesterFromCtx(ctx)
	data := map[string]any{"user_id": userID.String(), "role": string(role)}
	if !req.Authenticated() {
		data["via"] = "admin_token"
	}
	s.runs.Audit(ctx, req, "user_api_key_issued", data)
	writeJSON(w, http.StatusCreated, adminIssueUserKeyResponse{UserID: userID.String(), Role: string(role), APIKey: apiKey})
}

type meResponse struct {
	UserID string         `json:"user_id"`
	Role   string         `json:"role"`
	Limits map[string]int `json:"limits"`
}

func (s server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	req := requesterFromCtx(r.Context())
	l := s.runs.Limits()
	writeJSON(w, http.StatusOK, meResponse{
		UserID: req.UserID.String(),
		Role:   string(req.Role),
		Limits: map[string]int{
			string(runs.QuotaConversationsPerDay):    l.ConversationsPerDay,
			string(runs.QuotaRunsPerConversationDay): l.RunsPerConversationPerDay,
		},
	})
}
