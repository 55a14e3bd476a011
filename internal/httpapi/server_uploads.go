package httpapi

import (
	"context"
	"net/http"
	"time"

	"queryhub/internal/objstore"
	"queryhub/internal/runs"
)

type uploadCredentialsResponse struct {
	objstore.Credentials
	UploadPrefix string `json:"upload_prefix"`
}

// handleIssueUploadCredentials returns short-lived credentials scoped to the
// caller's upload prefix. Objects written there can be referenced by key when
// creating a run.
func (s server) handleIssueUploadCredentials(w http.ResponseWriter, r *http.Request) {
	if s.uploads == nil {
		writeJSON(w, http.StatusPreconditionFailed, map[string]string{"error": "object store not configured"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	req := requesterFromCtx(ctx)

	prefix := runs.UploadPrefix(req.UserID)
	creds, err := objstore.IssueUploadCredentials(ctx, s.uploads, s.objCfg, "queryhub-"+req.UserID.String(), prefix)
	if err != nil {
		logError(ctx, "issue upload credentials failed", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "issue upload credentials failed"})
		return
	}
	s.runs.Audit(ctx, req, "upload_credentials_issued", map[string]any{"provider": creds.Provider, "prefix": prefix})
	writeJSON(w, http.StatusOK, uploadCredentialsResponse{Credentials: creds, UploadPrefix: prefix})
}
