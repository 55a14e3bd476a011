package httpapi

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"queryhub/internal/objstore"
	"queryhub/internal/runs"
)

const (
	createRunTimeout     = 30 * time.Second
	multipartMemoryBytes = 8 << 20
	presignTTL           = 5 * time.Minute
)

type createRunFileRequest struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createRunRequest struct {
	UserInput      string                 `json:"user_input"`
	ConversationID *string                `json:"conversation_id"`
	Files          []createRunFileRequest `json:"files"`
}

func (s server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	req := requesterFromCtx(r.Context())

	var (
		in runs.CreateRunInput
		ok bool
	)
	if isMultipart(r) {
		in, ok = s.readMultipartRun(w, r)
	} else {
		in, ok = readJSONRun(w, r)
	}
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), createRunTimeout)
	defer cancel()

	run, err := s.runs.CreateRun(ctx, req, in)
	if err != nil {
		writeError(ctx, w, "create run failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRunDTO(run))
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

func readJSONRun(w http.ResponseWriter, r *http.Request) (runs.CreateRunInput, bool) {
	var body createRunRequest
	if !readJSONLimited(w, r, &body, 256*1024) {
		return runs.CreateRunInput{}, false
	}
	in := runs.CreateRunInput{UserInput: body.UserInput}
	if !parseConversationID(w, body.ConversationID, &in) {
		return runs.CreateRunInput{}, false
	}
	for _, f := range body.Files {
		if strings.TrimSpace(f.Key) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "files[].key is required; upload file bodies with multipart/form-data"})
			return runs.CreateRunInput{}, false
		}
		in.Files = append(in.Files, runs.NewFile{Key: f.Key, Name: f.Name, Description: f.Description})
	}
	return in, true
}

// readMultipartRun accepts user_input, conversation_id, repeated "files"
// parts, and "file_descriptions" values aligned with the files by position.
func (s server) readMultipartRun(w http.ResponseWriter, r *http.Request) (runs.CreateRunInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload too large"})
			return runs.CreateRunInput{}, false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return runs.CreateRunInput{}, false
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			logError(r.Context(), "remove multipart temp files failed", err)
		}
	}()

	in := runs.CreateRunInput{UserInput: r.FormValue("user_input")}
	if v := strings.TrimSpace(r.FormValue("conversation_id")); v != "" {
		if !parseConversationID(w, &v, &in) {
			return runs.CreateRunInput{}, false
		}
	}

	descriptions := r.MultipartForm.Value["file_descriptions"]
	for i, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable file part"})
			return runs.CreateRunInput{}, false
		}
		body, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable file part"})
			return runs.CreateRunInput{}, false
		}
		nf := runs.NewFile{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Content:     body,
		}
		if i < len(descriptions) {
			nf.Description = descriptions[i]
		}
		in.Files = append(in.Files, nf)
	}
	return in, true
}

func parseConversationID(w http.ResponseWriter, raw *string, in *runs.CreateRunInput) bool {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return true
	}
	id, err := uuid.Parse(strings.TrimSpace(*raw))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
		return false
	}
	in.ConversationID = &id
	return true
}

func (s server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := s.runs.ListRuns(ctx, requesterFromCtx(ctx), limit, offset)
	if err != nil {
		writeError(ctx, w, "list runs failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": toRunDTOs(list)})
}

func (s server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := uuidParam(w, r, "runID", "run")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	run, err := s.runs.GetRun(ctx, requesterFromCtx(ctx), runID)
	if err != nil {
		writeError(ctx, w, "get run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

func (s server) handleListRunArtifacts(w http.ResponseWriter, r *http.Request) {
	runID, ok := uuidParam(w, r, "runID", "run")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	run, err := s.runs.GetRun(ctx, requesterFromCtx(ctx), runID)
	if err != nil {
		writeError(ctx, w, "get run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":    run.ID.String(),
		"status":    string(run.Status),
		"artifacts": toArtifactDTOs(run.Artifacts),
	})
}

// handleGetRunFile redirects to a presigned URL when the store supports it
// and streams the stored body otherwise.
func (s server) handleGetRunFile(w http.ResponseWriter, r *http.Request) {
	runID, ok := uuidParam(w, r, "runID", "run")
	if !ok {
		return
	}
	fileID, ok := uuidParam(w, r, "fileID", "file")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	req := requesterFromCtx(ctx)

	if p, ok := s.files.(objstore.Presigner); ok {
		run, err := s.runs.GetRun(ctx, req, runID)
		if err != nil {
			writeError(ctx, w, "get run failed", err)
			return
		}
		for _, f := range run.InputFiles {
			if f.ID != fileID {
				continue
			}
			u, err := p.PresignGet(ctx, f.StorageKey, presignTTL)
			if err != nil {
				writeError(ctx, w, "presign file failed", err)
				return
			}
			http.Redirect(w, r, u, http.StatusFound)
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	f, body, err := s.runs.InputFileContent(ctx, req, runID, fileID)
	if err != nil {
		writeError(ctx, w, "read file failed", err)
		return
	}
	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Name}))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		logError(ctx, "write file body failed", err)
	}
}

func (s server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := uuidParam(w, r, "runID", "run")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := s.runs.DeleteRun(ctx, requesterFromCtx(ctx), runID); err != nil {
		writeError(ctx, w, "delete run failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
