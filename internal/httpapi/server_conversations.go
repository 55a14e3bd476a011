package httpapi

import (
	"context"
	"net/http"
	"time"
)

type createConversationRequest struct {
	Title string `json:"title"`
}

func (s server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var body createConversationRequest
	if r.ContentLength != 0 {
		if !readJSONLimited(w, r, &body, 16*1024) {
			return
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	c, err := s.runs.CreateConversation(ctx, requesterFromCtx(ctx), body.Title)
	if err != nil {
		writeError(ctx, w, "create conversation failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, toConversationDTO(c))
}

func (s server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := s.runs.ListConversations(ctx, requesterFromCtx(ctx), limit, offset)
	if err != nil {
		writeError(ctx, w, "list conversations failed", err)
		return
	}
	out := make([]conversationDTO, 0, len(list))
	for _, c := range list {
		out = append(out, toConversationDTO(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

func (s server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "conversationID", "conversation")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	c, err := s.runs.GetConversation(ctx, requesterFromCtx(ctx), id)
	if err != nil {
		writeError(ctx, w, "get conversation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationDTO(c))
}

func (s server) handleListConversationRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "conversationID", "conversation")
	if !ok {
		return
	}
	limit, offset, ok := pageParams(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := s.runs.ListConversationRuns(ctx, requesterFromCtx(ctx), id, limit, offset)
	if err != nil {
		writeError(ctx, w, "list conversation runs failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": toRunDTOs(list)})
}

func (s server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "conversationID", "conversation")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := s.runs.DeleteConversation(ctx, requesterFromCtx(ctx), id); err != nil {
		writeError(ctx, w, "delete conversation failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
