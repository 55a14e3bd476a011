package httpapi

import (
	"time"

	"queryhub/internal/runs"
)

type inputFileDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	FileType    string `json:"file_type"`
	ContentType string `json:"content_type,omitempty"`
	Description string `json:"description"`
	Size        int64  `json:"size"`
	CreatedAt   string `json:"created_at"`
}

type artifactDTO struct {
	ID           string         `json:"id"`
	Position     int            `json:"position"`
	ArtifactType string         `json:"artifact_type"`
	Title        string         `json:"title"`
	Data         map[string]any `json:"data"`
	CreatedAt    string         `json:"created_at"`
}

type runDTO struct {
	ID              string         `json:"id"`
	ConversationID  *string        `json:"conversation_id"`
	UserInput       string         `json:"user_input"`
	Status          string         `json:"status"`
	FinalOutput     *string        `json:"final_output"`
	ResponseDigest  string         `json:"response_digest,omitempty"`
	StartedAt       string         `json:"started_at"`
	CompletedAt     *string        `json:"completed_at"`
	InputFiles      []inputFileDTO `json:"input_files"`
	OutputArtifacts []artifactDTO  `json:"output_artifacts"`
}

type conversationDTO struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func toRunDTO(r runs.Run) runDTO {
	out := runDTO{
		ID:              r.ID.String(),
		UserInput:       r.UserInput,
		Status:          string(r.Status),
		FinalOutput:     r.FinalOutput,
		ResponseDigest:  r.ResponseDigest,
		StartedAt:       formatTime(r.StartedAt),
		InputFiles:      make([]inputFileDTO, 0, len(r.InputFiles)),
		OutputArtifacts: toArtifactDTOs(r.Artifacts),
	}
	if r.ConversationID != nil {
		id := r.ConversationID.String()
		out.ConversationID = &id
	}
	if r.CompletedAt != nil {
		at := formatTime(*r.CompletedAt)
		out.CompletedAt = &at
	}
	for _, f := range r.InputFiles {
		out.InputFiles = append(out.InputFiles, inputFileDTO{
			ID:          f.ID.String(),
			Name:        f.Name,
			FileType:    string(f.FileType),
			ContentType: f.ContentType,
			Description: f.Description,
			Size:        f.Size,
			CreatedAt:   formatTime(f.CreatedAt),
		})
	}
	return out
}

func toRunDTOs(list []runs.Run) []runDTO {
	out := make([]runDTO, 0, len(list))
	for _, r := range list {
		out = append(out, toRunDTO(r))
	}
	return out
}

func toArtifactDTOs(list []runs.Artifact) []artifactDTO {
	out := make([]artifactDTO, 0, len(list))
	for _, a := range list {
		data := a.Data
		if data == nil {
			data = map[string]any{}
		}
		out = append(out, artifactDTO{
			ID:           a.ID.String(),
			Position:     a.Position,
			ArtifactType: string(a.Type),
			Title:        a.Title,
			Data:         data,
			CreatedAt:    formatTime(a.CreatedAt),
		})
	}
	return out
}

func toConversationDTO(c runs.Conversation) conversationDTO {
	return conversationDTO{
		ID:        c.ID.String(),
		UserID:    c.UserID.String(),
		Title:     c.Title,
		CreatedAt: formatTime(c.CreatedAt),
	}
}
