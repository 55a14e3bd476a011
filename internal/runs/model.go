// Package runs owns the run lifecycle: quota checks, creation, background
// execution against the agent, and authorized reads and deletes.
package runs

import (
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"queryhub/internal/artifact"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a run may move from one status to another.
// Pending may fail directly when a run is never picked up.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

type FileType string

const (
	FileTypePDF   FileType = "pdf"
	FileTypeCSV   FileType = "csv"
	FileTypeText  FileType = "text"
	FileTypeImage FileType = "image"
)

var imageExts = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".bmp": {},
}

// InferFileType classifies an upload by its extension.
func InferFileType(name string) FileType {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(name)))
	switch ext {
	case ".pdf":
		return FileTypePDF
	case ".csv":
		return FileTypeCSV
	}
	if _, ok := imageExts[ext]; ok {
		return FileTypeImage
	}
	return FileTypeText
}

type Conversation struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Title     string
	CreatedAt time.Time
}

type InputFile struct {
	ID          uuid.UUID
	RunID       uuid.UUID
	Name        string
	StorageKey  string
	FileType    FileType
	ContentType string
	Description string
	Size        int64
	CreatedAt   time.Time
}

type Artifact struct {
	ID        uuid.UUID
	RunID     uuid.UUID
	Position  int
	Type      artifact.Type
	Title     string
	Data      map[string]any
	CreatedAt time.Time
}

type Run struct {
	ID             uuid.UUID
	ConversationID *uuid.UUID
	// OwnerID is the owner of the run's conversation; nil for anonymous runs.
	OwnerID        *uuid.UUID
	UserInput      string
	Status         Status
	FinalOutput    *string
	ResponseDigest string
	StartedAt      time.Time
	// HeartbeatAt is refreshed by the executor that owns the run, queued
	// or running; the reaper fails runs whose heartbeat went silent.
	HeartbeatAt    time.Time
	CompletedAt    *time.Time

	InputFiles []InputFile
	Artifacts  []Artifact
}

type RunFilter struct {
	// OwnerID restricts to runs whose conversation belongs to this user.
	OwnerID        *uuid.UUID
	ConversationID *uuid.UUID
	Limit          int
	Offset         int
}

type ConversationFilter struct {
	UserID *uuid.UUID
	Limit  int
	Offset int
}

type AuditEntry struct {
	ActorType string
	ActorID   uuid.UUID
	Action    string
	Data      map[string]any
}

// UploadPrefix is the object key prefix a user may write to with direct
// upload credentials.
func UploadPrefix(userID uuid.UUID) string {
	return "uploads/" + userID.String() + "/"
}

func inputFileKey(runID, fileID uuid.UUID, name string) string {
	return "runs/" + runID.String() + "/inputs/" + fileID.String() + "/" + safeObjectName(name)
}

func safeObjectName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > 128 {
		out = out[len(out)-128:]
	}
	return out
}
