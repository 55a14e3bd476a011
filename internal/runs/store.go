package runs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"queryhub/internal/artifact"
)

// Store is the relational collaborator behind conversations and runs.
// Implementations must make CompleteRun atomic: a reader never sees
// StatusCompleted without the final output and every artifact.
type Store interface {
	CreateConversation(ctx context.Context, c Conversation) error
	GetConversation(ctx context.Context, id uuid.UUID) (Conversation, error)
	ListConversations(ctx context.Context, f ConversationFilter) ([]Conversation, error)
	// DeleteConversation cascades to runs and returns the storage keys of
	// their input files.
	DeleteConversation(ctx context.Context, id uuid.UUID) ([]string, error)
	CountConversationsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)

	CreateRun(ctx context.Context, run Run, files []InputFile) error
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	ListRuns(ctx context.Context, f RunFilter) ([]Run, error)
	DeleteRun(ctx context.Context, id uuid.UUID) ([]string, error)
	CountRunsSince(ctx context.Context, conversationID uuid.UUID, since time.Time) (int, error)

	// MarkRunning, CompleteRun and FailRun are conditional on the current
	// status and return ErrInvalidTransition otherwise, or ErrNotFound if
	// the run was deleted.
	MarkRunning(ctx context.Context, id uuid.UUID, at time.Time) error
	CompleteRun(ctx context.Context, id uuid.UUID, output, digest string, drafts []artifact.Draft, at time.Time) error
	FailRun(ctx context.Context, id uuid.UUID, output string, at time.Time) error
	// TouchRuns sets the heartbeat of every unfinished run in ids. Unknown
	// and finished runs are skipped.
	TouchRuns(ctx context.Context, ids []uuid.UUID, at time.Time) error
	// FailStaleRuns fails unfinished runs whose heartbeat is older than
	// silentSince.
	FailStaleRuns(ctx context.Context, silentSince time.Time, output string, at time.Time) ([]uuid.UUID, error)

	Audit(ctx context.Context, e AuditEntry) error
}

// UserStore backs bearer-key authentication.
type UserStore interface {
	LookupAPIKey(ctx context.Context, keyHash string) (Requester, error)
	CreateUserWithKey(ctx context.Context, role Role, keyHash string) (uuid.UUID, error)
}

// FileStore holds uploaded input file bodies.
type FileStore interface {
	PutObject(ctx context.Context, key string, contentType string, body []byte) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	DeleteObject(ctx context.Context, key string) error
}
