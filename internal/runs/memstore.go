package runs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"queryhub/internal/artifact"
)

// MemoryStore is an in-process Store and UserStore. It is used by tests and
// by local runs without a database.
type MemoryStore struct {
	mu sync.RWMutex

	conversations map[uuid.UUID]Conversation
	runs          map[uuid.UUID]Run
	files         map[uuid.UUID][]InputFile
	artifacts     map[uuid.UUID][]Artifact
	users         map[uuid.UUID]Role
	keys          map[string]uuid.UUID
	audits        []AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: map[uuid.UUID]Conversation{},
		runs:          map[uuid.UUID]Run{},
		files:         map[uuid.UUID][]InputFile{},
		artifacts:     map[uuid.UUID][]Artifact{},
		users:         map[uuid.UUID]Role{},
		keys:          map[string]uuid.UUID{},
	}
}

func (s *MemoryStore) CreateConversation(_ context.Context, c Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
	return nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id uuid.UUID) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) ListConversations(_ context.Context, f ConversationFilter) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		if f.UserID != nil && c.UserID != *f.UserID {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return page(out, f.Offset, f.Limit), nil
}

func (s *MemoryStore) DeleteConversation(_ context.Context, id uuid.UUID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return nil, ErrNotFound
	}
	delete(s.conversations, id)
	var keys []string
	for runID, r := range s.runs {
		if r.ConversationID != nil && *r.ConversationID == id {
			keys = append(keys, s.deleteRunLocked(runID)...)
		}
	}
	return keys, nil
}

func (s *MemoryStore) CountConversationsSince(_ context.Context, userID uuid.UUID, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.conversations {
		if c.UserID == userID && c.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CreateRun(_ context.Context, run Run, files []InputFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ConversationID != nil {
		if _, ok := s.conversations[*run.ConversationID]; !ok {
			return ErrNotFound
		}
	}
	run.InputFiles = nil
	run.Artifacts = nil
	run.OwnerID = nil
	run.HeartbeatAt = run.StartedAt
	s.runs[run.ID] = run
	if len(files) > 0 {
		s.files[run.ID] = append([]InputFile(nil), files...)
	}
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id uuid.UUID) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return s.hydrateLocked(r), nil
}

func (s *MemoryStore) ListRuns(_ context.Context, f RunFilter) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		r = s.hydrateLocked(r)
		if f.ConversationID != nil && (r.ConversationID == nil || *r.ConversationID != *f.ConversationID) {
			continue
		}
		if f.OwnerID != nil && (r.OwnerID == nil || *r.OwnerID != *f.OwnerID) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return page(out, f.Offset, f.Limit), nil
}

func (s *MemoryStore) DeleteRun(_ context.Context, id uuid.UUID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return nil, ErrNotFound
	}
	return s.deleteRunLocked(id), nil
}

func (s *MemoryStore) CountRunsSince(_ context.Context, conversationID uuid.UUID, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.runs {
		if r.ConversationID != nil && *r.ConversationID == conversationID && r.StartedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) MarkRunning(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, StatusRunning, func(r *Run) {
		r.HeartbeatAt = at
	})
}

func (s *MemoryStore) CompleteRun(_ context.Context, id uuid.UUID, output, digest string, drafts []artifact.Draft, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, StatusCompleted, func(r *Run) {
		arts := make([]Artifact, 0, len(drafts))
		for i, d := range drafts {
			arts = append(arts, Artifact{
				ID:        uuid.New(),
				RunID:     id,
				Position:  i,
				Type:      d.Type,
				Title:     d.Title,
				Data:      d.Data,
				CreatedAt: at,
			})
		}
		s.artifacts[id] = arts
		r.FinalOutput = &output
		r.ResponseDigest = digest
		r.CompletedAt = &at
	})
}

func (s *MemoryStore) FailRun(_ context.Context, id uuid.UUID, output string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, StatusFailed, func(r *Run) {
		r.FinalOutput = &output
		r.CompletedAt = &at
	})
}

func (s *MemoryStore) TouchRuns(_ context.Context, ids []uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		r, ok := s.runs[id]
		if !ok || r.Status.Terminal() {
			continue
		}
		r.HeartbeatAt = at
		s.runs[id] = r
	}
	return nil
}

func (s *MemoryStore) FailStaleRuns(_ context.Context, silentSince time.Time, output string, at time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for id, r := range s.runs {
		if r.Status.Terminal() || !r.HeartbeatAt.Before(silentSince) {
			continue
		}
		out := output
		r.Status = StatusFailed
		r.FinalOutput = &out
		r.CompletedAt = &at
		s.runs[id] = r
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) Audit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, e)
	return nil
}

// AuditLog returns a copy of the recorded audit entries.
func (s *MemoryStore) AuditLog() []AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]AuditEntry(nil), s.audits...)
}

func (s *MemoryStore) LookupAPIKey(_ context.Context, keyHash string) (Requester, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.keys[keyHash]
	if !ok {
		return Requester{}, ErrNotFound
	}
	return Requester{UserID: userID, Role: s.users[userID]}, nil
}

func (s *MemoryStore) CreateUserWithKey(_ context.Context, role Role, keyHash string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.users[id] = role
	s.keys[keyHash] = id
	return id, nil
}

func (s *MemoryStore) transitionLocked(id uuid.UUID, to Status, apply func(*Run)) error {
	r, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(r.Status, to) {
		return ErrInvalidTransition
	}
	apply(&r)
	r.Status = to
	s.runs[id] = r
	return nil
}

func (s *MemoryStore) hydrateLocked(r Run) Run {
	if r.ConversationID != nil {
		if c, ok := s.conversations[*r.ConversationID]; ok {
			owner := c.UserID
			r.OwnerID = &owner
		}
	}
	r.InputFiles = append([]InputFile(nil), s.files[r.ID]...)
	r.Artifacts = append([]Artifact(nil), s.artifacts[r.ID]...)
	return r
}

func (s *MemoryStore) deleteRunLocked(id uuid.UUID) []string {
	var keys []string
	for _, f := range s.files[id] {
		keys = append(keys, f.StorageKey)
	}
	delete(s.runs, id)
	delete(s.files, id)
	delete(s.artifacts, id)
	return keys
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
