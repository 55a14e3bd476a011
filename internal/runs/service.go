package runs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MaxUserInputChars = 20_000
	MaxTitleChars     = 255
	MaxFilesPerRun    = 10
	MaxDescription    = 255

	defaultConversationTitle = "New conversation"
	defaultListLimit         = 50
	maxListLimit             = 200
)

// Submitter hands a pending run to background execution without waiting.
type Submitter interface {
	Submit(runID uuid.UUID, query string) *Handle
}

type ServiceDeps struct {
	Store    Store
	Files    FileStore
	Executor Submitter
	Limits   Limits
	Now      func() time.Time
}

// Service is the run orchestrator. Every read and delete goes through the
// access checks in access.go.
type Service struct {
	store    Store
	files    FileStore
	executor Submitter
	quota    *QuotaChecker
	now      func() time.Time
}

func NewService(d ServiceDeps) *Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    d.Store,
		files:    d.Files,
		executor: d.Executor,
		quota:    NewQuotaChecker(d.Store, d.Limits),
		now:      now,
	}
}

func (s *Service) Limits() Limits { return s.quota.Limits() }

// NewFile is an upload attached at run creation. Either Content carries the
// body inline, or Key names an object the requester uploaded directly.
type NewFile struct {
	Name        string
	ContentType string
	Description string
	Content     []byte
	Key         string
}

type CreateRunInput struct {
	UserInput      string
	ConversationID *uuid.UUID
	Files          []NewFile
}

// CreateRun validates, persists a pending run with its input files, and
// schedules it. It returns as soon as the run is stored.
func (s *Service) CreateRun(ctx context.Context, req Requester, in CreateRunInput) (Run, error) {
	input := strings.TrimSpace(in.UserInput)
	if input == "" {
		return Run{}, validationf("user_input is required")
	}
	if len([]rune(input)) > MaxUserInputChars {
		return Run{}, validationf("user_input is too long")
	}
	if len(in.Files) > MaxFilesPerRun {
		return Run{}, validationf("at most %d files per run", MaxFilesPerRun)
	}

	now := s.now()
	var owner *uuid.UUID
	if in.ConversationID != nil {
		conv, err := s.store.GetConversation(ctx, *in.ConversationID)
		if err != nil {
			return Run{}, err
		}
		if !CanAttachRun(req, conv) {
			return Run{}, ErrForbidden
		}
		if err := s.quota.CheckRunQuota(ctx, in.ConversationID, now); err != nil {
			return Run{}, err
		}
		o := conv.UserID
		owner = &o
	}

	runID := uuid.New()
	files, err := s.prepareFiles(ctx, req, runID, in.Files, now)
	if err != nil {
		return Run{}, err
	}

	run := Run{
		ID:             runID,
		ConversationID: in.ConversationID,
		UserInput:      input,
		Status:         StatusPending,
		StartedAt:      now,
	}
	if err := s.store.CreateRun(ctx, run, files); err != nil {
		s.removeObjects(files, runID)
		return Run{}, fmt.Errorf("create run: %w", err)
	}
	run.OwnerID = owner
	run.InputFiles = files

	s.Audit(ctx, req, "run_created", map[string]any{"run_id": runID.String(), "files": len(files)})
	s.executor.Submit(runID, input)
	return run, nil
}

func (s *Service) prepareFiles(ctx context.Context, req Requester, runID uuid.UUID, in []NewFile, now time.Time) ([]InputFile, error) {
	if len(in) == 0 {
		return nil, nil
	}
	if s.files == nil {
		return nil, validationf("file uploads are not enabled")
	}

	out := make([]InputFile, 0, len(in))
	for i, f := range in {
		name := strings.TrimSpace(f.Name)
		desc := strings.TrimSpace(f.Description)
		if len([]rune(desc)) > MaxDescription {
			return nil, validationf("file %d: description is too long", i)
		}
		file := InputFile{
			ID:          uuid.New(),
			RunID:       runID,
			ContentType: strings.TrimSpace(f.ContentType),
			Description: desc,
			CreatedAt:   now,
		}

		if key := strings.TrimSpace(f.Key); key != "" {
			if !req.Authenticated() || !strings.HasPrefix(key, UploadPrefix(req.UserID)) || strings.Contains(key, "..") {
				return nil, fmt.Errorf("%w: file %d is outside your upload prefix", ErrForbidden, i)
			}
			ok, err := s.files.Exists(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("check upload %q: %w", key, err)
			}
			if !ok {
				return nil, validationf("file %d: uploaded object not found", i)
			}
			if name == "" {
				name = key[strings.LastIndex(key, "/")+1:]
			}
			file.Name = name
			file.StorageKey = key
			file.FileType = InferFileType(name)
			out = append(out, file)
			continue
		}

		if name == "" {
			return nil, validationf("file %d: name is required", i)
		}
		file.Name = name
		file.FileType = InferFileType(name)
		file.Size = int64(len(f.Content))
		file.StorageKey = inputFileKey(runID, file.ID, name)
		if err := s.files.PutObject(ctx, file.StorageKey, file.ContentType, f.Content); err != nil {
			s.removeObjects(out, runID)
			return nil, fmt.Errorf("store file %q: %w", name, err)
		}
		out = append(out, file)
	}
	return out, nil
}

func (s *Service) ListRuns(ctx context.Context, req Requester, limit, offset int) ([]Run, error) {
	f := RunFilter{Limit: clampLimit(limit), Offset: max(offset, 0)}
	if !req.Privileged() {
		if !req.Authenticated() {
			return []Run{}, nil
		}
		owner := req.UserID
		f.OwnerID = &owner
	}
	return s.store.ListRuns(ctx, f)
}

func (s *Service) GetRun(ctx context.Context, req Requester, id uuid.UUID) (Run, error) {
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return Run{}, err
	}
	if !CanAccessRun(req, run) {
		return Run{}, ErrForbidden
	}
	return run, nil
}

// InputFileContent returns the stored body of one of the run's input files.
func (s *Service) InputFileContent(ctx context.Context, req Requester, runID, fileID uuid.UUID) (InputFile, []byte, error) {
	run, err := s.GetRun(ctx, req, runID)
	if err != nil {
		return InputFile{}, nil, err
	}
	if s.files == nil {
		return InputFile{}, nil, ErrNotFound
	}
	for _, f := range run.InputFiles {
		if f.ID != fileID {
			continue
		}
		body, err := s.files.GetObject(ctx, f.StorageKey)
		if err != nil {
			return InputFile{}, nil, fmt.Errorf("read file %s: %w", f.ID, err)
		}
		return f, body, nil
	}
	return InputFile{}, nil, ErrNotFound
}

// DeleteRun removes the run and its stored results. An in-flight agent call
// is not cancelled; its results are discarded when it returns.
func (s *Service) DeleteRun(ctx context.Context, req Requester, id uuid.UUID) error {
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if !CanDeleteRun(req, run) {
		return ErrForbidden
	}
	keys, err := s.store.DeleteRun(ctx, id)
	if err != nil {
		return err
	}
	s.deleteKeys(keys)
	s.Audit(ctx, req, "run_deleted", map[string]any{"run_id": id.String()})
	return nil
}

func (s *Service) CreateConversation(ctx context.Context, req Requester, title string) (Conversation, error) {
	if !req.Authenticated() {
		return Conversation{}, ErrUnauthenticated
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultConversationTitle
	}
	if len([]rune(title)) > MaxTitleChars {
		return Conversation{}, validationf("title is too long")
	}

	now := s.now()
	if err := s.quota.CheckConversationQuota(ctx, req.UserID, now); err != nil {
		return Conversation{}, err
	}
	c := Conversation{ID: uuid.New(), UserID: req.UserID, Title: title, CreatedAt: now}
	if err := s.store.CreateConversation(ctx, c); err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	s.Audit(ctx, req, "conversation_created", map[string]any{"conversation_id": c.ID.String()})
	return c, nil
}

func (s *Service) ListConversations(ctx context.Context, req Requester, limit, offset int) ([]Conversation, error) {
	if !req.Authenticated() {
		return nil, ErrUnauthenticated
	}
	f := ConversationFilter{Limit: clampLimit(limit), Offset: max(offset, 0)}
	if !req.Privileged() {
		owner := req.UserID
		f.UserID = &owner
	}
	return s.store.ListConversations(ctx, f)
}

func (s *Service) GetConversation(ctx context.Context, req Requester, id uuid.UUID) (Conversation, error) {
	c, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return Conversation{}, err
	}
	if !CanAccessConversation(req, c) {
		return Conversation{}, ErrForbidden
	}
	return c, nil
}

func (s *Service) ListConversationRuns(ctx context.Context, req Requester, id uuid.UUID, limit, offset int) ([]Run, error) {
	if _, err := s.GetConversation(ctx, req, id); err != nil {
		return nil, err
	}
	return s.store.ListRuns(ctx, RunFilter{ConversationID: &id, Limit: clampLimit(limit), Offset: max(offset, 0)})
}

func (s *Service) DeleteConversation(ctx context.Context, req Requester, id uuid.UUID) error {
	if _, err := s.GetConversation(ctx, req, id); err != nil {
		return err
	}
	keys, err := s.store.DeleteConversation(ctx, id)
	if err != nil {
		return err
	}
	s.deleteKeys(keys)
	s.Audit(ctx, req, "conversation_deleted", map[string]any{"conversation_id": id.String()})
	return nil
}

// FailStaleRuns fails unfinished runs whose heartbeat is older than
// olderThan, e.g. after the process that owned them died. A live executor
// keeps its queued and running runs fresh.
func FailStaleRuns(ctx context.Context, store Store, olderThan time.Duration, now time.Time) ([]uuid.UUID, error) {
	return store.FailStaleRuns(ctx, now.Add(-olderThan), "Run abandoned: executor restarted or timed out before the run finished.", now)
}

func (s *Service) removeObjects(files []InputFile, runID uuid.UUID) {
	keys := make([]string, 0, len(files))
	for _, f := range files {
		// Directly uploaded objects belong to the user, not the run.
		if strings.HasPrefix(f.StorageKey, "runs/"+runID.String()+"/") {
			keys = append(keys, f.StorageKey)
		}
	}
	s.deleteKeys(keys)
}

func (s *Service) deleteKeys(keys []string) {
	if s.files == nil || len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, k := range keys {
		if !strings.HasPrefix(k, "runs/") {
			continue
		}
		if err := s.files.DeleteObject(ctx, k); err != nil && !errors.Is(err, ErrNotFound) {
			log.Printf("runs: delete object %s: %v", k, err)
		}
	}
}

// Audit records an action best-effort; failures are only logged.
func (s *Service) Audit(ctx context.Context, req Requester, action string, data map[string]any) {
	actorType := "anonymous"
	if req.Privileged() {
		actorType = "admin"
	} else if req.Authenticated() {
		actorType = "user"
	}
	if err := s.store.Audit(ctx, AuditEntry{ActorType: actorType, ActorID: req.UserID, Action: action, Data: data}); err != nil {
		log.Printf("runs: audit %s: %v", action, err)
	}
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
