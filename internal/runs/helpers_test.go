package runs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"queryhub/internal/agent"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingSubmitter struct {
	mu      sync.Mutex
	queries map[uuid.UUID]string
}

func (s *recordingSubmitter) Submit(runID uuid.UUID, query string) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queries == nil {
		s.queries = map[uuid.UUID]string{}
	}
	s.queries[runID] = query
	h := &Handle{runID: runID, done: make(chan struct{})}
	return h
}

func (s *recordingSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

type dispatchFunc func(ctx context.Context, query string) (agent.Response, error)

func (f dispatchFunc) Dispatch(ctx context.Context, query string) (agent.Response, error) {
	return f(ctx, query)
}

func replyFromJSON(body string) dispatchFunc {
	return func(context.Context, string) (agent.Response, error) {
		return agent.ParseResponse([]byte(body))
	}
}

type memFiles struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func newMemFiles() *memFiles { return &memFiles{objs: map[string][]byte{}} }

func (m *memFiles) PutObject(_ context.Context, key, _ string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[key] = append([]byte(nil), body...)
	return nil
}

func (m *memFiles) GetObject(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (m *memFiles) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objs[key]
	return ok, nil
}

func (m *memFiles) DeleteObject(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objs, key)
	return nil
}

func (m *memFiles) has(key string) bool {
	ok, _ := m.Exists(context.Background(), key)
	return ok
}

type statusRecorder struct {
	mu     sync.Mutex
	events map[uuid.UUID][]Status
}

func (r *statusRecorder) RunStatusChanged(runID uuid.UUID, s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = map[uuid.UUID][]Status{}
	}
	r.events[runID] = append(r.events[runID], s)
}

func (r *statusRecorder) of(runID uuid.UUID) []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.events[runID]...)
}

func user() Requester  { return Requester{UserID: uuid.New(), Role: RoleUser} }
func admin() Requester { return Requester{UserID: uuid.New(), Role: RoleAdmin} }
