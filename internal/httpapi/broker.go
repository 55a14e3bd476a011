package httpapi

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"queryhub/internal/runs"
)

type statusEventDTO struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	At     string `json:"at"`
}

// Broker fans run status transitions out to SSE subscribers. It implements
// runs.Notifier and never blocks the executor.
type Broker struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[chan statusEventDTO]struct{}
}

var _ runs.Notifier = (*Broker)(nil)

func NewBroker() *Broker {
	return &Broker{subs: map[uuid.UUID]map[chan statusEventDTO]struct{}{}}
}

func (b *Broker) RunStatusChanged(runID uuid.UUID, status runs.Status) {
	b.publish(runID, statusEventDTO{
		RunID:  runID.String(),
		Status: string(status),
		At:     time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (b *Broker) subscribe(runID uuid.UUID) chan statusEventDTO {
	ch := make(chan statusEventDTO, 8)
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[runID]
	if m == nil {
		m = map[chan statusEventDTO]struct{}{}
		b.subs[runID] = m
	}
	m[ch] = struct{}{}
	return ch
}

func (b *Broker) unsubscribe(runID uuid.UUID, ch chan statusEventDTO) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[runID]
	if m == nil {
		return
	}
	delete(m, ch)
	close(ch)
	if len(m) == 0 {
		delete(b.subs, runID)
	}
}

func (b *Broker) publish(runID uuid.UUID, ev statusEventDTO) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[runID] {
		select {
		case ch <- ev:
		default:
			// Drop for slow consumers; the stream re-reads the run on connect.
		}
	}
}
