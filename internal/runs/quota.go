package runs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultConversationsPerDay = 5
	DefaultRunsPerConversation = 20

	quotaWindow = 24 * time.Hour
)

type Limits struct {
	ConversationsPerDay       int
	RunsPerConversationPerDay int
}

func (l Limits) withDefaults() Limits {
	if l.ConversationsPerDay < 1 {
		l.ConversationsPerDay = DefaultConversationsPerDay
	}
	if l.RunsPerConversationPerDay < 1 {
		l.RunsPerConversationPerDay = DefaultRunsPerConversation
	}
	return l
}

// QuotaChecker counts persisted history over the trailing 24 hours. It holds
// no counters of its own, so a denied request consumes nothing.
type QuotaChecker struct {
	store  Store
	limits Limits
}

func NewQuotaChecker(store Store, limits Limits) *QuotaChecker {
	return &QuotaChecker{store: store, limits: limits.withDefaults()}
}

func (q *QuotaChecker) Limits() Limits { return q.limits }

func (q *QuotaChecker) CheckConversationQuota(ctx context.Context, userID uuid.UUID, asOf time.Time) error {
	n, err := q.store.CountConversationsSince(ctx, userID, asOf.Add(-quotaWindow))
	if err != nil {
		return fmt.Errorf("count conversations: %w", err)
	}
	if n >= q.limits.ConversationsPerDay {
		return &QuotaError{Scope: QuotaConversationsPerDay, Limit: q.limits.ConversationsPerDay}
	}
	return nil
}

// CheckRunQuota allows anonymous (conversation-less) runs unconditionally.
func (q *QuotaChecker) CheckRunQuota(ctx context.Context, conversationID *uuid.UUID, asOf time.Time) error {
	if conversationID == nil {
		return nil
	}
	n, err := q.store.CountRunsSince(ctx, *conversationID, asOf.Add(-quotaWindow))
	if err != nil {
		return fmt.Errorf("count runs: %w", err)
	}
	if n >= q.limits.RunsPerConversationPerDay {
		return &QuotaError{Scope: QuotaRunsPerConversationDay, Limit: q.limits.RunsPerConversationPerDay}
	}
	return nil
}
