// Package store defines the persistence contracts for the relay. The mode
// column and the message log are the only shared mutable state in the system;
// they are written exclusively through these interfaces.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// AgentStore manages channel-instance records.
type AgentStore interface {
	GetByInstance(ctx context.Context, instanceID string) (*Agent, error)
	Get(ctx context.Context, id uuid.UUID) (*Agent, error)
	Put(ctx context.Context, a *Agent) error
}

// ConversationStore resolves and reads conversations.
type ConversationStore interface {
	// Resolve returns the conversation for (instanceID, contactID), creating
	// it in AUTOMATED mode if absent. Safe under concurrent first contact:
	// implementations must use insert-or-fetch on the composite unique key,
	// never read-then-write. The bool result reports whether a row was created.
	Resolve(ctx context.Context, agentID uuid.UUID, instanceID, contactID, contactName string) (*Conversation, bool, error)

	Get(ctx context.Context, id uuid.UUID) (*Conversation, error)
	List(ctx context.Context, instanceID string, limit int) ([]*Conversation, error)

	// Mode is a fresh point-in-time read of the authority mode.
	Mode(ctx context.Context, id uuid.UUID) (Mode, error)

	// TouchLastMessage updates the preview/timestamp shown in conversation lists.
	TouchLastMessage(ctx context.Context, id uuid.UUID, preview string, at time.Time) error

	// SetConsecutiveMisses persists the repeated-failure counter the
	// escalation policy reads.
	SetConsecutiveMisses(ctx context.Context, id uuid.UUID, n int) error
}

// ModeStore is the transactional primitive behind the mode authority. SetMode
// updates the mode, appends the audit row, and cancels pending follow-ups in
// one transaction; on error the mode is unchanged.
type ModeStore interface {
	SetMode(ctx context.Context, convID uuid.UUID, target Mode, actor, reason string) (Mode, error)
	Changes(ctx context.Context, convID uuid.UUID, limit int) ([]*ModeChange, error)
}

// MessageStore is the append-only message log.
type MessageStore interface {
	Append(ctx context.Context, m *Message) error
	History(ctx context.Context, convID uuid.UUID, limit int) ([]*Message, error)

	// MarkTransmitted flips the transmitted flag; the row itself is never
	// mutated otherwise.
	MarkTransmitted(ctx context.Context, id uuid.UUID, transmitted bool) error
}

// SendRecordStore persists delivery outcomes keyed by idempotency key.
type SendRecordStore interface {
	Get(ctx context.Context, idempotencyKey string) (*SendRecord, error)
	Record(ctx context.Context, rec *SendRecord) error
}

// EscalationStore persists handoff records.
type EscalationStore interface {
	Append(ctx context.Context, e *Escalation) error
	List(ctx context.Context, convID uuid.UUID, limit int) ([]*Escalation, error)
}

// FollowupStore manages scheduled re-engagements.
type FollowupStore interface {
	Schedule(ctx context.Context, f *Followup) error
	// Due claims pending follow-ups whose due time has passed.
	Due(ctx context.Context, now time.Time, limit int) ([]*Followup, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	CancelPending(ctx context.Context, convID uuid.UUID) (int, error)
}

// ListingQuery filters listings by exact attributes. Zero values match any.
type ListingQuery struct {
	Location     string
	PropertyType string
	Bedrooms     int
	Limit        int
}

// ListingStore serves property context for reply composition.
type ListingStore interface {
	Search(ctx context.Context, agentID uuid.UUID, q ListingQuery) ([]*Listing, error)
	Put(ctx context.Context, l *Listing) error
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Agents        AgentStore
	Conversations ConversationStore
	Modes         ModeStore
	Messages      MessageStore
	Sends         SendRecordStore
	Escalations   EscalationStore
	Followups     FollowupStore
	Listings      ListingStore

	closer func() error
}

// SetCloser registers the function Close delegates to.
func (s *Stores) SetCloser(fn func() error) { s.closer = fn }

// Close releases the underlying database handle.
func (s *Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
