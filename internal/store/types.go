package store

import (
	"time"

	"github.com/google/uuid"
)

// Mode is the authority mode of a conversation: which actor may currently
// produce outbound messages for it.
type Mode string

const (
	ModeAutomated Mode = "AUTOMATED"
	ModeHuman     Mode = "HUMAN"
)

// Valid reports whether m is one of the two closed mode values.
func (m Mode) Valid() bool {
	return m == ModeAutomated || m == ModeHuman
}

// Origin identifies who authored a message.
type Origin string

const (
	OriginExternal  Origin = "EXTERNAL_PARTY"
	OriginAutomated Origin = "AUTOMATED"
	OriginHuman     Origin = "HUMAN"
)

// SendStatus is the durable outcome of one outbound transport attempt.
type SendStatus string

const (
	SendSent       SendStatus = "SENT"
	SendFailed     SendStatus = "FAILED"
	SendSuppressed SendStatus = "SUPPRESSED"
)

// FollowupStatus tracks the lifecycle of a scheduled re-engagement.
type FollowupStatus string

const (
	FollowupPending   FollowupStatus = "pending"
	FollowupDone      FollowupStatus = "done"
	FollowupCancelled FollowupStatus = "cancelled"
)

// Agent is one WhatsApp channel instance and the human realtor behind it.
// Bridge credentials are stored per agent so one deployment can serve
// multiple instances.
type Agent struct {
	ID                uuid.UUID `json:"id"`
	InstanceID        string    `json:"instance_id"`
	BridgeToken       string    `json:"-"`
	FullName          string    `json:"full_name"`
	AssistantName     string    `json:"assistant_name"`
	SpeakingStyle     string    `json:"speaking_style"`
	CustomInstruction string    `json:"custom_instruction,omitempty"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
}

// Conversation is the unit of continuity between one external contact and
// one channel instance. Identity is the composite (InstanceID, ContactID);
// the uniqueness constraint on that pair is what makes Resolve race-safe.
type Conversation struct {
	ID                 uuid.UUID  `json:"id"`
	AgentID            uuid.UUID  `json:"agent_id"`
	InstanceID         string     `json:"instance_id"`
	ContactID          string     `json:"contact_id"`
	ContactName        string     `json:"contact_name,omitempty"`
	Mode               Mode       `json:"mode"`
	ModeChangedAt      time.Time  `json:"mode_changed_at"`
	ModeChangedBy      string     `json:"mode_changed_by,omitempty"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`
	LastMessagePreview string     `json:"last_message_preview,omitempty"`
	ConsecutiveMisses  int        `json:"consecutive_misses"`
	ArchivedAt         *time.Time `json:"archived_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Message is one append-only entry in a conversation's history. Generated
// replies are persisted before any transport attempt; Transmitted records
// whether the send path actually delivered them.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Origin         Origin    `json:"origin"`
	Body           string    `json:"body"`
	Fingerprint    string    `json:"fingerprint,omitempty"`
	ExternalID     string    `json:"external_id,omitempty"`
	Transmitted    bool      `json:"transmitted"`
	CreatedAt      time.Time `json:"created_at"`
}

// SendRecord is the durable outcome of a delivery attempt, keyed by
// idempotency key. At most one SENT record can exist per key.
type SendRecord struct {
	IdempotencyKey    string     `json:"idempotency_key"`
	ConversationID    uuid.UUID  `json:"conversation_id"`
	MessageID         uuid.UUID  `json:"message_id"`
	Status            SendStatus `json:"status"`
	TransportResponse string     `json:"transport_response,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Escalation records a forced AUTOMATED -> HUMAN transition triggered by
// message content. Read-only after creation.
type Escalation struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Category       string    `json:"category"`
	TriggerText    string    `json:"trigger_text"`
	HandoffText    string    `json:"handoff_text"`
	CreatedAt      time.Time `json:"created_at"`
}

// ModeChange is one audit row in the totally ordered per-conversation
// transition log.
type ModeChange struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	FromMode       Mode      `json:"from_mode"`
	ToMode         Mode      `json:"to_mode"`
	Actor          string    `json:"actor"`
	Reason         string    `json:"reason"`
	CreatedAt      time.Time `json:"created_at"`
}

// Followup is a scheduled re-engagement message. Pending rows are cancelled
// atomically when a conversation leaves AUTOMATED mode.
type Followup struct {
	ID             uuid.UUID      `json:"id"`
	ConversationID uuid.UUID      `json:"conversation_id"`
	DueAt          time.Time      `json:"due_at"`
	Body           string         `json:"body"`
	Status         FollowupStatus `json:"status"`
	CancelledAt    *time.Time     `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Listing is one property record an agent can offer. Only exact attribute
// filters are supported; ranking is out of scope.
type Listing struct {
	ID           uuid.UUID `json:"id"`
	AgentID      uuid.UUID `json:"agent_id"`
	Title        string    `json:"title"`
	Location     string    `json:"location"`
	PropertyType string    `json:"property_type"`
	Bedrooms     int       `json:"bedrooms"`
	PriceSGD     int64     `json:"price_sgd"`
	Description  string    `json:"description,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewID returns a time-ordered UUID for primary keys.
func NewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
