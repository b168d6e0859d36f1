package bus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// InboundEvent is one message received from the chat bridge, already reduced
// to the fields the control core needs.
type InboundEvent struct {
	InstanceID  string `json:"instance_id"`
	ContactID   string `json:"contact_id"`
	DisplayName string `json:"display_name,omitempty"`
	Body        string `json:"body"`
	ExternalID  string `json:"external_id,omitempty"`
	Timestamp   int64  `json:"timestamp"` // unix seconds, as reported by the bridge
}

// Fingerprint derives the short-lived dedup key for this event. Same inputs
// as the bridge uses for redelivery, so a redelivered webhook collides.
func (e InboundEvent) Fingerprint() string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%d:%s", e.InstanceID, e.ContactID, e.Timestamp, e.Body))
	return hex.EncodeToString(sum[:])
}

// OutboundMessage is a message to be handed to the bridge client.
type OutboundMessage struct {
	InstanceID string `json:"instance_id"`
	ContactID  string `json:"contact_id"`
	Body       string `json:"body"`
}
