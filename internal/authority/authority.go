// Package authority is the single source of truth for which actor may produce
// outbound messages for a conversation. All mode reads and every transition
// go through it; no other component mutates mode.
package authority

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/warelay/internal/store"
)

// Well-known transition reasons, logged with every change.
const (
	ReasonOperatorToggle = "operator_toggle"
	ReasonEscalation     = "escalation"
	ReasonHumanOutbound  = "human_outbound_detected"
)

// Authority arbitrates mode transitions on top of the transactional store
// primitive.
type Authority struct {
	conversations store.ConversationStore
	modes         store.ModeStore
}

// New creates the mode authority.
func New(conversations store.ConversationStore, modes store.ModeStore) *Authority {
	return &Authority{conversations: conversations, modes: modes}
}

// Get is a point-in-time read of the conversation's mode.
func (a *Authority) Get(ctx context.Context, convID uuid.UUID) (store.Mode, error) {
	return a.conversations.Mode(ctx, convID)
}

// Set transitions the conversation to target. The underlying write updates
// mode, appends the audit row, and cancels pending follow-ups in one
// transaction; on error the mode is unchanged and the caller must not assume
// success.
func (a *Authority) Set(ctx context.Context, convID uuid.UUID, target store.Mode, actor, reason string) (store.Mode, error) {
	if !target.Valid() {
		return "", fmt.Errorf("set mode: invalid target %q", target)
	}

	mode, err := a.modes.SetMode(ctx, convID, target, actor, reason)
	if err != nil {
		return "", fmt.Errorf("mode transition to %s: %w", target, err)
	}

	slog.Info("conversation mode changed",
		"conversation_id", convID,
		"mode", mode,
		"actor", actor,
		"reason", reason,
	)
	return mode, nil
}

// Verify re-reads the current mode and reports whether it still matches
// expected. Always a fresh read; callers use it immediately before an
// outbound send to close the stale-read race.
func (a *Authority) Verify(ctx context.Context, convID uuid.UUID, expected store.Mode) (bool, error) {
	mode, err := a.conversations.Mode(ctx, convID)
	if err != nil {
		return false, fmt.Errorf("verify mode: %w", err)
	}
	return mode == expected, nil
}

// NoteHumanOutbound records that a human-authored message went out through
// the channel while the conversation was AUTOMATED. A human typing directly
// implies takeover, so the mode flips; in HUMAN mode this is a no-op.
func (a *Authority) NoteHumanOutbound(ctx context.Context, convID uuid.UUID, actor string) error {
	mode, err := a.conversations.Mode(ctx, convID)
	if err != nil {
		return fmt.Errorf("note human outbound: %w", err)
	}
	if mode == store.ModeHuman {
		return nil
	}
	_, err = a.Set(ctx, convID, store.ModeHuman, actor, ReasonHumanOutbound)
	return err
}
