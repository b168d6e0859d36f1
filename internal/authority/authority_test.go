package authority

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/warelay/internal/store"
	"github.com/nextlevelbuilder/warelay/internal/store/memory"
)

func newConv(t *testing.T, stores *store.Stores) *store.Conversation {
	t.Helper()
	conv, created, err := stores.Conversations.Resolve(context.Background(), store.NewID(), "inst-1", "6591234567", "Dana")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !created {
		t.Fatal("expected a fresh conversation")
	}
	if conv.Mode != store.ModeAutomated {
		t.Fatalf("new conversation mode = %s, want AUTOMATED", conv.Mode)
	}
	return conv
}

func TestSetRecordsTransition(t *testing.T) {
	stores := memory.NewStores()
	a := New(stores.Conversations, stores.Modes)
	conv := newConv(t, stores)
	ctx := context.Background()

	if _, err := a.Set(ctx, conv.ID, store.ModeHuman, "alice", ReasonOperatorToggle); err != nil {
		t.Fatalf("Set: %v", err)
	}

	mode, err := a.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if mode != store.ModeHuman {
		t.Fatalf("mode = %s, want HUMAN", mode)
	}

	changes, err := stores.Modes.Changes(ctx, conv.ID, 10)
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected 1 audit row, got %d", len(changes))
	}
	c := changes[0]
	if c.FromMode != store.ModeAutomated || c.ToMode != store.ModeHuman || c.Actor != "alice" {
		t.Fatalf("unexpected transition record: %+v", c)
	}
}

func TestSetRejectsInvalidMode(t *testing.T) {
	stores := memory.NewStores()
	a := New(stores.Conversations, stores.Modes)
	conv := newConv(t, stores)

	if _, err := a.Set(context.Background(), conv.ID, store.Mode("PAUSED"), "alice", ReasonOperatorToggle); err == nil {
		t.Fatal("expected error for invalid target mode")
	}
}

func TestSetToHumanCancelsPendingFollowups(t *testing.T) {
	stores := memory.NewStores()
	a := New(stores.Conversations, stores.Modes)
	conv := newConv(t, stores)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := stores.Followups.Schedule(ctx, &store.Followup{
			ConversationID: conv.ID,
			DueAt:          time.Now().Add(time.Hour),
			Body:           "checking in",
		})
		if err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}

	if _, err := a.Set(ctx, conv.ID, store.ModeHuman, "alice", ReasonOperatorToggle); err != nil {
		t.Fatalf("Set: %v", err)
	}

	due, err := stores.Followups.Due(ctx, time.Now().Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected all follow-ups cancelled with the transition, %d still pending", len(due))
	}
}

func TestVerify(t *testing.T) {
	stores := memory.NewStores()
	a := New(stores.Conversations, stores.Modes)
	conv := newConv(t, stores)
	ctx := context.Background()

	ok, err := a.Verify(ctx, conv.ID, store.ModeAutomated)
	if err != nil || !ok {
		t.Fatalf("Verify(AUTOMATED) = %v, %v; want true", ok, err)
	}

	if _, err := a.Set(ctx, conv.ID, store.ModeHuman, "alice", ReasonOperatorToggle); err != nil {
		t.Fatalf("Set: %v", err)
	}

	ok, err = a.Verify(ctx, conv.ID, store.ModeAutomated)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("Verify must observe the concurrent transition")
	}
}

func TestVerifyUnknownConversation(t *testing.T) {
	stores := memory.NewStores()
	a := New(stores.Conversations, stores.Modes)

	if _, err := a.Verify(context.Background(), uuid.New(), store.ModeAutomated); err == nil {
		t.Fatal("expected error for unknown conversation")
	}
}

func TestNoteHumanOutbound(t *testing.T) {
	stores := memory.NewStores()
	a := New(stores.Conversations, stores.Modes)
	conv := newConv(t, stores)
	ctx := context.Background()

	if err := a.NoteHumanOutbound(ctx, conv.ID, "alice"); err != nil {
		t.Fatalf("NoteHumanOutbound: %v", err)
	}
	mode, _ := a.Get(ctx, conv.ID)
	if mode != store.ModeHuman {
		t.Fatalf("mode = %s, want HUMAN after human outbound", mode)
	}

	// Already HUMAN: no extra transition.
	if err := a.NoteHumanOutbound(ctx, conv.ID, "alice"); err != nil {
		t.Fatalf("NoteHumanOutbound (repeat): %v", err)
	}
	changes, _ := stores.Modes.Changes(ctx, conv.ID, 10)
	if len(changes) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(changes))
	}
}
