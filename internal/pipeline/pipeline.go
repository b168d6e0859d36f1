// Package pipeline orchestrates the handling of one inbound message:
// persist, classify, generate, re-verify authority, deliver. The ordering —
// persist before transmit, re-verify immediately before transmit — is the
// correctness core of the whole system and must not be reordered.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/warelay/internal/authority"
	"github.com/nextlevelbuilder/warelay/internal/bus"
	"github.com/nextlevelbuilder/warelay/internal/delivery"
	"github.com/nextlevelbuilder/warelay/internal/escalate"
	"github.com/nextlevelbuilder/warelay/internal/locks"
	"github.com/nextlevelbuilder/warelay/internal/respond"
	"github.com/nextlevelbuilder/warelay/internal/store"
)

// Outcome is the result of one unit of work.
type Outcome string

const (
	// OutcomeSent: a reply was generated, persisted, and transmitted.
	OutcomeSent Outcome = "SENT"
	// OutcomeSaved: conversation is in HUMAN mode; message stored for the
	// agent, no automated action. Not an error path.
	OutcomeSaved Outcome = "SAVED"
	// OutcomeSavedUnsat: a reply was persisted but transmission failed or
	// only the fallback text was available.
	OutcomeSavedUnsat Outcome = "SAVED_UNSAT"
	// OutcomeDiscarded: authority moved to HUMAN mid-flight; the generated
	// reply stays in history, flagged untransmitted, and was never sent.
	OutcomeDiscarded Outcome = "DISCARDED"
)

// DefaultLockWait bounds how long a unit of work queues behind another for
// the same conversation.
const DefaultLockWait = 30 * time.Second

// FollowupPlanner schedules re-engagement after a successful automated reply.
type FollowupPlanner interface {
	PlanAfterReply(ctx context.Context, conv store.Conversation) error
}

// Pipeline wires the control core together.
type Pipeline struct {
	stores    *store.Stores
	authority *authority.Authority
	responder *respond.Responder
	guard     *delivery.Guard
	locks     *locks.Keyed
	planner   FollowupPlanner // optional
	lockWait  time.Duration
	threshold int // consecutive misses before forced handoff
	tracer    trace.Tracer
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithLockWait overrides the per-conversation lock acquisition bound.
func WithLockWait(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.lockWait = d
		}
	}
}

// WithFollowupPlanner enables follow-up scheduling after automated replies.
func WithFollowupPlanner(fp FollowupPlanner) Option {
	return func(p *Pipeline) { p.planner = fp }
}

// WithMissThreshold overrides the repeated-failure escalation threshold.
func WithMissThreshold(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.threshold = n
		}
	}
}

// New creates a pipeline.
func New(stores *store.Stores, auth *authority.Authority, responder *respond.Responder, guard *delivery.Guard, keyed *locks.Keyed, opts ...Option) *Pipeline {
	p := &Pipeline{
		stores:    stores,
		authority: auth,
		responder: responder,
		guard:     guard,
		locks:     keyed,
		lockWait:  DefaultLockWait,
		threshold: escalate.DefaultMissThreshold,
		tracer:    otel.Tracer("warelay/pipeline"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// HandleInbound processes one admitted inbound event end to end. Persistence
// failures propagate so the caller can signal the event source to retry;
// generation and transport failures never do.
func (p *Pipeline) HandleInbound(ctx context.Context, ev bus.InboundEvent) (Outcome, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.handle_inbound",
		trace.WithAttributes(attribute.String("instance_id", ev.InstanceID)))
	defer span.End()

	agent, err := p.stores.Agents.GetByInstance(ctx, ev.InstanceID)
	if err != nil {
		return "", fmt.Errorf("resolve agent for instance %s: %w", ev.InstanceID, err)
	}

	conv, created, err := p.stores.Conversations.Resolve(ctx, agent.ID, ev.InstanceID, ev.ContactID, ev.DisplayName)
	if err != nil {
		return "", fmt.Errorf("resolve conversation: %w", err)
	}
	if created {
		slog.Info("conversation created", "conversation_id", conv.ID, "contact_id", ev.ContactID)
	}
	span.SetAttributes(attribute.String("conversation_id", conv.ID.String()))

	// Step 1: the external message is persisted before anything downstream
	// can fail, so history survives even a total generation/transport outage.
	inboundMsg := &store.Message{
		ConversationID: conv.ID,
		Origin:         store.OriginExternal,
		Body:           ev.Body,
		Fingerprint:    ev.Fingerprint(),
		ExternalID:     ev.ExternalID,
		Transmitted:    true,
	}
	if err := p.stores.Messages.Append(ctx, inboundMsg); err != nil {
		return "", fmt.Errorf("persist inbound message: %w", err)
	}
	if err := p.stores.Conversations.TouchLastMessage(ctx, conv.ID, ev.Body, time.Now()); err != nil {
		return "", fmt.Errorf("touch conversation: %w", err)
	}

	// Units of work for the same conversation are serialized from here on.
	lockCtx, cancel := context.WithTimeout(ctx, p.lockWait)
	defer cancel()
	release, err := p.locks.Acquire(lockCtx, conv.ID.String())
	if err != nil {
		return "", fmt.Errorf("serialize conversation %s: %w", conv.ID, err)
	}
	defer release()

	// The pre-lock snapshot is stale if another unit was serialized ahead of
	// this one; classification must see that unit's miss-counter writes.
	conv, err = p.stores.Conversations.Get(ctx, conv.ID)
	if err != nil {
		return "", fmt.Errorf("reload conversation: %w", err)
	}

	outcome, err := p.respondLocked(ctx, agent, conv, ev.Body)
	if err != nil {
		span.RecordError(err)
		return outcome, err
	}
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	return outcome, nil
}

// respondLocked runs steps 2-7 under the per-conversation lock.
func (p *Pipeline) respondLocked(ctx context.Context, agent *store.Agent, conv *store.Conversation, text string) (Outcome, error) {
	// Step 2: point-in-time mode read.
	mode, err := p.authority.Get(ctx, conv.ID)
	if err != nil {
		return "", fmt.Errorf("read mode: %w", err)
	}
	if mode == store.ModeHuman {
		slog.Debug("conversation in human mode, queued for agent", "conversation_id", conv.ID)
		return OutcomeSaved, nil
	}

	// Step 3: content policy. A positive match hands off and ends this unit.
	if decision := escalate.Classify(text, conv.ConsecutiveMisses, p.threshold); decision.Escalate() {
		return p.escalateLocked(ctx, agent, conv, text, decision)
	}

	// Step 4: generate the candidate reply. Provider failure surfaces as the
	// fallback text, never as an error.
	result, err := p.responder.Compose(ctx, conv, agent, text)
	if err != nil {
		return "", fmt.Errorf("compose reply: %w", err)
	}

	if err := p.trackMisses(ctx, conv, result.ListingMatch); err != nil {
		return "", err
	}

	// Step 5: persist the reply before any transport attempt. This ordering
	// is what makes history survive a downstream failure.
	replyMsg := &store.Message{
		ConversationID: conv.ID,
		Origin:         store.OriginAutomated,
		Body:           result.Text,
	}
	if err := p.stores.Messages.Append(ctx, replyMsg); err != nil {
		return "", fmt.Errorf("persist reply: %w", err)
	}

	// Step 6: the authority re-check that closes the stale-read race. A
	// takeover that completed while we were generating wins; the reply stays
	// in history, flagged untransmitted.
	stillAutomated, err := p.authority.Verify(ctx, conv.ID, store.ModeAutomated)
	if err != nil {
		return "", fmt.Errorf("verify mode before send: %w", err)
	}
	if !stillAutomated {
		slog.Info("reply discarded, authority changed mid-flight", "conversation_id", conv.ID)
		if err := p.guard.Suppress(ctx, conv.ID, replyMsg.ID, result.Text, "authority changed before transmit"); err != nil {
			return "", err
		}
		return OutcomeDiscarded, nil
	}

	// Step 7: attempt delivery; the outcome is durable either way.
	status, err := p.guard.Send(ctx, agent, conv.ID, replyMsg.ID, conv.ContactID, result.Text)
	if err != nil {
		return "", fmt.Errorf("deliver reply: %w", err)
	}
	if status != store.SendSent {
		return OutcomeSavedUnsat, nil
	}

	if err := p.stores.Messages.MarkTransmitted(ctx, replyMsg.ID, true); err != nil {
		return "", fmt.Errorf("mark reply transmitted: %w", err)
	}
	if err := p.stores.Conversations.TouchLastMessage(ctx, conv.ID, result.Text, time.Now()); err != nil {
		return "", fmt.Errorf("touch conversation: %w", err)
	}

	if p.planner != nil {
		if err := p.planner.PlanAfterReply(ctx, *conv); err != nil {
			slog.Warn("followup planning failed", "conversation_id", conv.ID, "error", err)
		}
	}

	if result.UsedFallback {
		return OutcomeSavedUnsat, nil
	}
	return OutcomeSent, nil
}

// escalateLocked executes a forced handoff: transactional mode flip, handoff
// message as the final automated message, delivery attempt, escalation record.
func (p *Pipeline) escalateLocked(ctx context.Context, agent *store.Agent, conv *store.Conversation, text string, decision escalate.Decision) (Outcome, error) {
	if _, err := p.authority.Set(ctx, conv.ID, store.ModeHuman, "system", authority.ReasonEscalation+":"+string(decision.Category)); err != nil {
		return "", fmt.Errorf("escalation transition: %w", err)
	}

	handoffMsg := &store.Message{
		ConversationID: conv.ID,
		Origin:         store.OriginAutomated,
		Body:           decision.Handoff,
	}
	if err := p.stores.Messages.Append(ctx, handoffMsg); err != nil {
		return "", fmt.Errorf("persist handoff message: %w", err)
	}

	status, err := p.guard.Send(ctx, agent, conv.ID, handoffMsg.ID, conv.ContactID, decision.Handoff)
	if err != nil {
		return "", fmt.Errorf("deliver handoff: %w", err)
	}
	if status == store.SendSent {
		if err := p.stores.Messages.MarkTransmitted(ctx, handoffMsg.ID, true); err != nil {
			return "", fmt.Errorf("mark handoff transmitted: %w", err)
		}
	}

	if err := p.stores.Escalations.Append(ctx, &store.Escalation{
		ConversationID: conv.ID,
		Category:       string(decision.Category),
		TriggerText:    text,
		HandoffText:    decision.Handoff,
	}); err != nil {
		return "", fmt.Errorf("persist escalation record: %w", err)
	}

	slog.Info("conversation escalated to human",
		"conversation_id", conv.ID, "category", decision.Category)

	if status != store.SendSent {
		return OutcomeSavedUnsat, nil
	}
	return OutcomeSent, nil
}

// trackMisses maintains the repeated-failure counter: reset on any listing
// match, incremented otherwise. Operator reset happens via mode toggle.
func (p *Pipeline) trackMisses(ctx context.Context, conv *store.Conversation, matched bool) error {
	n := 0
	if !matched {
		n = conv.ConsecutiveMisses + 1
	}
	if err := p.stores.Conversations.SetConsecutiveMisses(ctx, conv.ID, n); err != nil {
		return fmt.Errorf("track misses: %w", err)
	}
	conv.ConsecutiveMisses = n
	return nil
}

// HandleOperatorOutbound sends a human-authored message through the channel.
// Typing directly implies takeover: the mode flips to HUMAN before delivery
// if it wasn't already.
func (p *Pipeline) HandleOperatorOutbound(ctx context.Context, convID uuid.UUID, actor, text string) (Outcome, error) {
	lockCtx, cancel := context.WithTimeout(ctx, p.lockWait)
	defer cancel()
	release, err := p.locks.Acquire(lockCtx, convID.String())
	if err != nil {
		return "", fmt.Errorf("serialize conversation %s: %w", convID, err)
	}
	defer release()

	conv, err := p.stores.Conversations.Get(ctx, convID)
	if err != nil {
		return "", fmt.Errorf("load conversation: %w", err)
	}
	agent, err := p.stores.Agents.Get(ctx, conv.AgentID)
	if err != nil {
		return "", fmt.Errorf("load agent: %w", err)
	}

	if err := p.authority.NoteHumanOutbound(ctx, convID, actor); err != nil {
		return "", err
	}

	msg := &store.Message{
		ConversationID: convID,
		Origin:         store.OriginHuman,
		Body:           text,
	}
	if err := p.stores.Messages.Append(ctx, msg); err != nil {
		return "", fmt.Errorf("persist operator message: %w", err)
	}

	status, err := p.guard.Send(ctx, agent, convID, msg.ID, conv.ContactID, text)
	if err != nil {
		return "", fmt.Errorf("deliver operator message: %w", err)
	}
	if status != store.SendSent {
		return OutcomeSavedUnsat, nil
	}
	if err := p.stores.Messages.MarkTransmitted(ctx, msg.ID, true); err != nil {
		return "", fmt.Errorf("mark operator message transmitted: %w", err)
	}
	if err := p.stores.Conversations.TouchLastMessage(ctx, convID, text, time.Now()); err != nil {
		return "", fmt.Errorf("touch conversation: %w", err)
	}
	return OutcomeSent, nil
}
