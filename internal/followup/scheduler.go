// Package followup schedules and delivers re-engagement messages. Pending
// follow-ups are cancelled transactionally whenever a conversation leaves
// AUTOMATED mode, so the sweep only ever sees conversations the automation
// still owns — the mode is still re-verified before every send.
package followup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/warelay/internal/authority"
	"github.com/nextlevelbuilder/warelay/internal/delivery"
	"github.com/nextlevelbuilder/warelay/internal/locks"
	"github.com/nextlevelbuilder/warelay/internal/store"
)

// DefaultDelays is the re-engagement ladder after an automated reply.
var DefaultDelays = []time.Duration{2 * time.Hour, 24 * time.Hour, 72 * time.Hour}

// DefaultSchedule sweeps for due follow-ups once a minute.
const DefaultSchedule = "* * * * *"

var followupBodies = []string{
	"Hi! Just checking in — did you have any questions about the properties we discussed?",
	"Hello again! I'm still here if you'd like to explore more options or book a viewing.",
	"Hi! I'll leave you to it for now, but feel free to reach out anytime you're ready to continue your property search.",
}

// Planner schedules the ladder after each automated reply.
type Planner struct {
	followups store.FollowupStore
	delays    []time.Duration
}

// NewPlanner creates a planner; nil delays means the default ladder.
func NewPlanner(followups store.FollowupStore, delays []time.Duration) *Planner {
	if len(delays) == 0 {
		delays = DefaultDelays
	}
	return &Planner{followups: followups, delays: delays}
}

// PlanAfterReply replaces any pending ladder with a fresh one anchored at now.
func (p *Planner) PlanAfterReply(ctx context.Context, conv store.Conversation) error {
	if _, err := p.followups.CancelPending(ctx, conv.ID); err != nil {
		return fmt.Errorf("reset followups: %w", err)
	}
	now := time.Now().UTC()
	for i, d := range p.delays {
		body := followupBodies[len(followupBodies)-1]
		if i < len(followupBodies) {
			body = followupBodies[i]
		}
		if err := p.followups.Schedule(ctx, &store.Followup{
			ConversationID: conv.ID,
			DueAt:          now.Add(d),
			Body:           body,
		}); err != nil {
			return fmt.Errorf("schedule followup: %w", err)
		}
	}
	return nil
}

// Scheduler sweeps due follow-ups on a cron schedule and delivers them
// through the same guarded path as regular replies.
type Scheduler struct {
	stores    *store.Stores
	authority *authority.Authority
	guard     *delivery.Guard
	locks     *locks.Keyed
	schedule  string
	batch     int
}

// NewScheduler creates a sweep scheduler. The schedule is a cron expression;
// invalid expressions are rejected.
func NewScheduler(stores *store.Stores, auth *authority.Authority, guard *delivery.Guard, keyed *locks.Keyed, schedule string) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if !gronx.New().IsValid(schedule) {
		return nil, fmt.Errorf("invalid followup schedule %q", schedule)
	}
	return &Scheduler{
		stores:    stores,
		authority: auth,
		guard:     guard,
		locks:     keyed,
		schedule:  schedule,
		batch:     20,
	}, nil
}

// Run sweeps until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("followup scheduler started", "schedule", s.schedule)
	for {
		next, err := gronx.NextTickAfter(s.schedule, time.Now(), false)
		if err != nil {
			slog.Error("followup schedule evaluation failed", "error", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		s.sweep(ctx)
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	due, err := s.stores.Followups.Due(ctx, time.Now().UTC(), s.batch)
	if err != nil {
		slog.Error("followup sweep query failed", "error", err)
		return
	}
	for _, f := range due {
		if err := s.deliver(ctx, f); err != nil {
			slog.Warn("followup delivery failed", "followup_id", f.ID, "error", err)
		}
	}
}

// deliver sends one due follow-up under the conversation lock, re-verifying
// authority right before the transport attempt.
func (s *Scheduler) deliver(ctx context.Context, f *store.Followup) error {
	lockCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	release, err := s.locks.Acquire(lockCtx, f.ConversationID.String())
	if err != nil {
		return err // still pending, picked up by the next sweep
	}
	defer release()

	conv, err := s.stores.Conversations.Get(ctx, f.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	ok, err := s.authority.Verify(ctx, conv.ID, store.ModeAutomated)
	if err != nil {
		return err
	}
	if !ok {
		// Transition raced the sweep; the cancellation already happened or
		// will happen with the transition's transaction.
		return s.stores.Followups.MarkDone(ctx, f.ID)
	}

	agent, err := s.stores.Agents.Get(ctx, conv.AgentID)
	if err != nil {
		return fmt.Errorf("load agent: %w", err)
	}

	msg := &store.Message{
		ConversationID: conv.ID,
		Origin:         store.OriginAutomated,
		Body:           f.Body,
	}
	if err := s.stores.Messages.Append(ctx, msg); err != nil {
		return fmt.Errorf("persist followup message: %w", err)
	}

	status, err := s.guard.Send(ctx, agent, conv.ID, msg.ID, conv.ContactID, f.Body)
	if err != nil {
		return err
	}
	if status == store.SendSent {
		if err := s.stores.Messages.MarkTransmitted(ctx, msg.ID, true); err != nil {
			return err
		}
	}
	return s.stores.Followups.MarkDone(ctx, f.ID)
}
