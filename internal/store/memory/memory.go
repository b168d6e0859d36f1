// Package memory is an in-memory implementation of the store contracts.
// It backs the test suites and the doctor command; semantics mirror the SQL
// implementation, including insert-or-fetch resolution and transactional
// mode transitions.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/warelay/internal/store"
)

// NewStores returns a fully wired in-memory store container.
func NewStores() *store.Stores {
	m := &mem{
		agents:        make(map[uuid.UUID]*store.Agent),
		conversations: make(map[uuid.UUID]*store.Conversation),
		byIdentity:    make(map[string]uuid.UUID),
		messages:      make(map[uuid.UUID][]*store.Message),
		sends:         make(map[string]*store.SendRecord),
		escalations:   make(map[uuid.UUID][]*store.Escalation),
		followups:     make(map[uuid.UUID]*store.Followup),
		listings:      make(map[uuid.UUID][]*store.Listing),
	}
	s := &store.Stores{
		Agents:        (*agentStore)(m),
		Conversations: (*conversationStore)(m),
		Modes:         (*modeStore)(m),
		Messages:      (*messageStore)(m),
		Sends:         (*sendStore)(m),
		Escalations:   (*escalationStore)(m),
		Followups:     (*followupStore)(m),
		Listings:      (*listingStore)(m),
	}
	return s
}

type mem struct {
	mu            sync.Mutex
	agents        map[uuid.UUID]*store.Agent
	conversations map[uuid.UUID]*store.Conversation
	byIdentity    map[string]uuid.UUID
	messages      map[uuid.UUID][]*store.Message
	sends         map[string]*store.SendRecord
	escalations   map[uuid.UUID][]*store.Escalation
	followups     map[uuid.UUID]*store.Followup
	modeChanges   []*store.ModeChange
	listings      map[uuid.UUID][]*store.Listing
}

func identityKey(instanceID, contactID string) string {
	return instanceID + "\x00" + contactID
}

type agentStore mem

func (s *agentStore) GetByInstance(_ context.Context, instanceID string) (*store.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		if a.InstanceID == instanceID && a.Active {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *agentStore) Get(_ context.Context, id uuid.UUID) (*store.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *agentStore) Put(_ context.Context, a *store.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = store.NewID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cp := *a
	s.agents[a.ID] = &cp
	return nil
}

type conversationStore mem

func (s *conversationStore) Resolve(_ context.Context, agentID uuid.UUID, instanceID, contactID, contactName string) (*store.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byIdentity[identityKey(instanceID, contactID)]; ok {
		c := s.conversations[id]
		if contactName != "" && contactName != c.ContactName {
			c.ContactName = contactName
		}
		cp := *c
		return &cp, false, nil
	}

	now := time.Now().UTC()
	c := &store.Conversation{
		ID:            store.NewID(),
		AgentID:       agentID,
		InstanceID:    instanceID,
		ContactID:     contactID,
		ContactName:   contactName,
		Mode:          store.ModeAutomated,
		ModeChangedAt: now,
		ModeChangedBy: "system",
		CreatedAt:     now,
	}
	s.conversations[c.ID] = c
	s.byIdentity[identityKey(instanceID, contactID)] = c.ID
	cp := *c
	return &cp, true, nil
}

func (s *conversationStore) Get(_ context.Context, id uuid.UUID) (*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *conversationStore) List(_ context.Context, instanceID string, limit int) ([]*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []*store.Conversation
	for _, c := range s.conversations {
		if c.InstanceID == instanceID && c.ArchivedAt == nil {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := time.Time{}, time.Time{}
		if out[i].LastMessageAt != nil {
			ti = *out[i].LastMessageAt
		}
		if out[j].LastMessageAt != nil {
			tj = *out[j].LastMessageAt
		}
		return ti.After(tj)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *conversationStore) Mode(_ context.Context, id uuid.UUID) (store.Mode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return "", store.ErrNotFound
	}
	return c.Mode, nil
}

func (s *conversationStore) TouchLastMessage(_ context.Context, id uuid.UUID, preview string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	if runes := []rune(preview); len(runes) > 200 {
		preview = string(runes[:200])
	}
	t := at.UTC()
	c.LastMessageAt = &t
	c.LastMessagePreview = preview
	return nil
}

func (s *conversationStore) SetConsecutiveMisses(_ context.Context, id uuid.UUID, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	c.ConsecutiveMisses = n
	return nil
}

type modeStore mem

func (s *modeStore) SetMode(_ context.Context, convID uuid.UUID, target store.Mode, actor, reason string) (store.Mode, error) {
	if !target.Valid() {
		return "", store.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[convID]
	if !ok {
		return "", store.ErrNotFound
	}
	now := time.Now().UTC()
	s.modeChanges = append(s.modeChanges, &store.ModeChange{
		ID:             store.NewID(),
		ConversationID: convID,
		FromMode:       c.Mode,
		ToMode:         target,
		Actor:          actor,
		Reason:         reason,
		CreatedAt:      now,
	})
	c.Mode = target
	c.ModeChangedAt = now
	c.ModeChangedBy = actor

	if target == store.ModeHuman {
		for _, f := range s.followups {
			if f.ConversationID == convID && f.Status == store.FollowupPending {
				f.Status = store.FollowupCancelled
				t := now
				f.CancelledAt = &t
			}
		}
	}
	return target, nil
}

func (s *modeStore) Changes(_ context.Context, convID uuid.UUID, limit int) ([]*store.ModeChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []*store.ModeChange
	for i := len(s.modeChanges) - 1; i >= 0 && len(out) < limit; i-- {
		if s.modeChanges[i].ConversationID == convID {
			cp := *s.modeChanges[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

type messageStore mem

func (s *messageStore) Append(_ context.Context, m *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = store.NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	cp := *m
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], &cp)
	return nil
}

func (s *messageStore) History(_ context.Context, convID uuid.UUID, limit int) ([]*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[convID]
	if limit <= 0 {
		limit = 50
	}
	start := 0
	if len(msgs) > limit {
		start = len(msgs) - limit
	}
	out := make([]*store.Message, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (s *messageStore) MarkTransmitted(_ context.Context, id uuid.UUID, transmitted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msgs := range s.messages {
		for _, m := range msgs {
			if m.ID == id {
				m.Transmitted = transmitted
				return nil
			}
		}
	}
	return store.ErrNotFound
}

type sendStore mem

func (s *sendStore) Get(_ context.Context, key string) (*store.SendRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sends[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *sendStore) Record(_ context.Context, rec *store.SendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if existing, ok := s.sends[rec.IdempotencyKey]; ok {
		// FAILED may be upgraded by a retry's outcome; SENT and SUPPRESSED
		// are terminal, matching the conditional upsert in the db store.
		if existing.Status == store.SendFailed {
			existing.Status = rec.Status
			existing.MessageID = rec.MessageID
			existing.TransportResponse = rec.TransportResponse
		}
		return nil
	}
	cp := *rec
	s.sends[rec.IdempotencyKey] = &cp
	return nil
}

type escalationStore mem

func (s *escalationStore) Append(_ context.Context, e *store.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = store.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	cp := *e
	s.escalations[e.ConversationID] = append(s.escalations[e.ConversationID], &cp)
	return nil
}

func (s *escalationStore) List(_ context.Context, convID uuid.UUID, limit int) ([]*store.Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	list := s.escalations[convID]
	out := make([]*store.Escalation, 0, len(list))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *list[i]
		out = append(out, &cp)
	}
	return out, nil
}

type followupStore mem

func (s *followupStore) Schedule(_ context.Context, f *store.Followup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == uuid.Nil {
		f.ID = store.NewID()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if f.Status == "" {
		f.Status = store.FollowupPending
	}
	cp := *f
	s.followups[f.ID] = &cp
	return nil
}

func (s *followupStore) Due(_ context.Context, now time.Time, limit int) ([]*store.Followup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	var out []*store.Followup
	for _, f := range s.followups {
		if f.Status == store.FollowupPending && !f.DueAt.After(now) {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *followupStore) MarkDone(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.followups[id]
	if !ok {
		return store.ErrNotFound
	}
	f.Status = store.FollowupDone
	return nil
}

func (s *followupStore) CancelPending(_ context.Context, convID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for _, f := range s.followups {
		if f.ConversationID == convID && f.Status == store.FollowupPending {
			f.Status = store.FollowupCancelled
			t := now
			f.CancelledAt = &t
			n++
		}
	}
	return n, nil
}

type listingStore mem

func (s *listingStore) Put(_ context.Context, l *store.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == uuid.Nil {
		l.ID = store.NewID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	cp := *l
	s.listings[l.AgentID] = append(s.listings[l.AgentID], &cp)
	return nil
}

func (s *listingStore) Search(_ context.Context, agentID uuid.UUID, q store.ListingQuery) ([]*store.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := q.Limit
	if limit <= 0 {
		limit = 3
	}
	var out []*store.Listing
	for _, l := range s.listings[agentID] {
		if !l.Active {
			continue
		}
		if q.Location != "" && !strings.EqualFold(q.Location, l.Location) {
			continue
		}
		if q.PropertyType != "" && !strings.EqualFold(q.PropertyType, l.PropertyType) {
			continue
		}
		if q.Bedrooms > 0 && q.Bedrooms != l.Bedrooms {
			continue
		}
		cp := *l
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
