// Package respond composes candidate replies: it pulls conversation history
// and listing context together and calls the generation provider. It has no
// authority over sending; the pipeline decides what happens to the candidate.
package respond

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/warelay/internal/providers"
	"github.com/nextlevelbuilder/warelay/internal/store"
)

const historyWindow = 10

// DefaultMaxTokens bounds the generation budget per reply.
const DefaultMaxTokens = 1024

// fallbackText is the conservative canned response used when generation
// fails entirely.
const fallbackText = "Thanks for your message! Let me check on that and get back to you shortly."

// Responder builds generation requests from stored state.
type Responder struct {
	provider  providers.Provider
	messages  store.MessageStore
	listings  store.ListingStore
	maxTokens int
}

// Option configures the responder.
type Option func(*Responder)

// WithMaxTokens overrides the generation budget per reply.
func WithMaxTokens(n int) Option {
	return func(r *Responder) {
		if n > 0 {
			r.maxTokens = n
		}
	}
}

// New creates a responder.
func New(provider providers.Provider, messages store.MessageStore, listings store.ListingStore, opts ...Option) *Responder {
	r := &Responder{provider: provider, messages: messages, listings: listings, maxTokens: DefaultMaxTokens}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Result carries the candidate text and whether listing context matched the
// inbound ask (the repeated-failure counter tracks the misses).
type Result struct {
	Text         string
	ListingMatch bool
	UsedFallback bool
}

// Compose generates a candidate reply for the inbound text. Generation
// failure is not an error to the caller: the fallback text is returned with
// UsedFallback set so the pipeline can report SAVED_UNSAT on send failure.
func (r *Responder) Compose(ctx context.Context, conv *store.Conversation, agent *store.Agent, inbound string) (*Result, error) {
	intent := DetectIntent(inbound)

	var listings []*store.Listing
	if !Empty(intent) {
		found, err := r.listings.Search(ctx, conv.AgentID, intent)
		if err != nil {
			return nil, fmt.Errorf("listing search: %w", err)
		}
		listings = found
	}

	history, err := r.messages.History(ctx, conv.ID, historyWindow)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	req := providers.Request{
		System:    buildSystemPrompt(agent, listings),
		Messages:  toProviderMessages(history, inbound),
		MaxTokens: r.maxTokens,
	}

	reply, err := r.provider.Generate(ctx, req)
	if err != nil {
		slog.Warn("generation failed, using fallback",
			"conversation_id", conv.ID, "provider", r.provider.Name(), "error", err)
		return &Result{Text: fallbackText, ListingMatch: len(listings) > 0, UsedFallback: true}, nil
	}

	return &Result{Text: reply.Text, ListingMatch: len(listings) > 0}, nil
}

// toProviderMessages maps stored history to provider roles. The inbound
// message is already persisted, so it appears at the tail of history; if it
// does not (stale read), it is appended explicitly.
func toProviderMessages(history []*store.Message, inbound string) []providers.Message {
	msgs := make([]providers.Message, 0, len(history)+1)
	for _, m := range history {
		role := "assistant"
		if m.Origin == store.OriginExternal {
			role = "user"
		}
		msgs = append(msgs, providers.Message{Role: role, Content: m.Body})
	}
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != "user" || msgs[len(msgs)-1].Content != inbound {
		msgs = append(msgs, providers.Message{Role: "user", Content: inbound})
	}
	return msgs
}
