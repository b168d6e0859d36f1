// Package escalate decides when a conversation must be handed to the human
// agent based on inbound message content.
package escalate

import "strings"

// Category names the policy trigger that forced a handoff.
type Category string

const (
	CategoryNone            Category = ""
	CategoryHumanRequest    Category = "human_request"
	CategoryNegotiation     Category = "negotiation"
	CategoryLegal           Category = "legal"
	CategoryObjection       Category = "objection"
	CategoryRepeatedFailure Category = "repeated_failure"
)

// DefaultMissThreshold is the number of consecutive inbound messages with no
// listing match after which the conversation escalates.
const DefaultMissThreshold = 3

// Decision is the classifier output. Escalate is false when Category is none.
type Decision struct {
	Category Category
	Handoff  string
}

// Escalate reports whether the decision forces a transition to human.
func (d Decision) Escalate() bool { return d.Category != CategoryNone }

// Keyword policies per category. Matching is case-insensitive substring; the
// categories are checked in priority order because the handoff text differs
// and only the highest-priority one is reported.
var (
	humanRequestTerms = []string{
		"real person", "human agent", "speak to a human", "talk to a human",
		"speak to someone", "talk to the agent", "speak to the agent",
		"real agent", "actual person", "speak with a person",
	}
	negotiationTerms = []string{
		"lower the price", "discount", "negotiate", "best price", "price is too high",
		"can you do better", "reduce the price", "counter offer", "counteroffer",
		"knock off", "final price",
	}
	legalTerms = []string{
		"contract", "option to purchase", "otp", "lawyer", "legal", "stamp duty",
		"tenancy agreement", "lease terms", "clause",
	}
	objectionTerms = []string{
		"not interested", "too expensive", "too small", "too far",
		"i don't like", "not what i", "concern", "worried", "problem with",
		"disappointed",
	}
)

// Classify inspects the inbound text against the trigger policy.
// consecutiveMisses is the conversation's running count of inbound messages
// that produced no listing match; at missThreshold (<=0 means the default) it
// escalates even when no keyword category fires. Pure function, no side
// effects.
func Classify(text string, consecutiveMisses, missThreshold int) Decision {
	if missThreshold <= 0 {
		missThreshold = DefaultMissThreshold
	}
	normalized := strings.ToLower(text)

	for _, c := range []struct {
		category Category
		terms    []string
	}{
		{CategoryHumanRequest, humanRequestTerms},
		{CategoryNegotiation, negotiationTerms},
		{CategoryLegal, legalTerms},
		{CategoryObjection, objectionTerms},
	} {
		for _, term := range c.terms {
			if strings.Contains(normalized, term) {
				return Decision{Category: c.category, Handoff: handoffText[c.category]}
			}
		}
	}

	if consecutiveMisses >= missThreshold {
		return Decision{Category: CategoryRepeatedFailure, Handoff: handoffText[CategoryRepeatedFailure]}
	}

	return Decision{}
}

// handoffText is the final automated message shown to the contact per
// category. The agent takes over from there.
var handoffText = map[Category]string{
	CategoryHumanRequest:    "Of course! Let me connect you with the agent directly. They'll be with you shortly.",
	CategoryNegotiation:     "Pricing is something the agent handles personally. I've looped them in and they'll get back to you shortly.",
	CategoryLegal:           "For contract and legal details, the agent will follow up with you directly to make sure everything is accurate.",
	CategoryObjection:       "I hear you. Let me bring in the agent so they can address this properly. They'll reach out shortly.",
	CategoryRepeatedFailure: "Let me get the agent to help you with this one. They'll be in touch shortly.",
}
