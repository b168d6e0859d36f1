package escalate

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		misses int
		want   Category
	}{
		{"plain inquiry", "Any 3-bedroom condos in Tampines?", 0, CategoryNone},
		{"human request", "Can I speak to a human please", 0, CategoryHumanRequest},
		{"human request casing", "I want to talk to a HUMAN", 0, CategoryHumanRequest},
		{"negotiation", "Can you lower the price a bit?", 0, CategoryNegotiation},
		{"negotiation discount", "any discount for early buyers?", 0, CategoryNegotiation},
		{"legal", "What does the tenancy agreement say?", 0, CategoryLegal},
		{"legal otp", "when do I sign the OTP?", 0, CategoryLegal},
		{"objection", "honestly this is too expensive for me", 0, CategoryObjection},
		{"repeated failure at threshold", "hmm ok", DefaultMissThreshold, CategoryRepeatedFailure},
		{"repeated failure below threshold", "hmm ok", DefaultMissThreshold - 1, CategoryNone},
		{"empty text", "", 0, CategoryNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Classify(tt.text, tt.misses, 0)
			if d.Category != tt.want {
				t.Fatalf("Classify(%q, %d) = %q, want %q", tt.text, tt.misses, d.Category, tt.want)
			}
			if d.Escalate() != (tt.want != CategoryNone) {
				t.Fatalf("Escalate() inconsistent with category %q", d.Category)
			}
			if d.Escalate() && d.Handoff == "" {
				t.Fatal("escalating decision must carry handoff text")
			}
		})
	}
}

// The categories are priority-ordered; when a message matches several, the
// highest-priority handoff is the one reported.
func TestClassifyPriority(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Category
	}{
		{"human beats negotiation", "let me talk to a human about a discount", CategoryHumanRequest},
		{"negotiation beats legal", "can we negotiate the contract price", CategoryNegotiation},
		{"legal beats objection", "I'm worried about the lease terms", CategoryLegal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if d := Classify(tt.text, 0, 0); d.Category != tt.want {
				t.Fatalf("Classify(%q) = %q, want %q", tt.text, d.Category, tt.want)
			}
		})
	}
}

func TestClassifyConfiguredThreshold(t *testing.T) {
	if d := Classify("hmm ok", 5, 5); d.Category != CategoryRepeatedFailure {
		t.Fatalf("got %q, want repeated failure at configured threshold", d.Category)
	}
	if d := Classify("hmm ok", DefaultMissThreshold, 5); d.Category != CategoryNone {
		t.Fatalf("got %q, default threshold must not apply when overridden", d.Category)
	}
}

// Keyword escalation wins over the repeated-failure counter even when both fire.
func TestClassifyKeywordBeatsCounter(t *testing.T) {
	d := Classify("what about stamp duty?", DefaultMissThreshold+1, 0)
	if d.Category != CategoryLegal {
		t.Fatalf("got %q, want %q", d.Category, CategoryLegal)
	}
}
