package respond

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/warelay/internal/store"
)

// buildSystemPrompt assembles the system prompt from the agent's persona and
// any listings pulled into context. The model never sees property data beyond
// this block, which is what keeps it from inventing inventory.
func buildSystemPrompt(agent *store.Agent, listings []*store.Listing) string {
	name := agent.AssistantName
	if name == "" {
		name = "Assistant"
	}
	style := agent.SpeakingStyle
	if style == "" {
		style = "friendly"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an assistant for a real estate agent.\n\n", name)
	fmt.Fprintf(&b, "Speaking style: %s\n\n", style)
	b.WriteString(`RULES:
1. Only discuss properties from the property list below.
2. Never invent property details, pricing, or availability.
3. If you don't have the information, say so clearly.
4. Keep responses under 3 paragraphs, plain text, no markdown.
`)

	if agent.CustomInstruction != "" {
		b.WriteString("\nADDITIONAL INSTRUCTIONS:\n")
		b.WriteString(agent.CustomInstruction)
		b.WriteString("\n")
	}

	if len(listings) > 0 {
		b.WriteString("\nAVAILABLE PROPERTIES:\n")
		b.WriteString(FormatListings(listings))
	} else {
		b.WriteString("\nNo properties currently available in the database.\n")
	}
	return b.String()
}

// FormatListings renders listings as the plain-text block used both in the
// prompt and in canned responses.
func FormatListings(listings []*store.Listing) string {
	var b strings.Builder
	for i, l := range listings {
		fmt.Fprintf(&b, "%d. %s — %s, %s, %d bedroom(s), S$%d\n",
			i+1, l.Title, l.Location, l.PropertyType, l.Bedrooms, l.PriceSGD)
		if l.Description != "" {
			fmt.Fprintf(&b, "   %s\n", l.Description)
		}
	}
	return b.String()
}
