package providers

import (
	"context"
	"strings"
)

// MockProvider returns deterministic responses without any network call.
// Used in development mode and tests.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Generate(_ context.Context, req Request) (*Reply, error) {
	if strings.Contains(req.System, "AVAILABLE PROPERTIES") {
		return &Reply{Text: "Thank you for your interest! I found a great match for you. " +
			"Would you like to schedule a viewing? I'm available to show it anytime this week!"}, nil
	}
	return &Reply{Text: "Thank you for reaching out! I'd be happy to help you find the " +
		"perfect property. Could you tell me a bit more about what you're looking for? " +
		"For example, preferred location, number of bedrooms, and your budget range?"}, nil
}
