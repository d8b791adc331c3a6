package llm

import "context"

// MockProvider returns a fixed or function-derived response without any
// network call. Used in tests and in local development when no Bedrock
// credentials are configured, mirroring the teacher's pattern of
// registering a degraded/mock provider rather than failing startup.
type MockProvider struct {
	RespondWith func(prompt string) string
	Healthy     bool
}

// NewMockProvider builds a MockProvider that always returns fixedContent.
func NewMockProvider(fixedContent string) *MockProvider {
	return &MockProvider{
		RespondWith: func(string) string { return fixedContent },
		Healthy:     true,
	}
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Query(ctx context.Context, prompt string, opts Options) (*Response, error) {
	content := ""
	if m.RespondWith != nil {
		content = m.RespondWith(prompt)
	}
	return &Response{Content: content, Provider: m.Name(), Model: "mock"}, nil
}

func (m *MockProvider) IsHealthy() bool { return m.Healthy }
