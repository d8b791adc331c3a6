// Package llm abstracts over language-model backends behind a single
// Router, so the orchestrator's planner/aggregator and department
// workers' tool/creative calls all go through one interface regardless
// of which provider ultimately serves a role.
package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentfabric/platform/internal/model"
)

// Options carries per-call tuning; zero values mean "provider default".
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Response is a provider-agnostic LLM result.
type Response struct {
	Content      string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider is one named backend (Bedrock, a local mock, …).
type Provider interface {
	Name() string
	Query(ctx context.Context, prompt string, opts Options) (*Response, error)
	IsHealthy() bool
}

// Router resolves a role (planner/aggregator/tool/creative) to a model
// via UserPreferences, then dispatches to the configured provider for
// that model. Unlike the teacher's weighted multi-provider load balancer,
// this spec names one provider per deployment; Router keeps the same
// registration shape so a second provider can be added without a
// signature change.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
	// defaultProvider is used when a model string doesn't name one
	// explicitly (the common case: role -> bare model id).
	defaultProvider string
	defaultModels   map[string]string // role -> model id
}

// NewRouter constructs a Router with defaultModels giving the server-side
// fallback model id per role (planner/aggregator/tool/creative).
func NewRouter(defaultProvider string, defaultModels map[string]string) *Router {
	return &Router{
		providers:       make(map[string]Provider),
		defaultProvider: defaultProvider,
		defaultModels:   defaultModels,
	}
}

// Register adds a provider under its own name.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// QueryForRole resolves prefs for role (falling back to the server
// default) and dispatches to defaultProvider. The resolved model id is
// reported in Response.Model; it is not passed to the provider, which
// answers with its own configured model. Every call site names its role
// so the reported id reflects per-user overrides in UserPreferences
// uniformly across planner/aggregator/tool/creative calls.
func (r *Router) QueryForRole(ctx context.Context, role string, prefs *model.UserPreferences, prompt string, opts Options) (*Response, error) {
	def := r.defaultModels[role]
	modelID := prefs.ResolveModel(role, def)

	r.mu.RLock()
	p, ok := r.providers[r.defaultProvider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("llm: no provider registered as %q", r.defaultProvider)
	}

	resp, err := p.Query(ctx, prompt, opts)
	if err != nil {
		return nil, fmt.Errorf("llm: provider %s query failed: %w", p.Name(), err)
	}
	resp.Model = modelID
	return resp, nil
}

// IsHealthy reports whether the default provider is currently usable.
func (r *Router) IsHealthy() bool {
	r.mu.RLock()
	p, ok := r.providers[r.defaultProvider]
	r.mu.RUnlock()
	return ok && p.IsHealthy()
}
