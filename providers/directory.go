package providers

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"botgate/config"
	"botgate/models"
)

// Directory maps provider identifiers to factories. Adding a backend is one
// Register call; callers only ever see Provider.
type Directory struct {
	mu        sync.RWMutex
	factories map[string]Factory
	configs   map[string]config.ProviderConfig
	deps      Deps
}

// NewDirectory returns a directory with the built-in providers registered.
func NewDirectory(configs map[string]config.ProviderConfig, deps Deps) *Directory {
	d := &Directory{
		factories: make(map[string]Factory),
		configs:   configs,
		deps:      deps,
	}
	d.Register(models.PROVIDER_OPENAI, NewOpenAI)
	d.Register(models.PROVIDER_ANTHROPIC, NewAnthropic)
	return d
}

// Register adds or replaces the factory of name.
func (d *Directory) Register(name string, f Factory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.factories[strings.ToLower(strings.TrimSpace(name))] = f
}

// Names lists the registered identifiers.
func (d *Directory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.factories))
	for n := range d.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve builds the provider configured on agent. Every failure wraps
// ErrMisconfigured.
func (d *Directory) Resolve(agent *models.Agent) (Provider, error) {
	if agent == nil {
		return nil, fmt.Errorf("%w: no agent", ErrMisconfigured)
	}
	name := strings.ToLower(strings.TrimSpace(agent.Provider))

	d.mu.RLock()
	factory, ok := d.factories[name]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: agent %d: unknown provider %q", ErrMisconfigured, agent.ID, agent.Provider)
	}

	p, err := factory(d.Settings(agent), d.deps)
	if err != nil {
		return nil, fmt.Errorf("%w: agent %d: %s: %v", ErrMisconfigured, agent.ID, name, err)
	}
	return p, nil
}

// Settings resolves the configuration of the agent's provider: per-agent
// key and model win over the operator-wide ones.
func (d *Directory) Settings(agent *models.Agent) Settings {
	name := strings.ToLower(strings.TrimSpace(agent.Provider))
	pc := d.configs[name]

	s := Settings{
		Provider:  name,
		APIKey:    strings.TrimSpace(pc.ApiKey),
		BaseURL:   pc.BaseURL,
		Model:     pc.Model,
		MaxTokens: pc.MaxTokens,
	}
	if key := strings.TrimSpace(agent.ApiKey); key != "" {
		s.APIKey = key
	}
	if model := strings.TrimSpace(agent.Model); model != "" {
		s.Model = model
	}
	return s
}
