package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrNoBackends is returned when no configured backend initialized. This is
// a fatal configuration error at startup.
var ErrNoBackends = errors.New("provider: no backends initialized")

// GenerationError wraps a backend failure during structured or free-text
// generation: the call itself, the decode, or schema validation.
type GenerationError struct {
	Backend string
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("provider %s: generation failed: %v", e.Backend, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Validator is implemented by schema types that carry field constraints.
// The router validates decoded objects before handing them to callers.
type Validator interface {
	Validate() error
}

// BackendConfig describes one named model backend.
type BackendConfig struct {
	Name    string
	Type    string // "openai" (default) or "anthropic"
	APIKey  string
	BaseURL string
	Model   string
}

// Router holds named backends and dispatches generation calls to the active
// one. The router never retries; retry policy belongs to the backend.
type Router struct {
	mu      sync.RWMutex
	entries map[string]Provider
	active  string
	logger  *slog.Logger
}

// NewRouter initializes backends from the config list. A backend that fails
// to initialize is skipped with a logged error; the first one that succeeds
// becomes active. Zero initialized backends is fatal.
func NewRouter(configs []BackendConfig, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		entries: make(map[string]Provider),
		logger:  logger,
	}

	for _, cfg := range configs {
		p, err := newBackend(cfg)
		if err != nil {
			logger.Error("backend failed to initialize", "backend", cfg.Name, "error", err)
			continue
		}
		r.entries[cfg.Name] = p
		if r.active == "" {
			r.active = cfg.Name
		}
		logger.Info("backend initialized", "backend", cfg.Name, "type", p.Name(), "model", cfg.Model)
	}

	if len(r.entries) == 0 {
		return nil, ErrNoBackends
	}
	return r, nil
}

func newBackend(cfg BackendConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("backend %s: api key is required", cfg.Name)
	}

	switch cfg.Type {
	case "anthropic":
		var opts []AnthropicOption
		if cfg.BaseURL != "" {
			opts = append(opts, WithAnthropicBaseURL(cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, WithAnthropicModel(cfg.Model))
		}
		return NewAnthropic(cfg.APIKey, opts...), nil
	case "", "openai":
		var opts []OpenAIOption
		if cfg.BaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, WithModel(cfg.Model))
		}
		return NewOpenAI(cfg.APIKey, opts...), nil
	}
	return nil, fmt.Errorf("backend %s: unknown type %q", cfg.Name, cfg.Type)
}

// Switch changes the active backend. Returns false (with no side effects)
// if the name is unknown.
func (r *Router) Switch(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[name]; !ok {
		return false
	}
	r.active = name
	r.logger.Info("active backend switched", "backend", name)
	return true
}

// Active returns the name of the active backend.
func (r *Router) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Backends returns the names of all initialized backends.
func (r *Router) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

func (r *Router) current() (string, Provider) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active, r.entries[r.active]
}

// GenerateStructured sends the messages to the active backend and decodes
// the result into out, which must conform to the given JSON schema. Decode
// or validation failures surface as a GenerationError.
func (r *Router) GenerateStructured(ctx context.Context, messages []Message, schemaName string, schema map[string]any, out any) error {
	name, p := r.current()

	raw, err := p.GenerateObject(ctx, ObjectRequest{
		Messages:   messages,
		SchemaName: schemaName,
		Schema:     schema,
	})
	if err != nil {
		return &GenerationError{Backend: name, Err: err}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &GenerationError{Backend: name, Err: fmt.Errorf("decode structured response: %w", err)}
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return &GenerationError{Backend: name, Err: fmt.Errorf("invalid structured response: %w", err)}
		}
	}
	return nil
}

// GenerateText sends a free-text prompt to the active backend. Errors are
// always surfaced, never swallowed.
func (r *Router) GenerateText(ctx context.Context, system, prompt string) (string, error) {
	name, p := r.current()

	text, err := p.GenerateText(ctx, TextRequest{System: system, Prompt: prompt})
	if err != nil {
		return "", &GenerationError{Backend: name, Err: err}
	}
	return text, nil
}
