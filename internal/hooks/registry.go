package hooks

import "fmt"

// Registry looks up the adapter for a source name, used by
// internal/httpapi's /hooks/execute handler.
type Registry struct {
	adapters map[SourceKind]Adapter
}

// NewRegistry builds the registry with all four first-class adapters.
func NewRegistry() *Registry {
	return &Registry{adapters: map[SourceKind]Adapter{
		SourceClaude:      ClaudeAdapter{},
		SourceGemini:      GeminiAdapter{},
		SourceCodex:       CodexAdapter{},
		SourceAntigravity: AntigravityAdapter{},
	}}
}

// Lookup returns the adapter for source, or an error if source is unknown
// (the HTTP boundary maps this to 400, §6.1).
func (r *Registry) Lookup(source string) (Adapter, error) {
	a, ok := r.adapters[SourceKind(source)]
	if !ok {
		return nil, fmt.Errorf("unknown hook source %q", source)
	}
	return a, nil
}
