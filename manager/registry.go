package manager

import "sort"

// ToolDescriptor is immutable metadata for one callable tool. Names are
// unique within a provider only; the registry's bare-name index exists
// to catch cross-provider collisions.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
	Provider    string         `json:"provider"`
}

// ToolRegistry is an immutable snapshot of every advertised tool across
// the active providers. The Manager swaps whole snapshots atomically;
// nothing ever mutates one in place, so readers can hold a snapshot for
// as long as they like.
type ToolRegistry struct {
	byProvider map[string][]ToolDescriptor
	byName     map[string][]ToolDescriptor
}

func newToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		byProvider: map[string][]ToolDescriptor{},
		byName:     map[string][]ToolDescriptor{},
	}
}

// withProvider derives a snapshot with the given provider's tools
// replacing any previous advertisement wholesale.
func (r *ToolRegistry) withProvider(provider string, tools []ToolDescriptor) *ToolRegistry {
	next := newToolRegistry()
	for name, ts := range r.byProvider {
		if name != provider {
			next.byProvider[name] = ts
		}
	}
	next.byProvider[provider] = tools
	next.reindex()
	return next
}

// withoutProvider derives a snapshot with the provider's tools pruned.
func (r *ToolRegistry) withoutProvider(provider string) *ToolRegistry {
	if _, ok := r.byProvider[provider]; !ok {
		return r
	}
	next := newToolRegistry()
	for name, ts := range r.byProvider {
		if name != provider {
			next.byProvider[name] = ts
		}
	}
	next.reindex()
	return next
}

func (r *ToolRegistry) reindex() {
	for _, tools := range r.byProvider {
		for _, t := range tools {
			r.byName[t.Name] = append(r.byName[t.Name], t)
		}
	}
}

// Lookup finds one tool on one provider.
func (r *ToolRegistry) Lookup(provider, tool string) (ToolDescriptor, bool) {
	for _, t := range r.byProvider[provider] {
		if t.Name == tool {
			return t, true
		}
	}
	return ToolDescriptor{}, false
}

// Resolve returns every descriptor sharing a bare tool name, across
// providers, sorted by provider for stable ambiguity reports.
func (r *ToolRegistry) Resolve(tool string) []ToolDescriptor {
	matches := append([]ToolDescriptor(nil), r.byName[tool]...)
	sort.Slice(matches, func(i, j int) bool { return matches[i].Provider < matches[j].Provider })
	return matches
}

// ProviderTools returns the tools one provider advertises, in
// advertisement order.
func (r *ToolRegistry) ProviderTools(provider string) []ToolDescriptor {
	return append([]ToolDescriptor(nil), r.byProvider[provider]...)
}

// Tools returns every descriptor, sorted by provider then tool name.
func (r *ToolRegistry) Tools() []ToolDescriptor {
	var all []ToolDescriptor
	for _, tools := range r.byProvider {
		all = append(all, tools...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Provider != all[j].Provider {
			return all[i].Provider < all[j].Provider
		}
		return all[i].Name < all[j].Name
	})
	return all
}

// Providers lists provider names present in the snapshot, sorted.
func (r *ToolRegistry) Providers() []string {
	names := make([]string, 0, len(r.byProvider))
	for name := range r.byProvider {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
