package manager

import (
	"reflect"
	"testing"
)

func descriptors(provider string, names ...string) []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(names))
	for _, n := range names {
		out = append(out, ToolDescriptor{Name: n, Provider: provider})
	}
	return out
}

func TestRegistryWithProvider(t *testing.T) {
	reg := newToolRegistry().withProvider("calc", descriptors("calc", "add", "subtract"))

	if _, ok := reg.Lookup("calc", "add"); !ok {
		t.Error("expected calc/add to resolve")
	}
	if _, ok := reg.Lookup("calc", "missing"); ok {
		t.Error("calc/missing should not resolve")
	}
	if _, ok := reg.Lookup("other", "add"); ok {
		t.Error("other/add should not resolve")
	}
}

func TestRegistryReplaceWholesale(t *testing.T) {
	reg := newToolRegistry().withProvider("calc", descriptors("calc", "add"))
	reg = reg.withProvider("calc", descriptors("calc", "multiply"))

	if _, ok := reg.Lookup("calc", "add"); ok {
		t.Error("stale descriptor survived rediscovery")
	}
	if _, ok := reg.Lookup("calc", "multiply"); !ok {
		t.Error("new descriptor missing after rediscovery")
	}
}

func TestRegistrySnapshotsAreImmutable(t *testing.T) {
	base := newToolRegistry().withProvider("calc", descriptors("calc", "add"))
	derived := base.withProvider("notes", descriptors("notes", "search"))
	pruned := derived.withoutProvider("calc")

	if len(base.Tools()) != 1 {
		t.Errorf("base snapshot changed: %+v", base.Tools())
	}
	if len(derived.Tools()) != 2 {
		t.Errorf("derived snapshot wrong: %+v", derived.Tools())
	}
	if len(pruned.Tools()) != 1 || pruned.Tools()[0].Provider != "notes" {
		t.Errorf("pruned snapshot wrong: %+v", pruned.Tools())
	}
}

func TestRegistryWithoutUnknownProviderReturnsSame(t *testing.T) {
	reg := newToolRegistry().withProvider("calc", descriptors("calc", "add"))
	if reg.withoutProvider("ghost") != reg {
		t.Error("pruning an absent provider should return the same snapshot")
	}
}

func TestRegistryResolveAmbiguity(t *testing.T) {
	reg := newToolRegistry().
		withProvider("notion", descriptors("notion", "search")).
		withProvider("github", descriptors("github", "search", "open_issue"))

	matches := reg.Resolve("search")
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	providers := []string{matches[0].Provider, matches[1].Provider}
	if !reflect.DeepEqual(providers, []string{"github", "notion"}) {
		t.Errorf("candidates not sorted: %v", providers)
	}

	if len(reg.Resolve("open_issue")) != 1 {
		t.Error("unique tool should resolve to one provider")
	}
	if len(reg.Resolve("nope")) != 0 {
		t.Error("unknown tool should resolve to nothing")
	}
}

func TestRegistryToolsSorted(t *testing.T) {
	reg := newToolRegistry().
		withProvider("b", descriptors("b", "z", "a")).
		withProvider("a", descriptors("a", "m"))

	tools := reg.Tools()
	want := []string{"a/m", "b/a", "b/z"}
	got := make([]string, len(tools))
	for i, d := range tools {
		got[i] = d.Provider + "/" + d.Name
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	if !reflect.DeepEqual(reg.Providers(), []string{"a", "b"}) {
		t.Errorf("providers not sorted: %v", reg.Providers())
	}
}
