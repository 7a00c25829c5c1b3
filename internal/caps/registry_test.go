package caps

import (
	"context"
	"testing"
)

// marker sets a single key, copying the incoming map the way policies do.
type marker struct {
	key   string
	value bool
}

func (m *marker) Evaluate(_ context.Context, allcaps map[string]bool, _ []string, _ []any, _ *User) map[string]bool {
	out := make(map[string]bool, len(allcaps)+1)
	for k, v := range allcaps {
		out[k] = v
	}
	out[m.key] = m.value
	return out
}

func TestRegistryPriorityOrdering(t *testing.T) {
	reg := NewRegistry()
	deny := &marker{key: "cap", value: false}
	grant := &marker{key: "cap", value: true}

	// Registered out of order; the lower priority must still run first.
	reg.Register(deny, 20)
	reg.Register(grant, 5)

	got := reg.Dispatch(context.Background(), nil, nil, nil, &User{ID: "u"})
	if got["cap"] {
		t.Fatalf("higher priority listener must win, got %v", got)
	}
}

func TestRegistryTieBreakByRegistrationOrder(t *testing.T) {
	reg := NewRegistry()
	first := &marker{key: "cap", value: true}
	second := &marker{key: "cap", value: false}
	reg.Register(first, 10)
	reg.Register(second, 10)

	got := reg.Dispatch(context.Background(), nil, nil, nil, &User{ID: "u"})
	if got["cap"] {
		t.Fatalf("later registration at equal priority must win, got %v", got)
	}
}

func TestRegistryUnregisterByIdentity(t *testing.T) {
	reg := NewRegistry()
	a := &marker{key: "a", value: true}
	b := &marker{key: "b", value: true}
	reg.Register(a, 10)
	reg.Register(b, 10)

	if !reg.Unregister(a, 10) {
		t.Fatalf("expected unregister to find the listener")
	}
	if reg.Unregister(a, 10) {
		t.Fatalf("second unregister should report false")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected one remaining listener, got %d", reg.Len())
	}

	got := reg.Dispatch(context.Background(), nil, nil, nil, &User{ID: "u"})
	if _, ok := got["a"]; ok {
		t.Fatalf("removed listener must not run, got %v", got)
	}
	if !got["b"] {
		t.Fatalf("remaining listener must run, got %v", got)
	}
}

func TestDispatchDoesNotMutateInitialMap(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&marker{key: "added", value: true}, 10)

	initial := map[string]bool{"existing": true}
	got := reg.Dispatch(context.Background(), initial, nil, nil, &User{ID: "u"})
	if len(initial) != 1 {
		t.Fatalf("initial map was mutated: %v", initial)
	}
	if !got["existing"] || !got["added"] {
		t.Fatalf("unexpected dispatch result: %v", got)
	}
}

func TestAtPriorityFlipsWinner(t *testing.T) {
	engine, _ := newTestEngine(t, editorOnly())

	grant, err := engine.GrantTo("editor")
	if err != nil {
		t.Fatalf("GrantTo: %v", err)
	}
	grant.Primitives("upload_files")

	deny, err := engine.DenyTo("editor")
	if err != nil {
		t.Fatalf("DenyTo: %v", err)
	}
	deny.Primitives("upload_files")

	// Equal priority: the later-registered deny wins.
	got := evalUser(t, engine, "u-editor")
	if got["upload_files"] {
		t.Fatalf("expected deny to win at equal priority, got %v", got)
	}

	// Moving the grant to a strictly later priority flips the outcome.
	grant.AtPriority(DefaultPriority + 5)
	got = evalUser(t, engine, "u-editor")
	if !got["upload_files"] {
		t.Fatalf("expected grant to win after reprioritization, got %v", got)
	}
}

func TestEnginePoliciesInCallOrder(t *testing.T) {
	engine, _ := newTestEngine(t, editorOnly())

	a, _ := engine.GrantTo("editor")
	b, _ := engine.DenyTo("viewer")
	b.AtPriority(5)

	policies := engine.Policies()
	if len(policies) != 2 {
		t.Fatalf("expected two policies, got %d", len(policies))
	}
	if policies[0] != b || policies[1] != a {
		t.Fatalf("policies not in call order")
	}

	found, ok := engine.Policy(a.ID())
	if !ok || found != a {
		t.Fatalf("Policy lookup by id failed")
	}
}
