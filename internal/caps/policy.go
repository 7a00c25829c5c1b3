package caps

import (
	"context"
	"strings"
	"sync"
)

// DefaultPriority is where factory-built policies register. It matches the
// conventional listener priority of the host dispatch mechanism, leaving
// room on both sides for baseline and override rules.
const DefaultPriority = 10

type refKind int

const (
	refContentType refKind = iota
	refTaxonomy
)

type typeRef struct {
	kind refKind
	name string
}

// Policy is a single grant or deny rule. It is built through an Engine
// factory, configured through chained calls, and registered into dispatch at
// construction time. Target roles and polarity are fixed at construction;
// capability lists accumulate, refinements replace, and priority moves the
// policy within the dispatch order.
//
// A policy's contribution is recomputed from the live type registry on every
// evaluation; nothing is snapshotted.
type Policy struct {
	engine *Engine
	id     string

	grant    bool
	allRoles bool
	roles    []string

	mu         sync.Mutex
	priority   int
	primitives []string
	types      []typeRef
	exceptions []string
	only       []string
}

// ID returns the policy's identifier.
func (p *Policy) ID() string { return p.id }

// Grants reports the policy polarity: true grants, false denies.
func (p *Policy) Grants() bool { return p.grant }

// AllRoles reports whether the policy targets every role.
func (p *Policy) AllRoles() bool { return p.allRoles }

// Roles returns the target roles. Empty when AllRoles is set.
func (p *Policy) Roles() []string {
	return append([]string(nil), p.roles...)
}

// Priority returns the current dispatch priority.
func (p *Policy) Priority() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.priority
}

// PrimitiveCaps returns the accumulated primitive permission strings.
func (p *Policy) PrimitiveCaps() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.primitives...)
}

// ContentTypes returns the content-type names the policy resolves against.
func (p *Policy) ContentTypes() []string { return p.typeNames(refContentType) }

// Taxonomies returns the taxonomy names the policy resolves against.
func (p *Policy) Taxonomies() []string { return p.typeNames(refTaxonomy) }

func (p *Policy) typeNames(kind refKind) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ref := range p.types {
		if ref.kind == kind {
			out = append(out, ref.name)
		}
	}
	return out
}

// Exceptions returns the current exception slots.
func (p *Policy) Exceptions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.exceptions...)
}

// OnlySlots returns the current only-list.
func (p *Policy) OnlySlots() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.only...)
}

// Primitives accumulates primitive permission strings into the policy.
// Duplicates and blanks are dropped. Returns the policy for chaining.
func (p *Policy) Primitives(names ...string) *Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || containsString(p.primitives, name) {
			continue
		}
		p.primitives = append(p.primitives, name)
	}
	return p
}

// CapsFor targets resource types by name without requiring the caller to
// know the namespace: each name is tried as a content type and as a
// taxonomy, and a name valid as both contributes both. Use CapsForType or
// CapsForTaxonomy when the namespaces genuinely collide and only one side is
// wanted.
func (p *Policy) CapsFor(names ...string) *Policy {
	p.CapsForType(names...)
	return p.CapsForTaxonomy(names...)
}

// CapsForType accumulates content-type names whose capabilities the policy
// distributes. Types need not be registered yet; unresolved names simply
// contribute nothing until they appear.
func (p *Policy) CapsForType(names ...string) *Policy {
	return p.addTypes(refContentType, names)
}

// CapsForTaxonomy accumulates taxonomy names, with the same late-binding
// behavior as CapsForType.
func (p *Policy) CapsForTaxonomy(names ...string) *Policy {
	return p.addTypes(refTaxonomy, names)
}

func (p *Policy) addTypes(kind refKind, names []string) *Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		ref := typeRef{kind: kind, name: name}
		if p.hasTypeLocked(ref) {
			continue
		}
		p.types = append(p.types, ref)
	}
	return p
}

func (p *Policy) hasTypeLocked(ref typeRef) bool {
	for _, have := range p.types {
		if have == ref {
			return true
		}
	}
	return false
}

// Except replaces the exception slots: during resource-type resolution, the
// named slots receive the opposite of the policy polarity. Exceptions apply
// to abstract slots only, never to primitives, and take precedence over an
// only-list. Each call replaces the previous set.
func (p *Policy) Except(slots ...string) *Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exceptions = cleanSlots(slots)
	return p
}

// Only replaces the only-list: when non-empty, every resolved slot not named
// here is forced to the opposite polarity. Like Except, it is a slot-space
// refinement with replace semantics.
func (p *Policy) Only(slots ...string) *Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.only = cleanSlots(slots)
	return p
}

// AtPriority moves the policy to a new dispatch priority: it deregisters at
// the current one and re-registers at n, so between two policies at the same
// priority the one registered later is merged last and wins on overlap.
func (p *Policy) AtPriority(n int) *Policy {
	p.mu.Lock()
	old := p.priority
	p.priority = n
	p.mu.Unlock()

	p.engine.reg.Unregister(p, old)
	p.engine.reg.Register(p, n)
	p.engine.emit(Event{Kind: EventPolicyReprioritized, PolicyID: p.id, Priority: n})
	return p
}

// ThenGrantTo builds a follow-up grant policy seeded with this policy's
// primitives and resource-type targets, registered one priority later so it
// overrides this one for the given roles. Exceptions and only-lists are not
// copied; each link in a chain starts with a clean refinement state. Further
// configuration applies to the returned policy, not this one.
func (p *Policy) ThenGrantTo(roles ...string) (*Policy, error) {
	return p.chain(true, roles)
}

// ThenDenyTo is the deny counterpart of ThenGrantTo.
func (p *Policy) ThenDenyTo(roles ...string) (*Policy, error) {
	return p.chain(false, roles)
}

func (p *Policy) chain(grant bool, roles []string) (*Policy, error) {
	p.mu.Lock()
	priority := p.priority + 1
	primitives := append([]string(nil), p.primitives...)
	types := append([]typeRef(nil), p.types...)
	p.mu.Unlock()

	next, err := p.engine.newPolicy(grant, roles, false, priority)
	if err != nil {
		return nil, err
	}
	if len(primitives) > 0 {
		next.Primitives(primitives...)
	}
	for _, ref := range types {
		switch ref.kind {
		case refContentType:
			next.CapsForType(ref.name)
		case refTaxonomy:
			next.CapsForTaxonomy(ref.name)
		}
	}
	return next, nil
}

// Evaluate is the dispatch listener: when the user's roles intersect the
// policy's targets (or the policy targets all roles and the user holds at
// least one), the policy's resolved map is merged on top of allcaps;
// otherwise allcaps is returned unchanged. The incoming map is never
// mutated.
func (p *Policy) Evaluate(ctx context.Context, allcaps map[string]bool, requested []string, args []any, user *User) map[string]bool {
	_ = ctx
	_ = requested
	_ = args
	if !p.matches(user) {
		return allcaps
	}
	contribution := p.Map()
	if len(contribution) == 0 {
		return allcaps
	}
	merged := make(map[string]bool, len(allcaps)+len(contribution))
	for k, v := range allcaps {
		merged[k] = v
	}
	for k, v := range contribution {
		merged[k] = v
	}
	return merged
}

func (p *Policy) matches(user *User) bool {
	if user == nil {
		return false
	}
	if p.allRoles {
		return len(user.Roles) > 0
	}
	return user.HasAnyRole(p.roles...)
}

// Map computes the policy's permission contribution from its current fields
// and the live type registry: primitives first, then each resource type in
// the order it was added, later types overwriting earlier ones on key
// collision. Unregistered types contribute nothing. Within a type, an
// only-list forces absent slots to the opposite polarity and exceptions are
// applied last, overriding everything.
func (p *Policy) Map() map[string]bool {
	p.mu.Lock()
	types := append([]typeRef(nil), p.types...)
	primitives := append([]string(nil), p.primitives...)
	exceptions := append([]string(nil), p.exceptions...)
	only := append([]string(nil), p.only...)
	p.mu.Unlock()

	out := make(map[string]bool, len(primitives))
	for _, perm := range primitives {
		out[perm] = p.grant
	}

	for _, ref := range types {
		rt, ok := p.lookup(ref)
		if !ok {
			continue
		}
		resolved := ResolveCaps(rt)
		for _, slot := range sortedSlots(resolved) {
			value := p.grant
			if len(only) > 0 && !containsString(only, slot) {
				value = !p.grant
			}
			if containsString(exceptions, slot) {
				value = !p.grant
			}
			out[resolved[slot]] = value
		}
	}
	return out
}

func (p *Policy) lookup(ref typeRef) (ResourceType, bool) {
	if ref.kind == refTaxonomy {
		return p.engine.types.LookupTaxonomy(ref.name)
	}
	return p.engine.types.LookupContentType(ref.name)
}

func cleanSlots(slots []string) []string {
	var out []string
	for _, slot := range slots {
		slot = strings.TrimSpace(slot)
		if slot == "" || containsString(out, slot) {
			continue
		}
		out = append(out, slot)
	}
	return out
}
