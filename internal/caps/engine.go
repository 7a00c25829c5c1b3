// Package caps implements the capability-distribution engine: declarative
// grant/deny policies that compute, whenever a permission check fires, which
// concrete permission strings should join or leave a user's effective
// permission set. Policies target roles directly or resource types whose
// abstract capability slots are resolved at evaluation time, so types
// registered after a policy was built are still picked up and types removed
// later stop contributing.
package caps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"capdist.org/internal/ids"
)

// Event kinds emitted through Config.OnEvent.
const (
	EventPolicyRegistered    = "policy.registered"
	EventPolicyUnregistered  = "policy.unregistered"
	EventPolicyReprioritized = "policy.reprioritized"
)

// Event describes a policy lifecycle transition.
type Event struct {
	Kind     string `json:"kind"`
	PolicyID string `json:"policy_id"`
	Priority int    `json:"priority"`
}

// Config wires the engine's collaborators.
type Config struct {
	// Users resolves user references to role lists. Required.
	Users UserResolver

	// Types is the live resource-type registry. Required.
	Types TypeSource

	// Registry receives policy evaluators as they are built. Optional; a
	// fresh registry is created when nil. Inject one to share the dispatch
	// sequence with host-registered listeners, or to reset state in tests.
	Registry *Registry

	// OnEvent, when set, observes policy lifecycle transitions.
	OnEvent func(Event)
}

// Engine owns policy construction and dispatch. Policies built through its
// factory methods register themselves immediately and persist until
// explicitly deregistered.
type Engine struct {
	users   UserResolver
	types   TypeSource
	reg     *Registry
	onEvent func(Event)
}

// NewEngine validates the collaborators and returns a ready engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Users == nil {
		return nil, errors.New("caps: user resolver is required")
	}
	if cfg.Types == nil {
		return nil, errors.New("caps: type source is required")
	}
	reg := cfg.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	return &Engine{
		users:   cfg.Users,
		types:   cfg.Types,
		reg:     reg,
		onEvent: cfg.OnEvent,
	}, nil
}

// Registry returns the dispatch registry the engine registers policies into.
func (e *Engine) Registry() *Registry {
	return e.reg
}

// GrantTo builds a policy granting its capabilities to the given roles and
// registers it at the default priority.
func (e *Engine) GrantTo(roles ...string) (*Policy, error) {
	return e.newPolicy(true, roles, false, DefaultPriority)
}

// DenyTo builds a policy denying its capabilities to the given roles and
// registers it at the default priority.
func (e *Engine) DenyTo(roles ...string) (*Policy, error) {
	return e.newPolicy(false, roles, false, DefaultPriority)
}

// GrantToAll builds a policy that grants its capabilities to any user holding
// at least one role, whichever it is.
func (e *Engine) GrantToAll() *Policy {
	p, _ := e.newPolicy(true, nil, true, DefaultPriority)
	return p
}

// DenyToAll is the deny counterpart of GrantToAll.
func (e *Engine) DenyToAll() *Policy {
	p, _ := e.newPolicy(false, nil, true, DefaultPriority)
	return p
}

func (e *Engine) newPolicy(grant bool, roles []string, allRoles bool, priority int) (*Policy, error) {
	var targets []string
	if !allRoles {
		for _, role := range roles {
			role = strings.TrimSpace(role)
			if role == "" {
				continue
			}
			if !containsString(targets, role) {
				targets = append(targets, role)
			}
		}
		if len(targets) == 0 {
			return nil, ErrNoTarget
		}
	}
	p := &Policy{
		engine:   e,
		id:       ids.New(),
		grant:    grant,
		allRoles: allRoles,
		roles:    targets,
		priority: priority,
	}
	e.reg.Register(p, priority)
	e.emit(Event{Kind: EventPolicyRegistered, PolicyID: p.id, Priority: priority})
	return p, nil
}

// Deregister removes a policy from dispatch. The policy stops contributing
// immediately; re-registering it requires building a new one.
func (e *Engine) Deregister(p *Policy) bool {
	if p == nil {
		return false
	}
	ok := e.reg.Unregister(p, p.Priority())
	if ok {
		e.emit(Event{Kind: EventPolicyUnregistered, PolicyID: p.id, Priority: p.Priority()})
	}
	return ok
}

// Policies returns the engine-built policies currently registered, in call
// order. Host-registered listeners that are not policies are skipped.
func (e *Engine) Policies() []*Policy {
	evs := e.reg.Evaluators()
	out := make([]*Policy, 0, len(evs))
	for _, ev := range evs {
		if p, ok := ev.(*Policy); ok {
			out = append(out, p)
		}
	}
	return out
}

// Policy returns the registered policy with the given id.
func (e *Engine) Policy(id string) (*Policy, bool) {
	for _, p := range e.Policies() {
		if p.id == id {
			return p, true
		}
	}
	return nil, false
}

// RolesIntersect resolves the user reference and reports whether the user's
// assigned roles share at least one element with the given list. It fails
// closed: an unknown user, a user without roles, or an empty query all
// report false.
func (e *Engine) RolesIntersect(ctx context.Context, ref string, roles ...string) bool {
	u, err := e.users.ResolveUser(ctx, ref)
	if err != nil || u == nil {
		return false
	}
	return u.HasAnyRole(roles...)
}

// UserCaps resolves the user and runs the full dispatch sequence with an
// empty starting map, exactly as a host permission check would.
func (e *Engine) UserCaps(ctx context.Context, ref string) (map[string]bool, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: user reference is required", ErrInvalidInput)
	}
	u, err := e.users.ResolveUser(ctx, ref)
	if err != nil {
		return nil, err
	}
	return e.reg.Dispatch(ctx, nil, nil, nil, u), nil
}

func (e *Engine) emit(ev Event) {
	if e.onEvent != nil {
		e.onEvent(ev)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
