package caps

import (
	"sort"

	"capdist.org/internal/captypes"
)

// The "read" slot is a default on every type. It is only worth distributing
// when the type remapped it to a concrete permission of its own; left unset
// or mapped to the literal slot name, it stays out of the resolved map.
const readSlot = "read"

// ResourceType is the view of a registered content type or taxonomy that
// resolution needs: the abstract-slot mapping and the meta-capability
// predicate.
type ResourceType interface {
	CapMap() map[string]string
	IsMeta(slot string) bool
}

// TypeSource is the live resource-type registry consulted on every
// evaluation. Registration state may change between calls; nothing resolved
// through it is ever cached.
type TypeSource interface {
	LookupContentType(name string) (ResourceType, bool)
	LookupTaxonomy(name string) (ResourceType, bool)
}

// ResolveCaps returns the distributable slot-to-permission mapping of a
// resource type: meta capabilities are dropped, as are slots with no concrete
// permission and the inert default "read" slot.
func ResolveCaps(rt ResourceType) map[string]string {
	if rt == nil {
		return nil
	}
	src := rt.CapMap()
	out := make(map[string]string, len(src))
	for slot, perm := range src {
		if perm == "" {
			continue
		}
		if rt.IsMeta(slot) {
			continue
		}
		if slot == readSlot && perm == readSlot {
			continue
		}
		out[slot] = perm
	}
	return out
}

func sortedSlots(caps map[string]string) []string {
	slots := make([]string, 0, len(caps))
	for slot := range caps {
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	return slots
}

type registrySource struct {
	reg *captypes.Registry
}

// TypesFrom adapts the in-process type registry to the TypeSource interface.
func TypesFrom(reg *captypes.Registry) TypeSource {
	return registrySource{reg: reg}
}

func (s registrySource) LookupContentType(name string) (ResourceType, bool) {
	t, ok := s.reg.LookupContentType(name)
	if !ok {
		return nil, false
	}
	return t, true
}

func (s registrySource) LookupTaxonomy(name string) (ResourceType, bool) {
	t, ok := s.reg.LookupTaxonomy(name)
	if !ok {
		return nil, false
	}
	return t, true
}
