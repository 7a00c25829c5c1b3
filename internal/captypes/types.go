package captypes

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput = errors.New("captypes: invalid input")
	ErrConflict     = errors.New("captypes: already registered")
)

// Kind distinguishes the two namespaces a resource type can live in.
type Kind string

const (
	KindContentType Kind = "content_type"
	KindTaxonomy    Kind = "taxonomy"
)

// Type describes a registered content type or taxonomy: the mapping from
// abstract capability slots ("edit_items", "delete_terms") to the concrete
// permission strings minted for this type, plus the slots that are meta
// capabilities and must never be assigned directly.
type Type struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`

	// Caps maps abstract slot names to concrete permission strings.
	Caps map[string]string `json:"caps"`

	// MetaCaps lists slots that are computed on top of primitives and are
	// excluded from distribution.
	MetaCaps []string `json:"meta_caps,omitempty"`
}

// CapMap returns the slot mapping. Nil-safe.
func (t *Type) CapMap() map[string]string {
	if t == nil {
		return nil
	}
	return t.Caps
}

// IsMeta reports whether slot is a meta capability of this type.
func (t *Type) IsMeta(slot string) bool {
	if t == nil {
		return false
	}
	for _, m := range t.MetaCaps {
		if m == slot {
			return true
		}
	}
	return false
}

func (t *Type) validate() error {
	if t == nil {
		return fmt.Errorf("%w: type is required", ErrInvalidInput)
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: type name is required", ErrInvalidInput)
	}
	if t.Kind != KindContentType && t.Kind != KindTaxonomy {
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidInput, t.Kind)
	}
	return nil
}
