// Package catalog defines the taxonomy records that taxonsync mirrors into
// external platforms, together with the mapping that ties each record to its
// external counterparts.
package catalog

import (
	"fmt"
	"strings"

	"github.com/agentstation/taxonsync/pkg/constants"
	"github.com/agentstation/taxonsync/pkg/errors"
)

// Kind is the taxonomy kind of an entity.
type Kind string

// String returns the string representation of a Kind.
func (k Kind) String() string {
	return string(k)
}

// Kind constants for the taxonomy kinds the engine knows about.
const (
	KindAuthor     Kind = "author"
	KindPublisher  Kind = "publisher"
	KindImprint    Kind = "imprint"
	KindCollection Kind = "collection"
	KindProduct    Kind = "product"
)

// Kinds returns all known kinds in their natural dependency order.
func Kinds() []Kind {
	return []Kind{KindAuthor, KindPublisher, KindImprint, KindCollection, KindProduct}
}

// ParseKind parses a kind name, accepting plural forms.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s"))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", errors.NewValidationError("kind", s, "unknown kind")
}

// PlatformID identifies an external system entities are mirrored into.
type PlatformID string

// String returns the string representation of a PlatformID.
func (id PlatformID) String() string {
	return string(id)
}

// ParentRef declares that a child kind references a parent kind through an
// attribute holding the parent's internal id.
type ParentRef struct {
	Kind  Kind   `json:"kind" yaml:"kind"`
	Field string `json:"field" yaml:"field"`
}

// RefField is the attribute that carries the parent's external id in the
// payload written to a platform.
func (p ParentRef) RefField() string {
	return p.Field + constants.ParentRefSuffix
}

// KindSpec describes one kind in a reconciliation run.
type KindSpec struct {
	Kind    Kind        `json:"kind" yaml:"kind"`
	Parents []ParentRef `json:"parents,omitempty" yaml:"parents,omitempty"`
}

// DefaultKindSpecs returns the standard publishing hierarchy:
// author and publisher are roots, imprints belong to publishers, collections
// belong to imprints, and products reference a collection and an author.
func DefaultKindSpecs() []KindSpec {
	return []KindSpec{
		{Kind: KindAuthor},
		{Kind: KindPublisher},
		{Kind: KindImprint, Parents: []ParentRef{{Kind: KindPublisher, Field: "publisher"}}},
		{Kind: KindCollection, Parents: []ParentRef{{Kind: KindImprint, Field: "imprint"}}},
		{Kind: KindProduct, Parents: []ParentRef{
			{Kind: KindCollection, Field: "collection"},
			{Kind: KindAuthor, Field: "author"},
		}},
	}
}

// ValidateOrder checks that every parent kind appears before its children.
// Parents absent from specs are allowed; their references are read from the store.
func ValidateOrder(specs []KindSpec) error {
	position := make(map[Kind]int, len(specs))
	for i, spec := range specs {
		if _, dup := position[spec.Kind]; dup {
			return errors.NewValidationError("kinds", spec.Kind, "kind listed more than once")
		}
		position[spec.Kind] = i
	}
	for i, spec := range specs {
		for _, parent := range spec.Parents {
			if parent.Field == "" {
				return errors.NewValidationError("parents", spec.Kind, "parent reference needs a field")
			}
			if at, ok := position[parent.Kind]; ok && at >= i {
				return errors.NewValidationError("kinds", spec.Kind,
					fmt.Sprintf("parent %s must be reconciled before %s", parent.Kind, spec.Kind))
			}
		}
	}
	return nil
}
