package catalog

import (
	"maps"

	"github.com/agentstation/utc"
)

// Attributes holds the kind-specific fields of an entity.
type Attributes map[string]string

// Equal reports whether two attribute sets hold exactly the same fields.
func (a Attributes) Equal(other Attributes) bool {
	return maps.Equal(a, other)
}

// Clone returns a copy of the attributes.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return Attributes{}
	}
	return maps.Clone(a)
}

// ExternalRef records the counterpart of an entity on one platform.
type ExternalRef struct {
	ExternalID   string   `json:"external_id" yaml:"external_id"`                   // Id assigned by the platform
	Key          string   `json:"key" yaml:"key"`                                   // Unique key the resource held at sync time
	SourceKey    string   `json:"source_key,omitempty" yaml:"source_key,omitempty"` // Entity-derived key claimed at sync time
	LastSyncedAt utc.Time `json:"last_synced_at" yaml:"last_synced_at"`
}

// IsZero reports whether the ref is empty.
func (r ExternalRef) IsZero() bool {
	return r.ExternalID == ""
}

// Entity is an internal taxonomy record read from the source of truth.
type Entity struct {
	Kind         Kind                       `json:"kind" yaml:"kind"`
	InternalID   string                     `json:"internal_id" yaml:"internal_id"`
	NaturalKey   string                     `json:"natural_key" yaml:"natural_key"`
	Attributes   Attributes                 `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	ExternalRefs map[PlatformID]ExternalRef `json:"external_refs,omitempty" yaml:"external_refs,omitempty"`
	UpdatedAt    utc.Time                   `json:"updated_at" yaml:"updated_at"`
}

// Ref returns the entity's reference on a platform.
func (e *Entity) Ref(platform PlatformID) (ExternalRef, bool) {
	ref, ok := e.ExternalRefs[platform]
	return ref, ok && !ref.IsZero()
}

// SetRef records a reference. Only the upsert path calls this, after a
// confirmed external write.
func (e *Entity) SetRef(platform PlatformID, ref ExternalRef) {
	if e.ExternalRefs == nil {
		e.ExternalRefs = make(map[PlatformID]ExternalRef)
	}
	e.ExternalRefs[platform] = ref
}

// RefsCopy returns a copy of the reference map safe to hand to other goroutines.
func (e *Entity) RefsCopy() map[PlatformID]ExternalRef {
	return maps.Clone(e.ExternalRefs)
}

// Clone returns a deep copy of the entity.
func (e Entity) Clone() Entity {
	e.Attributes = e.Attributes.Clone()
	e.ExternalRefs = maps.Clone(e.ExternalRefs)
	return e
}

// DefaultKey derives the deterministic external unique key of an entity.
func DefaultKey(e *Entity) string {
	return e.InternalID
}
