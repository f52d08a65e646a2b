// Package platform defines the contract every external system must satisfy
// to receive taxonomy records.
package platform

import (
	"context"
	"sync/atomic"

	"github.com/agentstation/taxonsync/pkg/catalog"
)

// Resource is the platform-side record of an entity.
type Resource struct {
	ID         string             `json:"id"`
	Kind       catalog.Kind       `json:"kind"`
	Key        string             `json:"key"`
	Name       string             `json:"name"`
	OwnerID    string             `json:"owner_id,omitempty"` // internal id of the entity that wrote it
	Attributes catalog.Attributes `json:"attributes,omitempty"`
	Published  bool               `json:"published"`
}

// Draft is the payload of a create or update.
type Draft struct {
	Key        string             `json:"key"`
	Name       string             `json:"name"`
	OwnerID    string             `json:"owner_id,omitempty"`
	Attributes catalog.Attributes `json:"attributes,omitempty"`
}

// Platform is an external system that stores resources under a unique key
// per kind. Implementations translate their own failures into the typed
// errors of pkg/errors: a missing resource satisfies errors.IsNotFound and a
// key collision is an *errors.ConflictError.
type Platform interface {
	ID() catalog.PlatformID
	Get(ctx context.Context, kind catalog.Kind, id string) (Resource, error)
	FindByKey(ctx context.Context, kind catalog.Kind, key string) (Resource, error)
	// SearchByName returns every resource whose name matches query loosely.
	// Callers decide what counts as an exact match.
	SearchByName(ctx context.Context, kind catalog.Kind, query string) ([]Resource, error)
	Create(ctx context.Context, kind catalog.Kind, draft Draft) (Resource, error)
	Update(ctx context.Context, kind catalog.Kind, id string, draft Draft) (Resource, error)
	Delete(ctx context.Context, kind catalog.Kind, id string) error
	SetPublished(ctx context.Context, kind catalog.Kind, id string, published bool) error
}

// DraftFor builds the payload that mirrors entity e under key.
func DraftFor(e *catalog.Entity, key string, attrs catalog.Attributes) Draft {
	if attrs == nil {
		attrs = e.Attributes
	}
	return Draft{
		Key:        key,
		Name:       e.NaturalKey,
		OwnerID:    e.InternalID,
		Attributes: attrs.Clone(),
	}
}

// Matches reports whether r already mirrors draft.
func (r Resource) Matches(d Draft) bool {
	return r.Key == d.Key && r.Name == d.Name && r.OwnerID == d.OwnerID && r.Attributes.Equal(d.Attributes)
}

// Counter wraps a Platform and counts the mutating calls that reach it.
type Counter struct {
	Platform
	creates, updates, deletes, publishes atomic.Int64
}

// NewCounter wraps p.
func NewCounter(p Platform) *Counter {
	return &Counter{Platform: p}
}

// Create implements Platform.
func (c *Counter) Create(ctx context.Context, kind catalog.Kind, draft Draft) (Resource, error) {
	c.creates.Add(1)
	return c.Platform.Create(ctx, kind, draft)
}

// Update implements Platform.
func (c *Counter) Update(ctx context.Context, kind catalog.Kind, id string, draft Draft) (Resource, error) {
	c.updates.Add(1)
	return c.Platform.Update(ctx, kind, id, draft)
}

// Delete implements Platform.
func (c *Counter) Delete(ctx context.Context, kind catalog.Kind, id string) error {
	c.deletes.Add(1)
	return c.Platform.Delete(ctx, kind, id)
}

// SetPublished implements Platform.
func (c *Counter) SetPublished(ctx context.Context, kind catalog.Kind, id string, published bool) error {
	c.publishes.Add(1)
	return c.Platform.SetPublished(ctx, kind, id, published)
}

// Creates returns the number of Create calls.
func (c *Counter) Creates() int { return int(c.creates.Load()) }

// Updates returns the number of Update calls.
func (c *Counter) Updates() int { return int(c.updates.Load()) }

// Deletes returns the number of Delete calls.
func (c *Counter) Deletes() int { return int(c.deletes.Load()) }

// Mutations returns the total number of mutating calls.
func (c *Counter) Mutations() int {
	return int(c.creates.Load() + c.updates.Load() + c.deletes.Load() + c.publishes.Load())
}
