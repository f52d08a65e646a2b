package platform

import (
	"context"
	"sync"

	"github.com/agentstation/taxonsync/pkg/catalog"
)

// PendingPrefix marks the id of a resource that a dry run would have created.
const PendingPrefix = "pending:"

// Plan is a mutating call that a dry run withheld.
type Plan struct {
	Operation  catalog.Operation `json:"operation"`
	Kind       catalog.Kind      `json:"kind"`
	ExternalID string            `json:"external_id,omitempty"`
	Key        string            `json:"key,omitempty"`
}

// Guard passes reads through to a Platform and, when dry, records mutating
// calls as plans instead of performing them. Callers run the same code in
// both modes and only the final write differs.
type Guard struct {
	Platform
	dry bool

	mu    sync.Mutex
	plans []Plan
}

// NewGuard wraps p. With dry false every call reaches p unchanged.
func NewGuard(p Platform, dry bool) *Guard {
	return &Guard{Platform: p, dry: dry}
}

// DryRun reports whether mutating calls are withheld.
func (g *Guard) DryRun() bool {
	return g.dry
}

// Plans returns the withheld calls in the order they were made.
func (g *Guard) Plans() []Plan {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Plan(nil), g.plans...)
}

func (g *Guard) record(p Plan) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.plans = append(g.plans, p)
}

// Create implements Platform.
func (g *Guard) Create(ctx context.Context, kind catalog.Kind, draft Draft) (Resource, error) {
	if !g.dry {
		return g.Platform.Create(ctx, kind, draft)
	}
	id := PendingPrefix + draft.OwnerID
	g.record(Plan{Operation: catalog.OpCreate, Kind: kind, ExternalID: id, Key: draft.Key})
	return fromDraft(id, kind, draft), nil
}

// Update implements Platform.
func (g *Guard) Update(ctx context.Context, kind catalog.Kind, id string, draft Draft) (Resource, error) {
	if !g.dry {
		return g.Platform.Update(ctx, kind, id, draft)
	}
	g.record(Plan{Operation: catalog.OpUpdate, Kind: kind, ExternalID: id, Key: draft.Key})
	return fromDraft(id, kind, draft), nil
}

// Delete implements Platform.
func (g *Guard) Delete(ctx context.Context, kind catalog.Kind, id string) error {
	if !g.dry {
		return g.Platform.Delete(ctx, kind, id)
	}
	g.record(Plan{Operation: catalog.OpDelete, Kind: kind, ExternalID: id})
	return nil
}

// SetPublished implements Platform.
func (g *Guard) SetPublished(ctx context.Context, kind catalog.Kind, id string, published bool) error {
	if !g.dry {
		return g.Platform.SetPublished(ctx, kind, id, published)
	}
	op := catalog.OpUnpublish
	if published {
		op = catalog.OpPublish
	}
	g.record(Plan{Operation: op, Kind: kind, ExternalID: id})
	return nil
}

func fromDraft(id string, kind catalog.Kind, d Draft) Resource {
	return Resource{
		ID:         id,
		Kind:       kind,
		Key:        d.Key,
		Name:       d.Name,
		OwnerID:    d.OwnerID,
		Attributes: d.Attributes.Clone(),
	}
}
