// Package memory provides an in-process platform that enforces unique keys
// per kind. It backs the mock platform server and the engine's tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/platform"
)

// Op names a platform call for interceptors.
type Op string

// Platform operations visible to an Interceptor.
const (
	OpGet          Op = "get"
	OpFindByKey    Op = "find_by_key"
	OpSearchByName Op = "search_by_name"
	OpCreate       Op = "create"
	OpUpdate       Op = "update"
	OpDelete       Op = "delete"
	OpSetPublished Op = "set_published"
)

// Interceptor runs before every call. A non-nil error is returned to the
// caller instead of performing the call. target is the id, key or query.
type Interceptor func(op Op, kind catalog.Kind, target string) error

// Platform is a thread-safe in-memory platform.
type Platform struct {
	id        catalog.PlatformID
	intercept Interceptor

	mu        sync.RWMutex
	resources map[catalog.Kind]map[string]*platform.Resource // kind -> id -> resource
	keys      map[catalog.Kind]map[string]string             // kind -> key -> id
}

// Option configures a Platform.
type Option func(*Platform)

// WithInterceptor installs a hook that can fail calls.
func WithInterceptor(fn Interceptor) Option {
	return func(p *Platform) {
		p.intercept = fn
	}
}

// New creates an empty platform.
func New(id catalog.PlatformID, opts ...Option) *Platform {
	p := &Platform{
		id:        id,
		resources: make(map[catalog.Kind]map[string]*platform.Resource),
		keys:      make(map[catalog.Kind]map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ platform.Platform = (*Platform)(nil)

// ID implements platform.Platform.
func (p *Platform) ID() catalog.PlatformID {
	return p.id
}

func (p *Platform) check(ctx context.Context, op Op, kind catalog.Kind, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.intercept != nil {
		return p.intercept(op, kind, target)
	}
	return nil
}

// Get implements platform.Platform.
func (p *Platform) Get(ctx context.Context, kind catalog.Kind, id string) (platform.Resource, error) {
	if err := p.check(ctx, OpGet, kind, id); err != nil {
		return platform.Resource{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	r, ok := p.resources[kind][id]
	if !ok {
		return platform.Resource{}, errors.NewNotFoundError(kind.String(), id)
	}
	return clone(r), nil
}

// FindByKey implements platform.Platform.
func (p *Platform) FindByKey(ctx context.Context, kind catalog.Kind, key string) (platform.Resource, error) {
	if err := p.check(ctx, OpFindByKey, kind, key); err != nil {
		return platform.Resource{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	id, ok := p.keys[kind][key]
	if !ok {
		return platform.Resource{}, errors.NewNotFoundError(kind.String()+" key", key)
	}
	return clone(p.resources[kind][id]), nil
}

// SearchByName implements platform.Platform. It matches loosely: any
// resource whose normalized name contains the normalized query.
func (p *Platform) SearchByName(ctx context.Context, kind catalog.Kind, query string) ([]platform.Resource, error) {
	if err := p.check(ctx, OpSearchByName, kind, query); err != nil {
		return nil, err
	}
	q := catalog.NormalizeName(query)
	if q == "" {
		return nil, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []platform.Resource
	for _, r := range p.resources[kind] {
		if strings.Contains(catalog.NormalizeName(r.Name), q) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Create implements platform.Platform.
func (p *Platform) Create(ctx context.Context, kind catalog.Kind, draft platform.Draft) (platform.Resource, error) {
	if err := p.check(ctx, OpCreate, kind, draft.Key); err != nil {
		return platform.Resource{}, err
	}
	if draft.Key == "" {
		return platform.Resource{}, errors.NewValidationError("key", draft.Key, "key is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if holder, taken := p.keys[kind][draft.Key]; taken {
		return platform.Resource{}, p.conflict(kind, draft.Key, holder)
	}
	r := &platform.Resource{
		ID:         uuid.NewString(),
		Kind:       kind,
		Key:        draft.Key,
		Name:       draft.Name,
		OwnerID:    draft.OwnerID,
		Attributes: draft.Attributes.Clone(),
	}
	p.put(r)
	return clone(r), nil
}

// Update implements platform.Platform.
func (p *Platform) Update(ctx context.Context, kind catalog.Kind, id string, draft platform.Draft) (platform.Resource, error) {
	if err := p.check(ctx, OpUpdate, kind, id); err != nil {
		return platform.Resource{}, err
	}
	if draft.Key == "" {
		return platform.Resource{}, errors.NewValidationError("key", draft.Key, "key is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.resources[kind][id]
	if !ok {
		return platform.Resource{}, errors.NewNotFoundError(kind.String(), id)
	}
	if holder, taken := p.keys[kind][draft.Key]; taken && holder != id {
		return platform.Resource{}, p.conflict(kind, draft.Key, holder)
	}

	delete(p.keys[kind], r.Key)
	r.Key = draft.Key
	r.Name = draft.Name
	r.OwnerID = draft.OwnerID
	r.Attributes = draft.Attributes.Clone()
	p.keys[kind][r.Key] = r.ID
	return clone(r), nil
}

// Delete implements platform.Platform.
func (p *Platform) Delete(ctx context.Context, kind catalog.Kind, id string) error {
	if err := p.check(ctx, OpDelete, kind, id); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.resources[kind][id]
	if !ok {
		return errors.NewNotFoundError(kind.String(), id)
	}
	delete(p.keys[kind], r.Key)
	delete(p.resources[kind], id)
	return nil
}

// SetPublished implements platform.Platform.
func (p *Platform) SetPublished(ctx context.Context, kind catalog.Kind, id string, published bool) error {
	if err := p.check(ctx, OpSetPublished, kind, id); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.resources[kind][id]
	if !ok {
		return errors.NewNotFoundError(kind.String(), id)
	}
	r.Published = published
	return nil
}

// Seed stores a resource as-is, assigning an id when it has none. It is
// how tests and the mock server preload state that taxonsync did not write.
func (p *Platform) Seed(r platform.Resource) (platform.Resource, error) {
	if r.Key == "" {
		return platform.Resource{}, errors.NewValidationError("key", r.Key, "key is required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if holder, taken := p.keys[r.Kind][r.Key]; taken {
		return platform.Resource{}, p.conflict(r.Kind, r.Key, holder)
	}
	if _, exists := p.resources[r.Kind][r.ID]; exists {
		return platform.Resource{}, errors.NewValidationError("id", r.ID, "id already exists")
	}
	stored := clone(&r)
	p.put(&stored)
	return clone(&stored), nil
}

// List returns every resource of kind ordered by key.
func (p *Platform) List(kind catalog.Kind) []platform.Resource {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]platform.Resource, 0, len(p.resources[kind]))
	for _, r := range p.resources[kind] {
		out = append(out, clone(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of resources of kind.
func (p *Platform) Len(kind catalog.Kind) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.resources[kind])
}

// put indexes r. Callers hold the write lock.
func (p *Platform) put(r *platform.Resource) {
	if p.resources[r.Kind] == nil {
		p.resources[r.Kind] = make(map[string]*platform.Resource)
		p.keys[r.Kind] = make(map[string]string)
	}
	p.resources[r.Kind][r.ID] = r
	p.keys[r.Kind][r.Key] = r.ID
}

func (p *Platform) conflict(kind catalog.Kind, key, holder string) error {
	return &errors.ConflictError{
		Platform: p.id.String(),
		Kind:     kind.String(),
		Key:      key,
		Reason:   "key held by " + holder,
	}
}

func clone(r *platform.Resource) platform.Resource {
	out := *r
	out.Attributes = r.Attributes.Clone()
	return out
}
