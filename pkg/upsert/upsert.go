// Package upsert writes entities to platforms idempotently and repairs
// unique-key collisions by relocating the resource in the way.
package upsert

import (
	"context"

	"github.com/agentstation/utc"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/constants"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/logging"
	"github.com/agentstation/taxonsync/pkg/platform"
	"github.com/agentstation/taxonsync/pkg/resolve"
	"github.com/agentstation/taxonsync/pkg/retry"
)

// Options configures an Upserter.
type Options struct {
	DryRun         bool
	MaxRelocations int
}

// Relocation records a resource moved off a contested key.
type Relocation struct {
	ResourceID string `json:"resource_id"`
	OwnerID    string `json:"owner_id,omitempty"`
	From       string `json:"from"`
	To         string `json:"to"`
}

// Outcome describes what an upsert did, or in a dry run would have done.
type Outcome struct {
	Operation   catalog.Operation // create, update or skip
	Ref         catalog.ExternalRef
	Resource    platform.Resource
	Via         resolve.Via
	Relocations []Relocation
	Plans       []platform.Plan // withheld calls, dry run only
}

// Upserter performs collision-safe create-or-update.
type Upserter struct {
	resolver *resolve.Resolver
	retry    *retry.Executor
	keys     *KeyAllocator
	claims   *claims
	opts     Options
}

// New creates an Upserter. The allocator is shared by every upsert the
// Upserter performs.
func New(resolver *resolve.Resolver, ex *retry.Executor, keys *KeyAllocator, opts Options) *Upserter {
	if opts.MaxRelocations <= 0 {
		opts.MaxRelocations = constants.DefaultMaxRelocations
	}
	if keys == nil {
		keys = NewKeyAllocator(constants.RelocationSpread)
	}
	return &Upserter{resolver: resolver, retry: ex, keys: keys, claims: newClaims(), opts: opts}
}

// Reserve records that resource externalID mirrors entity internalID, usually
// from a stored reference, before any upsert runs. The first entity to claim
// a resource keeps it; later matches by other entities fail as ambiguous.
func (u *Upserter) Reserve(p catalog.PlatformID, kind catalog.Kind, externalID, internalID string) {
	u.claims.claim(p, kind, externalID, internalID)
}

// DryRun reports whether the Upserter withholds mutating calls.
func (u *Upserter) DryRun() bool {
	return u.opts.DryRun
}

// Upsert makes p hold a resource mirroring e with the desired attributes and
// records the resulting reference on e. A nil desired uses e's own
// attributes. In a dry run every step runs except the mutating calls, and e
// is left untouched. Upserts of the same entity on the same platform run one
// at a time.
func (u *Upserter) Upsert(ctx context.Context, e *catalog.Entity, p platform.Platform, desired catalog.Attributes) (Outcome, error) {
	release := u.claims.lock(p.ID(), e.Kind, e.InternalID)
	defer release()

	guard := platform.NewGuard(p, u.opts.DryRun)
	out, err := u.upsert(ctx, e, guard, desired)
	out.Plans = guard.Plans()
	return out, err
}

func (u *Upserter) upsert(ctx context.Context, e *catalog.Entity, p *platform.Guard, desired catalog.Attributes) (Outcome, error) {
	logger := logging.FromContext(ctx).With().
		Str("platform", p.ID().String()).
		Str("kind", e.Kind.String()).
		Str("entity", e.InternalID).
		Logger()

	res, err := u.resolver.Resolve(ctx, e, p)
	if err != nil {
		return Outcome{}, err
	}
	if res.Status == resolve.Ambiguous {
		return Outcome{Operation: catalog.OpSkip}, res.Err(p.ID(), e)
	}

	if desired == nil {
		desired = e.Attributes
	}
	desiredKey := catalog.DefaultKey(e)
	out := Outcome{Via: res.Via}

	var write func(context.Context) (platform.Resource, error)
	var draft platform.Draft

	switch res.Status {
	case resolve.Found:
		current := res.Resource
		if owner, ok := u.claims.claim(p.ID(), e.Kind, current.ID, e.InternalID); !ok {
			logger.Warn().
				Str("external_id", current.ID).
				Str("claimed_by", owner).
				Msg("Resource already matched to another entity")
			return Outcome{Operation: catalog.OpSkip, Via: res.Via}, &errors.AmbiguousError{
				Platform:   p.ID().String(),
				Kind:       e.Kind.String(),
				NaturalKey: e.NaturalKey,
				Candidates: []string{current.ID},
			}
		}
		u.keys.Observe(p.ID(), e.Kind, current.Key)

		// The key only moves when the entity's own key changed since the
		// last sync. A first match keeps whatever key the platform has.
		key := current.Key
		if ref, ok := e.Ref(p.ID()); ok && ref.SourceKey != "" && ref.SourceKey != desiredKey {
			key = desiredKey
		}
		draft = platform.DraftFor(e, key, desired)

		if current.Matches(draft) {
			logger.Debug().Str("via", string(res.Via)).Msg("Resource up to date")
			out.Operation = catalog.OpSkip
			out.Resource = current
			out.Ref = u.confirm(e, p, current, desiredKey)
			return out, nil
		}
		if logger.GetLevel() <= zerolog.DebugLevel {
			logger.Debug().
				Str("external_id", current.ID).
				Str("diff", cmp.Diff(current.Attributes, draft.Attributes)).
				Msg("Updating resource")
		}
		out.Operation = catalog.OpUpdate
		write = func(ctx context.Context) (platform.Resource, error) {
			return p.Update(ctx, e.Kind, current.ID, draft)
		}

	default:
		draft = platform.DraftFor(e, desiredKey, desired)
		out.Operation = catalog.OpCreate
		write = func(ctx context.Context) (platform.Resource, error) {
			return p.Create(ctx, e.Kind, draft)
		}
		// A known occupant would reject the create; move it first.
		if res.Occupant != nil {
			moved, err := u.relocate(ctx, p, e.Kind, draft.Key)
			if err != nil {
				return out, err
			}
			if moved != nil {
				out.Relocations = append(out.Relocations, *moved)
			}
		}
	}

	written, err := u.write(ctx, p, e, draft, write, &out)
	if err != nil {
		return out, err
	}
	u.claims.claim(p.ID(), e.Kind, written.ID, e.InternalID)

	out.Resource = written
	out.Ref = u.confirm(e, p, written, desiredKey)
	logger.Debug().
		Str("operation", out.Operation.String()).
		Str("external_id", written.ID).
		Int("relocations", len(out.Relocations)).
		Msg("Upserted resource")
	return out, nil
}

// write performs the create or update of draft, repairing each unique-key
// conflict on draft.Key. A create whose key is held by a resource stamped
// with e's own id turns into an update of that resource; any other occupant
// is relocated.
func (u *Upserter) write(ctx context.Context, p *platform.Guard, e *catalog.Entity, draft platform.Draft,
	op func(context.Context) (platform.Resource, error), out *Outcome) (platform.Resource, error) {
	kind, key := e.Kind, draft.Key
	for attempt := 0; ; attempt++ {
		written, err := retry.Do(ctx, u.retry, string(out.Operation)+" "+kind.String(), op)
		if err == nil {
			return written, nil
		}
		if !errors.IsConflict(err) {
			return platform.Resource{}, err
		}
		if attempt >= u.opts.MaxRelocations {
			return platform.Resource{}, &errors.RelocationError{
				Platform: p.ID().String(),
				Kind:     kind.String(),
				Key:      key,
				Attempts: attempt,
				Err:      err,
			}
		}

		occupant, err := u.occupant(ctx, p, kind, key)
		if errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return platform.Resource{}, err
		}

		if out.Operation == catalog.OpCreate && e.InternalID != "" && occupant.OwnerID == e.InternalID {
			if _, ok := u.claims.claim(p.ID(), kind, occupant.ID, e.InternalID); ok {
				logging.FromContext(ctx).Info().
					Str("platform", p.ID().String()).
					Str("kind", kind.String()).
					Str("key", key).
					Str("external_id", occupant.ID).
					Msg("Key already held by this entity, adopting resource")
				if occupant.Matches(draft) {
					out.Operation = catalog.OpSkip
					return occupant, nil
				}
				out.Operation = catalog.OpUpdate
				id := occupant.ID
				op = func(ctx context.Context) (platform.Resource, error) {
					return p.Update(ctx, kind, id, draft)
				}
				continue
			}
		}

		logging.FromContext(ctx).Info().
			Str("platform", p.ID().String()).
			Str("kind", kind.String()).
			Str("key", key).
			Msg("Unique key conflict, relocating occupant")

		moved, err := u.move(ctx, p, kind, occupant, key)
		if err != nil {
			return platform.Resource{}, err
		}
		out.Relocations = append(out.Relocations, *moved)
	}
}

// occupant returns the resource holding key.
func (u *Upserter) occupant(ctx context.Context, p *platform.Guard, kind catalog.Kind, key string) (platform.Resource, error) {
	return retry.Do(ctx, u.retry, "find "+kind.String(), func(ctx context.Context) (platform.Resource, error) {
		return p.FindByKey(ctx, kind, key)
	})
}

// relocate moves the resource holding key to a fresh synthetic key. It
// returns nil when the key turns out to be free already.
func (u *Upserter) relocate(ctx context.Context, p *platform.Guard, kind catalog.Kind, key string) (*Relocation, error) {
	occupant, err := u.occupant(ctx, p, kind, key)
	if errors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u.move(ctx, p, kind, occupant, key)
}

// move writes occupant under the first synthetic key that is confirmed free.
func (u *Upserter) move(ctx context.Context, p *platform.Guard, kind catalog.Kind, occupant platform.Resource, key string) (*Relocation, error) {
	var lastErr error
	for attempt := 1; attempt <= u.opts.MaxRelocations; attempt++ {
		candidate := u.keys.Next(p.ID(), kind)

		_, err := u.occupant(ctx, p, kind, candidate)
		switch {
		case err == nil:
			lastErr = &errors.ConflictError{Platform: p.ID().String(), Kind: kind.String(), Key: candidate, Reason: "synthetic key already taken"}
			continue
		case !errors.IsNotFound(err):
			return nil, err
		}

		moved := platform.Draft{
			Key:        candidate,
			Name:       occupant.Name,
			OwnerID:    occupant.OwnerID,
			Attributes: occupant.Attributes,
		}
		_, err = retry.Do(ctx, u.retry, "relocate "+kind.String(), func(ctx context.Context) (platform.Resource, error) {
			return p.Update(ctx, kind, occupant.ID, moved)
		})
		if errors.IsConflict(err) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}

		logging.FromContext(ctx).Info().
			Str("platform", p.ID().String()).
			Str("kind", kind.String()).
			Str("external_id", occupant.ID).
			Str("from", key).
			Str("to", candidate).
			Bool("dry_run", p.DryRun()).
			Msg("Relocated resource")
		return &Relocation{ResourceID: occupant.ID, OwnerID: occupant.OwnerID, From: key, To: candidate}, nil
	}

	return nil, &errors.RelocationError{
		Platform: p.ID().String(),
		Kind:     kind.String(),
		Key:      key,
		Attempts: u.opts.MaxRelocations,
		Err:      lastErr,
	}
}

// confirm builds the reference for a resource the platform has confirmed
// and records it on e. Dry runs return the reference without recording it.
func (u *Upserter) confirm(e *catalog.Entity, p *platform.Guard, r platform.Resource, sourceKey string) catalog.ExternalRef {
	ref := catalog.ExternalRef{
		ExternalID:   r.ID,
		Key:          r.Key,
		SourceKey:    sourceKey,
		LastSyncedAt: utc.Now(),
	}
	if p.DryRun() {
		return ref
	}
	if prev, ok := e.Ref(p.ID()); ok && prev.ExternalID == ref.ExternalID && prev.Key == ref.Key && prev.SourceKey == ref.SourceKey {
		return prev
	}
	e.SetRef(p.ID(), ref)
	return ref
}
