// Package resolve finds the external counterpart of an internal entity on a
// platform without modifying anything.
package resolve

import (
	"context"
	"sort"

	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/logging"
	"github.com/agentstation/taxonsync/pkg/platform"
	"github.com/agentstation/taxonsync/pkg/retry"
)

// Status is the outcome of a lookup.
type Status int

const (
	// NotFound means no counterpart exists.
	NotFound Status = iota
	// Found means exactly one counterpart was identified.
	Found
	// Ambiguous means the natural-key fallback matched more than one
	// resource, or matched only loosely. It is never acted on automatically.
	Ambiguous
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case Ambiguous:
		return "ambiguous"
	default:
		return "not_found"
	}
}

// Via records which lookup step produced a match.
type Via string

// Lookup steps, in the order they are tried.
const (
	ViaRef  Via = "ref"
	ViaKey  Via = "key"
	ViaName Via = "name"
)

// Result describes what a resolution found.
type Result struct {
	Status     Status
	Resource   platform.Resource
	Via        Via
	Candidates []platform.Resource // set when Ambiguous

	// Occupant is a resource holding the entity's key on behalf of another
	// entity. It is reported whatever the final status.
	Occupant *platform.Resource

	// StaleRef is set when the recorded reference no longer resolved.
	StaleRef bool
}

// Err returns an *errors.AmbiguousError for ambiguous results and nil otherwise.
func (r Result) Err(p catalog.PlatformID, e *catalog.Entity) error {
	if r.Status != Ambiguous {
		return nil
	}
	ids := make([]string, len(r.Candidates))
	for i, c := range r.Candidates {
		ids[i] = c.ID
	}
	return &errors.AmbiguousError{
		Platform:   p.String(),
		Kind:       e.Kind.String(),
		NaturalKey: e.NaturalKey,
		Candidates: ids,
	}
}

// Resolver looks entities up on platforms.
type Resolver struct {
	retry *retry.Executor
}

// New creates a Resolver issuing every platform call through ex.
func New(ex *retry.Executor) *Resolver {
	return &Resolver{retry: ex}
}

// Resolve finds e's counterpart on p, trying in order: the recorded
// reference, the deterministic key, then an exact case-insensitive match on
// the natural key.
func (r *Resolver) Resolve(ctx context.Context, e *catalog.Entity, p platform.Platform) (Result, error) {
	logger := logging.FromContext(ctx).With().
		Str("platform", p.ID().String()).
		Str("entity", e.InternalID).
		Logger()

	var result Result

	if ref, ok := e.Ref(p.ID()); ok {
		res, err := retry.Do(ctx, r.retry, "get "+e.Kind.String(), func(ctx context.Context) (platform.Resource, error) {
			return p.Get(ctx, e.Kind, ref.ExternalID)
		})
		switch {
		case err == nil:
			result.Status, result.Resource, result.Via = Found, res, ViaRef
			return result, nil
		case errors.IsNotFound(err):
			logger.Debug().Str("external_id", ref.ExternalID).Msg("Recorded reference no longer resolves")
			result.StaleRef = true
		default:
			return Result{}, err
		}
	}

	key := catalog.DefaultKey(e)
	res, err := retry.Do(ctx, r.retry, "find "+e.Kind.String(), func(ctx context.Context) (platform.Resource, error) {
		return p.FindByKey(ctx, e.Kind, key)
	})
	switch {
	case err == nil && ownedBy(res, e):
		result.Status, result.Resource, result.Via = Found, res, ViaKey
		return result, nil
	case err == nil:
		logger.Debug().
			Str("key", key).
			Str("occupant", res.ID).
			Str("owner", res.OwnerID).
			Msg("Key held by another entity")
		occupant := res
		result.Occupant = &occupant
	case !errors.IsNotFound(err):
		return Result{}, err
	}

	if e.NaturalKey == "" {
		return result, nil
	}
	hits, err := retry.Do(ctx, r.retry, "search "+e.Kind.String(), func(ctx context.Context) ([]platform.Resource, error) {
		return p.SearchByName(ctx, e.Kind, e.NaturalKey)
	})
	if err != nil {
		return Result{}, err
	}

	exact, near := matchName(hits, e)
	switch {
	case len(exact) == 1:
		result.Status, result.Resource, result.Via = Found, exact[0], ViaName
	case len(exact) > 1:
		result.Status, result.Candidates = Ambiguous, exact
	case len(near) > 0:
		result.Status, result.Candidates = Ambiguous, near
	}
	if result.Status == Ambiguous {
		logger.Warn().
			Str("natural_key", e.NaturalKey).
			Int("candidates", len(result.Candidates)).
			Msg("Ambiguous natural-key match")
	}
	return result, nil
}

// matchName splits search hits into exact case-insensitive matches and
// near matches that only agree once punctuation and spacing are folded.
// Resources stamped with another owner never match.
func matchName(hits []platform.Resource, e *catalog.Entity) (exact, near []platform.Resource) {
	want := catalog.FoldKey(e.NaturalKey)
	wantNorm := catalog.NormalizeName(e.NaturalKey)
	for _, h := range hits {
		if !ownedBy(h, e) || h.Kind != "" && h.Kind != e.Kind {
			continue
		}
		switch {
		case catalog.FoldKey(h.Name) == want:
			exact = append(exact, h)
		case catalog.NormalizeName(h.Name) == wantNorm:
			near = append(near, h)
		}
	}
	sortByID(exact)
	sortByID(near)
	return exact, near
}

// ownedBy reports whether r may be e's counterpart. Unstamped resources
// predate ownership tracking and can be claimed.
func ownedBy(r platform.Resource, e *catalog.Entity) bool {
	return r.OwnerID == "" || r.OwnerID == e.InternalID
}

func sortByID(rs []platform.Resource) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
}
