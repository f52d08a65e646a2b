// Package fetch materializes complete, deduplicated collections from
// paginated sources.
package fetch

import (
	"context"
	"sort"
	"strings"

	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/constants"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/logging"
	"github.com/agentstation/taxonsync/pkg/retry"
)

// Cursor is the iteration state handed to a Source for one page request.
type Cursor struct {
	Page       int // 1-based
	PageSize   int
	TotalKnown int // items seen so far
}

// Page is one page of a collection. Sources fill either HasMore or
// TotalPages; a page shorter than the requested size always ends iteration.
type Page struct {
	Items       []catalog.Entity
	HasMore     bool
	TotalPages  int
	CurrentPage int
}

// Source is a paginated collection of entities.
type Source interface {
	ListPage(ctx context.Context, kind catalog.Kind, cursor Cursor) (Page, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, kind catalog.Kind, cursor Cursor) (Page, error)

// ListPage implements Source.
func (f SourceFunc) ListPage(ctx context.Context, kind catalog.Kind, cursor Cursor) (Page, error) {
	return f(ctx, kind, cursor)
}

// Stats describes what a fetch saw.
type Stats struct {
	Pages      int
	Fetched    int
	Duplicates int
	Invalid    int
}

// Fetcher retrieves whole collections.
type Fetcher struct {
	retry    *retry.Executor
	maxPages int
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithMaxPages overrides the runaway-pagination guard.
func WithMaxPages(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxPages = n
		}
	}
}

// New creates a Fetcher that issues every page request through ex.
func New(ex *retry.Executor, opts ...Option) *Fetcher {
	f := &Fetcher{retry: ex, maxPages: constants.MaxPages}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchAll pages through src until the collection is exhausted and returns
// it deduplicated and in deterministic order: most recently updated first,
// internal id descending as the tie-break. Any page failure discards the
// whole collection.
func (f *Fetcher) FetchAll(ctx context.Context, src Source, kind catalog.Kind, pageSize int) ([]catalog.Entity, Stats, error) {
	if pageSize <= 0 {
		pageSize = constants.DefaultPageSize
	}
	if pageSize > constants.MaxPageSize {
		pageSize = constants.MaxPageSize
	}

	logger := logging.FromContext(ctx)
	var (
		stats  Stats
		out    []catalog.Entity
		seen   = make(map[string]struct{})
		cursor = Cursor{Page: 1, PageSize: pageSize}
	)

	for {
		if cursor.Page > f.maxPages {
			return nil, Stats{}, &errors.FetchError{
				Kind: kind.String(),
				Page: cursor.Page,
				Err:  errors.NewValidationError("page", cursor.Page, "source never reported its last page"),
			}
		}

		page, err := retry.Do(ctx, f.retry, "list "+kind.String(), func(ctx context.Context) (Page, error) {
			return src.ListPage(ctx, kind, cursor)
		})
		if err != nil {
			return nil, Stats{}, &errors.FetchError{Kind: kind.String(), Page: cursor.Page, Err: err}
		}
		stats.Pages++
		stats.Fetched += len(page.Items)

		for _, item := range page.Items {
			key := dedupKey(&item)
			if key == "" {
				stats.Invalid++
				continue
			}
			if _, dup := seen[key]; dup {
				stats.Duplicates++
				continue
			}
			seen[key] = struct{}{}
			if item.Kind == "" {
				item.Kind = kind
			}
			out = append(out, item)
		}

		if lastPage(page, cursor) {
			break
		}
		cursor.TotalKnown += len(page.Items)
		cursor.Page++
	}

	Sort(out)

	if stats.Duplicates > 0 || stats.Invalid > 0 {
		logger.Warn().
			Str("kind", kind.String()).
			Int("duplicates", stats.Duplicates).
			Int("invalid", stats.Invalid).
			Msg("Dropped records while fetching collection")
	}
	logger.Debug().
		Str("kind", kind.String()).
		Int("pages", stats.Pages).
		Int("entities", len(out)).
		Msg("Fetched collection")

	return out, stats, nil
}

func lastPage(page Page, cursor Cursor) bool {
	switch {
	case len(page.Items) < cursor.PageSize:
		return true
	case page.TotalPages > 0:
		current := page.CurrentPage
		if current == 0 {
			current = cursor.Page
		}
		return current >= page.TotalPages
	default:
		return !page.HasMore
	}
}

// dedupKey prefers the internal id and falls back to the folded natural key.
func dedupKey(e *catalog.Entity) string {
	if id := strings.TrimSpace(e.InternalID); id != "" {
		return "id:" + id
	}
	if nk := strings.TrimSpace(e.NaturalKey); nk != "" {
		return "nk:" + catalog.FoldKey(nk)
	}
	return ""
}

// Sort orders entities by UpdatedAt descending, then InternalID descending.
func Sort(entities []catalog.Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		a, b := entities[i].UpdatedAt.UnixNano(), entities[j].UpdatedAt.UnixNano()
		if a != b {
			return a > b
		}
		return entities[i].InternalID > entities[j].InternalID
	})
}
