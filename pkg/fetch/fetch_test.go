package fetch_test

import (
	"context"
	"testing"
	"time"

	"github.com/agentstation/utc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/fetch"
	"github.com/agentstation/taxonsync/pkg/retry"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func entity(id, nk string, age time.Duration) catalog.Entity {
	return catalog.Entity{
		Kind:       catalog.KindPublisher,
		InternalID: id,
		NaturalKey: nk,
		UpdatedAt:  utc.New(base.Add(-age)),
	}
}

func fastRetry(attempts int) *retry.Executor {
	return retry.New(retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
}

// pagedSource serves a fixed slice in pages and reports HasMore.
type pagedSource struct {
	items []catalog.Entity
	calls int
}

func (s *pagedSource) ListPage(_ context.Context, _ catalog.Kind, c fetch.Cursor) (fetch.Page, error) {
	s.calls++
	start := (c.Page - 1) * c.PageSize
	if start > len(s.items) {
		start = len(s.items)
	}
	end := start + c.PageSize
	if end > len(s.items) {
		end = len(s.items)
	}
	return fetch.Page{Items: s.items[start:end], HasMore: end < len(s.items), CurrentPage: c.Page}, nil
}

func ids(entities []catalog.Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.InternalID
	}
	return out
}

func TestFetchAllDeduplicatesAcrossPages(t *testing.T) {
	src := &pagedSource{items: []catalog.Entity{
		entity("p1", "Acme", 3*time.Hour),
		entity("p2", "Bolt", 2*time.Hour),
		// Offset pagination shifted: p2 shows up again on the next page.
		entity("p2", "Bolt", 2*time.Hour),
		entity("p3", "Crane", time.Hour),
	}}

	f := fetch.New(fastRetry(1))
	got, stats, err := f.FetchAll(context.Background(), src, catalog.KindPublisher, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"p3", "p2", "p1"}, ids(got))
	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, 4, stats.Fetched)
	assert.Equal(t, 1, stats.Duplicates)
}

func TestFetchAllFirstOccurrenceWins(t *testing.T) {
	first := entity("p1", "Acme", time.Hour)
	first.Attributes = catalog.Attributes{"name": "first"}
	second := entity("p1", "Acme", time.Hour)
	second.Attributes = catalog.Attributes{"name": "second"}

	src := &pagedSource{items: []catalog.Entity{first, second}}
	got, _, err := fetch.New(fastRetry(1)).FetchAll(context.Background(), src, catalog.KindPublisher, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].Attributes["name"])
}

func TestFetchAllNaturalKeyFallback(t *testing.T) {
	src := &pagedSource{items: []catalog.Entity{
		entity("", "Acme Press", time.Hour),
		entity("", "ACME PRESS", 2*time.Hour),
		entity("", "", time.Hour),
	}}
	got, stats, err := fetch.New(fastRetry(1)).FetchAll(context.Background(), src, catalog.KindPublisher, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Acme Press", got[0].NaturalKey)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 1, stats.Invalid)
}

func TestFetchAllDeterministicOrder(t *testing.T) {
	src := &pagedSource{items: []catalog.Entity{
		entity("a", "A", time.Hour),
		entity("c", "C", time.Hour),
		entity("b", "B", time.Hour),
		entity("z", "Z", 5*time.Hour),
		entity("y", "Y", 0),
	}}
	got, _, err := fetch.New(fastRetry(1)).FetchAll(context.Background(), src, catalog.KindPublisher, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"y", "c", "b", "a", "z"}, ids(got))
}

func TestFetchAllTotalPages(t *testing.T) {
	calls := 0
	src := fetch.SourceFunc(func(_ context.Context, _ catalog.Kind, c fetch.Cursor) (fetch.Page, error) {
		calls++
		// Full pages with a reported total; HasMore is never set.
		return fetch.Page{
			Items:      []catalog.Entity{entity(string(rune('a'+c.Page)), "", 0)},
			TotalPages: 3,
		}, nil
	})
	got, stats, err := fetch.New(fastRetry(1)).FetchAll(context.Background(), src, catalog.KindPublisher, 1)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, stats.Pages)
}

func TestFetchAllRetriesTransientPage(t *testing.T) {
	failures := 2
	inner := &pagedSource{items: []catalog.Entity{entity("p1", "Acme", 0), entity("p2", "Bolt", 0)}}
	src := fetch.SourceFunc(func(ctx context.Context, kind catalog.Kind, c fetch.Cursor) (fetch.Page, error) {
		if c.Page == 2 && failures > 0 {
			failures--
			return fetch.Page{}, errors.NewAPIError("source", 503, "busy")
		}
		return inner.ListPage(ctx, kind, c)
	})

	got, _, err := fetch.New(fastRetry(3)).FetchAll(context.Background(), src, catalog.KindPublisher, 1)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Zero(t, failures)
}

func TestFetchAllFailureDiscardsPartialResults(t *testing.T) {
	src := fetch.SourceFunc(func(_ context.Context, _ catalog.Kind, c fetch.Cursor) (fetch.Page, error) {
		if c.Page == 2 {
			return fetch.Page{}, errors.NewAPIError("source", 503, "busy")
		}
		return fetch.Page{Items: []catalog.Entity{entity("p1", "Acme", 0)}, HasMore: true}, nil
	})

	got, stats, err := fetch.New(fastRetry(2)).FetchAll(context.Background(), src, catalog.KindPublisher, 1)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Zero(t, stats)

	var fe *errors.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 2, fe.Page)
	assert.Equal(t, "publisher", fe.Kind)
	assert.True(t, errors.Is(err, errors.ErrPlatformUnavailable))
}

func TestFetchAllMaxPagesGuard(t *testing.T) {
	src := fetch.SourceFunc(func(_ context.Context, _ catalog.Kind, c fetch.Cursor) (fetch.Page, error) {
		return fetch.Page{Items: []catalog.Entity{entity(string(rune('a'+c.Page)), "", 0)}, HasMore: true}, nil
	})

	_, _, err := fetch.New(fastRetry(1), fetch.WithMaxPages(5)).FetchAll(context.Background(), src, catalog.KindPublisher, 1)
	require.Error(t, err)
	var fe *errors.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 6, fe.Page)
}

func TestFetchAllEmptyCollection(t *testing.T) {
	src := &pagedSource{}
	got, stats, err := fetch.New(fastRetry(1)).FetchAll(context.Background(), src, catalog.KindPublisher, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, stats.Pages)
	assert.Equal(t, 1, src.calls)
}
