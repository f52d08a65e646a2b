package yamlstore

import (
	"context"
	"os"
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

func publishers(n int) []catalog.Entity {
	out := make([]catalog.Entity, n)
	for i := range out {
		out[i] = catalog.Entity{
			InternalID: string(rune('a' + i)),
			NaturalKey: "Publisher " + string(rune('A'+i)),
			Attributes: catalog.Attributes{"country": "FR"},
			UpdatedAt:  utc.Time{Time: time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC)},
		}
	}
	return out
}

func TestMissingFileIsEmpty(t *testing.T) {
	s := New(t.TempDir())

	page, err := s.ListPage(context.Background(), catalog.KindAuthor, fetch.Cursor{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 0, page.TotalPages)
}

func TestListPages(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Put(catalog.KindPublisher, publishers(5)))

	page, err := s.ListPage(context.Background(), catalog.KindPublisher, fetch.Cursor{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "c", page.Items[0].InternalID)
	assert.Equal(t, catalog.KindPublisher, page.Items[0].Kind)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 2, page.CurrentPage)

	page, err = s.ListPage(context.Background(), catalog.KindPublisher, fetch.Cursor{Page: 4, PageSize: 2})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestFetchAllThroughStore(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Put(catalog.KindPublisher, publishers(7)))

	entities, stats, err := fetch.New(retry.New(retry.Policy{MaxAttempts: 1})).
		FetchAll(context.Background(), s, catalog.KindPublisher, 3)
	require.NoError(t, err)
	assert.Len(t, entities, 7)
	assert.Equal(t, 3, stats.Pages)
	assert.Equal(t, "g", entities[0].InternalID, "newest first")
}

func TestSaveRefs(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	require.NoError(t, s.Put(catalog.KindPublisher, publishers(2)))

	refs := map[catalog.PlatformID]catalog.ExternalRef{
		"shopX": {ExternalID: "ext-9", Key: "b", SourceKey: "b"},
	}
	require.NoError(t, s.SaveRefs(context.Background(), catalog.KindPublisher, "b", refs))

	// A fresh store reads the file back.
	got, err := New(dir).List(catalog.KindPublisher)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Empty(t, got[0].ExternalRefs)
	assert.Equal(t, "ext-9", got[1].ExternalRefs["shopX"].ExternalID)
	assert.Equal(t, "FR", got[1].Attributes["country"])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")
}

func TestSaveRefsUnknownEntity(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Put(catalog.KindAuthor, nil))

	err := s.SaveRefs(context.Background(), catalog.KindAuthor, "ghost", nil)
	assert.True(t, errors.IsNotFound(err))
}

func TestMalformedFile(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, os.WriteFile(s.Path(catalog.KindAuthor), []byte("- internal_id: [unclosed"), 0o644))

	_, err := s.ListPage(context.Background(), catalog.KindAuthor, fetch.Cursor{Page: 1, PageSize: 10})
	var parseErr *errors.ParseError
	assert.True(t, errors.As(err, &parseErr))
}
