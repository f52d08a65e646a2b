package sqlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentstation/utc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/fetch"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func imprint(id string) catalog.Entity {
	return catalog.Entity{
		Kind:       catalog.KindImprint,
		InternalID: id,
		NaturalKey: "Imprint " + id,
		Attributes: catalog.Attributes{"publisher": "pub-1"},
		UpdatedAt:  utc.Time{Time: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
}

func TestPutAndList(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	var entities []catalog.Entity
	for i := range 5 {
		entities = append(entities, imprint(fmt.Sprintf("imp-%d", i)))
	}
	require.NoError(t, s.Put(ctx, entities...))

	page, err := s.ListPage(ctx, catalog.KindImprint, fetch.Cursor{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "imp-2", page.Items[0].InternalID)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, "pub-1", page.Items[0].Attributes["publisher"])
	assert.True(t, page.Items[0].UpdatedAt.Time.Equal(entities[2].UpdatedAt.Time))

	page, err = s.ListPage(ctx, catalog.KindAuthor, fetch.Cursor{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestSaveRefsReplaces(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, imprint("imp-1")))

	synced := utc.Time{Time: time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)}
	require.NoError(t, s.SaveRefs(ctx, catalog.KindImprint, "imp-1", map[catalog.PlatformID]catalog.ExternalRef{
		"shopX": {ExternalID: "x-1", Key: "imp-1", SourceKey: "imp-1", LastSyncedAt: synced},
		"sheet": {ExternalID: "s-1", Key: "imp-1"},
	}))
	require.NoError(t, s.SaveRefs(ctx, catalog.KindImprint, "imp-1", map[catalog.PlatformID]catalog.ExternalRef{
		"shopX": {ExternalID: "x-2", Key: "42", SourceKey: "imp-1", LastSyncedAt: synced},
	}))

	page, err := s.ListPage(ctx, catalog.KindImprint, fetch.Cursor{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	refs := page.Items[0].ExternalRefs
	require.Len(t, refs, 1)
	assert.Equal(t, "x-2", refs["shopX"].ExternalID)
	assert.Equal(t, "42", refs["shopX"].Key)
	assert.True(t, refs["shopX"].LastSyncedAt.Time.Equal(synced.Time))
}

func TestSaveRefsUnknownEntity(t *testing.T) {
	s := openMemory(t)

	err := s.SaveRefs(context.Background(), catalog.KindImprint, "ghost", nil)
	assert.True(t, errors.IsNotFound(err))
}

func TestPutUpdatesExisting(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	e := imprint("imp-1")
	require.NoError(t, s.Put(ctx, e))
	e.NaturalKey = "Renamed"
	require.NoError(t, s.Put(ctx, e))

	page, err := s.ListPage(ctx, catalog.KindImprint, fetch.Cursor{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Renamed", page.Items[0].NaturalKey)
}

func TestReopenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, imprint("imp-1")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	page, err := s.ListPage(ctx, catalog.KindImprint, fetch.Cursor{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}

func TestCanceledContext(t *testing.T) {
	s := openMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ListPage(ctx, catalog.KindImprint, fetch.Cursor{Page: 1, PageSize: 10})
	assert.ErrorIs(t, err, context.Canceled)
}
