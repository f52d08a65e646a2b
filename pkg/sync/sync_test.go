package sync_test

import (
	"context"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/taxonsync/internal/platforms/memory"
	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/fetch"
	"github.com/agentstation/taxonsync/pkg/platform"
	"github.com/agentstation/taxonsync/pkg/retry"
	"github.com/agentstation/taxonsync/pkg/sync"
)

const shopX catalog.PlatformID = "shopX"

// fakeStore is a source of truth held in memory.
type fakeStore struct {
	mu       gosync.Mutex
	entities map[catalog.Kind][]catalog.Entity
	saves    int
	failKind catalog.Kind
}

func newStore(entities ...catalog.Entity) *fakeStore {
	s := &fakeStore{entities: make(map[catalog.Kind][]catalog.Entity)}
	for _, e := range entities {
		s.entities[e.Kind] = append(s.entities[e.Kind], e)
	}
	return s
}

func (s *fakeStore) ListPage(_ context.Context, kind catalog.Kind, c fetch.Cursor) (fetch.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == s.failKind {
		return fetch.Page{}, errors.NewAPIError("store", 400, "bad query")
	}
	all := s.entities[kind]
	start := min((c.Page-1)*c.PageSize, len(all))
	end := min(start+c.PageSize, len(all))
	page := make([]catalog.Entity, 0, end-start)
	for _, e := range all[start:end] {
		page = append(page, e.Clone())
	}
	return fetch.Page{Items: page, HasMore: end < len(all)}, nil
}

func (s *fakeStore) SaveRefs(_ context.Context, kind catalog.Kind, id string, refs map[catalog.PlatformID]catalog.ExternalRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	for i := range s.entities[kind] {
		if s.entities[kind][i].InternalID == id {
			s.entities[kind][i].ExternalRefs = refs
		}
	}
	return nil
}

func (s *fakeStore) ref(kind catalog.Kind, id string) (catalog.ExternalRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entities[kind] {
		if e.InternalID == id {
			return e.Ref(shopX)
		}
	}
	return catalog.ExternalRef{}, false
}

func ent(kind catalog.Kind, id, name string, attrs catalog.Attributes) catalog.Entity {
	return catalog.Entity{Kind: kind, InternalID: id, NaturalKey: name, Attributes: attrs}
}

var publisherCollection = []catalog.KindSpec{
	{Kind: catalog.KindPublisher},
	{Kind: catalog.KindCollection, Parents: []catalog.ParentRef{{Kind: catalog.KindPublisher, Field: "publisher"}}},
}

func newSyncer(store sync.Store, opts ...sync.Option) *sync.Syncer {
	ex := retry.New(retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond})
	return sync.New(store, ex, opts...)
}

func TestRunWritesParentReferencesIntoChildren(t *testing.T) {
	ctx := context.Background()
	store := newStore(
		ent(catalog.KindPublisher, "P-1", "Acme Press", nil),
		ent(catalog.KindCollection, "C-1", "Spring List", catalog.Attributes{"publisher": "P-1"}),
		ent(catalog.KindCollection, "C-2", "Orphans", nil),
	)
	mem := memory.New(shopX)

	r, err := newSyncer(store).Run(ctx, publisherCollection, []platform.Platform{mem})
	require.NoError(t, err)
	assert.Equal(t, 3, r.Counts.Created)
	assert.True(t, r.OK())

	pubRef, ok := store.ref(catalog.KindPublisher, "P-1")
	require.True(t, ok)
	colRef, ok := store.ref(catalog.KindCollection, "C-1")
	require.True(t, ok)

	col, err := mem.Get(ctx, catalog.KindCollection, colRef.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, pubRef.ExternalID, col.Attributes["publisher_external_id"])
	assert.Equal(t, "P-1", col.Attributes["publisher"])
}

func TestRunNeverWritesChildWithoutParentReference(t *testing.T) {
	ctx := context.Background()
	store := newStore(
		ent(catalog.KindPublisher, "P-1", "Acme Press", nil),
		ent(catalog.KindCollection, "C-1", "Spring List", catalog.Attributes{"publisher": "P-1"}),
	)
	mem := memory.New(shopX, memory.WithInterceptor(func(op memory.Op, kind catalog.Kind, _ string) error {
		if op == memory.OpCreate && kind == catalog.KindPublisher {
			return errors.NewAPIError("shopX", 422, "rejected")
		}
		return nil
	}))

	r, err := newSyncer(store).Run(ctx, publisherCollection, []platform.Platform{mem})
	require.NoError(t, err)
	assert.Equal(t, 2, r.Counts.Failed)
	assert.Zero(t, mem.Len(catalog.KindCollection))

	require.Len(t, r.Failures, 2)
	child := r.Failures[1]
	assert.Equal(t, catalog.KindCollection, child.Kind)
	assert.True(t, errors.Is(child.Err, errors.ErrDependency))
}

func TestRunContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	var entities []catalog.Entity
	for i := range 10 {
		entities = append(entities, ent(catalog.KindPublisher, fmt.Sprintf("P-%d", i), fmt.Sprintf("Press %d", i), nil))
	}
	store := newStore(entities...)
	mem := memory.New(shopX, memory.WithInterceptor(func(op memory.Op, _ catalog.Kind, target string) error {
		if op == memory.OpCreate && target == "P-3" {
			return errors.NewAPIError("shopX", 400, "bad record")
		}
		return nil
	}))

	r, err := newSyncer(store, sync.WithConcurrency(3)).Run(ctx, publisherCollection[:1], []platform.Platform{mem})
	require.NoError(t, err)
	assert.Equal(t, 9, r.Counts.Created)
	assert.Equal(t, 1, r.Counts.Failed)
	require.Len(t, r.Failures, 1)
	assert.Equal(t, "P-3", r.Failures[0].InternalID)
	assert.Equal(t, "fatal", r.Failures[0].Class)
}

func TestRunReportsAccurateCountsWhenEverythingFails(t *testing.T) {
	ctx := context.Background()
	store := newStore(
		ent(catalog.KindPublisher, "P-1", "A", nil),
		ent(catalog.KindPublisher, "P-2", "B", nil),
		ent(catalog.KindPublisher, "P-3", "C", nil),
	)
	mem := memory.New(shopX, memory.WithInterceptor(func(memory.Op, catalog.Kind, string) error {
		return errors.NewAPIError("shopX", 503, "down")
	}))

	r, err := newSyncer(store).Run(ctx, publisherCollection[:1], []platform.Platform{mem})
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 3, r.Counts.Failed)
	assert.Equal(t, 3, r.Counts.Total())
	assert.Len(t, r.Failures, 3)
	for _, f := range r.Failures {
		assert.Equal(t, "transient", f.Class)
	}
}

func TestRunFetchFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	store := newStore(
		ent(catalog.KindPublisher, "P-1", "Acme Press", nil),
		ent(catalog.KindCollection, "C-1", "Spring List", catalog.Attributes{"publisher": "P-1"}),
	)
	store.failKind = catalog.KindCollection
	mem := memory.New(shopX)

	r, err := newSyncer(store).Run(ctx, publisherCollection, []platform.Platform{mem})
	require.Error(t, err)
	var fe *errors.FetchError
	assert.True(t, errors.As(err, &fe))

	require.NotNil(t, r)
	assert.Equal(t, 1, r.Counts.Created, "work done before the failure is still reported")
	assert.NotEmpty(t, r.Fatal)
	assert.Zero(t, mem.Len(catalog.KindCollection))
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(
		ent(catalog.KindPublisher, "P-1", "Acme Press", catalog.Attributes{"country": "US"}),
		ent(catalog.KindCollection, "C-1", "Spring List", catalog.Attributes{"publisher": "P-1"}),
	)
	counter := platform.NewCounter(memory.New(shopX))
	s := newSyncer(store)

	first, err := s.Run(ctx, publisherCollection, []platform.Platform{counter})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Counts.Created)
	assert.Equal(t, 2, counter.Mutations())
	saves := store.saves

	second, err := s.Run(ctx, publisherCollection, []platform.Platform{counter})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Counts.Skipped)
	assert.Equal(t, 2, counter.Mutations())
	assert.Equal(t, saves, store.saves, "unchanged references are not written back")
}

func TestRunDryRun(t *testing.T) {
	ctx := context.Background()
	store := newStore(
		ent(catalog.KindPublisher, "P-1", "Acme Press", nil),
		ent(catalog.KindCollection, "C-1", "Spring List", catalog.Attributes{"publisher": "P-1"}),
	)
	counter := platform.NewCounter(memory.New(shopX))

	r, err := newSyncer(store, sync.WithDryRun(true)).Run(ctx, publisherCollection, []platform.Platform{counter})
	require.NoError(t, err)
	assert.True(t, r.DryRun)
	assert.Equal(t, 2, r.Counts.Created)
	assert.Len(t, r.Planned, 2)
	assert.Zero(t, counter.Mutations())
	assert.Zero(t, store.saves)

	_, ok := store.ref(catalog.KindPublisher, "P-1")
	assert.False(t, ok)
}

func TestRunSeedsParentsOutsideTheRun(t *testing.T) {
	ctx := context.Background()
	pub := ent(catalog.KindPublisher, "P-1", "Acme Press", nil)
	pub.SetRef(shopX, catalog.ExternalRef{ExternalID: "ext-pub", Key: "P-1", SourceKey: "P-1"})
	store := newStore(pub, ent(catalog.KindCollection, "C-1", "Spring List", catalog.Attributes{"publisher": "P-1"}))
	mem := memory.New(shopX)

	r, err := newSyncer(store, sync.WithKinds(catalog.KindCollection)).Run(ctx, publisherCollection, []platform.Platform{mem})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Counts.Created)
	assert.Zero(t, mem.Len(catalog.KindPublisher))

	cols := mem.List(catalog.KindCollection)
	require.Len(t, cols, 1)
	assert.Equal(t, "ext-pub", cols[0].Attributes["publisher_external_id"])
}

func TestRunBoundsConcurrency(t *testing.T) {
	ctx := context.Background()
	var entities []catalog.Entity
	for i := range 12 {
		entities = append(entities, ent(catalog.KindPublisher, fmt.Sprintf("P-%02d", i), fmt.Sprintf("Press %d", i), nil))
	}
	store := newStore(entities...)

	var inFlight, peak atomic.Int64
	mem := memory.New(shopX, memory.WithInterceptor(func(op memory.Op, _ catalog.Kind, _ string) error {
		if op != memory.OpCreate {
			return nil
		}
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return nil
	}))

	r, err := newSyncer(store, sync.WithConcurrency(3)).Run(ctx, publisherCollection[:1], []platform.Platform{mem})
	require.NoError(t, err)
	assert.Equal(t, 12, r.Counts.Created)
	assert.LessOrEqual(t, peak.Load(), int64(3))
}

func TestRunRejectsBadOrder(t *testing.T) {
	kinds := []catalog.KindSpec{publisherCollection[1], publisherCollection[0]}
	r, err := newSyncer(newStore()).Run(context.Background(), kinds, nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
	require.NotNil(t, r)
	assert.NotEmpty(t, r.Fatal)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    []sync.Option
		wantErr bool
	}{
		{"defaults", nil, false},
		{"zero concurrency", []sync.Option{sync.WithConcurrency(0)}, true},
		{"huge page", []sync.Option{sync.WithPageSize(5000)}, true},
		{"negative timeout", []sync.Option{sync.WithTimeout(-time.Second)}, true},
		{"no relocations", []sync.Option{sync.WithMaxRelocations(0)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sync.Defaults().Apply(tt.opts...).Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
