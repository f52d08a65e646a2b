package upsert

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/taxonsync/pkg/catalog"
)

func TestKeyAllocatorStartsAboveObservedMax(t *testing.T) {
	a := NewKeyAllocator(10)
	a.rand = func(int) int { return 4 }

	a.Observe("shopX", catalog.KindPublisher, "120")
	a.Observe("shopX", catalog.KindPublisher, "P-1")
	a.Observe("shopX", catalog.KindPublisher, "7")
	a.Observe("shopY", catalog.KindPublisher, "9000")

	assert.Equal(t, "125", a.Next("shopX", catalog.KindPublisher))
	assert.Equal(t, "130", a.Next("shopX", catalog.KindPublisher))
	assert.Equal(t, "5", a.Next("shopX", catalog.KindAuthor))
}

func TestKeyAllocatorConcurrentKeysAreUnique(t *testing.T) {
	a := NewKeyAllocator(3)

	const n = 200
	keys := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys[i] = a.Next("shopX", catalog.KindPublisher)
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, k := range keys {
		_, err := strconv.Atoi(k)
		require.NoError(t, err)
		assert.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true
	}
}
