package upsert

import (
	"math/rand/v2"
	"strconv"
	"sync"

	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/constants"
)

type keyScope struct {
	platform catalog.PlatformID
	kind     catalog.Kind
}

// KeyAllocator hands out synthetic numeric keys for relocated resources.
// A candidate is the largest numeric key known for the platform and kind,
// plus one, plus a random offset. Every candidate raises the known maximum,
// so concurrent callers never receive the same key.
type KeyAllocator struct {
	mu     sync.Mutex
	max    map[keyScope]int64
	spread int
	rand   func(n int) int
}

// NewKeyAllocator creates an allocator whose random offset is below spread.
func NewKeyAllocator(spread int) *KeyAllocator {
	if spread <= 0 {
		spread = constants.RelocationSpread
	}
	return &KeyAllocator{
		max:    make(map[keyScope]int64),
		spread: spread,
		rand:   rand.IntN,
	}
}

// Observe records a key seen on the platform. Non-numeric keys are ignored.
func (a *KeyAllocator) Observe(p catalog.PlatformID, kind catalog.Kind, key string) {
	n, err := strconv.ParseInt(key, 10, 64)
	if err != nil || n < 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	scope := keyScope{p, kind}
	if n > a.max[scope] {
		a.max[scope] = n
	}
}

// Next reserves a new candidate key. The caller must still confirm with the
// platform that the key is free.
func (a *KeyAllocator) Next(p catalog.PlatformID, kind catalog.Kind) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	scope := keyScope{p, kind}
	n := a.max[scope] + 1 + int64(a.rand(a.spread))
	a.max[scope] = n
	return strconv.FormatInt(n, 10)
}
