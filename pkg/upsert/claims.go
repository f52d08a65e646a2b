package upsert

import (
	"sync"

	"github.com/agentstation/taxonsync/pkg/catalog"
)

type claimKey struct {
	platform catalog.PlatformID
	kind     catalog.Kind
	id       string
}

// claims serializes upserts of the same entity and remembers which entity
// each external resource was matched to, so that one resource never ends up
// referenced by two entities.
type claims struct {
	mu     sync.Mutex
	locks  map[claimKey]*sync.Mutex
	owners map[claimKey]string
}

func newClaims() *claims {
	return &claims{
		locks:  make(map[claimKey]*sync.Mutex),
		owners: make(map[claimKey]string),
	}
}

// lock blocks until no other upsert of internalID runs on the platform and
// returns the release func. Entities without an internal id are not locked.
func (c *claims) lock(p catalog.PlatformID, kind catalog.Kind, internalID string) func() {
	if internalID == "" {
		return func() {}
	}
	k := claimKey{p, kind, internalID}

	c.mu.Lock()
	l, ok := c.locks[k]
	if !ok {
		l = &sync.Mutex{}
		c.locks[k] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// claim records that resourceID mirrors internalID. When another entity
// already holds the resource, claim returns that entity and false.
func (c *claims) claim(p catalog.PlatformID, kind catalog.Kind, resourceID, internalID string) (string, bool) {
	if resourceID == "" {
		return internalID, true
	}
	k := claimKey{p, kind, resourceID}

	c.mu.Lock()
	defer c.mu.Unlock()
	if owner, ok := c.owners[k]; ok && owner != internalID {
		return owner, false
	}
	c.owners[k] = internalID
	return internalID, true
}
