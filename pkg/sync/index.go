package sync

import "github.com/agentstation/taxonsync/pkg/catalog"

type refKey struct {
	kind       catalog.Kind
	platform   catalog.PlatformID
	internalID string
}

// refIndex maps parent entities to the external ids resolved for them in the
// current run. It lives only as long as one run and is written between
// batches, never by workers.
type refIndex map[refKey]string

func (ix refIndex) put(kind catalog.Kind, platform catalog.PlatformID, internalID, externalID string) {
	if externalID != "" {
		ix[refKey{kind, platform, internalID}] = externalID
	}
}

func (ix refIndex) get(kind catalog.Kind, platform catalog.PlatformID, internalID string) (string, bool) {
	id, ok := ix[refKey{kind, platform, internalID}]
	return id, ok
}

// seed records the stored references of entities whose kind is not part of
// the run.
func (ix refIndex) seed(entities []catalog.Entity) {
	for _, e := range entities {
		for platform, ref := range e.ExternalRefs {
			ix.put(e.Kind, platform, e.InternalID, ref.ExternalID)
		}
	}
}
