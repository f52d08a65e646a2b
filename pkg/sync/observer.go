package sync

import (
	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/report"
)

// Observer is notified as a run progresses. Implementations must be safe for
// concurrent use.
type Observer interface {
	TaskFinished(platform catalog.PlatformID, kind catalog.Kind, op catalog.Operation, err error)
	Relocated(platform catalog.PlatformID, kind catalog.Kind, n int)
	RunFinished(r *report.Report)
}

type nopObserver struct{}

func (nopObserver) TaskFinished(catalog.PlatformID, catalog.Kind, catalog.Operation, error) {}
func (nopObserver) Relocated(catalog.PlatformID, catalog.Kind, int)                         {}
func (nopObserver) RunFinished(*report.Report)                                              {}
