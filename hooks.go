package taxonsync

import (
	gosync "sync"

	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/report"
	"github.com/agentstation/taxonsync/pkg/sync"
)

// Hook function types for run events
type (
	// TaskFinishedHook is called when a sync task finishes; err is nil on success
	TaskFinishedHook func(platform catalog.PlatformID, kind catalog.Kind, op catalog.Operation, err error)

	// RelocatedHook is called when n resources were moved off contested keys
	RelocatedHook func(platform catalog.PlatformID, kind catalog.Kind, n int)

	// RunFinishedHook is called with the final report of a sync or apply
	RunFinishedHook func(r *report.Report)
)

// hooks fans run events out to callbacks and an optional observer.
type hooks struct {
	mu             gosync.RWMutex
	observer       sync.Observer
	onTaskFinished []TaskFinishedHook
	onRelocated    []RelocatedHook
	onRunFinished  []RunFinishedHook
}

var _ sync.Observer = (*hooks)(nil)

func newHooks(observer sync.Observer) *hooks {
	return &hooks{observer: observer}
}

// OnTaskFinished registers a callback for finished tasks
func (h *hooks) OnTaskFinished(fn TaskFinishedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onTaskFinished = append(h.onTaskFinished, fn)
}

// OnRelocated registers a callback for relocations
func (h *hooks) OnRelocated(fn RelocatedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRelocated = append(h.onRelocated, fn)
}

// OnRunFinished registers a callback for finished runs
func (h *hooks) OnRunFinished(fn RunFinishedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRunFinished = append(h.onRunFinished, fn)
}

// TaskFinished implements sync.Observer.
func (h *hooks) TaskFinished(platform catalog.PlatformID, kind catalog.Kind, op catalog.Operation, err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.observer != nil {
		h.observer.TaskFinished(platform, kind, op, err)
	}
	for _, fn := range h.onTaskFinished {
		fn(platform, kind, op, err)
	}
}

// Relocated implements sync.Observer.
func (h *hooks) Relocated(platform catalog.PlatformID, kind catalog.Kind, n int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.observer != nil {
		h.observer.Relocated(platform, kind, n)
	}
	for _, fn := range h.onRelocated {
		fn(platform, kind, n)
	}
}

// RunFinished implements sync.Observer.
func (h *hooks) RunFinished(r *report.Report) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.observer != nil {
		h.observer.RunFinished(r)
	}
	for _, fn := range h.onRunFinished {
		fn(r)
	}
}
