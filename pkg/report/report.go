// Package report aggregates the outcome of a reconciliation run.
package report

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentstation/utc"
	"github.com/google/uuid"

	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/errors"
)

// Counts are the aggregate outcome counters of a run.
type Counts struct {
	Created     int `json:"created" yaml:"created"`
	Updated     int `json:"updated" yaml:"updated"`
	Deleted     int `json:"deleted" yaml:"deleted"`
	Published   int `json:"published" yaml:"published"`
	Unpublished int `json:"unpublished" yaml:"unpublished"`
	Skipped     int `json:"skipped" yaml:"skipped"`
	Failed      int `json:"failed" yaml:"failed"`
	Relocated   int `json:"relocated" yaml:"relocated"`
}

// Total returns the number of tasks that reached a terminal state.
func (c Counts) Total() int {
	return c.Created + c.Updated + c.Deleted + c.Published + c.Unpublished + c.Skipped + c.Failed
}

// Failure records one task that did not succeed.
type Failure struct {
	Kind       catalog.Kind       `json:"kind" yaml:"kind"`
	InternalID string             `json:"internal_id" yaml:"internal_id"`
	Platform   catalog.PlatformID `json:"platform" yaml:"platform"`
	Operation  catalog.Operation  `json:"operation,omitempty" yaml:"operation,omitempty"`
	Class      string             `json:"class" yaml:"class"`
	Message    string             `json:"error" yaml:"error"`
	Err        error              `json:"-" yaml:"-"`
}

// Planned is an action a dry run would have taken.
type Planned struct {
	Kind       catalog.Kind       `json:"kind" yaml:"kind"`
	InternalID string             `json:"internal_id" yaml:"internal_id"`
	Platform   catalog.PlatformID `json:"platform" yaml:"platform"`
	Operation  catalog.Operation  `json:"operation" yaml:"operation"`
	ExternalID string             `json:"external_id,omitempty" yaml:"external_id,omitempty"`
	Key        string             `json:"key,omitempty" yaml:"key,omitempty"`
}

// Report is the immutable result of a run.
type Report struct {
	RunID       string                  `json:"run_id" yaml:"run_id"`
	DryRun      bool                    `json:"dry_run" yaml:"dry_run"`
	StartedAt   utc.Time                `json:"started_at" yaml:"started_at"`
	FinishedAt  utc.Time                `json:"finished_at" yaml:"finished_at"`
	Counts      Counts                  `json:"counts" yaml:"counts"`
	ByKind      map[catalog.Kind]Counts `json:"by_kind,omitempty" yaml:"by_kind,omitempty"`
	Failures    []Failure               `json:"failures,omitempty" yaml:"failures,omitempty"`
	Ambiguities []Failure               `json:"ambiguities,omitempty" yaml:"ambiguities,omitempty"`
	Planned     []Planned               `json:"planned,omitempty" yaml:"planned,omitempty"`
	Fatal       string                  `json:"fatal,omitempty" yaml:"fatal,omitempty"` // run-fatal error, if any
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	return time.Duration(r.FinishedAt.UnixNano() - r.StartedAt.UnixNano())
}

// OK reports whether nothing failed.
func (r *Report) OK() bool {
	return r.Counts.Failed == 0 && r.Fatal == ""
}

// String summarizes the report on one line.
func (r *Report) String() string {
	c := r.Counts
	return fmt.Sprintf("created=%d updated=%d deleted=%d published=%d unpublished=%d skipped=%d failed=%d",
		c.Created, c.Updated, c.Deleted, c.Published, c.Unpublished, c.Skipped, c.Failed)
}

// Collector accumulates task outcomes from concurrent workers.
type Collector struct {
	mu        sync.Mutex
	report    Report
	finalized bool
}

// NewCollector starts a report for a new run.
func NewCollector(dryRun bool) *Collector {
	return &Collector{report: Report{
		RunID:     uuid.NewString(),
		DryRun:    dryRun,
		StartedAt: utc.Now(),
		ByKind:    make(map[catalog.Kind]Counts),
	}}
}

// RunID returns the id of the run being collected.
func (c *Collector) RunID() string {
	return c.report.RunID
}

// Record counts a successful task.
func (c *Collector) Record(kind catalog.Kind, op catalog.Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return
	}
	k := c.report.ByKind[kind]
	bump(&c.report.Counts, op)
	bump(&k, op)
	c.report.ByKind[kind] = k
}

// Relocated counts resources moved off a contested key.
func (c *Collector) Relocated(kind catalog.Kind, n int) {
	if n == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return
	}
	k := c.report.ByKind[kind]
	c.report.Counts.Relocated += n
	k.Relocated += n
	c.report.ByKind[kind] = k
}

// Fail records a failed task with the error that ended it. Ambiguous
// matches are also listed separately.
func (c *Collector) Fail(task catalog.SyncTask, err error) {
	f := Failure{
		Kind:      task.Kind,
		Platform:  task.Platform,
		Operation: task.Operation,
		Class:     errors.Classify(err).String(),
		Message:   err.Error(),
		Err:       err,
	}
	if task.Entity != nil {
		f.InternalID = task.Entity.InternalID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return
	}
	k := c.report.ByKind[task.Kind]
	c.report.Counts.Failed++
	k.Failed++
	c.report.ByKind[task.Kind] = k
	c.report.Failures = append(c.report.Failures, f)
	if errors.IsAmbiguous(err) {
		c.report.Ambiguities = append(c.report.Ambiguities, f)
	}
}

// Plan records an action withheld by a dry run.
func (c *Collector) Plan(p Planned) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return
	}
	c.report.Planned = append(c.report.Planned, p)
}

// Abort records a run-fatal error.
func (c *Collector) Abort(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized || err == nil {
		return
	}
	c.report.Fatal = err.Error()
}

// Snapshot returns the counts so far.
func (c *Collector) Snapshot() Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report.Counts
}

// Finalize closes the collector and returns the report. Later calls return
// the same report and later records are ignored.
func (c *Collector) Finalize() *Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.finalized {
		c.finalized = true
		c.report.FinishedAt = utc.Now()
		sortFailures(c.report.Failures)
		sortFailures(c.report.Ambiguities)
		sort.SliceStable(c.report.Planned, func(i, j int) bool {
			a, b := c.report.Planned[i], c.report.Planned[j]
			if a.Kind != b.Kind {
				return kindRank(a.Kind) < kindRank(b.Kind)
			}
			if a.Platform != b.Platform {
				return a.Platform < b.Platform
			}
			return a.InternalID < b.InternalID
		})
	}
	out := c.report
	return &out
}

func bump(c *Counts, op catalog.Operation) {
	switch op {
	case catalog.OpCreate:
		c.Created++
	case catalog.OpUpdate:
		c.Updated++
	case catalog.OpDelete:
		c.Deleted++
	case catalog.OpPublish:
		c.Published++
	case catalog.OpUnpublish:
		c.Unpublished++
	default:
		c.Skipped++
	}
}

func sortFailures(fs []Failure) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.Kind != b.Kind {
			return kindRank(a.Kind) < kindRank(b.Kind)
		}
		if a.Platform != b.Platform {
			return a.Platform < b.Platform
		}
		return a.InternalID < b.InternalID
	})
}

func kindRank(k catalog.Kind) int {
	for i, known := range catalog.Kinds() {
		if known == k {
			return i
		}
	}
	return len(catalog.Kinds())
}
