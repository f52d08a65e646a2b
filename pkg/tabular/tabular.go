// Package tabular applies spreadsheet-style snapshots, where every row carries
// an action, to a platform.
package tabular

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/constants"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/logging"
	"github.com/agentstation/taxonsync/pkg/platform"
	"github.com/agentstation/taxonsync/pkg/report"
	"github.com/agentstation/taxonsync/pkg/resolve"
	"github.com/agentstation/taxonsync/pkg/retry"
	"github.com/agentstation/taxonsync/pkg/upsert"
)

// Row is one line of a snapshot.
type Row struct {
	Line       int
	Kind       catalog.Kind
	InternalID string
	NaturalKey string
	ExternalID string
	Action     string
	Fields     catalog.Attributes
}

// Snapshot reads and writes a tabular source of truth.
type Snapshot interface {
	Read(ctx context.Context) ([]Row, error)
	Write(ctx context.Context, rows []Row) error
}

// Observer is notified of every finished row and relocation. It is
// satisfied by a sync.Observer.
type Observer interface {
	TaskFinished(platform catalog.PlatformID, kind catalog.Kind, op catalog.Operation, err error)
	Relocated(platform catalog.PlatformID, kind catalog.Kind, n int)
}

type nopObserver struct{}

func (nopObserver) TaskFinished(catalog.PlatformID, catalog.Kind, catalog.Operation, error) {}
func (nopObserver) Relocated(catalog.PlatformID, catalog.Kind, int)                         {}

// Options configures an Adapter.
type Options struct {
	DryRun         bool
	Concurrency    int
	MaxRelocations int
	Observer       Observer
}

// Adapter applies rows to a platform.
type Adapter struct {
	retry    *retry.Executor
	upserter *upsert.Upserter
	opts     Options
}

// New creates an Adapter issuing every platform call through ex.
func New(ex *retry.Executor, opts Options) *Adapter {
	if opts.Concurrency <= 0 {
		opts.Concurrency = constants.DefaultConcurrency
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Adapter{
		retry: ex,
		upserter: upsert.New(resolve.New(ex), ex, nil, upsert.Options{
			DryRun:         opts.DryRun,
			MaxRelocations: opts.MaxRelocations,
		}),
		opts: opts,
	}
}

// pass is a group of rows processed together, in the order passes are run.
type pass int

const (
	passDelete pass = iota
	passPublish
	passUnpublish
	passCreate
	passUpdate
	passCount
)

// work is a row with its parsed action and result slot.
type work struct {
	index int
	row   Row
	op    catalog.Operation
	done  bool // applied; the rewritten row replaces the input
	drop  bool // deleted; the row leaves the snapshot
}

// Apply processes rows in fixed passes: delete, publish, unpublish, create
// for rows without an external id, then update for rows with one. Rows for
// an entity deleted in the same apply are skipped. It returns the report and
// the rows to write back: external ids filled in, applied actions cleared
// and deleted rows removed. A dry run returns the input rows unchanged.
func (a *Adapter) Apply(ctx context.Context, rows []Row, target platform.Platform) (*report.Report, []Row, error) {
	collector := report.NewCollector(a.opts.DryRun)
	ctx = logging.WithRun(ctx, collector.RunID())
	ctx = logging.WithPlatform(ctx, target.ID().String())
	guard := platform.NewGuard(target, a.opts.DryRun)

	items := make([]*work, len(rows))
	var passes [passCount][]*work
	for i, row := range rows {
		w := &work{index: i, row: row}
		items[i] = w

		op, err := catalog.ParseOperation(row.Action)
		if err == nil && row.Kind == "" {
			err = errors.NewValidationError("kind", row.Kind, "row has no kind")
		}
		if err != nil {
			a.fail(ctx, collector, target, w, &errors.ParseError{Format: "row", Line: row.Line, Message: err.Error(), Err: err})
			continue
		}
		w.op = op
		if row.ExternalID != "" && row.InternalID != "" {
			a.upserter.Reserve(target.ID(), row.Kind, row.ExternalID, row.InternalID)
		}

		switch op {
		case catalog.OpDelete:
			passes[passDelete] = append(passes[passDelete], w)
		case catalog.OpPublish:
			passes[passPublish] = append(passes[passPublish], w)
		case catalog.OpUnpublish:
			passes[passUnpublish] = append(passes[passUnpublish], w)
		case catalog.OpCreate, catalog.OpUpdate:
			if row.ExternalID == "" {
				passes[passCreate] = append(passes[passCreate], w)
			} else {
				passes[passUpdate] = append(passes[passUpdate], w)
			}
		default:
			collector.Record(row.Kind, catalog.OpSkip)
			a.opts.Observer.TaskFinished(target.ID(), row.Kind, catalog.OpSkip, nil)
		}
	}

	deleted := make(map[string]bool)
	for p := passDelete; p < passCount; p++ {
		var pending []*work
		for _, w := range passes[p] {
			if p != passDelete && deleted[entityKey(w.row)] {
				logging.FromContext(ctx).Debug().
					Int("line", w.row.Line).
					Str("entity", w.row.InternalID).
					Msg("Skipping row for entity deleted in this apply")
				collector.Record(w.row.Kind, catalog.OpSkip)
				a.opts.Observer.TaskFinished(target.ID(), w.row.Kind, catalog.OpSkip, nil)
				w.drop = true
				continue
			}
			pending = append(pending, w)
		}

		var g errgroup.Group
		g.SetLimit(a.opts.Concurrency)
		for _, w := range pending {
			g.Go(func() error {
				a.applyRow(ctx, collector, guard, target, w)
				return nil
			})
		}
		_ = g.Wait()

		if p == passDelete {
			for _, w := range pending {
				if w.done {
					deleted[entityKey(w.row)] = true
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return collector.Finalize(), rows, err
		}
	}

	r := collector.Finalize()
	if a.opts.DryRun {
		return r, rows, nil
	}

	out := make([]Row, 0, len(rows))
	for _, w := range items {
		if w.drop {
			continue
		}
		out = append(out, w.row)
	}
	return r, out, nil
}

// applyRow performs one row's action. It only writes to w.
func (a *Adapter) applyRow(ctx context.Context, collector *report.Collector, guard *platform.Guard, target platform.Platform, w *work) {
	kind := w.row.Kind
	switch w.op {
	case catalog.OpDelete, catalog.OpPublish, catalog.OpUnpublish:
		if w.row.ExternalID == "" {
			a.fail(ctx, collector, target, w, errors.NewValidationError("external_id", "", fmt.Sprintf("%s needs an external id", w.op)))
			return
		}
		err := retry.Run(ctx, a.retry, w.op.String()+" "+kind.String(), func(ctx context.Context) error {
			if w.op == catalog.OpDelete {
				return guard.Delete(ctx, kind, w.row.ExternalID)
			}
			return guard.SetPublished(ctx, kind, w.row.ExternalID, w.op == catalog.OpPublish)
		})
		if w.op == catalog.OpDelete && errors.IsNotFound(err) {
			err = nil // already gone
		}
		if err != nil {
			a.fail(ctx, collector, target, w, err)
			return
		}
		if guard.DryRun() {
			collector.Plan(report.Planned{Kind: kind, InternalID: w.row.InternalID, Platform: target.ID(), Operation: w.op, ExternalID: w.row.ExternalID})
		}
		collector.Record(kind, w.op)
		a.opts.Observer.TaskFinished(target.ID(), kind, w.op, nil)
		w.done = true
		w.drop = w.op == catalog.OpDelete
		w.row.Action = catalog.OpNone.String()

	default:
		e := rowEntity(w.row, target.ID())
		out, err := a.upserter.Upsert(ctx, e, target, w.row.Fields)
		if n := len(out.Relocations); n > 0 {
			collector.Relocated(kind, n)
			a.opts.Observer.Relocated(target.ID(), kind, n)
		}
		if err != nil {
			a.fail(ctx, collector, target, w, err)
			return
		}
		for _, plan := range out.Plans {
			collector.Plan(report.Planned{Kind: kind, InternalID: w.row.InternalID, Platform: target.ID(), Operation: plan.Operation, ExternalID: plan.ExternalID, Key: plan.Key})
		}
		collector.Record(kind, out.Operation)
		a.opts.Observer.TaskFinished(target.ID(), kind, out.Operation, nil)
		w.done = true
		w.row.Action = catalog.OpNone.String()
		if ref, ok := e.Ref(target.ID()); ok {
			w.row.ExternalID = ref.ExternalID
		}
	}
}

func (a *Adapter) fail(ctx context.Context, collector *report.Collector, target platform.Platform, w *work, err error) {
	task := catalog.SyncTask{
		Kind:      w.row.Kind,
		Entity:    &catalog.Entity{Kind: w.row.Kind, InternalID: w.row.InternalID, NaturalKey: w.row.NaturalKey},
		Platform:  target.ID(),
		Operation: w.op,
		Attempts:  1,
	}
	collector.Fail(task, err)
	a.opts.Observer.TaskFinished(target.ID(), w.row.Kind, w.op, err)
	logging.FromContext(ctx).Warn().
		Err(err).
		Int("line", w.row.Line).
		Str("entity", w.row.InternalID).
		Msg("Row failed")
}

// rowEntity builds the entity a create or update row describes.
func rowEntity(row Row, p catalog.PlatformID) *catalog.Entity {
	e := &catalog.Entity{
		Kind:       row.Kind,
		InternalID: row.InternalID,
		NaturalKey: row.NaturalKey,
		Attributes: row.Fields.Clone(),
	}
	if row.ExternalID != "" {
		e.SetRef(p, catalog.ExternalRef{
			ExternalID: row.ExternalID,
			SourceKey:  catalog.DefaultKey(e),
		})
	}
	return e
}

func entityKey(r Row) string {
	if r.InternalID != "" {
		return string(r.Kind) + "/id/" + r.InternalID
	}
	return string(r.Kind) + "/ext/" + r.ExternalID
}
