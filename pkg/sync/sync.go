package sync

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/fetch"
	"github.com/agentstation/taxonsync/pkg/logging"
	"github.com/agentstation/taxonsync/pkg/platform"
	"github.com/agentstation/taxonsync/pkg/report"
	"github.com/agentstation/taxonsync/pkg/resolve"
	"github.com/agentstation/taxonsync/pkg/retry"
	"github.com/agentstation/taxonsync/pkg/upsert"
)

// RefWriter persists the external references of an entity back onto the
// source of truth.
type RefWriter interface {
	SaveRefs(ctx context.Context, kind catalog.Kind, internalID string, refs map[catalog.PlatformID]catalog.ExternalRef) error
}

// Store is the source of truth: a paginated entity source that accepts
// reference write-back.
type Store interface {
	fetch.Source
	RefWriter
}

// Syncer runs reconciliation passes.
type Syncer struct {
	store    Store
	retry    *retry.Executor
	keys     *upsert.KeyAllocator
	opts     *Options
	observer Observer
}

// New creates a Syncer reading from store. Every platform and source call
// goes through ex.
func New(store Store, ex *retry.Executor, opts ...Option) *Syncer {
	o := Defaults().Apply(opts...)
	observer := o.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Syncer{
		store:    store,
		retry:    ex,
		keys:     upsert.NewKeyAllocator(0),
		opts:     o,
		observer: observer,
	}
}

// Options returns the options the Syncer runs with.
func (s *Syncer) Options() Options {
	return *s.opts
}

// batch is the work for one kind on one platform.
type batch struct {
	spec     catalog.KindSpec
	platform platform.Platform
	entities []catalog.Entity
	refs     []string // external id confirmed per entity, indexed like entities
	changed  []bool   // entity references changed and need saving
}

// Run reconciles kinds in the declared order across platforms. Per-entity
// failures are recorded and never stop the run. A report is always
// returned; the error is non-nil only when the run could not complete, such
// as when a collection could not be fetched.
func (s *Syncer) Run(ctx context.Context, kinds []catalog.KindSpec, platforms []platform.Platform) (*report.Report, error) {
	collector := report.NewCollector(s.opts.DryRun)
	ctx = logging.WithRun(ctx, collector.RunID())
	logger := logging.FromContext(ctx)

	finish := func(err error) (*report.Report, error) {
		collector.Abort(err)
		r := collector.Finalize()
		s.observer.RunFinished(r)
		logger.Info().
			Bool("dry_run", r.DryRun).
			Int("created", r.Counts.Created).
			Int("updated", r.Counts.Updated).
			Int("skipped", r.Counts.Skipped).
			Int("failed", r.Counts.Failed).
			Dur("duration", r.Duration()).
			Msg("Sync finished")
		return r, err
	}

	if err := s.opts.Validate(); err != nil {
		return finish(err)
	}
	specs := s.selectKinds(kinds)
	if err := catalog.ValidateOrder(specs); err != nil {
		return finish(err)
	}
	targets := s.selectPlatforms(platforms)

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	logger.Info().
		Int("kinds", len(specs)).
		Int("platforms", len(targets)).
		Bool("dry_run", s.opts.DryRun).
		Msg("Starting sync")

	index := make(refIndex)
	if err := s.seedParents(ctx, specs, index); err != nil {
		return finish(err)
	}

	fetcher := fetch.New(s.retry)
	upserter := upsert.New(resolve.New(s.retry), s.retry, s.keys, upsert.Options{
		DryRun:         s.opts.DryRun,
		MaxRelocations: s.opts.MaxRelocations,
	})

	for _, spec := range specs {
		kctx := logging.WithKind(ctx, spec.Kind.String())

		entities, stats, err := fetcher.FetchAll(kctx, s.store, spec.Kind, s.opts.PageSize)
		if err != nil {
			logging.FromContext(kctx).Error().Err(err).Msg("Fetch failed, aborting run")
			return finish(err)
		}
		logging.FromContext(kctx).Info().
			Int("entities", len(entities)).
			Int("duplicates", stats.Duplicates).
			Msg("Fetched collection")

		changed := make([]bool, len(entities))
		for _, p := range targets {
			b := &batch{
				spec:     spec,
				platform: p,
				entities: entities,
				refs:     make([]string, len(entities)),
				changed:  changed,
			}
			s.runBatch(kctx, b, upserter, index, collector)

			for i := range entities {
				index.put(spec.Kind, p.ID(), entities[i].InternalID, b.refs[i])
			}
			if err := ctx.Err(); err != nil {
				s.saveRefs(context.WithoutCancel(kctx), spec.Kind, entities, changed, collector)
				return finish(err)
			}
		}

		s.saveRefs(kctx, spec.Kind, entities, changed, collector)
	}

	return finish(nil)
}

// runBatch upserts every entity of a batch through a bounded worker pool.
// Stored references are reserved first so no other entity can match them.
// Workers only touch their own entity and their own slots in the batch.
func (s *Syncer) runBatch(ctx context.Context, b *batch, upserter *upsert.Upserter, index refIndex, collector *report.Collector) {
	ctx = logging.WithPlatform(ctx, b.platform.ID().String())

	for i := range b.entities {
		if ref, ok := b.entities[i].Ref(b.platform.ID()); ok {
			upserter.Reserve(b.platform.ID(), b.spec.Kind, ref.ExternalID, b.entities[i].InternalID)
		}
	}

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i := range b.entities {
		g.Go(func() error {
			s.syncEntity(ctx, b, i, upserter, index, collector)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Syncer) syncEntity(ctx context.Context, b *batch, i int, upserter *upsert.Upserter, index refIndex, collector *report.Collector) {
	e := &b.entities[i]
	p := b.platform
	task := catalog.SyncTask{Kind: b.spec.Kind, Entity: e, Platform: p.ID(), Operation: catalog.OpUpdate}
	if _, ok := e.Ref(p.ID()); !ok {
		task.Operation = catalog.OpCreate
	}

	fail := func(err error) {
		collector.Fail(task, &errors.SyncError{
			Platform:   p.ID().String(),
			Kind:       b.spec.Kind.String(),
			InternalID: e.InternalID,
			Operation:  task.Operation.String(),
			Err:        err,
		})
		s.observer.TaskFinished(p.ID(), b.spec.Kind, task.Operation, err)
		logging.FromContext(ctx).Warn().
			Err(err).
			Str("entity", e.InternalID).
			Msg("Entity sync failed")
	}

	desired, err := payload(b.spec, e, p.ID(), index)
	if err != nil {
		fail(err)
		return
	}

	before, _ := e.Ref(p.ID())
	task.Attempts++
	out, err := upserter.Upsert(ctx, e, p, desired)
	if out.Operation != "" {
		task.Operation = out.Operation
	}
	if n := len(out.Relocations); n > 0 {
		collector.Relocated(b.spec.Kind, n)
		s.observer.Relocated(p.ID(), b.spec.Kind, n)
	}
	if err != nil {
		fail(err)
		return
	}

	collector.Record(b.spec.Kind, out.Operation)
	s.observer.TaskFinished(p.ID(), b.spec.Kind, out.Operation, nil)
	for _, plan := range out.Plans {
		collector.Plan(report.Planned{
			Kind:       plan.Kind,
			InternalID: e.InternalID,
			Platform:   p.ID(),
			Operation:  plan.Operation,
			ExternalID: plan.ExternalID,
			Key:        plan.Key,
		})
	}

	b.refs[i] = out.Ref.ExternalID
	if after, _ := e.Ref(p.ID()); after != before {
		b.changed[i] = true
	}
}

// payload builds the attributes written for e, adding the external id of
// each referenced parent on the same platform.
func payload(spec catalog.KindSpec, e *catalog.Entity, p catalog.PlatformID, index refIndex) (catalog.Attributes, error) {
	desired := e.Attributes.Clone()
	for _, parent := range spec.Parents {
		parentID := e.Attributes[parent.Field]
		if parentID == "" {
			continue
		}
		ext, ok := index.get(parent.Kind, p, parentID)
		if !ok {
			return nil, &errors.DependencyError{
				Kind:       spec.Kind.String(),
				ParentKind: parent.Kind.String(),
				ParentID:   parentID,
				Platform:   p.String(),
			}
		}
		desired[parent.RefField()] = ext
	}
	return desired, nil
}

// seedParents loads references for parent kinds that are not themselves
// part of the run, so their children can still be written.
func (s *Syncer) seedParents(ctx context.Context, specs []catalog.KindSpec, index refIndex) error {
	inRun := make(map[catalog.Kind]bool, len(specs))
	for _, spec := range specs {
		inRun[spec.Kind] = true
	}

	fetcher := fetch.New(s.retry)
	seeded := make(map[catalog.Kind]bool)
	for _, spec := range specs {
		for _, parent := range spec.Parents {
			if inRun[parent.Kind] || seeded[parent.Kind] {
				continue
			}
			seeded[parent.Kind] = true
			entities, _, err := fetcher.FetchAll(ctx, s.store, parent.Kind, s.opts.PageSize)
			if err != nil {
				return err
			}
			index.seed(entities)
			logging.FromContext(ctx).Debug().
				Str("kind", parent.Kind.String()).
				Int("entities", len(entities)).
				Msg("Seeded parent references")
		}
	}
	return nil
}

// saveRefs writes back the references that changed during the run.
func (s *Syncer) saveRefs(ctx context.Context, kind catalog.Kind, entities []catalog.Entity, changed []bool, collector *report.Collector) {
	if s.opts.DryRun {
		return
	}
	for i := range entities {
		if !changed[i] {
			continue
		}
		e := &entities[i]
		err := retry.Run(ctx, s.retry, "save refs", func(ctx context.Context) error {
			return s.store.SaveRefs(ctx, kind, e.InternalID, e.RefsCopy())
		})
		if err != nil {
			collector.Fail(catalog.SyncTask{Kind: kind, Entity: e, Operation: catalog.OpUpdate},
				errors.WrapResource("save refs", kind.String(), e.InternalID, err))
			logging.FromContext(ctx).Error().Err(err).Str("entity", e.InternalID).Msg("Failed to save references")
		}
	}
}

func (s *Syncer) selectKinds(kinds []catalog.KindSpec) []catalog.KindSpec {
	if len(s.opts.Kinds) == 0 {
		return kinds
	}
	want := make(map[catalog.Kind]bool, len(s.opts.Kinds))
	for _, k := range s.opts.Kinds {
		want[k] = true
	}
	var out []catalog.KindSpec
	for _, spec := range kinds {
		if want[spec.Kind] {
			out = append(out, spec)
		}
	}
	return out
}

func (s *Syncer) selectPlatforms(platforms []platform.Platform) []platform.Platform {
	if len(s.opts.Platforms) == 0 {
		return platforms
	}
	want := make(map[catalog.PlatformID]bool, len(s.opts.Platforms))
	for _, id := range s.opts.Platforms {
		want[id] = true
	}
	var out []platform.Platform
	for _, p := range platforms {
		if want[p.ID()] {
			out = append(out, p)
		}
	}
	return out
}
