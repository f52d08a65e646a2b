package taxonsync

import (
	"context"

	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/logging"
	"github.com/agentstation/taxonsync/pkg/report"
	"github.com/agentstation/taxonsync/pkg/sync"
	"github.com/agentstation/taxonsync/pkg/tabular"
)

// Sync implements Client.
func (c *client) Sync(ctx context.Context, opts ...sync.Option) (*report.Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.config.store == nil {
		return nil, errors.NewConfigError("store", "sync needs a store", nil)
	}
	if len(c.config.platforms) == 0 {
		return nil, errors.NewConfigError("platforms", "sync needs at least one platform", nil)
	}

	all := make([]sync.Option, 0, len(c.config.syncOptions)+len(opts)+1)
	all = append(all, c.config.syncOptions...)
	all = append(all, opts...)
	all = append(all, sync.WithObserver(c.hooks))

	return sync.New(c.config.store, c.retry, all...).Run(ctx, c.config.kinds, c.config.platforms)
}

// Apply implements Client.
func (c *client) Apply(ctx context.Context, snapshot tabular.Snapshot, target catalog.PlatformID, opts ...ApplyOption) (*report.Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p, err := c.Platform(target)
	if err != nil {
		return nil, err
	}

	cfg := &tabularConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	rows, err := snapshot.Read(ctx)
	if err != nil {
		return nil, errors.WrapResource("read", "snapshot", "", err)
	}

	adapter := tabular.New(c.retry, tabular.Options{
		DryRun:         cfg.dryRun,
		Concurrency:    cfg.concurrency,
		MaxRelocations: cfg.maxRelocations,
		Observer:       c.hooks,
	})
	r, out, err := adapter.Apply(ctx, rows, p)
	c.hooks.RunFinished(r)
	if err != nil {
		return r, err
	}
	if cfg.dryRun {
		return r, nil
	}

	if err := snapshot.Write(ctx, out); err != nil {
		logging.FromContext(ctx).Error().Err(err).Msg("Failed to write snapshot back")
		return r, errors.WrapResource("write", "snapshot", "", err)
	}
	return r, nil
}
