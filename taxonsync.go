// Package taxonsync mirrors hierarchical catalog data from a source of truth
// into external platforms, keeping a stable mapping between internal and
// external identities.
//
// A Client wires a store, a set of platforms and the kind hierarchy:
//
//	client, err := taxonsync.New(
//		taxonsync.WithStore(store),
//		taxonsync.WithPlatforms(shop),
//	)
//	report, err := client.Sync(ctx, sync.WithDryRun(true))
package taxonsync

import (
	"context"
	"slices"

	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/platform"
	"github.com/agentstation/taxonsync/pkg/report"
	"github.com/agentstation/taxonsync/pkg/retry"
	"github.com/agentstation/taxonsync/pkg/sync"
	"github.com/agentstation/taxonsync/pkg/tabular"
)

// Client runs reconciliations.
type Client interface {
	// Sync reconciles every configured kind across every configured platform.
	Sync(ctx context.Context, opts ...sync.Option) (*report.Report, error)

	// Apply applies a tabular snapshot to one platform and writes the
	// resulting rows back unless the apply is a dry run.
	Apply(ctx context.Context, snapshot tabular.Snapshot, target catalog.PlatformID, opts ...ApplyOption) (*report.Report, error)

	// Platform returns a configured platform.
	Platform(id catalog.PlatformID) (platform.Platform, error)

	// Kinds returns the kind hierarchy in dependency order.
	Kinds() []catalog.KindSpec

	// OnTaskFinished registers a callback for every finished sync task
	OnTaskFinished(TaskFinishedHook)

	// OnRelocated registers a callback for resources moved off a contested key
	OnRelocated(RelocatedHook)

	// OnRunFinished registers a callback for every finished sync or apply
	OnRunFinished(RunFinishedHook)
}

// client is the internal implementation of the Client interface
type client struct {
	config *config
	retry  *retry.Executor
	hooks  *hooks
}

// New creates a Client with the given options.
func New(opts ...Option) (Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, errors.WrapResource("apply", "option", "", err)
		}
	}
	if err := catalog.ValidateOrder(cfg.kinds); err != nil {
		return nil, err
	}

	seen := make(map[catalog.PlatformID]bool, len(cfg.platforms))
	for _, p := range cfg.platforms {
		if seen[p.ID()] {
			return nil, errors.NewConfigError("platforms", "duplicate platform "+p.ID().String(), nil)
		}
		seen[p.ID()] = true
	}

	var retryOpts []retry.Option
	if cfg.retryNotify != nil {
		retryOpts = append(retryOpts, retry.WithNotify(cfg.retryNotify))
	}
	return &client{
		config: cfg,
		retry:  retry.New(cfg.retryPolicy, retryOpts...),
		hooks:  newHooks(cfg.observer),
	}, nil
}

// Platform implements Client.
func (c *client) Platform(id catalog.PlatformID) (platform.Platform, error) {
	for _, p := range c.config.platforms {
		if p.ID() == id {
			return p, nil
		}
	}
	return nil, errors.NewNotFoundError("platform", id.String())
}

// Kinds implements Client.
func (c *client) Kinds() []catalog.KindSpec {
	return slices.Clone(c.config.kinds)
}

// OnTaskFinished implements Client.
func (c *client) OnTaskFinished(fn TaskFinishedHook) {
	c.hooks.OnTaskFinished(fn)
}

// OnRelocated implements Client.
func (c *client) OnRelocated(fn RelocatedHook) {
	c.hooks.OnRelocated(fn)
}

// OnRunFinished implements Client.
func (c *client) OnRunFinished(fn RunFinishedHook) {
	c.hooks.OnRunFinished(fn)
}
