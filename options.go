package taxonsync

import (
	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/platform"
	"github.com/agentstation/taxonsync/pkg/retry"
	"github.com/agentstation/taxonsync/pkg/sync"
)

// Option is a function that configures a Client
type Option func(*config) error

// config holds the Client configuration
type config struct {
	store       sync.Store
	platforms   []platform.Platform
	kinds       []catalog.KindSpec
	retryPolicy retry.Policy
	retryNotify retry.Notify
	observer    sync.Observer
	syncOptions []sync.Option
}

func defaultConfig() *config {
	return &config{
		kinds:       catalog.DefaultKindSpecs(),
		retryPolicy: retry.DefaultPolicy(),
	}
}

// WithStore configures the source of truth read by Sync.
func WithStore(store sync.Store) Option {
	return func(c *config) error {
		if store == nil {
			return errors.NewValidationError("store", nil, "store is nil")
		}
		c.store = store
		return nil
	}
}

// WithPlatforms adds target platforms. Sync visits them in the order added.
func WithPlatforms(platforms ...platform.Platform) Option {
	return func(c *config) error {
		for _, p := range platforms {
			if p == nil {
				return errors.NewValidationError("platform", nil, "platform is nil")
			}
		}
		c.platforms = append(c.platforms, platforms...)
		return nil
	}
}

// WithKinds replaces the default kind hierarchy. Parents must come before
// their children.
func WithKinds(specs ...catalog.KindSpec) Option {
	return func(c *config) error {
		if len(specs) == 0 {
			return errors.NewValidationError("kinds", nil, "at least one kind is required")
		}
		c.kinds = specs
		return nil
	}
}

// WithRetryPolicy configures retries of every external call.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(c *config) error {
		if err := policy.Validate(); err != nil {
			return err
		}
		c.retryPolicy = policy
		return nil
	}
}

// WithRetryNotify registers a hook invoked before every retry.
func WithRetryNotify(fn retry.Notify) Option {
	return func(c *config) error {
		c.retryNotify = fn
		return nil
	}
}

// WithObserver installs an observer of sync runs, alongside registered hooks.
func WithObserver(o sync.Observer) Option {
	return func(c *config) error {
		c.observer = o
		return nil
	}
}

// WithSyncOptions sets defaults applied to every Sync before its own options.
func WithSyncOptions(opts ...sync.Option) Option {
	return func(c *config) error {
		c.syncOptions = append(c.syncOptions, opts...)
		return nil
	}
}

// ApplyOption configures one Apply.
type ApplyOption func(*tabularConfig)

type tabularConfig struct {
	dryRun         bool
	concurrency    int
	maxRelocations int
}

// WithApplyDryRun reports planned actions without writing to the platform
// or the snapshot.
func WithApplyDryRun(dryRun bool) ApplyOption {
	return func(c *tabularConfig) {
		c.dryRun = dryRun
	}
}

// WithApplyConcurrency configures how many rows of a pass run in parallel.
func WithApplyConcurrency(n int) ApplyOption {
	return func(c *tabularConfig) {
		c.concurrency = n
	}
}

// WithApplyMaxRelocations configures the relocation attempt bound.
func WithApplyMaxRelocations(n int) ApplyOption {
	return func(c *tabularConfig) {
		c.maxRelocations = n
	}
}
