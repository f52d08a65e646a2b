// Package sync drives reconciliation across dependent entity kinds and
// platforms.
package sync

import (
	"time"

	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/constants"
	"github.com/agentstation/taxonsync/pkg/errors"
)

// Options controls a reconciliation run in Syncer.Run.
type Options struct {
	// Run control
	DryRun  bool          // Report what would change without writing
	Timeout time.Duration // Timeout for the entire run, 0 for none

	// Throughput
	Concurrency int // Entities upserted in parallel per kind and platform
	PageSize    int // Page size for source fetches

	// Collision handling
	MaxRelocations int // Relocation attempts per contested key

	// Selection
	Kinds     []catalog.Kind       // Kinds to sync (empty means all declared)
	Platforms []catalog.PlatformID // Platforms to sync (empty means all given)

	// Observer receives task and run events, typically for metrics.
	Observer Observer
}

// Apply applies the given options to the sync options.
func (s *Options) Apply(opts ...Option) *Options {
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Defaults returns the default sync options.
func Defaults() *Options {
	return &Options{
		DryRun:         false,
		Timeout:        0,
		Concurrency:    constants.DefaultConcurrency,
		PageSize:       constants.DefaultPageSize,
		MaxRelocations: constants.DefaultMaxRelocations,
	}
}

// Option is a function that configures sync Options.
type Option func(*Options)

// Validate checks if the sync options are valid.
func (s *Options) Validate() error {
	if s.Timeout < 0 {
		return &errors.ValidationError{
			Field:   "Timeout",
			Value:   s.Timeout,
			Message: "timeout must be non-negative",
		}
	}
	if s.Concurrency < 1 || s.Concurrency > constants.MaxConcurrency {
		return &errors.ValidationError{
			Field:   "Concurrency",
			Value:   s.Concurrency,
			Message: "concurrency must be between 1 and 64",
		}
	}
	if s.PageSize < 1 || s.PageSize > constants.MaxPageSize {
		return &errors.ValidationError{
			Field:   "PageSize",
			Value:   s.PageSize,
			Message: "page size must be between 1 and 1000",
		}
	}
	if s.MaxRelocations < 1 {
		return &errors.ValidationError{
			Field:   "MaxRelocations",
			Value:   s.MaxRelocations,
			Message: "at least one relocation attempt is required",
		}
	}
	return nil
}

// WithDryRun configures dry run mode.
func WithDryRun(dryRun bool) Option {
	return func(opts *Options) {
		opts.DryRun = dryRun
	}
}

// WithTimeout configures the run timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.Timeout = timeout
	}
}

// WithConcurrency configures the worker pool width.
func WithConcurrency(n int) Option {
	return func(opts *Options) {
		opts.Concurrency = n
	}
}

// WithPageSize configures the fetch page size.
func WithPageSize(n int) Option {
	return func(opts *Options) {
		opts.PageSize = n
	}
}

// WithMaxRelocations configures the relocation attempt bound.
func WithMaxRelocations(n int) Option {
	return func(opts *Options) {
		opts.MaxRelocations = n
	}
}

// WithKinds restricts the run to the given kinds.
func WithKinds(kinds ...catalog.Kind) Option {
	return func(opts *Options) {
		opts.Kinds = kinds
	}
}

// WithPlatforms restricts the run to the given platforms.
func WithPlatforms(ids ...catalog.PlatformID) Option {
	return func(opts *Options) {
		opts.Platforms = ids
	}
}

// WithObserver installs a run observer.
func WithObserver(o Observer) Option {
	return func(opts *Options) {
		opts.Observer = o
	}
}
