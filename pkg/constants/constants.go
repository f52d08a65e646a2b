// Package constants provides shared constants used throughout the taxonsync codebase.
// This includes timeouts, limits, file permissions, and engine defaults that
// should be consistent across the library and the CLI.
package constants

import "time"

// Timeout constants define various timeout durations used in the application
const (
	// DefaultHTTPTimeout is the standard timeout for HTTP requests to platform APIs
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultAttemptTimeout bounds a single attempt of an external call
	DefaultAttemptTimeout = 20 * time.Second

	// SyncTimeout is the default timeout for a whole reconciliation run
	SyncTimeout = 30 * time.Minute

	// ShutdownTimeout is how long the CLI waits for servers to drain
	ShutdownTimeout = 5 * time.Second
)

// Retry constants
const (
	// MaxRetries is the default number of attempts for an external call
	MaxRetries = 4

	// RetryBackoff is the base backoff duration for retries
	RetryBackoff = 500 * time.Millisecond

	// MaxRetryBackoff is the maximum backoff duration for retries
	MaxRetryBackoff = 30 * time.Second

	// RetryJitter is the randomization factor applied to each backoff delay
	RetryJitter = 0.2
)

// Limit constants define various limits and capacities
const (
	// DefaultConcurrency is the worker pool width per (kind, platform) batch
	DefaultConcurrency = 4

	// MaxConcurrency caps the configurable worker pool width
	MaxConcurrency = 64

	// DefaultPageSize is the default number of items per page for paginated sources
	DefaultPageSize = 100

	// MaxPageSize is the maximum allowed page size for paginated sources
	MaxPageSize = 1000

	// MaxPages guards against sources that never report their last page
	MaxPages = 10000

	// DefaultMaxRelocations bounds attempts to move a colliding resource
	DefaultMaxRelocations = 3

	// RelocationSpread is the range of the random offset added to the
	// highest known numeric key when allocating a synthetic key
	RelocationSpread = 1000
)

// File permission constants define standard Unix file permissions
const (
	// DirPermissions is the default permission for created directories (rwxr-xr-x)
	DirPermissions = 0755

	// FilePermissions is the default permission for created files (rw-r--r--)
	FilePermissions = 0644
)

// Path constants
const (
	// DefaultStorePath is the default location of the local source-of-truth store
	DefaultStorePath = "~/.taxonsync/store"

	// DefaultConfigName is the config file name searched in $HOME and the working directory
	DefaultConfigName = ".taxonsync"
)

// Attribute suffix used when threading a parent's external id into a child payload.
const ParentRefSuffix = "_external_id"
