// Package retry wraps external calls with classification-aware retries and
// exponential backoff with jitter.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/agentstation/taxonsync/pkg/constants"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/logging"
)

// Policy bounds how a call is retried.
type Policy struct {
	MaxAttempts    int           `json:"max_attempts" yaml:"max_attempts"`
	BaseDelay      time.Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay       time.Duration `json:"max_delay" yaml:"max_delay"`
	Jitter         float64       `json:"jitter" yaml:"jitter"`                   // fraction in [0,1) applied to each delay
	AttemptTimeout time.Duration `json:"attempt_timeout" yaml:"attempt_timeout"` // zero disables the per-attempt deadline
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    constants.MaxRetries,
		BaseDelay:      constants.RetryBackoff,
		MaxDelay:       constants.MaxRetryBackoff,
		Jitter:         constants.RetryJitter,
		AttemptTimeout: constants.DefaultAttemptTimeout,
	}
}

// Validate checks the policy for usable values.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return errors.NewValidationError("max_attempts", p.MaxAttempts, "must be at least 1")
	case p.BaseDelay < 0 || p.MaxDelay < 0 || p.AttemptTimeout < 0:
		return errors.NewValidationError("delay", p.BaseDelay, "durations must be non-negative")
	case p.Jitter < 0 || p.Jitter >= 1:
		return errors.NewValidationError("jitter", p.Jitter, "must be in [0,1)")
	}
	return nil
}

// Classifier maps an error onto the taxonomy.
type Classifier func(error) errors.Class

// Notify is called before sleeping ahead of the next attempt.
type Notify func(op string, attempt int, err error, delay time.Duration)

// Executor runs operations under a policy. It is safe for concurrent use and
// holds no per-call state.
type Executor struct {
	policy   Policy
	classify Classifier
	notify   Notify
}

// Option configures an Executor.
type Option func(*Executor)

// WithClassifier overrides the default errors.Classify.
func WithClassifier(c Classifier) Option {
	return func(e *Executor) {
		e.classify = c
	}
}

// WithNotify registers a hook invoked before every retry.
func WithNotify(n Notify) Option {
	return func(e *Executor) {
		e.notify = n
	}
}

// New creates an Executor.
func New(policy Policy, opts ...Option) *Executor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = constants.MaxRetryBackoff
	}
	e := &Executor{policy: policy, classify: errors.Classify}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Do runs op until it succeeds, fails with a non-transient error, the attempt
// budget is spent, or ctx is done. The last error is returned unchanged.
func Do[T any](ctx context.Context, e *Executor, name string, op func(context.Context) (T, error)) (T, error) {
	logger := logging.FromContext(ctx)
	attempt := 0

	operation := func() (T, error) {
		attempt++
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, backoff.Permanent(err)
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if e.policy.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, e.policy.AttemptTimeout)
		}
		res, err := op(attemptCtx)
		cancel()

		switch {
		case err == nil:
			return res, nil
		case ctx.Err() != nil:
			// the run itself is over; do not keep retrying
			return res, backoff.Permanent(err)
		case e.classify(err) != errors.ClassTransient:
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     e.policy.BaseDelay,
		RandomizationFactor: e.policy.Jitter,
		Multiplier:          2,
		MaxInterval:         e.policy.MaxDelay,
	}
	b.Reset()

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(e.policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			event := logger.Debug()
			if errors.IsRateLimited(err) {
				event = logger.Warn()
			}
			event.
				Err(err).
				Str("op", name).
				Int("attempt", attempt).
				Dur("delay", delay).
				Bool("rate_limited", errors.IsRateLimited(err)).
				Msg("Retrying after transient failure")
			if e.notify != nil {
				e.notify(name, attempt, err, delay)
			}
		}),
	)
	if permanent, ok := err.(*backoff.PermanentError); ok {
		err = permanent.Err
	}
	return res, err
}

// Run is Do for operations without a result.
func Run(ctx context.Context, e *Executor, name string, op func(context.Context) error) error {
	_, err := Do(ctx, e, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
