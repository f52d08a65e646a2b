package retry_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/logging"
	"github.com/agentstation/taxonsync/pkg/retry"
)

type recorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recorder) notify(_ string, _ int, _ error, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
}

func TestDoBoundedRetryWithExponentialDelays(t *testing.T) {
	const (
		attempts = 4
		base     = 2 * time.Millisecond
		jitter   = 0.25
	)
	rec := &recorder{}
	ex := retry.New(retry.Policy{MaxAttempts: attempts, BaseDelay: base, MaxDelay: time.Second, Jitter: jitter},
		retry.WithNotify(rec.notify))

	calls := 0
	var last error
	_, err := retry.Do(context.Background(), ex, "list", func(context.Context) (int, error) {
		calls++
		last = errors.NewAPIError("shopX", 503, "unavailable")
		return 0, last
	})

	require.Error(t, err)
	assert.Equal(t, attempts, calls)
	assert.Same(t, last, err, "the last error must be surfaced unchanged")

	require.Len(t, rec.delays, attempts-1)
	for i, d := range rec.delays {
		expected := float64(base) * float64(int(1)<<i)
		assert.GreaterOrEqual(t, float64(d), expected*(1-jitter)-1, "delay %d", i)
		assert.LessOrEqual(t, float64(d), expected*(1+jitter)+1, "delay %d", i)
	}
}

func TestDoStopsOnNonTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"bad request", errors.NewAPIError("shopX", 400, "invalid")},
		{"not found", errors.NewNotFoundError("publisher", "42")},
		{"conflict", &errors.ConflictError{Platform: "shopX", Kind: "publisher", Key: "P-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := retry.New(retry.Policy{MaxAttempts: 5, BaseDelay: time.Millisecond})
			calls := 0
			err := retry.Run(context.Background(), ex, "get", func(context.Context) error {
				calls++
				return tt.err
			})
			assert.Equal(t, 1, calls)
			assert.Same(t, tt.err, err)
		})
	}
}

func TestDoRecovers(t *testing.T) {
	ex := retry.New(retry.Policy{MaxAttempts: 5, BaseDelay: time.Millisecond})
	calls := 0
	got, err := retry.Do(context.Background(), ex, "create", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.NewAPIError("shopX", 429, "slow down")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestDoWarnsWhenRateLimited(t *testing.T) {
	rec := logging.Capture(t)
	ex := retry.New(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond})
	calls := 0
	_, err := retry.Do(context.Background(), ex, "update publisher", func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.NewAPIError("shopX", 429, "slow down")
		}
		return "ok", nil
	})
	require.NoError(t, err)

	event, ok := rec.Find("Retrying after transient failure")
	require.True(t, ok)
	assert.Equal(t, "warn", event["level"])
	assert.Equal(t, true, event["rate_limited"])
	assert.Equal(t, "update publisher", event["op"])
}

func TestDoStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ex := retry.New(retry.Policy{MaxAttempts: 10, BaseDelay: time.Hour, MaxDelay: time.Hour},
		retry.WithNotify(func(string, int, error, time.Duration) { cancel() }))

	calls := 0
	start := time.Now()
	err := retry.Run(ctx, ex, "update", func(context.Context) error {
		calls++
		return errors.NewAPIError("shopX", 500, "")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoAttemptTimeoutIsTransient(t *testing.T) {
	ex := retry.New(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, AttemptTimeout: 5 * time.Millisecond})

	calls := 0
	err := retry.Run(context.Background(), ex, "get", func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 3, calls)
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, retry.DefaultPolicy().Validate())
	assert.Error(t, retry.Policy{MaxAttempts: 0}.Validate())
	assert.Error(t, retry.Policy{MaxAttempts: 1, Jitter: 1}.Validate())
	assert.Error(t, retry.Policy{MaxAttempts: 1, BaseDelay: -1}.Validate())
}
