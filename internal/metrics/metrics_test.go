package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/report"
	"github.com/agentstation/taxonsync/pkg/retry"
)

func TestTaskFinished(t *testing.T) {
	m := New()

	m.TaskFinished("shopX", catalog.KindProduct, catalog.OpCreate, nil)
	m.TaskFinished("shopX", catalog.KindProduct, catalog.OpCreate, nil)
	m.TaskFinished("shopX", catalog.KindProduct, catalog.OpUpdate, errors.ErrAmbiguous)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tasks.WithLabelValues("shopX", "product", "create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasks.WithLabelValues("shopX", "product", "update", "ambiguous")))
}

func TestRelocatedAndRuns(t *testing.T) {
	m := New()

	m.Relocated("shopX", catalog.KindPublisher, 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.relocations.WithLabelValues("shopX", "publisher")))

	m.RunFinished(&report.Report{DryRun: true})
	m.RunFinished(&report.Report{Counts: report.Counts{Failed: 1}})
	m.RunFinished(&report.Report{Fatal: "fetch failed"})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("true", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("false", "partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("false", "aborted")))
}

func TestRetryNotify(t *testing.T) {
	m := New()
	ex := retry.New(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, retry.WithNotify(m.RetryNotify()))

	calls := 0
	err := retry.Run(context.Background(), ex, "create product", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.ErrTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.retries.WithLabelValues("create product", "transient")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.TaskFinished("shopX", catalog.KindProduct, catalog.OpCreate, nil)
	m.Relocated("shopX", catalog.KindProduct, 1)
	m.RunFinished(&report.Report{})
	m.RetryNotify()("op", 1, errors.ErrTransient, time.Millisecond)
}

func TestHandler(t *testing.T) {
	m := New()
	m.Relocated("shopX", catalog.KindAuthor, 1)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), `taxonsync_relocations_total{kind="author",platform="shopX"} 1`))
}
