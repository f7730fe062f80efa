package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTurn(t *testing.T) {
	m := New()
	m.RecordTurn("echo", "succeeded", 20*time.Millisecond)
	m.RecordTurn("echo", "failed", time.Second)
	m.RecordTurn("echo", "succeeded", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.turnsTotal.WithLabelValues("echo", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turnsTotal.WithLabelValues("echo", "failed")))
}

func TestRecordRebuild_SizeOnlyOnSuccess(t *testing.T) {
	m := New()
	m.RecordRebuild("startup", 4, nil)
	m.RecordRebuild("cron", 9, errors.New("db down"))

	assert.Equal(t, 4.0, testutil.ToFloat64(m.registrySize))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.registryRebuilds.WithLabelValues("cron", "error")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordTurn("echo", "succeeded", time.Second)
	m.RecordNotification("runner.log")
	m.RecordNotificationError()
	m.RecordRebuild("cron", 1, nil)
	m.RecordDispatch(nil)
	m.RecordConsumed("ack")
}

func TestRecordConsumed(t *testing.T) {
	m := New()
	m.RecordConsumed("retry")
	m.RecordConsumed("retry")
	m.RecordConsumed("dead")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsConsumed.WithLabelValues("retry")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.RecordNotification("runner.message")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `pipeline_notifications_total{type="runner.message"} 1`))
}
