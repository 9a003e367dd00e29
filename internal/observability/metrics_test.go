package observability

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAuditDelivery(t *testing.T) {
	m := NewMetrics()
	m.RecordAuditDelivery(nil)
	m.RecordAuditDelivery(nil)
	m.RecordAuditDelivery(errors.New("boom"))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.auditDeliveries.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.auditDeliveries.WithLabelValues("error")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordAuditDelivery(nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 503, rec.Code)
}
