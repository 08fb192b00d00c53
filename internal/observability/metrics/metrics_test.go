package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("scope_type", "organization"),
		attribute.String("scope_id", "456"),
		attribute.String("outcome", "reject"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("scope_type"), attrs[0].Key)
	assert.Equal(t, attribute.Key("outcome"), attrs[1].Key)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDeduction(context.Background(), "individual", "allow", "", 10)
		m.RecordWarning(context.Background(), "individual")
		m.RecordLedgerEntry(context.Background(), "speech_assessment")
		m.RecordJob(context.Background(), "ledger_reconcile", "ok", time.Second)
		m.RecordLedgerDrift(context.Background(), "individual")
		m.RecordScopesExpired(context.Background(), "individual", 2)
	})
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordDeduction(context.Background(), "organization", "reject", "hard_limit_exceeded", 0)
}

func TestRecordJobExportsCounterAndHistogram(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	m, err := New(Config{}, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	m.RecordJob(ctx, "ledger_reconcile", "ok", 2*time.Second)
	m.RecordScopesExpired(ctx, "individual", 3)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	seen := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			seen[md.Name] = true
			switch md.Name {
			case "edupoints_scheduler_job_runs_total":
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				require.Len(t, sum.DataPoints, 1)
				assert.Equal(t, int64(1), sum.DataPoints[0].Value)
				job, ok := sum.DataPoints[0].Attributes.Value("job")
				require.True(t, ok)
				assert.Equal(t, "ledger_reconcile", job.AsString())
			case "edupoints_scopes_expired_total":
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				require.Len(t, sum.DataPoints, 1)
				assert.Equal(t, int64(3), sum.DataPoints[0].Value)
			}
		}
	}
	assert.True(t, seen["edupoints_scheduler_job_duration_seconds"])
	assert.True(t, seen["edupoints_scheduler_job_runs_total"])
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m, err := NewHTTPMetrics(reg)
	require.NoError(t, err)

	r := gin.New()
	r.Use(GinMiddleware(m))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/health", "200")))
}
