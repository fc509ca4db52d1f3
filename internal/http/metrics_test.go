package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrd/internal/telemetry"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	tel := telemetry.NewTestTelemetry(t)
	m := NewHTTPMetrics(zap.NewNop(), tel.MeterProvider())

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/api/v1/workflows/:id", func(c echo.Context) error {
		if c.Param("id") == "missing" {
			return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
		}
		return c.String(http.StatusOK, "ok")
	})

	for _, path := range []string{"/api/v1/workflows/a", "/api/v1/workflows/b", "/api/v1/workflows/missing"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, int64(3), tel.CounterSum(t, "orchestrd.http.requests_total"))

	rm := tel.Collect(t)
	statuses := map[int64]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if metric.Name != "orchestrd.http.requests_total" {
				continue
			}
			sum, ok := metric.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				route, _ := dp.Attributes.Value(attribute.Key("route"))
				assert.Equal(t, "/api/v1/workflows/:id", route.AsString(), "routes are templated")
				status, _ := dp.Attributes.Value(attribute.Key("status"))
				statuses[status.AsInt64()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[int64]int64{200: 2, 404: 1}, statuses)
}
