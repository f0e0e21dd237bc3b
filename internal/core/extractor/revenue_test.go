package extractor

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metriclens/metriclens/internal/core"
	"github.com/metriclens/metriclens/internal/core/engine"
)

func TestRevenueComputesTotals(t *testing.T) {
	transport := newRouteTransport()
	exec := newTestExecutor(transport)
	resolver := resolvedMetric(transport, exec)

	transport.respond("metric-aggregates", http.StatusOK, `{
		"data": {"attributes": {"data": [
			{"dimensions": [], "measurements": {"sum_value": [100, 50], "count": [2, 1]}}
		]}}
	}`)

	extractor := &Revenue{Resolver: resolver}
	result := extractor.Extract(context.Background(), ninetyDayRange(), exec, engine.NewResponseCache(50))

	require.Equal(t, core.SectionOK, result.Status)
	require.Equal(t, 150.0, result.Data["total_revenue"])
	require.Equal(t, 3.0, result.Data["orders"])
	require.Equal(t, 50.0, result.Data["average_order_value"])
	require.Equal(t, 1, transport.count("metric-aggregates"))
}

func TestRevenueZeroOrdersOmitsAverage(t *testing.T) {
	transport := newRouteTransport()
	exec := newTestExecutor(transport)
	resolver := resolvedMetric(transport, exec)

	transport.respond("metric-aggregates", http.StatusOK,
		`{"data":{"attributes":{"data":[]}}}`)

	extractor := &Revenue{Resolver: resolver}
	result := extractor.Extract(context.Background(), ninetyDayRange(), exec, engine.NewResponseCache(50))

	require.Equal(t, core.SectionOK, result.Status)
	require.Equal(t, 0.0, result.Data["total_revenue"])
	require.NotContains(t, result.Data, "average_order_value")
}

func TestRevenueUnresolvedMetricIsGapNotFatal(t *testing.T) {
	transport := newRouteTransport()
	transport.respond("metrics", http.StatusOK, `{"data":[]}`)
	exec := newTestExecutor(transport)
	resolver := &engine.MetricResolver{Executor: exec, MetricName: "Placed Order"}

	extractor := &Revenue{Resolver: resolver}
	result := extractor.Extract(context.Background(), ninetyDayRange(), exec, engine.NewResponseCache(50))

	require.Equal(t, core.SectionFailed, result.Status)
	require.False(t, result.Fatal)
	require.Zero(t, transport.count("metric-aggregates"), "no aggregates call without a metric id")
}

func TestRevenueAuthFailureIsFatal(t *testing.T) {
	transport := newRouteTransport()
	transport.respond("metrics", http.StatusUnauthorized, ``)
	exec := newTestExecutor(transport)
	resolver := &engine.MetricResolver{Executor: exec, MetricName: "Placed Order"}

	extractor := &Revenue{Resolver: resolver}
	result := extractor.Extract(context.Background(), ninetyDayRange(), exec, engine.NewResponseCache(50))

	require.Equal(t, core.SectionFailed, result.Status)
	require.True(t, result.Fatal)
}

func TestRevenueMalformedBodyIsPartial(t *testing.T) {
	transport := newRouteTransport()
	exec := newTestExecutor(transport)
	resolver := resolvedMetric(transport, exec)

	transport.respond("metric-aggregates", http.StatusOK, `not json`)

	extractor := &Revenue{Resolver: resolver}
	result := extractor.Extract(context.Background(), ninetyDayRange(), exec, engine.NewResponseCache(50))

	require.Equal(t, core.SectionPartial, result.Status)
	require.Contains(t, result.Reason, "malformed aggregates response")
}

func TestAttributionGroupsByChannel(t *testing.T) {
	transport := newRouteTransport()
	exec := newTestExecutor(transport)
	resolver := resolvedMetric(transport, exec)

	transport.respond("metric-aggregates", http.StatusOK, `{
		"data": {"attributes": {"data": [
			{"dimensions": ["email"], "measurements": {"sum_value": [300]}},
			{"dimensions": ["sms"], "measurements": {"sum_value": [120]}},
			{"dimensions": [""], "measurements": {"sum_value": [80]}}
		]}}
	}`)

	extractor := &Attribution{Resolver: resolver}
	result := extractor.Extract(context.Background(), ninetyDayRange(), exec, engine.NewResponseCache(50))

	require.Equal(t, core.SectionOK, result.Status)
	require.Equal(t, 500.0, result.Data["attributed_revenue"])

	channels := result.Data["channels"].(map[string]any)
	require.Equal(t, 300.0, channels["email"])
	require.Equal(t, 120.0, channels["sms"])
	require.Equal(t, 80.0, channels["unattributed"])
}

func TestRevenueAndAttributionUseDistinctCacheEntries(t *testing.T) {
	transport := newRouteTransport()
	exec := newTestExecutor(transport)
	resolver := resolvedMetric(transport, exec)
	cache := engine.NewResponseCache(50)

	transport.respond("metric-aggregates", http.StatusOK,
		`{"data":{"attributes":{"data":[]}}}`)

	timeframe := ninetyDayRange()
	revResult := (&Revenue{Resolver: resolver}).Extract(context.Background(), timeframe, exec, cache)
	attrResult := (&Attribution{Resolver: resolver}).Extract(context.Background(), timeframe, exec, cache)

	require.Equal(t, core.SectionOK, revResult.Status)
	require.Equal(t, core.SectionOK, attrResult.Status)
	// Same endpoint, different grouping, so both must hit the provider once.
	require.Equal(t, 2, transport.count("metric-aggregates"))

	again := (&Revenue{Resolver: resolver}).Extract(context.Background(), timeframe, exec, cache)
	require.Equal(t, core.SectionOK, again.Status)
	require.Equal(t, 2, transport.count("metric-aggregates"), "repeat extraction should be served from cache")
}
