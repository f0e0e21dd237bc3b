package extractor

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metriclens/metriclens/internal/core"
	"github.com/metriclens/metriclens/internal/core/engine"
)

func TestCampaignsBatchesStatisticsInOneCall(t *testing.T) {
	transport := newRouteTransport()
	exec := newTestExecutor(transport)
	resolver := resolvedMetric(transport, exec)

	transport.respond("campaigns", http.StatusOK, `{"data":[
		{"id": "c2", "attributes": {"name": "Spring Sale"}},
		{"id": "c1", "attributes": {"name": "Welcome Back"}}
	]}`)

	var reportParams map[string]string
	transport.handle("campaign-values-reports", func(params map[string]string) *engine.Response {
		reportParams = params
		return &engine.Response{Status: http.StatusOK, Body: []byte(`{
			"data": {"attributes": {"results": [
				{"groupings": {"campaign_id": "c1"}, "statistics": {"recipients": 1000, "open_rate": 0.4}},
				{"groupings": {"campaign_id": "c2"}, "statistics": {"recipients": 500, "open_rate": 0.25}}
			]}}
		}`)}
	})

	extractor := &Campaigns{Resolver: resolver}
	result := extractor.Extract(context.Background(), ninetyDayRange(), exec, engine.NewResponseCache(50))

	require.Equal(t, core.SectionOK, result.Status)
	require.Equal(t, 1, transport.count("campaign-values-reports"), "statistics must be fetched in one batched call")
	require.Equal(t, "c1,c2", reportParams["campaign_ids"])
	require.Equal(t, "m-orders", reportParams["conversion_metric_id"])

	campaigns := result.Data["campaigns"].([]any)
	require.Len(t, campaigns, 2)
	first := campaigns[0].(map[string]any)
	require.Equal(t, "c1", first["id"])
	require.Equal(t, "Welcome Back", first["name"])
	require.Equal(t, 1000.0, first["recipients"])
}

func TestCampaignsEmptyListingIsOK(t *testing.T) {
	transport := newRouteTransport()
	exec := newTestExecutor(transport)
	resolver := resolvedMetric(transport, exec)

	transport.respond("campaigns", http.StatusOK, `{"data":[]}`)

	extractor := &Campaigns{Resolver: resolver}
	result := extractor.Extract(context.Background(), ninetyDayRange(), exec, engine.NewResponseCache(50))

	require.Equal(t, core.SectionOK, result.Status)
	require.Empty(t, result.Data["campaigns"])
	require.Zero(t, transport.count("campaign-values-reports"))
}

func TestCampaignsMalformedListingFails(t *testing.T) {
	transport := newRouteTransport()
	exec := newTestExecutor(transport)
	resolver := resolvedMetric(transport, exec)

	transport.respond("campaigns", http.StatusOK, `<html>maintenance</html>`)

	extractor := &Campaigns{Resolver: resolver}
	result := extractor.Extract(context.Background(), ninetyDayRange(), exec, engine.NewResponseCache(50))

	require.Equal(t, core.SectionFailed, result.Status)
	require.False(t, result.Fatal)
	require.Contains(t, result.Reason, "malformed listing")
}

func TestCampaignsTransientExhaustionFails(t *testing.T) {
	transport := newRouteTransport()
	exec := newTestExecutor(transport)
	resolver := resolvedMetric(transport, exec)

	transport.respond("campaigns", http.StatusTooManyRequests, ``)

	extractor := &Campaigns{Resolver: resolver}
	result := extractor.Extract(context.Background(), ninetyDayRange(), exec, engine.NewResponseCache(50))

	require.Equal(t, core.SectionFailed, result.Status)
	require.False(t, result.Fatal)
	require.Equal(t, 3, result.Attempts)
	require.Equal(t, 3, transport.count("campaigns"))
}
