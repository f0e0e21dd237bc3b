package extractor

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metriclens/metriclens/internal/core"
	"github.com/metriclens/metriclens/internal/core/engine"
)

func TestListGrowthExplicitRangeIsOneCall(t *testing.T) {
	transport := newRouteTransport()
	exec := newTestExecutor(transport)
	timeframe := ninetyDayRange()

	var seenParams map[string]string
	transport.handle("list-growth-reports", func(params map[string]string) *engine.Response {
		seenParams = params
		return &engine.Response{Status: http.StatusOK, Body: []byte(
			`{"data":{"attributes":{"subscribed": 320, "unsubscribed": 45}}}`)}
	})

	extractor := &ListGrowth{}
	result := extractor.Extract(context.Background(), timeframe, exec, engine.NewResponseCache(50))

	require.Equal(t, core.SectionOK, result.Status)
	require.Equal(t, 1, transport.count("list-growth-reports"), "explicit ranges are computed in one call")
	require.Equal(t, timeframe.Start.UTC().Format(time.RFC3339), seenParams["start"])
	require.Equal(t, timeframe.End.UTC().Format(time.RFC3339), seenParams["end"])
	require.Equal(t, 320.0, result.Data["subscribed"])
	require.Equal(t, 45.0, result.Data["unsubscribed"])
	require.Equal(t, 275.0, result.Data["net_growth"])
}

func TestListGrowthDerivedRangeIteratesMonths(t *testing.T) {
	transport := newRouteTransport()
	exec := newTestExecutor(transport)

	transport.respond("list-growth-reports", http.StatusOK,
		`{"data":{"attributes":{"subscribed": 100, "unsubscribed": 10}}}`)

	timeframe := core.DateRange{
		Start: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC),
	}

	extractor := &ListGrowth{}
	result := extractor.Extract(context.Background(), timeframe, exec, engine.NewResponseCache(50))

	require.Equal(t, core.SectionOK, result.Status)
	require.Equal(t, 4, transport.count("list-growth-reports"))
	require.Len(t, result.Data["monthly"].([]any), 4)
	require.Equal(t, 400.0, result.Data["subscribed"])
	require.Equal(t, 360.0, result.Data["net_growth"])
}

func TestListGrowthDerivedRangeCapsPeriods(t *testing.T) {
	transport := newRouteTransport()
	exec := newTestExecutor(transport)

	transport.respond("list-growth-reports", http.StatusOK,
		`{"data":{"attributes":{"subscribed": 1, "unsubscribed": 0}}}`)

	timeframe := core.DateRange{
		Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	extractor := &ListGrowth{}
	result := extractor.Extract(context.Background(), timeframe, exec, engine.NewResponseCache(50))

	require.Equal(t, core.SectionOK, result.Status)
	require.Equal(t, maxGrowthPeriods, transport.count("list-growth-reports"))
}

func TestListGrowthMissingMonthDegradesToPartial(t *testing.T) {
	transport := newRouteTransport()
	exec := newTestExecutor(transport)

	calls := 0
	transport.handle("list-growth-reports", func(map[string]string) *engine.Response {
		calls++
		if calls > 2 {
			return &engine.Response{Status: http.StatusBadRequest}
		}
		return &engine.Response{Status: http.StatusOK, Body: []byte(
			`{"data":{"attributes":{"subscribed": 100, "unsubscribed": 10}}}`)}
	})

	timeframe := core.DateRange{
		Start: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC),
	}

	extractor := &ListGrowth{}
	result := extractor.Extract(context.Background(), timeframe, exec, engine.NewResponseCache(50))

	require.Equal(t, core.SectionPartial, result.Status)
	require.Contains(t, result.Reason, "growth data incomplete")
	require.Len(t, result.Data["monthly"].([]any), 2)
	require.Equal(t, 200.0, result.Data["subscribed"])
}

func TestListGrowthFatalFailsSection(t *testing.T) {
	transport := newRouteTransport()
	exec := newTestExecutor(transport)

	transport.respond("list-growth-reports", http.StatusForbidden, ``)

	extractor := &ListGrowth{}
	result := extractor.Extract(context.Background(), ninetyDayRange(), exec, engine.NewResponseCache(50))

	require.Equal(t, core.SectionFailed, result.Status)
	require.True(t, result.Fatal)
}
