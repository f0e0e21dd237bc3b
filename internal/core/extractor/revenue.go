package extractor

import (
	"context"
	"encoding/json"

	"github.com/metriclens/metriclens/internal/core"
	"github.com/metriclens/metriclens/internal/core/engine"
)

// Revenue extracts order totals for the timeframe from the conversion
// metric's aggregates.
type Revenue struct {
	Resolver *engine.MetricResolver
}

// Section implements engine.SectionExtractor.
func (e *Revenue) Section() core.Section {
	return core.SectionRevenue
}

// Extract fetches total and attributed revenue for the timeframe.
func (e *Revenue) Extract(ctx context.Context, timeframe core.DateRange, exec *engine.Executor, cache *engine.ResponseCache) *core.ExtractionResult {
	metricID, err := e.Resolver.MetricID(ctx)
	if err != nil {
		return configGap(core.SectionRevenue, err)
	}

	params := mergeParams(timeframeParams(timeframe), map[string]string{
		"metric_id":    metricID,
		"measurements": "sum_value,count",
	})
	key := engine.CacheKey("metric-aggregates", []string{metricID}, timeframe,
		[]string{"sum_value", "count"}, metricID)

	result := fetchCached(ctx, exec, cache, key, engine.Request{
		Endpoint: "metric-aggregates",
		Params:   params,
	})
	if !result.OK() {
		return failedResult(core.SectionRevenue, result)
	}

	var payload aggregatesPayload
	if err := json.Unmarshal(result.Body, &payload); err != nil {
		return partialResult(core.SectionRevenue, nil, "malformed aggregates response: "+err.Error())
	}

	totalRevenue := 0.0
	orders := 0.0
	for _, row := range payload.Data.Attributes.Data {
		totalRevenue += sumFloats(row.Measurements.SumValue)
		orders += sumFloats(row.Measurements.Count)
	}

	data := map[string]any{
		"total_revenue": totalRevenue,
		"orders":        orders,
	}
	if orders > 0 {
		data["average_order_value"] = totalRevenue / orders
	}
	return okResult(core.SectionRevenue, data)
}

// aggregatesPayload mirrors the provider's metric-aggregates response:
// one row per dimension grouping, measurements as per-interval series.
type aggregatesPayload struct {
	Data struct {
		Attributes struct {
			Data []aggregateRow `json:"data"`
		} `json:"attributes"`
	} `json:"data"`
}

type aggregateRow struct {
	Dimensions   []string `json:"dimensions"`
	Measurements struct {
		SumValue []float64 `json:"sum_value"`
		Count    []float64 `json:"count"`
	} `json:"measurements"`
}
