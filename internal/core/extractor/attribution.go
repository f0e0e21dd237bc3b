package extractor

import (
	"context"
	"encoding/json"

	"github.com/metriclens/metriclens/internal/core"
	"github.com/metriclens/metriclens/internal/core/engine"
)

// Attribution extracts revenue attributed per channel by grouping the
// conversion metric's aggregates on the attribution dimension.
type Attribution struct {
	Resolver *engine.MetricResolver
}

// Section implements engine.SectionExtractor.
func (e *Attribution) Section() core.Section {
	return core.SectionAttribution
}

// Extract fetches the per-channel revenue breakdown for the timeframe.
func (e *Attribution) Extract(ctx context.Context, timeframe core.DateRange, exec *engine.Executor, cache *engine.ResponseCache) *core.ExtractionResult {
	metricID, err := e.Resolver.MetricID(ctx)
	if err != nil {
		return configGap(core.SectionAttribution, err)
	}

	params := mergeParams(timeframeParams(timeframe), map[string]string{
		"metric_id":    metricID,
		"measurements": "sum_value",
		"by":           "attributed_channel",
	})
	key := engine.CacheKey("metric-aggregates/by-channel", []string{metricID}, timeframe,
		[]string{"sum_value", "attributed_channel"}, metricID)

	result := fetchCached(ctx, exec, cache, key, engine.Request{
		Endpoint: "metric-aggregates",
		Params:   params,
	})
	if !result.OK() {
		return failedResult(core.SectionAttribution, result)
	}

	var payload aggregatesPayload
	if err := json.Unmarshal(result.Body, &payload); err != nil {
		return partialResult(core.SectionAttribution, nil, "malformed aggregates response: "+err.Error())
	}

	channels := make(map[string]any)
	total := 0.0
	for _, row := range payload.Data.Attributes.Data {
		value := sumFloats(row.Measurements.SumValue)
		total += value
		channel := "unattributed"
		if len(row.Dimensions) > 0 && row.Dimensions[0] != "" {
			channel = row.Dimensions[0]
		}
		channels[channel] = value
	}

	return okResult(core.SectionAttribution, map[string]any{
		"channels":           channels,
		"attributed_revenue": total,
	})
}
