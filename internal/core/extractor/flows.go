package extractor

import (
	"context"
	"strings"

	"github.com/metriclens/metriclens/internal/core"
	"github.com/metriclens/metriclens/internal/core/engine"
)

// Flows extracts flow performance statistics. The statistics for the full
// flow id set are fetched in ONE batched report call; per-flow looping is
// the dominant cause of quota exhaustion and is disallowed here.
type Flows struct {
	Resolver *engine.MetricResolver
}

var flowStatistics = []string{"recipients", "open_rate", "click_rate", "conversion_value"}

// Section implements engine.SectionExtractor.
func (e *Flows) Section() core.Section {
	return core.SectionFlows
}

// Extract fetches every flow's statistics for the timeframe in one call.
func (e *Flows) Extract(ctx context.Context, timeframe core.DateRange, exec *engine.Executor, cache *engine.ResponseCache) *core.ExtractionResult {
	metricID, err := e.Resolver.MetricID(ctx)
	if err != nil {
		return configGap(core.SectionFlows, err)
	}

	names, listResult := listEntities(ctx, exec, cache, "flows", timeframe)
	if !listResult.OK() {
		return failedResult(core.SectionFlows, listResult)
	}
	if len(names) == 0 {
		return okResult(core.SectionFlows, map[string]any{"flows": []any{}})
	}

	ids := sortedKeys(names)
	params := mergeParams(timeframeParams(timeframe), map[string]string{
		"flow_ids":             strings.Join(ids, ","),
		"conversion_metric_id": metricID,
		"statistics":           strings.Join(flowStatistics, ","),
	})
	key := engine.CacheKey("flow-values-reports", ids, timeframe, flowStatistics, metricID)

	result := fetchCached(ctx, exec, cache, key, engine.Request{
		Endpoint: "flow-values-reports",
		Params:   params,
	})
	if !result.OK() {
		return failedResult(core.SectionFlows, result)
	}

	rows, err := parseValuesReport(result.Body, "flow_id")
	if err != nil {
		return partialResult(core.SectionFlows, nil, err.Error())
	}

	flows := make([]any, 0, len(rows))
	for _, id := range ids {
		stats, ok := rows[id]
		if !ok {
			continue
		}
		entry := map[string]any{"id": id, "name": names[id]}
		for stat, value := range stats {
			entry[stat] = value
		}
		flows = append(flows, entry)
	}

	return okResult(core.SectionFlows, map[string]any{"flows": flows})
}
