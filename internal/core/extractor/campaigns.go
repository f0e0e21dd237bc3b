package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/metriclens/metriclens/internal/core"
	"github.com/metriclens/metriclens/internal/core/engine"
)

// Campaigns extracts per-campaign performance statistics. The campaign list
// lookup goes through the shared cache; the statistics come from a single
// values report scoped to the conversion metric.
type Campaigns struct {
	Resolver *engine.MetricResolver
}

var campaignStatistics = []string{"recipients", "open_rate", "click_rate", "conversion_value"}

// Section implements engine.SectionExtractor.
func (e *Campaigns) Section() core.Section {
	return core.SectionCampaigns
}

// Extract fetches campaigns sent in the timeframe and their statistics.
func (e *Campaigns) Extract(ctx context.Context, timeframe core.DateRange, exec *engine.Executor, cache *engine.ResponseCache) *core.ExtractionResult {
	metricID, err := e.Resolver.MetricID(ctx)
	if err != nil {
		return configGap(core.SectionCampaigns, err)
	}

	names, listResult := listEntities(ctx, exec, cache, "campaigns", timeframe)
	if !listResult.OK() {
		return failedResult(core.SectionCampaigns, listResult)
	}
	if len(names) == 0 {
		return okResult(core.SectionCampaigns, map[string]any{"campaigns": []any{}})
	}

	ids := sortedKeys(names)
	params := mergeParams(timeframeParams(timeframe), map[string]string{
		"campaign_ids":         strings.Join(ids, ","),
		"conversion_metric_id": metricID,
		"statistics":           strings.Join(campaignStatistics, ","),
	})
	key := engine.CacheKey("campaign-values-reports", ids, timeframe, campaignStatistics, metricID)

	result := fetchCached(ctx, exec, cache, key, engine.Request{
		Endpoint: "campaign-values-reports",
		Params:   params,
	})
	if !result.OK() {
		return failedResult(core.SectionCampaigns, result)
	}

	rows, err := parseValuesReport(result.Body, "campaign_id")
	if err != nil {
		return partialResult(core.SectionCampaigns, nil, err.Error())
	}

	campaigns := make([]any, 0, len(rows))
	for _, id := range ids {
		stats, ok := rows[id]
		if !ok {
			continue
		}
		entry := map[string]any{"id": id, "name": names[id]}
		for stat, value := range stats {
			entry[stat] = value
		}
		campaigns = append(campaigns, entry)
	}

	return okResult(core.SectionCampaigns, map[string]any{"campaigns": campaigns})
}

// listEntities fetches an entity listing endpoint through the cache and
// returns id -> name.
func listEntities(ctx context.Context, exec *engine.Executor, cache *engine.ResponseCache, endpoint string, timeframe core.DateRange) (map[string]string, engine.Result) {
	key := engine.CacheKey(endpoint, nil, timeframe, nil, "")
	result := fetchCached(ctx, exec, cache, key, engine.Request{
		Endpoint: endpoint,
		Params:   timeframeParams(timeframe),
	})
	if !result.OK() {
		return nil, result
	}

	var payload struct {
		Data []struct {
			ID         string `json:"id"`
			Attributes struct {
				Name string `json:"name"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(result.Body, &payload); err != nil {
		return nil, engine.Result{
			Class: engine.ClassPermanent,
			Err:   fmt.Errorf("%s: malformed listing: %w", endpoint, err),
		}
	}

	names := make(map[string]string, len(payload.Data))
	for _, item := range payload.Data {
		if item.ID == "" {
			continue
		}
		names[item.ID] = item.Attributes.Name
	}
	return names, result
}

// parseValuesReport decodes a values-report body into id -> statistic map.
func parseValuesReport(body []byte, groupKey string) (map[string]map[string]float64, error) {
	var payload struct {
		Data struct {
			Attributes struct {
				Results []struct {
					Groupings  map[string]string  `json:"groupings"`
					Statistics map[string]float64 `json:"statistics"`
				} `json:"results"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("malformed values report: %w", err)
	}

	rows := make(map[string]map[string]float64, len(payload.Data.Attributes.Results))
	for _, row := range payload.Data.Attributes.Results {
		id := row.Groupings[groupKey]
		if id == "" {
			continue
		}
		rows[id] = row.Statistics
	}
	return rows, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
