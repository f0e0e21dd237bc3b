package extractor

import (
	"context"
	"encoding/json"

	"github.com/metriclens/metriclens/internal/core"
	"github.com/metriclens/metriclens/internal/core/engine"
)

// ListGrowth extracts subscriber growth. An explicitly supplied timeframe
// is computed in one call over that exact range; monthly iteration is only
// a fallback for derived lookbacks, and even then the period count is
// capped to bound the call budget.
type ListGrowth struct{}

const maxGrowthPeriods = 6

// Section implements engine.SectionExtractor.
func (e *ListGrowth) Section() core.Section {
	return core.SectionListGrowth
}

// Extract fetches net list growth for the timeframe.
func (e *ListGrowth) Extract(ctx context.Context, timeframe core.DateRange, exec *engine.Executor, cache *engine.ResponseCache) *core.ExtractionResult {
	if timeframe.Explicit {
		subscribed, unsubscribed, result := e.fetchRange(ctx, exec, cache, timeframe)
		if !result.OK() {
			return failedResult(core.SectionListGrowth, result)
		}
		return okResult(core.SectionListGrowth, map[string]any{
			"subscribed":   subscribed,
			"unsubscribed": unsubscribed,
			"net_growth":   subscribed - unsubscribed,
		})
	}

	periods := timeframe.Months(maxGrowthPeriods)
	monthly := make([]any, 0, len(periods))
	totalSubscribed := 0.0
	totalUnsubscribed := 0.0
	for _, period := range periods {
		subscribed, unsubscribed, result := e.fetchRange(ctx, exec, cache, period)
		if !result.OK() {
			if result.Class == engine.ClassFatal {
				return failedResult(core.SectionListGrowth, result)
			}
			// A missing month degrades the section, not the run.
			return partialResult(core.SectionListGrowth, map[string]any{
				"monthly":      monthly,
				"subscribed":   totalSubscribed,
				"unsubscribed": totalUnsubscribed,
			}, "growth data incomplete: "+result.Err.Error())
		}
		totalSubscribed += subscribed
		totalUnsubscribed += unsubscribed
		monthly = append(monthly, map[string]any{
			"start":        period.Start.UTC().Format("2006-01-02"),
			"subscribed":   subscribed,
			"unsubscribed": unsubscribed,
		})
	}

	return okResult(core.SectionListGrowth, map[string]any{
		"monthly":      monthly,
		"subscribed":   totalSubscribed,
		"unsubscribed": totalUnsubscribed,
		"net_growth":   totalSubscribed - totalUnsubscribed,
	})
}

func (e *ListGrowth) fetchRange(ctx context.Context, exec *engine.Executor, cache *engine.ResponseCache, timeframe core.DateRange) (subscribed, unsubscribed float64, result engine.Result) {
	key := engine.CacheKey("list-growth-reports", nil, timeframe, nil, "")
	result = fetchCached(ctx, exec, cache, key, engine.Request{
		Endpoint: "list-growth-reports",
		Params:   timeframeParams(timeframe),
	})
	if !result.OK() {
		return 0, 0, result
	}

	var payload struct {
		Data struct {
			Attributes struct {
				Subscribed   float64 `json:"subscribed"`
				Unsubscribed float64 `json:"unsubscribed"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(result.Body, &payload); err != nil {
		return 0, 0, engine.Result{
			Class: engine.ClassPermanent,
			Err:   err,
		}
	}
	return payload.Data.Attributes.Subscribed, payload.Data.Attributes.Unsubscribed, result
}
