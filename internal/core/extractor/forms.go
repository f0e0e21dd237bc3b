package extractor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/metriclens/metriclens/internal/core"
	"github.com/metriclens/metriclens/internal/core/engine"
)

// Forms extracts signup-form performance. Some forms reject individual
// statistics outright (the provider answers 400 for metrics the form never
// recorded); once a metric on a form has been rejected it is blocklisted
// for the remainder of the run and reported as unavailable instead of
// retried.
type Forms struct {
	mu      sync.Mutex
	blocked map[string]struct{}
}

var formMetrics = []string{"viewed_form", "submitted_form"}

// Section implements engine.SectionExtractor.
func (e *Forms) Section() core.Section {
	return core.SectionForms
}

// Extract fetches view and submit counts per form, for the full timeframe
// and for the trailing 30 days.
func (e *Forms) Extract(ctx context.Context, timeframe core.DateRange, exec *engine.Executor, cache *engine.ResponseCache) *core.ExtractionResult {
	names, listResult := listEntities(ctx, exec, cache, "forms", timeframe)
	if !listResult.OK() {
		return failedResult(core.SectionForms, listResult)
	}
	if len(names) == 0 {
		return okResult(core.SectionForms, map[string]any{"forms": []any{}})
	}

	recent := trailingRange(timeframe, 30)

	forms := make([]any, 0, len(names))
	unavailable := make([]string, 0)
	for _, id := range sortedKeys(names) {
		entry := map[string]any{"id": id, "name": names[id]}
		for _, window := range []struct {
			label     string
			timeframe core.DateRange
		}{
			{"full", timeframe},
			{"recent", recent},
		} {
			for _, metric := range formMetrics {
				value, result := e.fetchMetric(ctx, exec, cache, id, metric, window.timeframe)
				if result.Class == engine.ClassFatal {
					return failedResult(core.SectionForms, result)
				}
				if result.Class == engine.ClassTransient {
					return failedResult(core.SectionForms, result)
				}
				if result.Class == engine.ClassPermanent {
					// Reported as zero rather than retried.
					unavailable = append(unavailable, fmt.Sprintf("%s/%s", id, metric))
					value = 0
				}
				entry[window.label+"_"+metric] = value
			}
		}
		if views, ok := entry["full_viewed_form"].(float64); ok && views > 0 {
			if submits, ok := entry["full_submitted_form"].(float64); ok {
				entry["submit_rate"] = submits / views
			}
		}
		forms = append(forms, entry)
	}

	data := map[string]any{"forms": forms}
	if len(unavailable) > 0 {
		sort.Strings(unavailable)
		return partialResult(core.SectionForms, data,
			"metrics unavailable: "+strings.Join(dedupe(unavailable), ", "))
	}
	return okResult(core.SectionForms, data)
}

// fetchMetric requests one statistic for one form unless that pair is
// already blocklisted. A 400 adds the pair to the blocklist and comes back
// as a permanent (zero) outcome without issuing further requests for it.
func (e *Forms) fetchMetric(ctx context.Context, exec *engine.Executor, cache *engine.ResponseCache, formID, metric string, timeframe core.DateRange) (float64, engine.Result) {
	blockKey := formID + "/" + metric
	if e.isBlocked(blockKey) {
		return 0, engine.Result{Class: engine.ClassPermanent, Err: fmt.Errorf("%s blocklisted for this run", blockKey)}
	}

	params := mergeParams(timeframeParams(timeframe), map[string]string{
		"form_id":    formID,
		"statistics": metric,
	})
	key := engine.CacheKey("form-values-reports", []string{formID}, timeframe, []string{metric}, "")

	result := fetchCached(ctx, exec, cache, key, engine.Request{
		Endpoint: "form-values-reports",
		Params:   params,
	})
	if result.Class == engine.ClassPermanent {
		e.block(blockKey)
		return 0, result
	}
	if !result.OK() {
		return 0, result
	}

	rows, err := parseValuesReport(result.Body, "form_id")
	if err != nil {
		e.block(blockKey)
		return 0, engine.Result{Class: engine.ClassPermanent, Err: err}
	}
	return rows[formID][metric], result
}

func (e *Forms) isBlocked(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, blocked := e.blocked[key]
	return blocked
}

func (e *Forms) block(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.blocked == nil {
		e.blocked = make(map[string]struct{})
	}
	e.blocked[key] = struct{}{}
}

func trailingRange(timeframe core.DateRange, days int) core.DateRange {
	start := timeframe.End.AddDate(0, 0, -days)
	if start.Before(timeframe.Start) {
		start = timeframe.Start
	}
	return core.DateRange{Start: start, End: timeframe.End, Explicit: timeframe.Explicit}
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}
