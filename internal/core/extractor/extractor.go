// Package extractor holds the per-domain section extractors. Each extractor
// is a function of (timeframe, executor, cache) and always returns an
// ExtractionResult: underlying failures degrade to partial or failed
// results instead of propagating.
package extractor

import (
	"context"
	"time"

	"github.com/metriclens/metriclens/internal/core"
	"github.com/metriclens/metriclens/internal/core/engine"
)

func okResult(section core.Section, data map[string]any) *core.ExtractionResult {
	return &core.ExtractionResult{
		Section:     section,
		Status:      core.SectionOK,
		Data:        data,
		ExtractedAt: time.Now().UTC(),
	}
}

func partialResult(section core.Section, data map[string]any, reason string) *core.ExtractionResult {
	return &core.ExtractionResult{
		Section:     section,
		Status:      core.SectionPartial,
		Data:        data,
		Reason:      reason,
		ExtractedAt: time.Now().UTC(),
	}
}

func failedResult(section core.Section, result engine.Result) *core.ExtractionResult {
	reason := "request failed"
	if result.Err != nil {
		reason = result.Err.Error()
	}
	return &core.ExtractionResult{
		Section:     section,
		Status:      core.SectionFailed,
		Reason:      reason,
		Attempts:    result.Attempts,
		Fatal:       result.Class == engine.ClassFatal,
		ExtractedAt: time.Now().UTC(),
	}
}

func configGap(section core.Section, err error) *core.ExtractionResult {
	return &core.ExtractionResult{
		Section:     section,
		Status:      core.SectionFailed,
		Reason:      err.Error(),
		Fatal:       engine.IsFatal(err),
		ExtractedAt: time.Now().UTC(),
	}
}

// fetchCached runs an idempotent call through the shared cache: a hit
// skips the provider entirely, a successful miss is memoized for the rest
// of the run. Failures are never cached.
func fetchCached(ctx context.Context, exec *engine.Executor, cache *engine.ResponseCache, key string, req engine.Request) engine.Result {
	if cache != nil {
		if cached, ok := cache.Get(key); ok {
			if body, ok := cached.([]byte); ok {
				return engine.Result{Class: engine.ClassSuccess, Body: body}
			}
		}
	}

	req.Idempotent = true
	result := exec.Do(ctx, req)
	if result.OK() && cache != nil {
		cache.Put(key, result.Body)
	}
	return result
}

func timeframeParams(timeframe core.DateRange) map[string]string {
	return map[string]string{
		"start": timeframe.Start.UTC().Format(time.RFC3339),
		"end":   timeframe.End.UTC().Format(time.RFC3339),
	}
}

func mergeParams(base map[string]string, extra map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func sumFloats(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}
