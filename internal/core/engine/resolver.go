package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ConfigError reports a misconfiguration that only aborts the sections
// depending on the value, never the whole run.
type ConfigError struct {
	Setting string
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Setting, e.Reason)
}

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// MetricResolver resolves the conversion-metric name (e.g. "Placed Order")
// to its opaque provider-side id once per run. Downstream extractors obtain
// the id exclusively through the resolver; the first caller triggers the
// lookup and every later caller reuses the memoized outcome, success or
// failure alike.
type MetricResolver struct {
	Executor   *Executor
	MetricName string

	mu       sync.Mutex
	resolved bool
	id       string
	err      error
}

// MetricID returns the provider id of the configured conversion metric,
// resolving it lazily on first need.
func (r *MetricResolver) MetricID(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved {
		return r.id, r.err
	}
	r.resolved = true
	r.id, r.err = r.lookup(ctx)
	return r.id, r.err
}

func (r *MetricResolver) lookup(ctx context.Context) (string, error) {
	name := strings.TrimSpace(r.MetricName)
	if name == "" {
		return "", &ConfigError{Setting: "conversion_metric", Reason: "metric name is empty"}
	}

	result := r.Executor.Do(ctx, Request{Endpoint: "metrics", Idempotent: true})
	if result.Class == ClassFatal {
		return "", result.Err
	}
	if !result.OK() {
		return "", &ConfigError{
			Setting: "conversion_metric",
			Reason:  fmt.Sprintf("metric catalog unavailable: %v", result.Err),
		}
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
		return "", &ConfigError{
			Setting: "conversion_metric",
			Reason:  fmt.Sprintf("malformed metric catalog: %v", err),
		}
	}

	for _, metric := range payload.Data {
		if strings.EqualFold(strings.TrimSpace(metric.Attributes.Name), name) {
			return metric.ID, nil
		}
	}

	return "", &ConfigError{
		Setting: "conversion_metric",
		Reason:  fmt.Sprintf("metric %q not found in provider catalog", name),
	}
}
