package extractor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/metriclens/metriclens/internal/core"
	"github.com/metriclens/metriclens/internal/core/engine"
)

// routeTransport serves canned responses per endpoint and counts calls.
type routeTransport struct {
	mu     sync.Mutex
	routes map[string]func(params map[string]string) *engine.Response
	calls  map[string]int
}

func newRouteTransport() *routeTransport {
	return &routeTransport{
		routes: make(map[string]func(params map[string]string) *engine.Response),
		calls:  make(map[string]int),
	}
}

func (t *routeTransport) handle(endpoint string, fn func(params map[string]string) *engine.Response) {
	t.routes[endpoint] = fn
}

func (t *routeTransport) respond(endpoint string, status int, body string) {
	t.handle(endpoint, func(map[string]string) *engine.Response {
		return &engine.Response{Status: status, Body: []byte(body)}
	})
}

func (t *routeTransport) count(endpoint string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[endpoint]
}

func (t *routeTransport) Do(ctx context.Context, endpoint string, params map[string]string) (*engine.Response, error) {
	t.mu.Lock()
	t.calls[endpoint]++
	t.mu.Unlock()

	if fn, ok := t.routes[endpoint]; ok {
		return fn(params), nil
	}
	return &engine.Response{Status: http.StatusNotFound}, nil
}

func newTestExecutor(transport engine.Transport) *engine.Executor {
	return &engine.Executor{
		Transport:   transport,
		BackoffBase: time.Millisecond,
		BackoffCap:  2 * time.Millisecond,
	}
}

func resolvedMetric(transport *routeTransport, exec *engine.Executor) *engine.MetricResolver {
	transport.respond("metrics", http.StatusOK,
		`{"data":[{"id":"m-orders","attributes":{"name":"Placed Order"}}]}`)
	return &engine.MetricResolver{Executor: exec, MetricName: "Placed Order"}
}

func ninetyDayRange() core.DateRange {
	end := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	return core.DateRange{Start: end.AddDate(0, 0, -90), End: end, Explicit: true}
}
