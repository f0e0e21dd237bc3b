package engine

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

const metricCatalog = `{"data":[
	{"id":"m-orders","attributes":{"name":"Placed Order"}},
	{"id":"m-carts","attributes":{"name":"Started Checkout"}}
]}`

func TestResolverResolvesOnce(t *testing.T) {
	transport := &scriptedTransport{
		responses: []*Response{{Status: http.StatusOK, Body: []byte(metricCatalog)}},
	}
	exec, _ := newTestExecutor(transport)
	resolver := &MetricResolver{Executor: exec, MetricName: "Placed Order"}

	for i := 0; i < 4; i++ {
		id, err := resolver.MetricID(context.Background())
		require.NoError(t, err)
		require.Equal(t, "m-orders", id)
	}
	require.Equal(t, 1, transport.calls, "catalog should be fetched exactly once")
}

func TestResolverNameMatchIsCaseInsensitive(t *testing.T) {
	transport := &scriptedTransport{
		responses: []*Response{{Status: http.StatusOK, Body: []byte(metricCatalog)}},
	}
	exec, _ := newTestExecutor(transport)
	resolver := &MetricResolver{Executor: exec, MetricName: "placed order"}

	id, err := resolver.MetricID(context.Background())
	require.NoError(t, err)
	require.Equal(t, "m-orders", id)
}

func TestResolverMemoizesFailure(t *testing.T) {
	transport := &scriptedTransport{
		responses: []*Response{{Status: http.StatusOK, Body: []byte(`{"data":[]}`)}},
	}
	exec, _ := newTestExecutor(transport)
	resolver := &MetricResolver{Executor: exec, MetricName: "Placed Order"}

	_, err := resolver.MetricID(context.Background())
	require.Error(t, err)
	require.True(t, IsConfigError(err))

	_, err = resolver.MetricID(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, transport.calls, "failed lookup must not be repeated")
}

func TestResolverEmptyNameIsConfigError(t *testing.T) {
	transport := &scriptedTransport{}
	exec, _ := newTestExecutor(transport)
	resolver := &MetricResolver{Executor: exec, MetricName: "  "}

	_, err := resolver.MetricID(context.Background())
	require.True(t, IsConfigError(err))
	require.Zero(t, transport.calls)
}

func TestResolverFatalPassesThrough(t *testing.T) {
	transport := &scriptedTransport{
		responses: []*Response{{Status: http.StatusForbidden}},
	}
	exec, _ := newTestExecutor(transport)
	resolver := &MetricResolver{Executor: exec, MetricName: "Placed Order"}

	_, err := resolver.MetricID(context.Background())
	require.True(t, IsFatal(err))
	require.False(t, IsConfigError(err))
}

func TestResolverCatalogUnavailableIsConfigError(t *testing.T) {
	transport := &scriptedTransport{
		responses: []*Response{
			{Status: http.StatusInternalServerError},
			{Status: http.StatusInternalServerError},
			{Status: http.StatusInternalServerError},
		},
	}
	exec, _ := newTestExecutor(transport)
	resolver := &MetricResolver{Executor: exec, MetricName: "Placed Order"}

	_, err := resolver.MetricID(context.Background())
	require.True(t, IsConfigError(err))
	require.Equal(t, 3, transport.calls, "transient catalog failures retry to the cap first")
}
