package engine

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metriclens/metriclens/internal/core"
)

type stubExtractor struct {
	section core.Section
	result  *core.ExtractionResult
	calls   int32
	before  func()
}

func (s *stubExtractor) Section() core.Section {
	return s.section
}

func (s *stubExtractor) Extract(ctx context.Context, timeframe core.DateRange, exec *Executor, cache *ResponseCache) *core.ExtractionResult {
	atomic.AddInt32(&s.calls, 1)
	if s.before != nil {
		s.before()
	}
	if s.result != nil {
		return s.result
	}
	return &core.ExtractionResult{Section: s.section, Status: core.SectionOK, ExtractedAt: time.Now().UTC()}
}

func okExtractors() []SectionExtractor {
	extractors := make([]SectionExtractor, 0, len(core.AllSections()))
	for _, section := range core.AllSections() {
		extractors = append(extractors, &stubExtractor{section: section})
	}
	return extractors
}

func TestOrchestratorAllSectionsComplete(t *testing.T) {
	orch := &Orchestrator{Workers: 2}

	dataset, err := orch.Run(context.Background(), testTimeframe(), okExtractors())
	require.NoError(t, err)
	require.Equal(t, core.RunCompleted, dataset.Status)
	require.Len(t, dataset.Sections, 6)
	require.Equal(t, "6 of 6 sections completed", dataset.Summary)
	require.NotEmpty(t, dataset.RunID)
	require.Equal(t, core.RunCompleted, orch.Status())
}

func TestOrchestratorPartialFailuresDegrade(t *testing.T) {
	extractors := []SectionExtractor{
		&stubExtractor{section: core.SectionRevenue},
		&stubExtractor{section: core.SectionCampaigns},
		&stubExtractor{
			section: core.SectionFlows,
			result: &core.ExtractionResult{
				Section: core.SectionFlows,
				Status:  core.SectionFailed,
				Reason:  "retry budget exhausted",
			},
		},
		&stubExtractor{section: core.SectionAttribution},
		&stubExtractor{section: core.SectionListGrowth},
		&stubExtractor{
			section: core.SectionForms,
			result: &core.ExtractionResult{
				Section: core.SectionForms,
				Status:  core.SectionPartial,
				Reason:  "metrics unavailable",
			},
		},
	}

	orch := &Orchestrator{}
	dataset, err := orch.Run(context.Background(), testTimeframe(), extractors)
	require.NoError(t, err)
	require.Equal(t, core.RunCompletedWithGaps, dataset.Status)
	require.Equal(t, "4 of 6 sections completed; gaps: flows, forms", dataset.Summary)
	require.Len(t, dataset.Sections, 6)
}

func TestOrchestratorFatalSectionFailsRun(t *testing.T) {
	extractors := []SectionExtractor{
		&stubExtractor{
			section: core.SectionRevenue,
			result: &core.ExtractionResult{
				Section: core.SectionRevenue,
				Status:  core.SectionFailed,
				Reason:  "metrics: authentication rejected (401)",
				Fatal:   true,
			},
		},
	}

	orch := &Orchestrator{}
	dataset, err := orch.Run(context.Background(), testTimeframe(), extractors)
	require.NoError(t, err)
	require.Equal(t, core.RunFailed, dataset.Status)
	require.Contains(t, dataset.Summary, "run failed:")
}

func TestOrchestratorFatalResolverSkipsSections(t *testing.T) {
	transport := &scriptedTransport{
		responses: []*Response{{Status: http.StatusUnauthorized}},
	}
	exec, _ := newTestExecutor(transport)
	extractors := okExtractors()

	orch := &Orchestrator{
		Executor: exec,
		Resolver: &MetricResolver{Executor: exec, MetricName: "Placed Order"},
	}

	dataset, err := orch.Run(context.Background(), testTimeframe(), extractors)
	require.NoError(t, err)
	require.Equal(t, core.RunFailed, dataset.Status)
	require.Empty(t, dataset.Sections)
	for _, ex := range extractors {
		require.Zero(t, atomic.LoadInt32(&ex.(*stubExtractor).calls))
	}
}

func TestOrchestratorConfigErrorOnlyGapsDependents(t *testing.T) {
	transport := &scriptedTransport{
		responses: []*Response{{Status: http.StatusOK, Body: []byte(`{"data":[]}`)}},
	}
	exec, _ := newTestExecutor(transport)

	orch := &Orchestrator{
		Executor: exec,
		Resolver: &MetricResolver{Executor: exec, MetricName: "Placed Order"},
	}

	dataset, err := orch.Run(context.Background(), testTimeframe(), okExtractors())
	require.NoError(t, err)
	// Stub sections ignore the resolver, so the run itself completes.
	require.Equal(t, core.RunCompleted, dataset.Status)
}

func TestOrchestratorAbortStopsScheduling(t *testing.T) {
	orch := &Orchestrator{Workers: 1}

	extractors := make([]SectionExtractor, 0, 6)
	for i, section := range core.AllSections() {
		stub := &stubExtractor{section: section}
		if i == 1 {
			stub.before = orch.Abort
		}
		extractors = append(extractors, stub)
	}

	dataset, err := orch.Run(context.Background(), testTimeframe(), extractors)
	require.NoError(t, err)
	require.Equal(t, core.RunCompletedWithGaps, dataset.Status)
	require.True(t, orch.Aborted())
	// Sections before the abort completed; later ones were never scheduled.
	require.LessOrEqual(t, len(dataset.Sections), 2)
	require.NotEmpty(t, dataset.Sections)
}

func TestOrchestratorBatchDelayOnlyBetweenSections(t *testing.T) {
	var pauses []time.Duration
	orch := &Orchestrator{Workers: 1, BatchDelay: 5 * time.Second}
	orch.sleep = func(ctx context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}

	extractors := []SectionExtractor{
		&stubExtractor{section: core.SectionRevenue},
		&stubExtractor{section: core.SectionCampaigns},
		&stubExtractor{section: core.SectionFlows},
	}

	_, err := orch.Run(context.Background(), testTimeframe(), extractors)
	require.NoError(t, err)

	// Three sections have two gaps between them; the last section must not
	// pay a trailing delay.
	require.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, pauses)
}

func TestOrchestratorRejectsReuse(t *testing.T) {
	orch := &Orchestrator{}

	_, err := orch.Run(context.Background(), testTimeframe(), okExtractors())
	require.NoError(t, err)

	_, err = orch.Run(context.Background(), testTimeframe(), okExtractors())
	require.Error(t, err)
}

func TestOrchestratorStatusLifecycle(t *testing.T) {
	orch := &Orchestrator{}
	require.Equal(t, core.RunPending, orch.Status())
	require.False(t, core.RunRunning.Terminal())

	_, err := orch.Run(context.Background(), testTimeframe(), okExtractors())
	require.NoError(t, err)
	require.True(t, orch.Status().Terminal())
}
