package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/metriclens/metriclens/internal/core"
)

// SectionExtractor extracts one data domain for one run. Implementations
// must convert every underlying failure into a non-throwing partial or
// failed ExtractionResult; unhandled faults never reach the Orchestrator.
type SectionExtractor interface {
	Section() core.Section
	Extract(ctx context.Context, timeframe core.DateRange, exec *Executor, cache *ResponseCache) *core.ExtractionResult
}

// Orchestrator runs all section extractors for one audit using a shared
// limiter, executor, cache, and resolver, and assembles the composite
// dataset. It owns the per-run limiter and cache exclusively; extractors
// only borrow references.
//
// State machine: pending -> running -> {completed, completed_with_gaps,
// failed}; terminal states are final and an Orchestrator is never reused
// across runs.
type Orchestrator struct {
	Executor *Executor
	Cache    *ResponseCache
	Resolver *MetricResolver
	Logger   *logging.Logger

	// Workers caps concurrently running sections. The cap is subordinate to
	// the limiter, which remains the true throughput bottleneck.
	Workers int
	// BatchDelay is a deliberate extra pause between a worker's sections,
	// on top of the sliding-window limiter, because provider-side
	// enforcement can be stricter than advertised.
	BatchDelay time.Duration

	Clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	status  core.RunStatus
	started bool
	aborted atomic.Bool
}

const defaultWorkers = 3

// Status returns the run's current state.
func (o *Orchestrator) Status() core.RunStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status == "" {
		return core.RunPending
	}
	return o.status
}

// Abort stops scheduling new sections. In-flight calls are allowed to
// finish and the run returns whatever extraction results exist.
func (o *Orchestrator) Abort() {
	o.aborted.Store(true)
}

// Aborted reports whether the run has been aborted.
func (o *Orchestrator) Aborted() bool {
	return o.aborted.Load()
}

// Run extracts every section for the given timeframe and returns the
// composite dataset. It always returns a dataset, even under partial
// failure; the only error is attempting to reuse a finished run.
func (o *Orchestrator) Run(ctx context.Context, timeframe core.DateRange, extractors []SectionExtractor) (*core.Dataset, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := o.transitionToRunning(); err != nil {
		return nil, err
	}

	dataset := &core.Dataset{
		RunID:     uuid.New().String(),
		Timeframe: timeframe,
		Status:    core.RunRunning,
		Sections:  make(map[core.Section]*core.ExtractionResult, len(extractors)),
		StartedAt: o.now(),
	}

	if o.Executor != nil && o.Executor.Interrupted == nil {
		o.Executor.Interrupted = o.Aborted
	}

	fatalReason := o.resolveConversionMetric(ctx)

	if fatalReason == "" {
		o.runSections(ctx, timeframe, extractors, dataset)
		for _, result := range dataset.Sections {
			if result != nil && result.Fatal {
				fatalReason = result.Reason
			}
		}
	}

	dataset.CompletedAt = o.now()
	dataset.Status = o.finalStatus(dataset, fatalReason)
	if fatalReason != "" {
		dataset.Summary = "run failed: " + fatalReason
	} else {
		dataset.Summary = dataset.Summarize()
	}
	o.setStatus(dataset.Status)

	if o.Logger != nil {
		o.Logger.Info("Extraction run finished",
			zap.String("run_id", dataset.RunID),
			zap.String("status", string(dataset.Status)),
			zap.String("summary", dataset.Summary),
		)
	}

	return dataset, nil
}

// resolveConversionMetric resolves the shared conversion-metric id up front
// so dependent sections never race the first lookup. A configuration
// failure only gaps the dependent sections; a fatal failure aborts the run
// before any section is scheduled.
func (o *Orchestrator) resolveConversionMetric(ctx context.Context) (fatalReason string) {
	if o.Resolver == nil {
		return ""
	}

	_, err := o.Resolver.MetricID(ctx)
	if err == nil {
		return ""
	}
	if IsFatal(err) {
		return err.Error()
	}
	if o.Logger != nil {
		o.Logger.Warn("Conversion metric unresolved; dependent sections will be gapped",
			zap.Error(err))
	}
	return ""
}

func (o *Orchestrator) runSections(ctx context.Context, timeframe core.DateRange, extractors []SectionExtractor, dataset *core.Dataset) {
	workers := o.Workers
	if workers < 1 {
		workers = defaultWorkers
	}
	if workers > len(extractors) {
		workers = len(extractors)
	}

	results := make([]*core.ExtractionResult, len(extractors))
	jobs := make(chan int)

	var wg sync.WaitGroup
	worker := func() {
		defer wg.Done()
		first := true
		for idx := range jobs {
			if o.aborted.Load() {
				return
			}
			// The delay separates consecutive sections on one worker; a
			// worker's first section, and the run's end, pay no pause.
			if !first && o.BatchDelay > 0 {
				_ = o.pause(ctx, o.BatchDelay)
				if o.aborted.Load() {
					return
				}
			}
			first = false
			extractor := extractors[idx]
			results[idx] = extractor.Extract(ctx, timeframe, o.Executor, o.Cache)
			if results[idx] != nil && results[idx].Fatal {
				o.aborted.Store(true)
				return
			}
		}
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker()
	}

sendLoop:
	for i := range extractors {
		if o.aborted.Load() {
			break
		}
		select {
		case <-ctx.Done():
			o.aborted.Store(true)
			break sendLoop
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	// Aggregation is the orchestrator's exclusive write; extractors never
	// touch each other's results.
	for idx, result := range results {
		if result == nil {
			continue
		}
		dataset.Sections[extractors[idx].Section()] = result
	}
}

func (o *Orchestrator) finalStatus(dataset *core.Dataset, fatalReason string) core.RunStatus {
	if fatalReason != "" {
		return core.RunFailed
	}
	if len(dataset.Gaps()) > 0 {
		return core.RunCompletedWithGaps
	}
	return core.RunCompleted
}

func (o *Orchestrator) transitionToRunning() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return errors.New("extraction run already started")
	}
	o.started = true
	o.status = core.RunRunning
	return nil
}

func (o *Orchestrator) setStatus(status core.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status = status
}

func (o *Orchestrator) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) pause(ctx context.Context, d time.Duration) error {
	if o.sleep != nil {
		return o.sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}
