package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vk/benchgrid/internal/barrier"
	"github.com/vk/benchgrid/internal/conf"
	"github.com/vk/benchgrid/internal/ctxlog"
	"github.com/vk/benchgrid/internal/generator"
)

// Status tracks one instance through a pipeline invocation.
type Status int

const (
	// StatusPending means no phase has run yet.
	StatusPending Status = iota
	// StatusRunning means a phase is in flight.
	StatusRunning
	// StatusCompleted means every selected phase succeeded.
	StatusCompleted
	// StatusFailed means a phase failed; later phases were not scheduled.
	StatusFailed
)

// String renders the status for logs and reports.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusRunning:
		return "RUNNING"
	case StatusCompleted:
		return "COMPLETE"
	case StatusFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// PhaseTiming records how long one phase took for one instance.
type PhaseTiming struct {
	Phase    string
	Duration time.Duration
}

// Report is the per-instance outcome of one pipeline invocation.
type Report struct {
	mu       sync.Mutex
	statuses map[string]Status
	errs     map[string]error
	timings  map[string][]PhaseTiming
}

func newReport() *Report {
	return &Report{
		statuses: make(map[string]Status),
		errs:     make(map[string]error),
		timings:  make(map[string][]PhaseTiming),
	}
}

// Status returns the recorded status for an instance full name.
func (r *Report) Status(name string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[name]
}

// Err returns the recorded failure for an instance, if any.
func (r *Report) Err(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs[name]
}

// Timings returns the per-phase durations recorded for an instance.
func (r *Report) Timings(name string) []PhaseTiming {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PhaseTiming(nil), r.timings[name]...)
}

// Failed returns the full names of all failed instances.
func (r *Report) Failed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for name, s := range r.statuses {
		if s == StatusFailed {
			out = append(out, name)
		}
	}
	return out
}

func (r *Report) setStatus(name string, s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[name] = s
}

func (r *Report) setFailed(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[name] = StatusFailed
	r.errs[name] = err
}

func (r *Report) addTiming(name string, t PhaseTiming) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timings[name] = append(r.timings[name], t)
}

// Runner drives a pipeline over a set of experiment instances.
type Runner struct {
	// Workers bounds the pool for pipelines that run instances in
	// parallel; at most one phase of one instance runs per worker.
	Workers int
}

// NewRunner returns a runner with the given worker count.
func NewRunner(workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{Workers: workers}
}

// continueOnFailure reports whether per-instance failures are recorded
// without aborting the batch. Partial success is a normal outcome when
// executing many experiments; everywhere else the first failure aborts.
func continueOnFailure(pipeline string) bool {
	return pipeline == "execute" || pipeline == "on"
}

// dispatchTemplates reports whether template experiments run in this
// pipeline. Templates are fully set up and archived like any other instance;
// they are only excluded from direct execution and analysis.
func dispatchTemplates(pipeline string) bool {
	switch pipeline {
	case "execute", "on", "analyze":
		return false
	}
	return true
}

// Run linearizes the pipeline's phases once and executes them for every
// dispatchable instance. Chained children are never dispatched directly;
// they run around their parent inside the same worker. Template instances
// are dispatched everywhere except the execute and analyze pipelines.
func (r *Runner) Run(ctx context.Context, run *Run, instances []*generator.ExperimentInstance, phases []*Phase, filter Filter) (*Report, error) {
	logger := ctxlog.FromContext(ctx)
	order, err := OrderPhases(ctx, phases, run.Pipeline, filter)
	if err != nil {
		return nil, fmt.Errorf("ordering phases for pipeline %q: %w", run.Pipeline, err)
	}
	if len(order) == 0 {
		logger.Warn("No phases selected for pipeline.", "pipeline", run.Pipeline)
		return newReport(), nil
	}
	phaseNames := make([]string, len(order))
	for i, ph := range order {
		phaseNames[i] = ph.Name
	}
	logger.Debug("Pipeline phase order computed.", "pipeline", run.Pipeline, "phases", phaseNames)

	byName := make(map[string]*generator.ExperimentInstance, len(instances))
	for _, inst := range instances {
		byName[inst.FullName()] = inst
	}

	var roots []*generator.ExperimentInstance
	report := newReport()
	for _, inst := range instances {
		report.setStatus(inst.FullName(), StatusPending)
		if inst.IsChained() {
			continue
		}
		if inst.Template && !dispatchTemplates(run.Pipeline) {
			continue
		}
		roots = append(roots, inst)
	}

	if continueOnFailure(run.Pipeline) {
		r.runPool(ctx, run, roots, byName, order, report)
		return report, nil
	}

	// Fail-fast pipelines run sequentially: the first failure aborts the
	// batch, so parallel dispatch would only add nondeterminism.
	for _, inst := range roots {
		if err := r.runInstance(ctx, run, inst, byName, order, report); err != nil {
			return report, err
		}
	}
	return report, nil
}

// startupRendezvousTimeout bounds the worker-group barrier; a worker that
// cannot reach the rendezvous in this window indicates a scheduling problem
// worth surfacing over silently skewed start times.
const startupRendezvousTimeout = 30 * time.Second

// runPool dispatches independent instances to a bounded worker pool. The
// workers rendezvous on a two-phase barrier before consuming, so no
// instance starts until the whole group is running.
func (r *Runner) runPool(ctx context.Context, run *Run, roots []*generator.ExperimentInstance, byName map[string]*generator.ExperimentInstance, order []*Phase, report *Report) {
	logger := ctxlog.FromContext(ctx)
	ready := make(chan *generator.ExperimentInstance, len(roots))
	for _, inst := range roots {
		ready <- inst
	}
	close(ready)

	var wg sync.WaitGroup
	workers := r.Workers
	if workers > len(roots) && len(roots) > 0 {
		workers = len(roots)
	}
	gate := barrier.New(workers, startupRendezvousTimeout)
	logger.Debug("Starting instance worker pool.", "workers", workers, "instances", len(roots))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			if err := gate.Await(ctx); err != nil {
				logger.Warn("Worker missed the startup rendezvous.", "worker", workerID, "error", err)
			}
			for inst := range ready {
				if ctx.Err() != nil {
					report.setFailed(inst.FullName(), ctx.Err())
					continue
				}
				// Failures are recorded per instance; the pool keeps going.
				_ = r.runInstance(ctx, run, inst, byName, order, report)
			}
		}(w)
	}
	wg.Wait()
}

// runInstance executes the ordered phase list for one root instance,
// bracketed by its chained children.
func (r *Runner) runInstance(ctx context.Context, run *Run, inst *generator.ExperimentInstance, byName map[string]*generator.ExperimentInstance, order []*Phase, report *Report) error {
	for _, childName := range inst.ChainOrder {
		child, ok := byName[childName]
		if !ok || child.Order != conf.ChainBeforeRoot {
			continue
		}
		if err := r.runPhases(ctx, run, child, order, report); err != nil {
			report.setFailed(inst.FullName(), fmt.Errorf("chained experiment %s failed: %w", childName, err))
			return report.Err(inst.FullName())
		}
	}
	if err := r.runPhases(ctx, run, inst, order, report); err != nil {
		return err
	}
	for _, childName := range inst.ChainOrder {
		child, ok := byName[childName]
		if !ok || child.Order != conf.ChainAfterRoot {
			continue
		}
		if err := r.runPhases(ctx, run, child, order, report); err != nil {
			report.setFailed(inst.FullName(), fmt.Errorf("chained experiment %s failed: %w", childName, err))
			return report.Err(inst.FullName())
		}
	}
	return nil
}

// runPhases executes the shared phase order for one instance, recording
// timing and failure.
func (r *Runner) runPhases(ctx context.Context, run *Run, inst *generator.ExperimentInstance, order []*Phase, report *Report) error {
	name := inst.FullName()
	// Phase bodies log through the context, so enrich it rather than just
	// the local logger.
	ctx = ctxlog.With(ctx, "experiment", name, "pipeline", run.Pipeline)
	logger := ctxlog.FromContext(ctx)
	report.setStatus(name, StatusRunning)
	for _, ph := range order {
		start := time.Now()
		logger.Debug("Phase starting.", "phase", ph.Name)
		err := ph.Body(ctx, run, inst)
		elapsed := time.Since(start)
		report.addTiming(name, PhaseTiming{Phase: ph.Name, Duration: elapsed})
		if err != nil {
			logger.Error("Phase failed.", "phase", ph.Name, "elapsed", elapsed, "error", err)
			report.setFailed(name, fmt.Errorf("phase %s: %w", ph.Name, err))
			return report.Err(name)
		}
		logger.Debug("Phase finished.", "phase", ph.Name, "elapsed", elapsed)
	}
	report.setStatus(name, StatusCompleted)
	return nil
}
