// Package orchestrator drives a job plan through the dispatcher with a
// bounded number of concurrently in-flight jobs.
package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yzhou-ml/comfyfleet/pkg/comfy"
	"github.com/yzhou-ml/comfyfleet/pkg/logging"
	"github.com/yzhou-ml/comfyfleet/pkg/metrics"
	"github.com/yzhou-ml/comfyfleet/pkg/models"
	"github.com/yzhou-ml/comfyfleet/pkg/planner"
	"github.com/yzhou-ml/comfyfleet/pkg/workerpool"
)

// PayloadBuilder is the single contract with the templating subsystem:
// it turns the role bindings of one planned job into a worker payload.
type PayloadBuilder func(roleBindings map[string]string) (comfy.JobPayload, error)

// JobRunner runs one payload to a terminal status. Satisfied by
// dispatcher.Dispatcher.
type JobRunner interface {
	RunJob(ctx context.Context, payload comfy.JobPayload, taskName string) ([]string, models.TaskStatus, error)
}

// Config tunes the batch loop.
type Config struct {
	// BatchSize caps concurrently in-flight jobs. 0 means one per
	// healthy worker.
	BatchSize int
}

// Orchestrator runs a whole plan against the worker pool.
type Orchestrator struct {
	pool    *workerpool.Pool
	runner  JobRunner
	planner *planner.Planner
	build   PayloadBuilder
	cfg     Config
	met     *metrics.Metrics
	log     *logging.Logger
}

// New assembles an orchestrator from its collaborators. Metrics may be
// nil when no collection is wanted.
func New(pool *workerpool.Pool, runner JobRunner, pln *planner.Planner, build PayloadBuilder, cfg Config, met *metrics.Metrics, log *logging.Logger) *Orchestrator {
	return &Orchestrator{
		pool:    pool,
		runner:  runner,
		planner: pln,
		build:   build,
		cfg:     cfg,
		met:     met,
		log:     log,
	}
}

// Run plans jobs over the classified inputs and drives them through the
// bounded window. Pool initialization failure is fatal; everything after
// that is isolated per job. Cancelling ctx stops admission while
// already-admitted jobs run to their own terminal status.
func (o *Orchestrator) Run(ctx context.Context, inputs map[string][]string) (*models.RunReport, error) {
	start := time.Now()

	if err := o.pool.Initialize(ctx); err != nil {
		return nil, err
	}
	if o.met != nil {
		o.met.WorkersHealthy.Set(float64(o.pool.Size()))
	}

	entries, err := o.planner.Plan(inputs)
	if err != nil {
		return nil, err
	}
	if o.met != nil {
		o.met.JobsPlanned.Add(float64(len(entries)))
	}

	batchSize := o.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = o.pool.Size()
	}
	o.log.Info("starting batch", map[string]any{
		"planned": len(entries), "batch_size": batchSize, "workers": o.pool.Size(),
	})

	report := &models.RunReport{RunID: uuid.NewString(), Planned: len(entries)}
	var mu sync.Mutex
	var wg sync.WaitGroup
	// Admission is blocked on the semaphore once batchSize jobs are in
	// flight; a slot frees only when some job reaches a terminal status.
	sem := make(chan struct{}, batchSize)

	// In-flight jobs keep running after cancellation; they finish or hit
	// their own retry/timeout bound.
	jobCtx := context.WithoutCancel(ctx)

admission:
	for i, entry := range entries {
		select {
		case <-ctx.Done():
			o.log.Warn("run cancelled, no further jobs admitted", map[string]any{"admitted": i})
			break admission
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(entry planner.Entry) {
			defer wg.Done()
			defer func() { <-sem }()
			outcome, paths := o.runOne(jobCtx, entry)
			mu.Lock()
			switch outcome {
			case models.TaskStatusCompleted:
				report.Succeeded++
				report.OutputPaths = append(report.OutputPaths, paths...)
			case models.TaskStatusTimeout:
				report.TimedOut++
			default:
				report.Failed++
			}
			mu.Unlock()
		}(entry)
	}

	wg.Wait()
	report.Elapsed = time.Since(start)
	o.log.Info("batch finished", map[string]any{
		"planned": report.Planned, "succeeded": report.Succeeded,
		"failed": report.Failed, "timed_out": report.TimedOut,
		"outputs": len(report.OutputPaths), "elapsed": report.Elapsed.String(),
	})
	return report, nil
}

// runOne executes a single planned job, isolating its failure from the
// rest of the batch.
func (o *Orchestrator) runOne(ctx context.Context, entry planner.Entry) (models.TaskStatus, []string) {
	log := o.log.WithField("main_input", entry.MainInput)
	if o.met != nil {
		o.met.JobsInFlight.Inc()
		defer o.met.JobsInFlight.Dec()
	}
	start := time.Now()

	payload, err := o.build(entry.Bound)
	if err != nil {
		log.Error("payload build failed", map[string]any{"error": err.Error()})
		o.count(models.TaskStatusFailed)
		return models.TaskStatusFailed, nil
	}

	taskName := filepath.Base(filepath.Dir(entry.MainInput))
	log.Info("job admitted", map[string]any{
		"repeat": entry.RepeatIndex, "repeat_total": entry.RepeatTotal, "task": taskName,
	})

	paths, status, err := o.runner.RunJob(ctx, payload, taskName)
	if o.met != nil {
		o.met.JobDuration.Observe(time.Since(start).Seconds())
	}
	o.count(status)
	if err != nil {
		log.Error("job ended without outputs", map[string]any{"status": string(status), "error": err.Error()})
		return status, nil
	}
	log.Info("job succeeded", map[string]any{"outputs": len(paths)})
	return status, paths
}

func (o *Orchestrator) count(status models.TaskStatus) {
	if o.met == nil {
		return
	}
	switch status {
	case models.TaskStatusCompleted:
		o.met.JobsSucceeded.Inc()
	case models.TaskStatusTimeout:
		o.met.JobsTimedOut.Inc()
	case models.TaskStatusFailed:
		o.met.JobsFailed.Inc()
	}
}
