// Package dispatcher composes the worker pool, the job client, and the
// result poller into a single run-one-job operation.
package dispatcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/yzhou-ml/comfyfleet/pkg/comfy"
	"github.com/yzhou-ml/comfyfleet/pkg/logging"
	"github.com/yzhou-ml/comfyfleet/pkg/models"
	"github.com/yzhou-ml/comfyfleet/pkg/poller"
	"github.com/yzhou-ml/comfyfleet/pkg/statusstore"
	"github.com/yzhou-ml/comfyfleet/pkg/workerpool"
)

// Dispatcher runs one job end to end: pick a worker, submit, poll the
// same worker until terminal, persist the outputs.
type Dispatcher struct {
	pool       *workerpool.Pool
	client     *comfy.Client
	store      statusstore.Store
	poller     *poller.Poller
	outputRoot string
	log        *logging.Logger
}

// New creates a dispatcher. The pool stays lazily initialized: the first
// RunJob call triggers health checking via the pool itself.
func New(pool *workerpool.Pool, client *comfy.Client, store statusstore.Store, pollCfg poller.Config, outputRoot string, log *logging.Logger) *Dispatcher {
	return &Dispatcher{
		pool:       pool,
		client:     client,
		store:      store,
		poller:     poller.New(client, store, pollCfg, log),
		outputRoot: outputRoot,
		log:        log,
	}
}

// RunJob submits the payload to a pool-selected worker, polls that same
// worker to completion, and saves the outputs under the task name. Job
// ids are worker-local, so polling always targets the submitting worker.
// The returned status is the job's terminal state; pre-submission
// failures report FAILED.
func (d *Dispatcher) RunJob(ctx context.Context, payload comfy.JobPayload, taskName string) ([]string, models.TaskStatus, error) {
	worker, err := d.pool.Next(ctx)
	if err != nil {
		return nil, models.TaskStatusFailed, err
	}

	jobID, err := d.client.Submit(ctx, worker.URL, payload)
	if err != nil {
		return nil, models.TaskStatusFailed, err
	}
	if err := d.store.SetStatus(ctx, jobID, models.TaskStatusPending, nil); err != nil {
		d.log.Warn("failed to record pending status", map[string]any{"job_id": jobID, "error": err.Error()})
	}
	d.log.Info("job submitted", map[string]any{"job_id": jobID, "worker": worker.URL, "task": taskName})

	handle := models.JobHandle{JobID: jobID, Worker: worker}
	outputs, status, err := d.poller.Await(ctx, handle)
	if status != models.TaskStatusCompleted {
		return nil, status, fmt.Errorf("job %s on %s ended %s: %w", jobID, worker.URL, status, err)
	}

	paths, err := d.saveOutputs(outputs, taskName)
	if err != nil {
		return nil, models.TaskStatusFailed, fmt.Errorf("save outputs for job %s: %w", jobID, err)
	}
	d.log.Info("job completed", map[string]any{"job_id": jobID, "outputs": len(paths)})
	return paths, models.TaskStatusCompleted, nil
}

// saveOutputs persists every blob under the date-partitioned layout
// {output_root}/{YYYY-MM-DD}/{task}/{timestamp}_{node}_{index}_{random8}.png.
func (d *Dispatcher) saveOutputs(outputs models.OutputSet, taskName string) ([]string, error) {
	if outputs.Count() == 0 {
		return nil, nil
	}

	dir := filepath.Join(d.outputRoot, time.Now().Format("2006-01-02"), taskName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", dir, err)
	}

	nodeIDs := make([]string, 0, len(outputs))
	for nodeID := range outputs {
		nodeIDs = append(nodeIDs, nodeID)
	}
	sort.Strings(nodeIDs)

	var paths []string
	for _, nodeID := range nodeIDs {
		for idx, blob := range outputs[nodeID] {
			name := fmt.Sprintf("%s_%s_%d_%s.png",
				time.Now().Format("20060102_150405"), nodeID, idx, uuid.NewString()[:8])
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, blob, 0o644); err != nil {
				return nil, fmt.Errorf("write %s: %w", path, err)
			}
			paths = append(paths, path)
		}
	}
	return paths, nil
}
