// Package poller drives a submitted job to a terminal status by polling
// the worker that owns it. Retrying lives here and only here; the HTTP
// client underneath never retries, so backoff cannot compound.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yzhou-ml/comfyfleet/pkg/comfy"
	"github.com/yzhou-ml/comfyfleet/pkg/logging"
	"github.com/yzhou-ml/comfyfleet/pkg/models"
	"github.com/yzhou-ml/comfyfleet/pkg/statusstore"
)

// JobClient is the slice of the worker protocol the poller needs.
type JobClient interface {
	History(ctx context.Context, workerURL, jobID string) (*comfy.HistoryEntry, error)
	FetchImage(ctx context.Context, workerURL string, ref comfy.ImageRef) ([]byte, error)
}

// Config bounds the polling loop. Worst-case wall clock is
// MaxRetries*RetryDelay plus blob-fetch latency on the successful cycle.
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig matches the production budget: 60 attempts, 5s apart.
func DefaultConfig() Config {
	return Config{MaxRetries: 60, RetryDelay: 5 * time.Second}
}

// Poller polls job history until outputs appear or the budget runs out,
// recording every terminal transition in the status store.
type Poller struct {
	client JobClient
	store  statusstore.Store
	cfg    Config
	log    *logging.Logger
}

// New creates a poller. Zero config fields fall back to defaults.
func New(client JobClient, store statusstore.Store, cfg Config, log *logging.Logger) *Poller {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	return &Poller{client: client, store: store, cfg: cfg, log: log}
}

// Await blocks until the job reaches a terminal status and returns its
// outputs. A cached COMPLETED record short-circuits without touching the
// worker, which makes result retrieval idempotent across restarts and
// duplicate calls.
func (p *Poller) Await(ctx context.Context, handle models.JobHandle) (models.OutputSet, models.TaskStatus, error) {
	if outputs, ok := p.fromCache(ctx, handle.JobID); ok {
		p.log.Info("job already completed, served from cache", map[string]any{"job_id": handle.JobID})
		return outputs, models.TaskStatusCompleted, nil
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		entry, err := p.client.History(ctx, handle.Worker.URL, handle.JobID)
		if err == nil && !entry.Done() {
			// Outputs not materialized yet: poll-again signal, not an error.
			if err := p.sleep(ctx); err != nil {
				return p.fail(ctx, handle.JobID, err)
			}
			continue
		}
		if err == nil {
			outputs, fetchErr := p.collectOutputs(ctx, handle, entry)
			if fetchErr == nil {
				p.recordCompleted(ctx, handle.JobID, outputs)
				return outputs, models.TaskStatusCompleted, nil
			}
			err = fetchErr
		}

		lastErr = err
		if attempt == p.cfg.MaxRetries {
			return p.fail(ctx, handle.JobID, lastErr)
		}
		if err := p.sleep(ctx); err != nil {
			return p.fail(ctx, handle.JobID, err)
		}
	}

	// Budget exhausted without outputs and without a final-attempt error.
	if err := p.store.SetStatus(ctx, handle.JobID, models.TaskStatusTimeout, nil); err != nil {
		p.log.Warn("failed to record timeout", map[string]any{"job_id": handle.JobID, "error": err.Error()})
	}
	return nil, models.TaskStatusTimeout, fmt.Errorf("job %s timed out after %d attempts", handle.JobID, p.cfg.MaxRetries)
}

// fromCache returns the cached outputs for an already-completed job. The
// store keeps at most one blob per output node, so a node that produced
// several images live yields a single blob on a cache hit.
func (p *Poller) fromCache(ctx context.Context, jobID string) (models.OutputSet, bool) {
	record, err := p.store.GetStatus(ctx, jobID)
	if err != nil || record == nil || record.Status != models.TaskStatusCompleted {
		return nil, false
	}

	outputs := make(models.OutputSet)
	nodes, _ := record.Data["nodes"].([]any)
	for _, n := range nodes {
		nodeID, ok := n.(string)
		if !ok {
			continue
		}
		blob, err := p.store.CachedImage(ctx, jobID, nodeID)
		if err == nil && blob != nil {
			outputs[nodeID] = [][]byte{blob}
		}
	}
	return outputs, true
}

// collectOutputs fetches every blob referenced across all output nodes
// concurrently and assembles the output set in reference order.
func (p *Poller) collectOutputs(ctx context.Context, handle models.JobHandle, entry *comfy.HistoryEntry) (models.OutputSet, error) {
	type fetch struct {
		nodeID string
		index  int
		data   []byte
		err    error
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var fetches []*fetch

	for nodeID, node := range entry.Outputs {
		for i, ref := range node.Images {
			f := &fetch{nodeID: nodeID, index: i}
			fetches = append(fetches, f)
			wg.Add(1)
			go func(ref comfy.ImageRef) {
				defer wg.Done()
				data, err := p.client.FetchImage(ctx, handle.Worker.URL, ref)
				mu.Lock()
				f.data, f.err = data, err
				mu.Unlock()
			}(ref)
		}
	}
	wg.Wait()

	counts := make(map[string]int)
	for nodeID, node := range entry.Outputs {
		counts[nodeID] = len(node.Images)
	}

	outputs := make(models.OutputSet)
	for nodeID, n := range counts {
		outputs[nodeID] = make([][]byte, n)
	}
	for _, f := range fetches {
		if f.err != nil {
			return nil, fmt.Errorf("fetch output %s[%d] for job %s: %w", f.nodeID, f.index, handle.JobID, f.err)
		}
		outputs[f.nodeID][f.index] = f.data
	}
	return outputs, nil
}

// recordCompleted caches blobs and writes the terminal COMPLETED record.
func (p *Poller) recordCompleted(ctx context.Context, jobID string, outputs models.OutputSet) {
	nodes := make([]any, 0, len(outputs))
	for nodeID, blobs := range outputs {
		nodes = append(nodes, nodeID)
		if len(blobs) > 0 {
			if err := p.store.CacheImage(ctx, jobID, nodeID, blobs[0]); err != nil {
				p.log.Warn("failed to cache image", map[string]any{"job_id": jobID, "node": nodeID, "error": err.Error()})
			}
		}
	}
	if err := p.store.SetStatus(ctx, jobID, models.TaskStatusCompleted, map[string]any{"nodes": nodes}); err != nil {
		p.log.Warn("failed to record completion", map[string]any{"job_id": jobID, "error": err.Error()})
	}
}

// fail records the terminal FAILED status with the last error message.
func (p *Poller) fail(ctx context.Context, jobID string, cause error) (models.OutputSet, models.TaskStatus, error) {
	if err := p.store.SetStatus(ctx, jobID, models.TaskStatusFailed, map[string]any{"error": cause.Error()}); err != nil {
		p.log.Warn("failed to record failure", map[string]any{"job_id": jobID, "error": err.Error()})
	}
	return nil, models.TaskStatusFailed, fmt.Errorf("job %s failed: %w", jobID, cause)
}

func (p *Poller) sleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.cfg.RetryDelay):
		return nil
	}
}
