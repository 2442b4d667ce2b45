// Package statusstore persists per-job status records and short-lived
// image blobs in an external key/value cache. TTLs are a cost control,
// not a correctness mechanism: once a job is terminal, a cache hit is
// authoritative and short-circuits any further polling.
package statusstore

import (
	"context"
	"fmt"
	"time"

	"github.com/yzhou-ml/comfyfleet/pkg/models"
)

const (
	// StatusTTL bounds how long task status records are kept.
	StatusTTL = 24 * time.Hour
	// ImageTTL bounds how long cached output blobs are kept.
	ImageTTL = 1 * time.Hour
)

// Store is the status cache consumed by the poller and the status API.
// Implementations must provide atomic per-key set/get; no cross-key
// transactions are required.
type Store interface {
	// SetStatus writes the status record for a job, replacing any prior
	// record.
	SetStatus(ctx context.Context, jobID string, status models.TaskStatus, data map[string]any) error
	// GetStatus returns the record for a job, or (nil, nil) when absent
	// or expired.
	GetStatus(ctx context.Context, jobID string) (*models.TaskRecord, error)
	// CacheImage stores one output blob under the job and node ids.
	CacheImage(ctx context.Context, jobID, nodeID string, data []byte) error
	// CachedImage returns a cached blob, or (nil, nil) when absent.
	CachedImage(ctx context.Context, jobID, nodeID string) ([]byte, error)
	// Close releases the underlying connection.
	Close() error
}

func taskKey(jobID string) string {
	return fmt.Sprintf("comfyui:task:%s", jobID)
}

func imageKey(jobID, nodeID string) string {
	return fmt.Sprintf("comfyui:image:%s:%s", jobID, nodeID)
}
