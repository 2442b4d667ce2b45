package statusstore

import (
	"context"
	"sync"
	"time"

	"github.com/yzhou-ml/comfyfleet/pkg/models"
)

var _ Store = (*MemoryStore)(nil)

type memoryEntry struct {
	record    *models.TaskRecord
	blob      []byte
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// MemoryStore is an in-process Store for tests and single-host runs.
// Entries expire lazily on read and are swept by a background janitor.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	stopCh  chan struct{}
	once    sync.Once
}

// NewMemory creates a memory store with a janitor sweeping every minute.
func NewMemory() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		stopCh:  make(chan struct{}),
	}
	go s.janitor(time.Minute)
	return s
}

func (s *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for k, e := range s.entries {
				if e.expired(now) {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// SetStatus stores the task record with the status TTL.
func (s *MemoryStore) SetStatus(_ context.Context, jobID string, status models.TaskStatus, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[taskKey(jobID)] = &memoryEntry{
		record: &models.TaskRecord{
			Status:    status,
			UpdatedAt: time.Now(),
			Data:      data,
		},
		expiresAt: time.Now().Add(StatusTTL),
	}
	return nil
}

// GetStatus returns the stored record, (nil, nil) when absent or expired.
func (s *MemoryStore) GetStatus(_ context.Context, jobID string) (*models.TaskRecord, error) {
	s.mu.RLock()
	e, ok := s.entries[taskKey(jobID)]
	s.mu.RUnlock()
	if !ok || e.expired(time.Now()) {
		return nil, nil
	}
	return e.record, nil
}

// CacheImage stores the blob with the image TTL.
func (s *MemoryStore) CacheImage(_ context.Context, jobID, nodeID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[imageKey(jobID, nodeID)] = &memoryEntry{
		blob:      data,
		expiresAt: time.Now().Add(ImageTTL),
	}
	return nil
}

// CachedImage returns the blob, (nil, nil) when absent or expired.
func (s *MemoryStore) CachedImage(_ context.Context, jobID, nodeID string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.entries[imageKey(jobID, nodeID)]
	s.mu.RUnlock()
	if !ok || e.expired(time.Now()) {
		return nil, nil
	}
	return e.blob, nil
}

// Close stops the janitor.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stopCh) })
	return nil
}
