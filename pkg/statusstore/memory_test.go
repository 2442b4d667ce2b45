package statusstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yzhou-ml/comfyfleet/pkg/models"
)

func TestSetGetStatus(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	if err := s.SetStatus(ctx, "job-1", models.TaskStatusPending, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	record, err := s.GetStatus(ctx, "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record == nil || record.Status != models.TaskStatusPending {
		t.Errorf("expected PENDING record, got %+v", record)
	}
}

func TestGetStatusMissReturnsNil(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	record, err := s.GetStatus(context.Background(), "absent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record != nil {
		t.Errorf("expected nil record, got %+v", record)
	}
}

func TestStatusOverwrite(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	s.SetStatus(ctx, "job-1", models.TaskStatusPending, nil)
	s.SetStatus(ctx, "job-1", models.TaskStatusFailed, map[string]any{"error": "boom"})

	record, _ := s.GetStatus(ctx, "job-1")
	if record.Status != models.TaskStatusFailed {
		t.Errorf("expected FAILED, got %s", record.Status)
	}
	if record.Data["error"] != "boom" {
		t.Errorf("expected error data, got %v", record.Data)
	}
}

func TestImageCacheRoundTrip(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	if err := s.CacheImage(ctx, "job-1", "9", []byte("blob")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := s.CachedImage(ctx, "job-1", "9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "blob" {
		t.Errorf("expected blob, got %q", data)
	}

	miss, _ := s.CachedImage(ctx, "job-1", "10")
	if miss != nil {
		t.Errorf("expected miss, got %q", miss)
	}
}

func TestExpiredEntryNotReturned(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	s.SetStatus(ctx, "job-1", models.TaskStatusCompleted, nil)
	s.mu.Lock()
	s.entries[taskKey("job-1")].expiresAt = time.Now().Add(-time.Second)
	s.mu.Unlock()

	record, err := s.GetStatus(ctx, "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record != nil {
		t.Errorf("expected expired record to be a miss, got %+v", record)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "job"
			if i%2 == 0 {
				s.SetStatus(ctx, id, models.TaskStatusPending, nil)
			} else {
				s.GetStatus(ctx, id)
			}
		}(i)
	}
	wg.Wait()
}
