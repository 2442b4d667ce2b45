package comfy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSubmitReturnsJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/prompt" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"prompt_id":"abc-123"}`))
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	id, err := client.Submit(context.Background(), srv.URL, JobPayload{"1": "node"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "abc-123" {
		t.Errorf("expected abc-123, got %s", id)
	}
}

func TestSubmitMissingIDIsHardError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"node_errors":{}}`))
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	_, err := client.Submit(context.Background(), srv.URL, JobPayload{})
	var se *SubmitError
	if !errors.As(err, &se) {
		t.Fatalf("expected SubmitError, got %v", err)
	}
}

func TestSubmitUnreachableWorker(t *testing.T) {
	client := NewClient(500 * time.Millisecond)
	_, err := client.Submit(context.Background(), "http://127.0.0.1:1", JobPayload{})
	var se *SubmitError
	if !errors.As(err, &se) {
		t.Fatalf("expected SubmitError, got %v", err)
	}
}

func TestHistoryWithoutOutputsIsNotDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"job-1":{}}`))
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	entry, err := client.History(context.Background(), srv.URL, "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Done() {
		t.Error("entry without outputs should not be done")
	}
}

func TestHistoryParsesOutputs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/history/job-1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"job-1":{"outputs":{"9":{"images":[{"filename":"a.png","subfolder":"","type":"output"}]}}}}`))
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	entry, err := client.History(context.Background(), srv.URL, "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !entry.Done() {
		t.Fatal("expected entry to be done")
	}
	if got := entry.Outputs["9"].Images[0].Filename; got != "a.png" {
		t.Errorf("expected a.png, got %s", got)
	}
}

func TestFetchImagePassesRefParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("filename") != "a.png" || q.Get("type") != "output" {
			t.Errorf("unexpected query: %v", q)
		}
		w.Write([]byte("imagebytes"))
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	data, err := client.FetchImage(context.Background(), srv.URL, ImageRef{Filename: "a.png", Type: "output"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "imagebytes" {
		t.Errorf("unexpected body: %q", data)
	}
}

func TestCheckHealthNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	err := client.CheckHealth(context.Background(), srv.URL)
	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if he.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", he.StatusCode)
	}
}
