package comfy

import "fmt"

// JobPayload is the worker-side job document. The templating layer builds
// it; the client only carries it over the wire.
type JobPayload map[string]any

// ImageRef locates one output artifact inside a worker's file store.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NodeOutput is the output section of a single workflow node.
type NodeOutput struct {
	Images []ImageRef `json:"images"`
}

// HistoryEntry is the per-job record returned by the history endpoint. A
// nil Outputs map means the job has not finished yet, it is not an error.
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
}

// Done reports whether the job has produced its outputs section.
func (h *HistoryEntry) Done() bool {
	return h != nil && len(h.Outputs) > 0
}

// SubmitError indicates a submission the worker did not accept, including
// responses that lack a job id. It is never retried at the client layer.
type SubmitError struct {
	Worker string
	Reason string
	Err    error
}

func (e *SubmitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submit to %s failed: %s: %v", e.Worker, e.Reason, e.Err)
	}
	return fmt.Sprintf("submit to %s failed: %s", e.Worker, e.Reason)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// HTTPError indicates a transport failure or non-2xx response on any
// worker call.
type HTTPError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *HTTPError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d", e.Op, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *HTTPError) Unwrap() error { return e.Err }
