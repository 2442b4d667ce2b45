// Package shutdown coordinates graceful teardown of the engine's
// long-lived resources: HTTP servers, the status store, log files.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/yzhou-ml/comfyfleet/pkg/logging"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// Manager runs registered teardown hooks in reverse registration order
// when a shutdown signal arrives.
type Manager struct {
	mu      sync.Mutex
	hooks   []hook
	timeout time.Duration
	done    chan struct{}
	once    sync.Once
	log     *logging.Logger
}

// New creates a manager. Each shutdown run gets timeout in total.
func New(timeout time.Duration, log *logging.Logger) *Manager {
	return &Manager{timeout: timeout, done: make(chan struct{}), log: log}
}

// Register adds a named teardown hook. Hooks run LIFO so dependents stop
// before the resources they use.
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Done is closed once shutdown begins.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until SIGINT or SIGTERM, then runs every hook. Returns the
// first hook error, after all hooks have run.
func (m *Manager) Wait() error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigs
	m.log.Info("shutdown signal received", map[string]any{"signal": sig.String()})
	return m.Shutdown()
}

// Shutdown runs all hooks immediately. Safe to call alongside Wait; the
// hooks run once.
func (m *Manager) Shutdown() error {
	var firstErr error
	m.once.Do(func() {
		close(m.done)

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		m.mu.Lock()
		hooks := make([]hook, len(m.hooks))
		copy(hooks, m.hooks)
		m.mu.Unlock()

		for i := len(hooks) - 1; i >= 0; i-- {
			h := hooks[i]
			if err := h.fn(ctx); err != nil {
				m.log.Error("shutdown hook failed", map[string]any{"hook": h.name, "error": err.Error()})
				if firstErr == nil {
					firstErr = fmt.Errorf("shutdown %s: %w", h.name, err)
				}
				continue
			}
			m.log.Debug("shutdown hook finished", map[string]any{"hook": h.name})
		}
	})
	return firstErr
}

// StopHTTPServer wraps an http.Server-style Shutdown for registration.
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return server.Shutdown
}

// CloseResource wraps an io.Closer for registration.
func CloseResource(closer interface{ Close() error }) func(context.Context) error {
	return func(context.Context) error {
		return closer.Close()
	}
}
