package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yzhou-ml/comfyfleet/pkg/logging"
	"github.com/yzhou-ml/comfyfleet/pkg/models"
	"github.com/yzhou-ml/comfyfleet/pkg/retry"
)

// ErrNoHealthyWorkers means every configured endpoint failed its health
// checks. The pool is unusable and the run must abort.
var ErrNoHealthyWorkers = errors.New("no healthy workers available")

// HealthChecker probes one worker endpoint. Satisfied by comfy.Client.
type HealthChecker interface {
	CheckHealth(ctx context.Context, workerURL string) error
}

// Pool turns a static endpoint list into the set of currently usable
// workers and hands them out in round-robin order. Health is established
// once at initialization; staleness is handled by submission-time failure,
// not a background prober.
type Pool struct {
	endpoints  []models.WorkerEndpoint
	checker    HealthChecker
	log        *logging.Logger
	checkRetry retry.Config

	mu      sync.Mutex
	ready   bool
	current *initRound
	healthy []models.WorkerEndpoint
	cursor  int
}

// initRound tracks one in-flight initialization so concurrent callers
// share it instead of starting duplicate health-check storms.
type initRound struct {
	done chan struct{}
	err  error
}

// Option configures the pool.
type Option func(*Pool)

// WithCheckRetry overrides the per-endpoint health check retry policy.
func WithCheckRetry(cfg retry.Config) Option {
	return func(p *Pool) { p.checkRetry = cfg }
}

// New creates a pool over the configured endpoints. Initialization is
// deferred until Initialize or the first Next call.
func New(endpoints []models.WorkerEndpoint, checker HealthChecker, log *logging.Logger, opts ...Option) *Pool {
	p := &Pool{
		endpoints:  endpoints,
		checker:    checker,
		log:        log,
		checkRetry: retry.Fixed(3, 1*time.Second),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Initialize health-checks every configured endpoint concurrently and
// records the usable set. Idempotent: once successful it returns
// immediately, and concurrent callers before the first success share a
// single in-flight round. Fails with ErrNoHealthyWorkers when nothing
// responds.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	if p.ready {
		p.mu.Unlock()
		return nil
	}
	if p.current != nil {
		round := p.current
		p.mu.Unlock()
		select {
		case <-round.done:
			return round.err
		case <-ctx.Done():
			return fmt.Errorf("worker pool initialization: %w", ctx.Err())
		}
	}

	round := &initRound{done: make(chan struct{})}
	p.current = round
	p.mu.Unlock()

	healthy := p.checkAll(ctx)

	p.mu.Lock()
	if len(healthy) == 0 {
		round.err = ErrNoHealthyWorkers
	} else {
		p.healthy = healthy
		p.ready = true
	}
	p.current = nil
	close(round.done)
	p.mu.Unlock()

	return round.err
}

// checkAll probes every endpoint concurrently, preserving configuration
// order in the result so round-robin order is stable.
func (p *Pool) checkAll(ctx context.Context) []models.WorkerEndpoint {
	results := make([]bool, len(p.endpoints))
	var wg sync.WaitGroup
	for i, ep := range p.endpoints {
		wg.Add(1)
		go func(i int, ep models.WorkerEndpoint) {
			defer wg.Done()
			err := retry.Do(ctx, p.checkRetry, func() error {
				return p.checker.CheckHealth(ctx, ep.URL)
			})
			if err != nil {
				p.log.Warn("worker failed health check", map[string]any{"worker": ep.URL, "error": err.Error()})
				return
			}
			p.log.Info("worker healthy", map[string]any{"worker": ep.URL})
			results[i] = true
		}(i, ep)
	}
	wg.Wait()

	var healthy []models.WorkerEndpoint
	for i, ok := range results {
		if ok {
			healthy = append(healthy, p.endpoints[i])
		}
	}
	return healthy
}

// Next returns the next healthy endpoint in round-robin order. Calling it
// before initialization triggers (or awaits) initialization instead of
// returning undefined state. Safe for concurrent use.
func (p *Pool) Next(ctx context.Context) (models.WorkerEndpoint, error) {
	if err := p.Initialize(ctx); err != nil {
		return models.WorkerEndpoint{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.healthy) == 0 {
		return models.WorkerEndpoint{}, ErrNoHealthyWorkers
	}
	ep := p.healthy[p.cursor%len(p.healthy)]
	p.cursor++
	return ep, nil
}

// Healthy returns a copy of the usable endpoint set.
func (p *Pool) Healthy() []models.WorkerEndpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.WorkerEndpoint, len(p.healthy))
	copy(out, p.healthy)
	return out
}

// Size returns the number of healthy endpoints, 0 before initialization.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.healthy)
}
