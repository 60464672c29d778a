package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/streamsight/streamsight/internal/models"
)

// ErrNoHealthyWorker means no healthy accelerator exists right now. Callers
// with a configured CPU fallback try AcquireFallback next; otherwise the
// frame is skipped.
var ErrNoHealthyWorker = errors.New("no healthy worker available")

// ErrNoFallback means the pool has no designated fallback worker.
var ErrNoFallback = errors.New("no fallback worker configured")

// ErrPoolClosed is returned by acquire calls after Close.
var ErrPoolClosed = errors.New("device pool closed")

// Pool owns all device workers and assigns inference work. It is the only
// cross-service shared mutable state in the engine.
type Pool struct {
	mu       sync.Mutex
	workers  []*Worker // sorted by ID for deterministic ties
	fallback *Worker
	waitCh   chan struct{}
	closed   bool

	failureThreshold int32
}

// NewPool registers the configured workers. At most one may be marked as the
// CPU fallback; it is excluded from normal assignment.
func NewPool(specs []Spec, failureThreshold int) (*Pool, error) {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	p := &Pool{
		waitCh:           make(chan struct{}),
		failureThreshold: int32(failureThreshold),
	}

	for _, s := range specs {
		w := newWorker(s)
		if s.Fallback {
			if p.fallback != nil {
				return nil, fmt.Errorf("multiple fallback workers: %s and %s", p.fallback.ID, s.ID)
			}
			p.fallback = w
			continue
		}
		p.workers = append(p.workers, w)
	}
	sort.Slice(p.workers, func(i, j int) bool { return p.workers[i].ID < p.workers[j].ID })

	if len(p.workers) == 0 && p.fallback == nil {
		return nil, errors.New("device pool needs at least one worker")
	}
	return p, nil
}

// Acquire picks the healthy worker with the lowest effective load
// (in-flight / weight), ties broken by lowest ID. When every healthy worker
// is at its concurrency bound the call waits; when no healthy worker exists
// at all it fails immediately with ErrNoHealthyWorker.
func (p *Pool) Acquire(ctx context.Context) (*Worker, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		healthy := lo.Filter(p.workers, func(w *Worker, _ int) bool {
			return w.Health() == Healthy
		})
		if len(healthy) == 0 {
			p.mu.Unlock()
			return nil, ErrNoHealthyWorker
		}

		if w := pickLeastLoaded(healthy); w != nil {
			w.inFlight.Add(1)
			p.mu.Unlock()
			return w, nil
		}

		wait := p.waitCh
		p.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// AcquireFallback waits for a slot on the designated CPU worker.
func (p *Pool) AcquireFallback(ctx context.Context) (*Worker, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		w := p.fallback
		if w == nil {
			p.mu.Unlock()
			return nil, ErrNoFallback
		}
		if w.Health() != Unavailable && w.inFlight.Load() < int64(w.maxConcurrent) {
			w.inFlight.Add(1)
			p.mu.Unlock()
			return w, nil
		}

		wait := p.waitCh
		p.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func pickLeastLoaded(workers []*Worker) *Worker {
	var best *Worker
	for _, w := range workers {
		if w.inFlight.Load() >= int64(w.maxConcurrent) {
			continue
		}
		if best == nil || w.effectiveLoad() < best.effectiveLoad() {
			best = w
		}
	}
	return best
}

// Release returns a worker slot. Called on both success and failure.
func (p *Pool) Release(w *Worker) {
	w.inFlight.Add(-1)
	p.notify()
}

// ForceRelease frees a slot whose inference call outlived the stop grace
// period. The worker is marked degraded rather than left held forever; the
// health monitor restores it once it responds again.
func (p *Pool) ForceRelease(w *Worker) {
	w.inFlight.Add(-1)
	w.health.Store(int32(Degraded))
	log.Warn().Str("device", w.ID).Msg("worker forcibly released, marked degraded")
	p.notify()
}

// ReportSuccess resets the consecutive-failure count.
func (p *Pool) ReportSuccess(w *Worker) {
	w.failures.Store(0)
}

// ReportFailure counts one inference fault; at the threshold the worker
// leaves the assignment rotation until a health check passes.
func (p *Pool) ReportFailure(w *Worker) {
	n := w.failures.Add(1)
	if n >= p.failureThreshold && w.Health() == Healthy {
		w.health.Store(int32(Unavailable))
		log.Warn().Str("device", w.ID).Int32("failures", n).Msg("worker marked unavailable after consecutive failures")
	}
}

// MarkHealthy puts a worker back into rotation.
func (p *Pool) MarkHealthy(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.allWorkers() {
		if w.ID == id {
			w.failures.Store(0)
			w.health.Store(int32(Healthy))
			p.notifyLocked()
			return true
		}
	}
	return false
}

// RunHealthChecks pings non-healthy workers on a ticker and returns them to
// rotation when they respond. Blocks until ctx is done.
func (p *Pool) RunHealthChecks(ctx context.Context, interval time.Duration, ping func(context.Context, *Worker) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, w := range p.allWorkers() {
				if w.Health() == Healthy {
					continue
				}
				if err := ping(ctx, w); err != nil {
					log.Debug().Str("device", w.ID).Err(err).Msg("health check failed")
					continue
				}
				log.Info().Str("device", w.ID).Msg("worker recovered, back in rotation")
				p.MarkHealthy(w.ID)
			}
		}
	}
}

// Snapshot reports every worker for the control surface.
func (p *Pool) Snapshot() []models.DeviceInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return lo.Map(p.allWorkers(), func(w *Worker, _ int) models.DeviceInfo {
		return models.DeviceInfo{
			ID:       w.ID,
			Health:   w.Health().String(),
			InFlight: w.InFlight(),
			Weight:   w.Weight,
			Fallback: w.Fallback,
		}
	})
}

// Workers returns all registered workers including the fallback.
func (p *Pool) Workers() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allWorkers()
}

func (p *Pool) allWorkers() []*Worker {
	all := make([]*Worker, 0, len(p.workers)+1)
	all = append(all, p.workers...)
	if p.fallback != nil {
		all = append(all, p.fallback)
	}
	return all
}

func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.notifyLocked()
}

func (p *Pool) notify() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifyLocked()
}

func (p *Pool) notifyLocked() {
	close(p.waitCh)
	p.waitCh = make(chan struct{})
}
