package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/streamsight/streamsight/internal/config"
	"github.com/streamsight/streamsight/internal/detector"
	"github.com/streamsight/streamsight/internal/device"
	"github.com/streamsight/streamsight/internal/metrics"
	"github.com/streamsight/streamsight/internal/models"
	"github.com/streamsight/streamsight/internal/results"
	"github.com/streamsight/streamsight/internal/stream"
)

// ErrNotFound is returned for any operation on an unknown service id.
var ErrNotFound = errors.New("service not found")

// registryDeps are the shared process-level dependencies handed to every
// service the registry creates.
type registryDeps struct {
	engine     config.EngineConfig
	pool       *device.Pool
	det        detector.Detector
	sinks      []ResultSink
	heartbeat  func(models.Heartbeat)
	streamOpts stream.Options

	// newProvider is swappable in tests; nil means stream.NewProvider.
	newProvider func(models.StreamConfig, stream.Options) (stream.Provider, error)
}

// Registry owns the live service map. Every control-surface operation goes
// through it, and it runs the janitor that evicts terminal services after
// the retention window.
type Registry struct {
	deps     registryDeps
	defaults models.DetectionConfig

	mu       sync.RWMutex
	services map[string]*Service
	closed   bool
}

type RegistryOptions struct {
	Engine           config.EngineConfig
	DefaultDetection models.DetectionConfig
	Pool             *device.Pool
	Detector         detector.Detector
	Sinks            []ResultSink
	Heartbeat        func(models.Heartbeat)
	StreamOptions    stream.Options

	// NewProvider overrides the provider factory; nil means the scheme-based
	// default.
	NewProvider func(models.StreamConfig, stream.Options) (stream.Provider, error)
}

func NewRegistry(opts RegistryOptions) *Registry {
	return &Registry{
		deps: registryDeps{
			engine:      opts.Engine,
			pool:        opts.Pool,
			det:         opts.Detector,
			sinks:       opts.Sinks,
			heartbeat:   opts.Heartbeat,
			streamOpts:  opts.StreamOptions,
			newProvider: opts.NewProvider,
		},
		defaults: opts.DefaultDetection,
		services: make(map[string]*Service),
	}
}

// Start validates the request, builds the pipeline and launches the service
// lifecycle goroutine. The returned id is usable immediately even though the
// service is still in its starting phase.
func (r *Registry) Start(streamCfg models.StreamConfig, detCfg *models.DetectionConfig) (string, error) {
	if err := config.ValidateStream(&streamCfg); err != nil {
		return "", err
	}

	cfg := r.defaults
	if detCfg != nil {
		cfg = *detCfg
		if cfg.TrackHistorySize == 0 {
			cfg.TrackHistorySize = r.defaults.TrackHistorySize
		}
	}
	if err := config.ValidateDetection(&cfg); err != nil {
		return "", err
	}

	newProvider := r.deps.newProvider
	if newProvider == nil {
		newProvider = stream.NewProvider
	}
	provider, err := newProvider(streamCfg, r.deps.streamOpts)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	svc := newService(id, streamCfg, cfg, provider, r.deps)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		provider.Close()
		return "", errors.New("registry is shut down")
	}
	r.services[id] = svc
	r.mu.Unlock()

	log.Info().Str("service_id", id).Str("url", streamCfg.URL).Msg("starting service")
	go svc.run()
	return id, nil
}

// Stop transitions the service toward stopped. Stopping an already terminal
// service is a no-op, not an error.
func (r *Registry) Stop(id string) error {
	svc, err := r.lookup(id)
	if err != nil {
		return err
	}
	svc.stop()
	return nil
}

func (r *Registry) Status(id string) (models.ServiceInfo, error) {
	svc, err := r.lookup(id)
	if err != nil {
		return models.ServiceInfo{}, err
	}
	return svc.Info(), nil
}

// Results returns buffered results with sequence numbers above sinceSeq.
// Terminal services keep answering until the janitor evicts them.
func (r *Registry) Results(id string, sinceSeq uint64) ([]models.DetectionResult, error) {
	svc, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return svc.agg.Poll(sinceSeq), nil
}

// Latest returns the newest buffered result for the service, when one
// exists.
func (r *Registry) Latest(id string) (models.DetectionResult, bool, error) {
	svc, err := r.lookup(id)
	if err != nil {
		return models.DetectionResult{}, false, err
	}
	latest, ok := svc.agg.Latest()
	return latest, ok, nil
}

// Subscribe registers a live result feed for the service. The returned
// cancel func must be called when the consumer goes away.
func (r *Registry) Subscribe(id string) (*results.Subscription, func(), error) {
	svc, err := r.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	sub := svc.agg.Subscribe()
	return sub, func() { svc.agg.Unsubscribe(sub) }, nil
}

func (r *Registry) List() []models.ServiceInfo {
	r.mu.RLock()
	services := lo.Values(r.services)
	r.mu.RUnlock()

	return lo.Map(services, func(s *Service, _ int) models.ServiceInfo {
		return s.Info()
	})
}

func (r *Registry) Devices() []models.DeviceInfo {
	return r.deps.pool.Snapshot()
}

func (r *Registry) lookup(id string) (*Service, error) {
	r.mu.RLock()
	svc, ok := r.services[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return svc, nil
}

// Run blocks until ctx is done, periodically evicting services that have
// been terminal longer than the retention window and refreshing gauges.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	retention := r.deps.engine.Retention.Std()
	now := time.Now().UTC()
	running := 0

	r.mu.Lock()
	for id, svc := range r.services {
		svc.mu.Lock()
		terminalAt := svc.terminalAt
		status := svc.status
		svc.mu.Unlock()

		if status == models.StatusRunning {
			running++
		}
		if !terminalAt.IsZero() && now.Sub(terminalAt) >= retention {
			delete(r.services, id)
			log.Debug().Str("service_id", id).Msg("evicted terminal service")
		}
	}
	r.mu.Unlock()

	metrics.ActiveServices.Set(float64(running))
	metrics.UpdateDevices(r.deps.pool.Snapshot())
}

// Shutdown stops every service, waiting out each grace period in parallel.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	services := lo.Values(r.services)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, svc := range services {
		wg.Add(1)
		go func(s *Service) {
			defer wg.Done()
			s.stop()
		}(svc)
	}
	wg.Wait()
	log.Info().Int("count", len(services)).Msg("all services stopped")
}
