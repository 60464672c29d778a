package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/streamsight/streamsight/internal/classify"
	"github.com/streamsight/streamsight/internal/config"
	"github.com/streamsight/streamsight/internal/detector"
	"github.com/streamsight/streamsight/internal/device"
	"github.com/streamsight/streamsight/internal/metrics"
	"github.com/streamsight/streamsight/internal/models"
	"github.com/streamsight/streamsight/internal/results"
	"github.com/streamsight/streamsight/internal/stream"
	"github.com/streamsight/streamsight/internal/tracker"
)

// Service binds one stream provider, its frame queue, tracker and result
// aggregator. The provider read loop and the processing loop are the only
// two goroutines touching its pipeline; they meet at the frame queue.
type Service struct {
	ID        string
	streamCfg models.StreamConfig
	detCfg    models.DetectionConfig
	engine    config.EngineConfig

	provider stream.Provider
	queue    *stream.FrameQueue
	pool     *device.Pool
	det      detector.Detector
	tracker  *tracker.Tracker
	agg      *results.Aggregator
	sinks    []ResultSink
	onBeat   func(models.Heartbeat)

	createdAt  time.Time
	startedAt  time.Time
	terminalAt time.Time

	// ctx spans the whole lifecycle; stop cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	status  models.ServiceStatus
	lastErr error
	done    chan struct{}

	// inflight is the worker held by the current inference call; the stop
	// path takes it over when the grace period runs out.
	inflightMu sync.Mutex
	inflight   *device.Worker

	framesRead      atomic.Uint64
	framesProcessed atomic.Uint64
	errorCount      atomic.Uint64

	procMu    sync.Mutex
	procTimes []float64 // recent per-frame seconds, for measured fps
}

func newService(id string, streamCfg models.StreamConfig, detCfg models.DetectionConfig, provider stream.Provider, deps registryDeps) *Service {
	queueDepth := streamCfg.QueueDepth
	if queueDepth <= 0 {
		queueDepth = deps.engine.FrameQueueDepth
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		ID:        id,
		streamCfg: streamCfg,
		ctx:       ctx,
		cancel:    cancel,
		detCfg:    detCfg,
		engine:    deps.engine,
		provider:  provider,
		queue:     stream.NewFrameQueue(queueDepth),
		pool:      deps.pool,
		det:       deps.det,
		tracker:   tracker.New(deps.engine.TrackIoU, deps.engine.TrackMissLimit, detCfg.TrackHistorySize),
		agg:       results.NewAggregator(deps.engine.ResultBufferSize, deps.engine.SubscriberBuffer),
		sinks:     deps.sinks,
		onBeat:    deps.heartbeat,
		createdAt: time.Now().UTC(),
		status:    models.StatusStarting,
		done:      make(chan struct{}),
	}
}

// run drives the whole lifecycle. It owns the starting phase (connect +
// model load), both loops, and the transition into a terminal state.
func (s *Service) run() {
	defer close(s.done)

	ctx := s.ctx
	defer s.cancel()
	defer s.provider.Close()

	if err := s.starting(ctx); err != nil {
		if ctx.Err() != nil {
			s.finish(models.StatusStopped, nil)
			return
		}
		s.finish(models.StatusFailed, err)
		return
	}

	s.mu.Lock()
	if s.status == models.StatusStarting {
		s.status = models.StatusRunning
	}
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()
	log.Info().Str("service_id", s.ID).Str("url", s.streamCfg.URL).Msg("service running")

	var wg sync.WaitGroup
	readErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		readErr <- s.readLoop(ctx)
		// Waking the processing loop lets it drain and exit.
		s.queue.Close()
	}()

	if s.onBeat != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.heartbeatLoop(ctx)
		}()
	}

	s.processLoop(ctx)
	s.cancel()
	wg.Wait()

	if err := <-readErr; err != nil && !errors.Is(err, context.Canceled) {
		s.finish(models.StatusFailed, err)
		return
	}
	s.finish(models.StatusStopped, nil)
}

// starting validates nothing (the registry already did), connects the
// stream and loads the model. Either failure aborts without ever reaching
// running.
func (s *Service) starting(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, s.engine.ConnectTimeout.Std())
	err := s.provider.Connect(connectCtx)
	cancel()
	if err != nil {
		return err
	}

	// Load the model on every registered worker; a pool where no worker can
	// initialize the model is a fatal start failure.
	var lastErr error
	loaded := 0
	for _, w := range s.pool.Workers() {
		if err := s.det.LoadModel(ctx, w); err != nil {
			log.Warn().Str("service_id", s.ID).Str("device", w.ID).Err(err).Msg("model load failed on device")
			lastErr = err
			continue
		}
		loaded++
	}
	if loaded == 0 {
		if lastErr == nil {
			lastErr = &detector.ModelLoadError{Err: errors.New("no workers registered")}
		}
		return lastErr
	}
	return nil
}

// readLoop pulls frames in arrival order and pushes them into the queue.
// Transient read errors trigger an exponential-backoff reconnect up to the
// configured ceiling; past it the error is fatal to the service.
func (s *Service) readLoop(ctx context.Context) error {
	backoff := s.engine.ReconnectInitial.Std()
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := s.provider.NextFrame(ctx)
		if err == nil {
			attempts = 0
			backoff = s.engine.ReconnectInitial.Std()
			s.framesRead.Add(1)
			s.queue.Push(frame)
			continue
		}

		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return ctx.Err()
		case errors.Is(err, stream.ErrStreamEnded):
			return err
		case stream.IsTransient(err):
			attempts++
			if attempts > s.engine.ReconnectAttempts {
				return err
			}
			metrics.StreamReconnects.WithLabelValues(s.ID).Inc()
			log.Warn().Str("service_id", s.ID).Int("attempt", attempts).Err(err).Msg("stream read failed, reconnecting")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if ceiling := s.engine.ReconnectMax.Std(); backoff > ceiling {
				backoff = ceiling
			}

			connectCtx, cancel := context.WithTimeout(ctx, s.engine.ConnectTimeout.Std())
			err = s.provider.Connect(connectCtx)
			cancel()
			if err != nil {
				log.Warn().Str("service_id", s.ID).Int("attempt", attempts).Err(err).Msg("reconnect failed")
			}
		default:
			return err
		}
	}
}

// processLoop runs the frame cycle: pop, acquire, infer, classify, track,
// aggregate. Frame N+1 is not touched until frame N's result is appended,
// which keeps results in strict sequence order. Recoverable per-frame
// failures drop the frame and continue.
func (s *Service) processLoop(ctx context.Context) {
	var lastFrame time.Time

	for {
		frame, err := s.queue.Pop(ctx)
		if err != nil {
			return
		}

		if s.streamCfg.TargetFPS > 0 {
			interval := time.Duration(float64(time.Second) / s.streamCfg.TargetFPS)
			if wait := interval - time.Since(lastFrame); wait > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
			}
			lastFrame = time.Now()
		}

		started := time.Now()
		if s.processFrame(ctx, frame) {
			s.framesProcessed.Add(1)
			s.recordProcTime(time.Since(started).Seconds())
			metrics.FramesProcessed.WithLabelValues(s.ID).Inc()
		}
	}
}

// processFrame reports whether a result was appended for the frame.
func (s *Service) processFrame(ctx context.Context, frame *models.Frame) bool {
	w, err := s.pool.Acquire(ctx)
	if errors.Is(err, device.ErrNoHealthyWorker) {
		w, err = s.pool.AcquireFallback(ctx)
		if errors.Is(err, device.ErrNoFallback) {
			s.errorCount.Add(1)
			metrics.FramesDropped.WithLabelValues(s.ID, "no_worker").Inc()
			log.Warn().Str("service_id", s.ID).Uint64("seq", frame.Seq).Msg("no healthy worker, frame skipped")
			return false
		}
	}
	if err != nil {
		return false
	}

	s.setInflight(w)
	raw, err := s.det.Infer(ctx, w, frame)
	if !s.clearInflight() {
		// Stop already force-released the worker past the grace period.
		return false
	}

	if err != nil {
		s.pool.ReportFailure(w)
		s.pool.Release(w)
		s.errorCount.Add(1)
		metrics.InferenceErrors.WithLabelValues(w.ID).Inc()
		metrics.FramesDropped.WithLabelValues(s.ID, "inference_error").Inc()
		log.Warn().Str("service_id", s.ID).Str("device", w.ID).Uint64("seq", frame.Seq).Err(err).Msg("inference failed, frame dropped")
		return false
	}
	s.pool.ReportSuccess(w)
	s.pool.Release(w)

	detections := classify.Apply(raw, &s.detCfg)
	trackCount := 0
	if s.detCfg.TrackingEnabled {
		detections = s.tracker.Update(frame.Seq, detections)
		trackCount = s.tracker.ActiveCount()
	}

	counts := make(map[string]int, len(detections))
	for _, d := range detections {
		counts[d.Class]++
	}

	result := models.DetectionResult{
		Seq:         frame.Seq,
		Timestamp:   frame.Timestamp,
		Detections:  detections,
		ClassCounts: counts,
		TrackCount:  trackCount,
	}
	s.agg.Append(result)
	s.publish(ctx, result)
	return true
}

func (s *Service) publish(ctx context.Context, r models.DetectionResult) {
	for _, sink := range s.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := sink.Publish(sinkCtx, s.ID, r)
		cancel()
		if err != nil {
			metrics.SinkErrors.WithLabelValues(sink.Name()).Inc()
			log.Warn().Str("service_id", s.ID).Str("sink", sink.Name()).Err(err).Msg("sink publish failed")
			continue
		}
		metrics.ResultsPublished.WithLabelValues(sink.Name()).Inc()
	}
}

func (s *Service) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.engine.HeartbeatInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq := uint64(0)
			if latest, ok := s.agg.Latest(); ok {
				seq = latest.Seq
			}
			s.onBeat(models.Heartbeat{
				ServiceID: s.ID,
				Status:    s.Status(),
				Seq:       seq,
				Timestamp: time.Now().UTC(),
			})
		}
	}
}

// stop signals the loops and waits out the grace period. A hung inference
// call past the grace is forcibly released and its worker marked degraded.
// Idempotent.
func (s *Service) stop() {
	s.mu.Lock()
	switch s.status {
	case models.StatusStopped, models.StatusFailed, models.StatusStopping:
		s.mu.Unlock()
		return
	}
	s.status = models.StatusStopping
	s.mu.Unlock()

	log.Info().Str("service_id", s.ID).Msg("stopping service")
	s.cancel()

	select {
	case <-s.done:
	case <-time.After(s.engine.StopGrace.Std()):
		if w := s.takeInflight(); w != nil {
			s.pool.ForceRelease(w)
		}
		<-s.done
	}
}

func (s *Service) setInflight(w *device.Worker) {
	s.inflightMu.Lock()
	s.inflight = w
	s.inflightMu.Unlock()
}

// clearInflight reports false when the stop path already took the worker.
func (s *Service) clearInflight() bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if s.inflight == nil {
		return false
	}
	s.inflight = nil
	return true
}

func (s *Service) takeInflight() *device.Worker {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	w := s.inflight
	s.inflight = nil
	return w
}

// finish moves the service into a terminal state and ends subscriptions.
// Buffered results stay pollable until the registry evicts the service.
func (s *Service) finish(status models.ServiceStatus, err error) {
	s.mu.Lock()
	s.status = status
	if err != nil {
		s.lastErr = err
	}
	s.terminalAt = time.Now().UTC()
	s.mu.Unlock()
	s.agg.Close()

	if err != nil {
		log.Error().Str("service_id", s.ID).Err(err).Msg("service failed")
		return
	}
	log.Info().Str("service_id", s.ID).Msg("service stopped")
}

func (s *Service) Status() models.ServiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Service) terminal() bool {
	switch s.Status() {
	case models.StatusStopped, models.StatusFailed:
		return true
	}
	return false
}

func (s *Service) recordProcTime(seconds float64) {
	s.procMu.Lock()
	s.procTimes = append(s.procTimes, seconds)
	if len(s.procTimes) > 100 {
		s.procTimes = s.procTimes[len(s.procTimes)-100:]
	}
	s.procMu.Unlock()
}

func (s *Service) processingFPS() float64 {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	if len(s.procTimes) == 0 {
		return 0
	}
	var sum float64
	for _, t := range s.procTimes {
		sum += t
	}
	avg := sum / float64(len(s.procTimes))
	if avg <= 0 {
		return 0
	}
	return 1 / avg
}

// Info snapshots the service for the control surface.
func (s *Service) Info() models.ServiceInfo {
	s.mu.Lock()
	status := s.status
	lastErr := s.lastErr
	startedAt := s.startedAt
	terminalAt := s.terminalAt
	s.mu.Unlock()

	info := models.ServiceInfo{
		ID:        s.ID,
		Status:    status,
		StreamURL: s.streamCfg.URL,
		CreatedAt: s.createdAt,
		Stats: models.ServiceStats{
			FramesRead:      s.framesRead.Load(),
			FramesProcessed: s.framesProcessed.Load(),
			FramesDropped:   s.queue.Dropped(),
			ErrorCount:      s.errorCount.Load(),
			ProcessingFPS:   s.processingFPS(),
		},
	}
	if !startedAt.IsZero() {
		end := time.Now().UTC()
		if !terminalAt.IsZero() {
			end = terminalAt
		}
		info.UptimeSec = end.Sub(startedAt).Seconds()
	}
	if lastErr != nil {
		info.LastError = lastErr.Error()
	}
	return info
}
