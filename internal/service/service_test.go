package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/streamsight/streamsight/internal/config"
	"github.com/streamsight/streamsight/internal/device"
	"github.com/streamsight/streamsight/internal/models"
	"github.com/streamsight/streamsight/internal/stream"
)

// fakeProvider hands out sequenced frames up to limit, then blocks until the
// context is cancelled.
type fakeProvider struct {
	mu         sync.Mutex
	limit      int
	served     int
	connectErr error
	closed     bool

	// gate, when set, holds frames back until closed.
	gate chan struct{}
}

func (p *fakeProvider) Connect(ctx context.Context) error { return p.connectErr }

func (p *fakeProvider) NextFrame(ctx context.Context) (*models.Frame, error) {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	if p.served < p.limit {
		p.served++
		seq := uint64(p.served)
		p.mu.Unlock()
		return &models.Frame{Seq: seq, Timestamp: time.Now(), Data: []byte("jpeg")}, nil
	}
	p.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (p *fakeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakeProvider) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeDetector records inference order. inferDelay is wall-clock and ignores
// the context, imitating a hung device.
type fakeDetector struct {
	mu         sync.Mutex
	seqs       []uint64
	inferDelay time.Duration
	inferErr   error
	loadErr    error
}

func (d *fakeDetector) LoadModel(ctx context.Context, w *device.Worker) error { return d.loadErr }

func (d *fakeDetector) Infer(ctx context.Context, w *device.Worker, frame *models.Frame) ([]models.RawDetection, error) {
	if d.inferDelay > 0 {
		time.Sleep(d.inferDelay)
	}
	if d.inferErr != nil {
		return nil, d.inferErr
	}
	d.mu.Lock()
	d.seqs = append(d.seqs, frame.Seq)
	d.mu.Unlock()
	return []models.RawDetection{{Class: "car", Score: 0.9, Box: []float64{0, 0, 100, 100}}}, nil
}

func (d *fakeDetector) Ping(ctx context.Context, w *device.Worker) error { return nil }
func (d *fakeDetector) Release() error                                   { return nil }

func (d *fakeDetector) inferred() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]uint64, len(d.seqs))
	copy(out, d.seqs)
	return out
}

func testEngine() config.EngineConfig {
	return config.EngineConfig{
		ResultBufferSize:  100,
		SubscriberBuffer:  16,
		FrameQueueDepth:   10,
		FailureThreshold:  3,
		ReconnectAttempts: 2,
		ReconnectInitial:  config.Duration(5 * time.Millisecond),
		ReconnectMax:      config.Duration(20 * time.Millisecond),
		ConnectTimeout:    config.Duration(time.Second),
		ReadTimeout:       config.Duration(time.Second),
		InferenceTimeout:  config.Duration(time.Second),
		StopGrace:         config.Duration(50 * time.Millisecond),
		Retention:         config.Duration(time.Minute),
		TrackIoU:          0.3,
		TrackMissLimit:    5,
	}
}

func testDetection() models.DetectionConfig {
	return models.DetectionConfig{
		Classes:          []string{"car"},
		Confidence:       0.5,
		TrackingEnabled:  true,
		TrackHistorySize: 30,
	}
}

func newTestRegistry(t *testing.T, provider stream.Provider, det *fakeDetector) *Registry {
	t.Helper()
	pool, err := device.NewPool([]device.Spec{{ID: "gpu-0", Weight: 1, MaxConcurrent: 2}}, 3)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	return NewRegistry(RegistryOptions{
		Engine:           testEngine(),
		DefaultDetection: testDetection(),
		Pool:             pool,
		Detector:         det,
		NewProvider: func(models.StreamConfig, stream.Options) (stream.Provider, error) {
			return provider, nil
		},
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestServiceProcessesFramesInOrder(t *testing.T) {
	det := &fakeDetector{}
	r := newTestRegistry(t, &fakeProvider{limit: 5}, det)

	id, err := r.Start(models.StreamConfig{URL: "http://camera/stream"}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(det.inferred()) == 5 })

	results, err := r.Results(id, 0)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for i, res := range results {
		if res.Seq != uint64(i+1) {
			t.Errorf("result %d: expected seq %d, got %d", i, i+1, res.Seq)
		}
		if len(res.Detections) != 1 || res.Detections[0].TrackID == 0 {
			t.Errorf("result %d: expected one tracked detection, got %+v", i, res.Detections)
		}
		if res.ClassCounts["car"] != 1 {
			t.Errorf("result %d: expected class count, got %+v", i, res.ClassCounts)
		}
	}
	// One object drifting through the frames keeps one identity.
	first := results[0].Detections[0].TrackID
	for _, res := range results[1:] {
		if res.Detections[0].TrackID != first {
			t.Errorf("track id changed from %d to %d", first, res.Detections[0].TrackID)
		}
	}

	if err := r.Stop(id); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		info, _ := r.Status(id)
		return info.Status == models.StatusStopped
	})
}

func TestServiceConnectFailureEndsFailed(t *testing.T) {
	provider := &fakeProvider{connectErr: &stream.ConnectionError{URL: "http://camera", Err: errors.New("refused")}}
	r := newTestRegistry(t, provider, &fakeDetector{})

	id, err := r.Start(models.StreamConfig{URL: "http://camera/stream"}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		info, _ := r.Status(id)
		return info.Status == models.StatusFailed
	})
	info, _ := r.Status(id)
	if info.LastError == "" {
		t.Error("expected last_error to be populated")
	}
}

func TestServiceModelLoadFailureEndsFailed(t *testing.T) {
	det := &fakeDetector{loadErr: errors.New("weights missing")}
	r := newTestRegistry(t, &fakeProvider{limit: 1}, det)

	id, err := r.Start(models.StreamConfig{URL: "http://camera/stream"}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		info, _ := r.Status(id)
		return info.Status == models.StatusFailed
	})
	if got := det.inferred(); len(got) != 0 {
		t.Errorf("no inference may run without a loaded model, got %v", got)
	}
}

func TestProviderClosedWhenStartFails(t *testing.T) {
	// Connect succeeds, model load fails. The stream connection must not
	// outlive the failed service.
	provider := &fakeProvider{limit: 1}
	r := newTestRegistry(t, provider, &fakeDetector{loadErr: errors.New("weights missing")})

	id, err := r.Start(models.StreamConfig{URL: "http://camera/stream"}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		info, _ := r.Status(id)
		return info.Status == models.StatusFailed
	})
	waitFor(t, 2*time.Second, provider.isClosed)
}

func TestStopForceReleasesHungInference(t *testing.T) {
	// Inference outlives the 50ms stop grace by a wide margin.
	det := &fakeDetector{inferDelay: 300 * time.Millisecond}
	r := newTestRegistry(t, &fakeProvider{limit: 1}, det)

	id, err := r.Start(models.StreamConfig{URL: "http://camera/stream"}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Let the frame reach the detector before stopping.
	waitFor(t, 2*time.Second, func() bool {
		return r.deps.pool.Workers()[0].InFlight() == 1
	})
	if err := r.Stop(id); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	info, _ := r.Status(id)
	if info.Status != models.StatusStopped {
		t.Errorf("expected stopped, got %s", info.Status)
	}
	w := r.deps.pool.Workers()[0]
	if w.InFlight() != 0 {
		t.Errorf("expected slot reclaimed, in-flight %d", w.InFlight())
	}
	if w.Health() != device.Degraded {
		t.Errorf("expected worker degraded after forced release, got %s", w.Health())
	}
}

func TestTransientInferenceErrorKeepsServiceRunning(t *testing.T) {
	det := &fakeDetector{inferErr: errors.New("cuda out of memory")}
	r := newTestRegistry(t, &fakeProvider{limit: 2}, det)

	id, err := r.Start(models.StreamConfig{URL: "http://camera/stream"}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		info, _ := r.Status(id)
		return info.Status == models.StatusRunning && info.Stats.ErrorCount >= 2
	})

	info, _ := r.Status(id)
	if info.Stats.FramesProcessed != 0 {
		t.Errorf("failed frames must not count as processed, got %d", info.Stats.FramesProcessed)
	}
	if results, _ := r.Results(id, 0); len(results) != 0 {
		t.Errorf("failed frames must not produce results, got %d", len(results))
	}
	r.Stop(id)
}

func TestSubscribeDeliversLiveResults(t *testing.T) {
	det := &fakeDetector{}
	provider := &fakeProvider{limit: 3, gate: make(chan struct{})}
	r := newTestRegistry(t, provider, det)

	id, err := r.Start(models.StreamConfig{URL: "http://camera/stream"}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	sub, unsubscribe, err := r.Subscribe(id)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsubscribe()
	close(provider.gate)

	seen := map[uint64]bool{}
	timeout := time.After(2 * time.Second)
	for len(seen) < 3 {
		select {
		case res, ok := <-sub.C:
			if !ok {
				t.Fatal("subscription ended early")
			}
			seen[res.Seq] = true
		case <-timeout:
			t.Fatalf("only received %d results", len(seen))
		}
	}
	r.Stop(id)
}
