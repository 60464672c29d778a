package device

import (
	"math"
	"sync/atomic"
)

// Health of one worker. Only the pool mutates it.
type Health int32

const (
	Healthy Health = iota
	Degraded
	Unavailable
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unavailable:
		return "unavailable"
	}
	return "unknown"
}

// Spec registers one accelerator (or CPU) worker with the pool.
type Spec struct {
	ID            string
	Endpoint      string
	Weight        float64
	MaxConcurrent int
	Fallback      bool
}

// Worker is one execution unit able to run the detection model. Load and
// failure counters use atomics so status reads never contend with the
// assignment path.
type Worker struct {
	ID       string
	Endpoint string
	Weight   float64
	Fallback bool

	maxConcurrent int
	inFlight      atomic.Int64
	failures      atomic.Int32
	health        atomic.Int32
}

func newWorker(s Spec) *Worker {
	weight := s.Weight
	if weight <= 0 {
		weight = 1
	}
	maxConcurrent := s.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Worker{
		ID:            s.ID,
		Endpoint:      s.Endpoint,
		Weight:        weight,
		Fallback:      s.Fallback,
		maxConcurrent: maxConcurrent,
	}
}

func (w *Worker) Health() Health  { return Health(w.health.Load()) }
func (w *Worker) InFlight() int64 { return w.inFlight.Load() }

// effectiveLoad is the heterogeneous-pool cost: in-flight tasks divided by
// capability weight. Lower wins.
func (w *Worker) effectiveLoad() float64 {
	if w.Weight <= 0 {
		return math.Inf(1)
	}
	return float64(w.inFlight.Load()) / w.Weight
}
