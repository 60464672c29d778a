package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/streamsight/streamsight/internal/models"
)

// ErrQueueClosed is returned by Pop once the queue is closed and drained.
var ErrQueueClosed = errors.New("frame queue closed")

// FrameQueue is the bounded handoff between a stream provider's read loop
// and the service's processing loop. When full, Push evicts the oldest
// queued frame: live monitoring wants the newest frame, not a backlog.
type FrameQueue struct {
	mu      sync.Mutex
	frames  []*models.Frame
	depth   int
	dropped uint64
	closed  bool

	signal chan struct{}
	done   chan struct{}
}

func NewFrameQueue(depth int) *FrameQueue {
	if depth <= 0 {
		depth = 1
	}
	return &FrameQueue{
		depth:  depth,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push never blocks. A frame displaced by a newer one counts as dropped.
func (q *FrameQueue) Push(f *models.Frame) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if len(q.frames) >= q.depth {
		q.frames = q.frames[1:]
		q.dropped++
	}
	q.frames = append(q.frames, f)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pop suspends the caller until a frame is available, the queue closes, or
// the context is cancelled.
func (q *FrameQueue) Pop(ctx context.Context) (*models.Frame, error) {
	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			f := q.frames[0]
			q.frames = q.frames[1:]
			q.mu.Unlock()
			return f, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrQueueClosed
		}

		select {
		case <-q.signal:
		case <-q.done:
			// Re-check: frames pushed before Close must still drain.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Dropped returns how many frames were evicted under backpressure.
func (q *FrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *FrameQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
}
