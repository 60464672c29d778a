// Package results buffers per-frame detection outcomes and fans them out to
// pollers and live subscribers.
package results

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/streamsight/streamsight/internal/models"
)

// Subscription receives each appended result exactly once, in order, until
// the subscriber falls behind or unsubscribes. A slow subscriber misses
// entries rather than blocking the producer; the poll interface is the
// replay path.
type Subscription struct {
	C  <-chan models.DetectionResult
	id int
	ch chan models.DetectionResult
}

// Aggregator is a bounded FIFO of DetectionResult for one service. Appends
// evict the oldest entry at capacity. Entries are strictly ordered by frame
// sequence number.
type Aggregator struct {
	mu       sync.Mutex
	entries  []models.DetectionResult
	capacity int

	subs     map[int]*Subscription
	nextSub  int
	subDepth int
	closed   bool
}

func NewAggregator(capacity, subscriberBuffer int) *Aggregator {
	if capacity <= 0 {
		capacity = 100
	}
	if subscriberBuffer <= 0 {
		subscriberBuffer = 16
	}
	return &Aggregator{
		capacity: capacity,
		subs:     make(map[int]*Subscription),
		subDepth: subscriberBuffer,
	}
}

// Append stores one result and pushes it to every live subscriber.
func (a *Aggregator) Append(r models.DetectionResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	if len(a.entries) >= a.capacity {
		a.entries = a.entries[1:]
	}
	a.entries = append(a.entries, r)

	for id, sub := range a.subs {
		select {
		case sub.ch <- r:
		default:
			// At-most-once: drop for this subscriber, keep the producer live.
			log.Debug().Int("subscriber", id).Uint64("seq", r.Seq).Msg("slow subscriber, result dropped")
		}
	}
}

// Poll returns every buffered entry with a sequence number greater than
// sinceSeq, oldest first.
func (a *Aggregator) Poll(sinceSeq uint64) []models.DetectionResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Entries are sorted by seq; find the first one past the cursor.
	i := 0
	for i < len(a.entries) && a.entries[i].Seq <= sinceSeq {
		i++
	}
	out := make([]models.DetectionResult, len(a.entries)-i)
	copy(out, a.entries[i:])
	return out
}

// Latest returns the newest entry, if any.
func (a *Aggregator) Latest() (models.DetectionResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) == 0 {
		return models.DetectionResult{}, false
	}
	return a.entries[len(a.entries)-1], true
}

// Subscribe registers an independent live consumer. The returned channel is
// closed on Unsubscribe or when the aggregator closes.
func (a *Aggregator) Subscribe() *Subscription {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch := make(chan models.DetectionResult, a.subDepth)
	sub := &Subscription{C: ch, id: a.nextSub, ch: ch}
	if a.closed {
		close(ch)
		return sub
	}
	a.subs[a.nextSub] = sub
	a.nextSub++
	return sub
}

// Unsubscribe removes a consumer and closes its channel.
func (a *Aggregator) Unsubscribe(sub *Subscription) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.subs[sub.id]; !ok {
		return
	}
	delete(a.subs, sub.id)
	close(sub.ch)
}

// Close ends every subscription. Buffered entries stay pollable for the
// service's retention window.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	for id, sub := range a.subs {
		delete(a.subs, id)
		close(sub.ch)
	}
}
