package results

import (
	"testing"

	"github.com/streamsight/streamsight/internal/models"
)

func result(seq uint64) models.DetectionResult {
	return models.DetectionResult{Seq: seq}
}

func TestAppendEvictsOldestAtCapacity(t *testing.T) {
	a := NewAggregator(3, 16)
	for seq := uint64(1); seq <= 5; seq++ {
		a.Append(result(seq))
	}

	got := a.Poll(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	for i, want := range []uint64{3, 4, 5} {
		if got[i].Seq != want {
			t.Errorf("entry %d: expected seq %d, got %d", i, want, got[i].Seq)
		}
	}
}

func TestPollSinceSeq(t *testing.T) {
	a := NewAggregator(10, 16)
	for seq := uint64(1); seq <= 5; seq++ {
		a.Append(result(seq))
	}

	got := a.Poll(3)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries past seq 3, got %d", len(got))
	}
	if got[0].Seq != 4 || got[1].Seq != 5 {
		t.Errorf("unexpected seqs %d, %d", got[0].Seq, got[1].Seq)
	}

	if got := a.Poll(5); len(got) != 0 {
		t.Errorf("expected nothing past the newest seq, got %d entries", len(got))
	}
}

func TestLatest(t *testing.T) {
	a := NewAggregator(10, 16)

	if _, ok := a.Latest(); ok {
		t.Error("empty aggregator must report no latest entry")
	}

	a.Append(result(1))
	a.Append(result(2))
	latest, ok := a.Latest()
	if !ok || latest.Seq != 2 {
		t.Errorf("expected latest seq 2, got %v ok=%v", latest.Seq, ok)
	}
}

func TestSubscriberReceivesInOrder(t *testing.T) {
	a := NewAggregator(10, 16)
	sub := a.Subscribe()

	for seq := uint64(1); seq <= 3; seq++ {
		a.Append(result(seq))
	}

	for want := uint64(1); want <= 3; want++ {
		got := <-sub.C
		if got.Seq != want {
			t.Errorf("expected seq %d, got %d", want, got.Seq)
		}
	}
}

func TestSlowSubscriberMissesResults(t *testing.T) {
	a := NewAggregator(10, 1)
	sub := a.Subscribe()

	// Buffer of one: the second append has nowhere to go.
	a.Append(result(1))
	a.Append(result(2))
	a.Append(result(3))

	got := <-sub.C
	if got.Seq != 1 {
		t.Errorf("expected seq 1, got %d", got.Seq)
	}
	select {
	case got := <-sub.C:
		t.Errorf("expected dropped results, received seq %d", got.Seq)
	default:
	}

	// The poll path replays what the live feed lost.
	if entries := a.Poll(1); len(entries) != 2 {
		t.Errorf("expected 2 pollable entries, got %d", len(entries))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	a := NewAggregator(10, 16)
	sub := a.Subscribe()
	a.Unsubscribe(sub)

	if _, ok := <-sub.C; ok {
		t.Error("expected closed channel after unsubscribe")
	}
	// Idempotent.
	a.Unsubscribe(sub)
}

func TestCloseEndsSubscriptionsKeepsEntries(t *testing.T) {
	a := NewAggregator(10, 16)
	a.Append(result(1))
	sub := a.Subscribe()

	a.Close()
	if _, ok := <-sub.C; ok {
		t.Error("expected closed subscription after Close")
	}

	if got := a.Poll(0); len(got) != 1 {
		t.Errorf("entries must stay pollable after Close, got %d", len(got))
	}

	// Appends after close are discarded.
	a.Append(result(2))
	if got := a.Poll(0); len(got) != 1 {
		t.Errorf("expected append after close ignored, got %d entries", len(got))
	}

	late := a.Subscribe()
	if _, ok := <-late.C; ok {
		t.Error("subscribing after close must yield a closed channel")
	}
}
