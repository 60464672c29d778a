package tracker

import (
	"testing"

	"github.com/streamsight/streamsight/internal/models"
)

func det(class string, x1, y1, x2, y2 float64) models.Detection {
	return models.Detection{
		Class: class,
		Box:   models.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
	}
}

func TestTrackerKeepsIdentityAcrossFrames(t *testing.T) {
	tr := New(0.3, 5, 30)

	out := tr.Update(1, []models.Detection{det("car", 0, 0, 100, 100)})
	id := out[0].TrackID
	if id == 0 {
		t.Fatal("expected a track id to be assigned")
	}

	// Slightly shifted box: still well above the IoU threshold.
	out = tr.Update(2, []models.Detection{det("car", 10, 10, 110, 110)})
	if out[0].TrackID != id {
		t.Errorf("expected track %d to persist, got %d", id, out[0].TrackID)
	}
	if tr.ActiveCount() != 1 {
		t.Errorf("expected 1 active track, got %d", tr.ActiveCount())
	}
}

func TestTrackerNoMatchAcrossClasses(t *testing.T) {
	tr := New(0.3, 5, 30)

	out := tr.Update(1, []models.Detection{det("car", 0, 0, 100, 100)})
	carID := out[0].TrackID

	// Same box, different category: must spawn a new track.
	out = tr.Update(2, []models.Detection{det("truck", 0, 0, 100, 100)})
	if out[0].TrackID == carID {
		t.Error("truck detection must not inherit the car's track id")
	}
	if tr.ActiveCount() != 2 {
		t.Errorf("expected 2 active tracks, got %d", tr.ActiveCount())
	}
}

func TestTrackerDistantBoxSpawnsNewTrack(t *testing.T) {
	tr := New(0.3, 5, 30)

	out := tr.Update(1, []models.Detection{det("car", 0, 0, 50, 50)})
	first := out[0].TrackID

	out = tr.Update(2, []models.Detection{det("car", 500, 500, 550, 550)})
	if out[0].TrackID == first {
		t.Error("non-overlapping detection must get a fresh track id")
	}
}

func TestTrackerEvictsAfterMissLimit(t *testing.T) {
	tr := New(0.3, 2, 30)

	tr.Update(1, []models.Detection{det("car", 0, 0, 100, 100)})
	for seq := uint64(2); seq <= 5; seq++ {
		tr.Update(seq, nil)
	}
	if tr.ActiveCount() != 0 {
		t.Errorf("expected track evicted after misses, got %d active", tr.ActiveCount())
	}
}

func TestTrackerNeverReusesIDs(t *testing.T) {
	tr := New(0.3, 1, 30)

	out := tr.Update(1, []models.Detection{det("car", 0, 0, 100, 100)})
	first := out[0].TrackID

	// Miss it out of existence.
	tr.Update(2, nil)
	tr.Update(3, nil)
	if tr.ActiveCount() != 0 {
		t.Fatalf("expected eviction, got %d active", tr.ActiveCount())
	}

	out = tr.Update(4, []models.Detection{det("car", 0, 0, 100, 100)})
	if out[0].TrackID <= first {
		t.Errorf("expected a fresh id above %d, got %d", first, out[0].TrackID)
	}
}

func TestTrackerGreedyMatchPrefersBestOverlap(t *testing.T) {
	tr := New(0.3, 5, 30)

	out := tr.Update(1, []models.Detection{
		det("car", 0, 0, 100, 100),
		det("car", 200, 0, 300, 100),
	})
	left, right := out[0].TrackID, out[1].TrackID

	// Both detections moved slightly; each must keep its own identity.
	out = tr.Update(2, []models.Detection{
		det("car", 205, 0, 305, 100),
		det("car", 5, 0, 105, 100),
	})
	if out[0].TrackID != right {
		t.Errorf("right box: expected track %d, got %d", right, out[0].TrackID)
	}
	if out[1].TrackID != left {
		t.Errorf("left box: expected track %d, got %d", left, out[1].TrackID)
	}
}

func TestTrackerHistoryBounded(t *testing.T) {
	tr := New(0.3, 5, 3)

	for seq := uint64(1); seq <= 10; seq++ {
		tr.Update(seq, []models.Detection{det("car", 0, 0, 100, 100)})
	}
	if got := len(tr.tracks[0].History); got != 3 {
		t.Errorf("expected history capped at 3, got %d", got)
	}
}

func TestIoU(t *testing.T) {
	a := models.BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100}

	if got := iou(a, a); got != 1 {
		t.Errorf("identical boxes: expected IoU 1, got %v", got)
	}
	if got := iou(a, models.BoundingBox{X1: 200, Y1: 200, X2: 300, Y2: 300}); got != 0 {
		t.Errorf("disjoint boxes: expected IoU 0, got %v", got)
	}

	// Half-overlapping boxes: intersection 5000, union 15000.
	b := models.BoundingBox{X1: 50, Y1: 0, X2: 150, Y2: 100}
	got := iou(a, b)
	if got < 0.33 || got > 0.34 {
		t.Errorf("expected IoU ~1/3, got %v", got)
	}
}
