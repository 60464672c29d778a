// Package tracker assigns stable identities to detections across frames
// using spatial continuity (intersection-over-union).
package tracker

import (
	"sort"

	"github.com/streamsight/streamsight/internal/models"
)

// Track is one object identity. History is a bounded ring of recent boxes
// used for continuity only; nothing here outlives the service.
type Track struct {
	ID       int64
	Class    string
	History  []models.BoundingBox
	LastSeen uint64
	Misses   int
}

func (t *Track) last() models.BoundingBox {
	return t.History[len(t.History)-1]
}

// Tracker matches detections to active tracks per frame. Not safe for
// concurrent use; each service owns exactly one.
type Tracker struct {
	iouThreshold float64
	missLimit    int
	historySize  int

	tracks []*Track
	nextID int64
}

func New(iouThreshold float64, missLimit, historySize int) *Tracker {
	if iouThreshold <= 0 {
		iouThreshold = 0.3
	}
	if missLimit <= 0 {
		missLimit = 5
	}
	if historySize <= 0 {
		historySize = 30
	}
	return &Tracker{
		iouThreshold: iouThreshold,
		missLimit:    missLimit,
		historySize:  historySize,
		nextID:       1,
	}
}

type candidate struct {
	detIdx int
	track  *Track
	iou    float64
}

// Update matches the frame's detections against active tracks of the same
// category, greedily by best overlap. Unmatched detections spawn new tracks;
// tracks unseen for the miss limit are evicted and their IDs never reused.
// Detections are returned with TrackID filled in.
func (t *Tracker) Update(seq uint64, detections []models.Detection) []models.Detection {
	var candidates []candidate
	for i, d := range detections {
		for _, tr := range t.tracks {
			if tr.Class != d.Class {
				continue
			}
			if v := iou(d.Box, tr.last()); v >= t.iouThreshold {
				candidates = append(candidates, candidate{detIdx: i, track: tr, iou: v})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].iou > candidates[j].iou })

	matchedDet := make(map[int]bool, len(detections))
	matchedTrack := make(map[int64]bool, len(t.tracks))
	for _, c := range candidates {
		if matchedDet[c.detIdx] || matchedTrack[c.track.ID] {
			continue
		}
		matchedDet[c.detIdx] = true
		matchedTrack[c.track.ID] = true

		c.track.History = append(c.track.History, detections[c.detIdx].Box)
		if len(c.track.History) > t.historySize {
			c.track.History = c.track.History[len(c.track.History)-t.historySize:]
		}
		c.track.LastSeen = seq
		c.track.Misses = 0
		detections[c.detIdx].TrackID = c.track.ID
	}

	for i := range detections {
		if matchedDet[i] {
			continue
		}
		tr := &Track{
			ID:       t.nextID,
			Class:    detections[i].Class,
			History:  []models.BoundingBox{detections[i].Box},
			LastSeen: seq,
		}
		t.nextID++
		t.tracks = append(t.tracks, tr)
		detections[i].TrackID = tr.ID
	}

	alive := t.tracks[:0]
	for _, tr := range t.tracks {
		if !matchedTrack[tr.ID] && tr.LastSeen != seq {
			tr.Misses++
		}
		if tr.Misses > t.missLimit {
			continue
		}
		alive = append(alive, tr)
	}
	t.tracks = alive

	return detections
}

// ActiveCount reports how many tracks are currently alive.
func (t *Tracker) ActiveCount() int { return len(t.tracks) }

func iou(a, b models.BoundingBox) float64 {
	x1 := max(a.X1, b.X1)
	y1 := max(a.Y1, b.Y1)
	x2 := min(a.X2, b.X2)
	y2 := min(a.Y2, b.Y2)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
