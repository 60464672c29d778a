// Package classify is the pure policy layer between raw model output and the
// tracker: category filtering, per-category confidence thresholds, minimum
// object size and optional sub-classification.
package classify

import (
	"github.com/samber/lo"

	"github.com/streamsight/streamsight/internal/models"
)

// Apply filters raw detections against the service's detection config. It
// never mutates its input and never promotes a detection a filter rejected.
func Apply(raw []models.RawDetection, cfg *models.DetectionConfig) []models.Detection {
	allowed := lo.SliceToMap(cfg.Classes, func(c string) (string, struct{}) {
		return c, struct{}{}
	})

	out := make([]models.Detection, 0, len(raw))
	for _, r := range raw {
		if len(r.Box) != 4 {
			continue
		}
		if _, ok := allowed[r.Class]; !ok {
			continue
		}

		threshold := cfg.Confidence
		if t, ok := cfg.ConfidenceByClass[r.Class]; ok {
			threshold = t
		}
		if r.Score < threshold {
			continue
		}

		box := models.BoundingBox{X1: r.Box[0], Y1: r.Box[1], X2: r.Box[2], Y2: r.Box[3]}
		if box.Area() < cfg.MinArea {
			continue
		}

		det := models.Detection{
			Box:          box,
			Confidence:   r.Score,
			Class:        r.Class,
			SizeCategory: sizeCategory(box, r.Class),
		}
		if cfg.SubClassifyEnabled {
			det.SubClass = subClassify(box, r.Class)
		}
		out = append(out, det)
	}
	return out
}

// sizeCategory buckets a detection by bounding-box area, with per-class
// bands: a "large" bicycle is far smaller than a "large" bus.
func sizeCategory(box models.BoundingBox, class string) string {
	area := box.Area()

	var small, medium float64
	switch class {
	case "bicycle", "motorcycle":
		small, medium = 5000, 15000
	case "car":
		small, medium = 10000, 25000
	case "truck", "bus":
		small, medium = 20000, 50000
	default:
		return ""
	}

	switch {
	case area < small:
		return "small"
	case area < medium:
		return "medium"
	default:
		return "large"
	}
}

// subClassify refines a category with aspect-ratio and size heuristics.
// Best effort: unknown shapes keep the plain category.
func subClassify(box models.BoundingBox, class string) string {
	switch class {
	case "car":
		if box.Height() <= 0 {
			return ""
		}
		ratio := box.Width() / box.Height()
		switch {
		case ratio > 2.5:
			return "sedan"
		// Tall boxes (height/width above 0.7) read as suv.
		case ratio < 1.0/0.7:
			return "suv"
		default:
			return "hatchback"
		}
	case "truck":
		if box.Area() > 50000 {
			return "heavy_truck"
		}
		return "light_truck"
	}
	return ""
}
