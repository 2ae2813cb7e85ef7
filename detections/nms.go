package detections

import (
	"sort"

	"github.com/Tutortoise/helmet-detection-service/models"
)

// nonMaxSuppression keeps the most confident box of every overlapping group of
// the same class. The result is ordered by descending confidence and holds at
// most limit boxes.
func nonMaxSuppression(dets []models.Detection, iouThreshold float32, limit int) []models.Detection {
	if len(dets) == 0 {
		return nil
	}
	sortDetectionsByConfidence(dets)

	kept := make([]models.Detection, 0, min(len(dets), limit))
	suppressed := make([]bool, len(dets))
	for i := range dets {
		if suppressed[i] {
			continue
		}
		kept = append(kept, dets[i])
		if len(kept) == limit {
			break
		}
		for j := i + 1; j < len(dets); j++ {
			if suppressed[j] || dets[j].Class != dets[i].Class {
				continue
			}
			if calculateIOU(dets[i], dets[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func calculateIOU(a, b models.Detection) float32 {
	x1 := max(a.Box[0], b.Box[0])
	y1 := max(a.Box[1], b.Box[1])
	x2 := min(a.Box[2], b.Box[2])
	y2 := min(a.Box[3], b.Box[3])

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.Width()*a.Height() + b.Width()*b.Height() - intersection
	if union <= 0 {
		return 0
	}

	return intersection / union
}

func sortDetectionsByConfidence(detections []models.Detection) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
}
