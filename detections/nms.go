package detections

import (
	"math"
	"sort"

	"github.com/dooh-web/landmark-detector/models"
)

const (
	// DefaultIoUThreshold is the overlap above which a lower-confidence box is dropped.
	DefaultIoUThreshold = 0.45
)

// IoU is the intersection-over-union of two boxes. A zero union yields 0, so
// degenerate boxes never suppress anything.
func IoU(a, b models.Detection) float64 {
	iw := math.Max(0, math.Min(a.X2, b.X2)-math.Max(a.X1, b.X1))
	ih := math.Max(0, math.Min(a.Y2, b.Y2)-math.Max(a.Y1, b.Y1))
	intersection := iw * ih

	union := a.Area() + b.Area() - intersection
	if !(union > 0) {
		return 0
	}
	return intersection / union
}

// SortByConfidence returns a copy of detections ordered by descending
// confidence. Equal confidences keep their input order.
func SortByConfidence(detections []models.Detection) []models.Detection {
	sorted := make([]models.Detection, len(detections))
	copy(sorted, detections)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})
	return sorted
}

// Suppress runs greedy non-maximum suppression over all boxes regardless of
// class. A box is dropped when its IoU with any already kept box exceeds
// iouThreshold. maxDetections > 0 caps the result; 0 or less keeps all
// survivors. The input slice is not modified.
func Suppress(detections []models.Detection, iouThreshold float64, maxDetections int) []models.Detection {
	kept := make([]models.Detection, 0, len(detections))
	for _, d := range SortByConfidence(detections) {
		if overlapsAny(d, kept, iouThreshold) {
			continue
		}
		kept = append(kept, d)
		if maxDetections > 0 && len(kept) >= maxDetections {
			break
		}
	}
	return kept
}

// SuppressByClass partitions detections by class, suppresses each partition
// on its own and merges the survivors back in confidence order. The cap
// applies to the merged result.
func SuppressByClass(detections []models.Detection, iouThreshold float64, maxDetections int) []models.Detection {
	byClass := make(map[int][]models.Detection)
	var order []int
	for _, d := range detections {
		if _, ok := byClass[d.ClassID]; !ok {
			order = append(order, d.ClassID)
		}
		byClass[d.ClassID] = append(byClass[d.ClassID], d)
	}

	merged := make([]models.Detection, 0, len(detections))
	for _, classID := range order {
		merged = append(merged, Suppress(byClass[classID], iouThreshold, 0)...)
	}

	merged = SortByConfidence(merged)
	if maxDetections > 0 && len(merged) > maxDetections {
		merged = merged[:maxDetections]
	}
	return merged
}

func overlapsAny(d models.Detection, kept []models.Detection, iouThreshold float64) bool {
	for _, k := range kept {
		if IoU(d, k) > iouThreshold {
			return true
		}
	}
	return false
}
