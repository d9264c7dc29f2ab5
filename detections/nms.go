package detections

import "sort"

// Suppress applies greedy non-maximum suppression across all classes at
// once. Candidates are ranked by score with a stable sort, so equal
// scores keep decode order and repeated runs pick the same winners.
// Survivors come back in acceptance order. Running Suppress over its own
// output returns it unchanged.
func Suppress(candidates []Candidate, threshold float32) []Candidate {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	kept := make([]Candidate, 0, len(ranked))
	dropped := make([]bool, len(ranked))
	for i := range ranked {
		if dropped[i] {
			continue
		}
		kept = append(kept, ranked[i])
		for j := i + 1; j < len(ranked); j++ {
			if dropped[j] {
				continue
			}
			if iou(ranked[i].Box, ranked[j].Box) >= threshold {
				dropped[j] = true
			}
		}
	}
	return kept
}

// iou is intersection area over union area. The epsilon keeps zero-area
// boxes from dividing by zero.
func iou(a, b [4]float32) float32 {
	interW := min(a[2], b[2]) - max(a[0], b[0])
	interH := min(a[3], b[3]) - max(a[1], b[1])
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH
	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	return inter / (areaA + areaB - inter + 1e-6)
}
