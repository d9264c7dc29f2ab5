package detections

import (
	"math"

	"github.com/Angelo-oinv/imx415-detector/models"
)

// Format turns suppression survivors into wire-ready records: class ids
// become labels, confidences round to three decimals, and corners clip to
// the original frame. Boxes that clip down to zero area are kept. The
// returned slice is never nil.
func Format(kept []Candidate, labels []string, origWidth, origHeight int) []models.Detection {
	out := make([]models.Detection, 0, len(kept))
	for _, c := range kept {
		out = append(out, models.Detection{
			Class:      Label(labels, c.ClassID),
			Confidence: math.Round(float64(c.Score)*1000) / 1000,
			BBox: models.BBox{
				X1: clip(c.Box[0], origWidth),
				Y1: clip(c.Box[1], origHeight),
				X2: clip(c.Box[2], origWidth),
				Y2: clip(c.Box[3], origHeight),
			},
		})
	}
	return out
}

// clip bounds v to [0, limit] and truncates to int. The inverted first
// comparison routes NaN to 0; int(NaN) is implementation-defined.
func clip(v float32, limit int) int {
	if !(v > 0) {
		return 0
	}
	if v > float32(limit) {
		return limit
	}
	return int(v)
}
