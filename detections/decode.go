package detections

import (
	"fmt"
	"math"
	"sync"
)

// Candidate is a box that cleared both confidence gates but has not been
// through overlap suppression yet. Corners are original-image pixels.
type Candidate struct {
	Box     [4]float32 // x1, y1, x2, y2
	Score   float32
	ClassID int
}

// Decode walks the three detection heads and emits every candidate whose
// objectness and combined score both reach the confidence threshold.
// Each head is a flat [3][5+classes][grid][grid] plane stack; cells are
// visited anchor-major, then row-major, and the per-head slices are
// concatenated in stride order so the result is deterministic even though
// the heads decode concurrently.
func (p Params) Decode(outputs [][]float32, origWidth, origHeight int) ([]Candidate, error) {
	if len(outputs) != NumScales {
		return nil, fmt.Errorf("unexpected output count: got %d, want %d", len(outputs), NumScales)
	}
	for s, out := range outputs {
		if len(out) != p.OutputLen(s) {
			return nil, fmt.Errorf("unexpected output length at stride %d: got %d, want %d",
				p.Strides[s], len(out), p.OutputLen(s))
		}
	}

	scaleX := float32(origWidth) / InputSize
	scaleY := float32(origHeight) / InputSize

	perScale := make([][]Candidate, NumScales)
	var wg sync.WaitGroup
	for s := 0; s < NumScales; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			perScale[s] = p.decodeScale(s, outputs[s], scaleX, scaleY)
		}(s)
	}
	wg.Wait()

	total := 0
	for _, cs := range perScale {
		total += len(cs)
	}
	candidates := make([]Candidate, 0, total)
	for _, cs := range perScale {
		candidates = append(candidates, cs...)
	}
	return candidates, nil
}

func (p Params) decodeScale(scale int, out []float32, scaleX, scaleY float32) []Candidate {
	stride := float32(p.Strides[scale])
	grid := p.GridSize(scale)
	plane := grid * grid

	var candidates []Candidate
	for a := 0; a < NumAnchors; a++ {
		anchorW := p.Anchors[scale][a][0]
		anchorH := p.Anchors[scale][a][1]
		base := a * boxAttrs * plane

		for gy := 0; gy < grid; gy++ {
			for gx := 0; gx < grid; gx++ {
				cell := gy*grid + gx

				obj := out[base+4*plane+cell]
				if obj < p.ConfThreshold {
					continue
				}

				// Argmax over class planes; ties keep the lowest id.
				classID := 0
				classScore := out[base+5*plane+cell]
				for c := 1; c < NumClasses; c++ {
					if s := out[base+(5+c)*plane+cell]; s > classScore {
						classScore = s
						classID = c
					}
				}

				// NaN compares false against every threshold, so a
				// glitched logit needs an explicit finiteness gate.
				score := obj * classScore
				if score < p.ConfThreshold || !finite(score) {
					continue
				}

				bx := out[base+cell]
				by := out[base+plane+cell]
				bw := out[base+2*plane+cell]
				bh := out[base+3*plane+cell]

				var cx, cy, w, h float32
				if bx < decodedCutoff && by < decodedCutoff {
					// Sigmoid offsets relative to the cell and anchor.
					cx = (bx*2 - 0.5 + float32(gx)) * stride
					cy = (by*2 - 0.5 + float32(gy)) * stride
					w = (bw * 2) * (bw * 2) * anchorW
					h = (bh * 2) * (bh * 2) * anchorH
				} else {
					// Exports with the grid baked in emit absolute pixels.
					cx, cy, w, h = bx, by, bw, bh
				}

				candidates = append(candidates, Candidate{
					Box: [4]float32{
						(cx - w/2) * scaleX,
						(cy - h/2) * scaleY,
						(cx + w/2) * scaleX,
						(cy + h/2) * scaleY,
					},
					Score:   score,
					ClassID: classID,
				})
			}
		}
	}
	return candidates
}

// finite reports whether v is neither NaN nor an infinity.
func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
