package detections

const (
	// InputSize is the fixed model input resolution (640x640).
	InputSize = 640

	// NumClasses is the number of object classes the model was trained on.
	NumClasses = 80

	// NumAnchors is the anchor count per detection head.
	NumAnchors = 3

	// NumScales is the number of detection heads (feature-pyramid levels).
	NumScales = 3

	// boxAttrs is the per-anchor attribute count: cx, cy, w, h, objectness,
	// then one score per class.
	boxAttrs = 5 + NumClasses

	// decodedCutoff separates grid-relative raw values from predictions the
	// export already decoded to input-resolution pixels. Grid-relative
	// outputs sit well below this; pixel-space centers almost never do.
	// Heuristic: a small legitimate center near the image origin could in
	// principle be misread, so both branches stay covered by tests.
	decodedCutoff = 10
)

// Params holds the thresholds and per-scale geometry used by the decode and
// suppression stages.
type Params struct {
	// ConfThreshold is the minimum objectness and the minimum
	// objectness*class score for a candidate to survive decoding.
	ConfThreshold float32
	// NMSThreshold is the IoU at or above which a lower-scoring box is
	// suppressed.
	NMSThreshold float32
	// Strides are the downsampling factors of the three heads, smallest
	// first.
	Strides [NumScales]int
	// Anchors are the per-head anchor boxes as (width, height) pairs in
	// input-resolution pixels.
	Anchors [NumScales][NumAnchors][2]float32
}

// COCOParams returns the parameters for the stock YOLOv5s 640x640 COCO
// export: confidence 0.25, NMS 0.45, strides 8/16/32 with the matching
// anchor set.
func COCOParams() Params {
	return Params{
		ConfThreshold: 0.25,
		NMSThreshold:  0.45,
		Strides:       [NumScales]int{8, 16, 32},
		Anchors: [NumScales][NumAnchors][2]float32{
			{{10, 13}, {16, 30}, {33, 23}},      // P3/8
			{{30, 61}, {62, 45}, {59, 119}},     // P4/16
			{{116, 90}, {156, 198}, {373, 326}}, // P5/32
		},
	}
}

// GridSize returns the grid edge length for scale index s.
func (p Params) GridSize(s int) int {
	return InputSize / p.Strides[s]
}

// OutputLen returns the expected flat length of the raw output tensor for
// scale index s: 3 anchors x 85 attributes x grid cells.
func (p Params) OutputLen(s int) int {
	g := p.GridSize(s)
	return NumAnchors * boxAttrs * g * g
}

// HeadChannels returns the channel dimension of each head tensor, anchors
// times per-anchor attributes.
func (p Params) HeadChannels() int {
	return NumAnchors * boxAttrs
}
