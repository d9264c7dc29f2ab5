package models

import "time"

// BBox is a detection box in original-image pixel coordinates, clipped to the
// image bounds.
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Detection is one labeled box as it appears on the wire.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	BBox       `json:"bbox"`
}

// Result is the one record emitted per frame. Success records carry
// width/height and omit error; failure records carry error and omit
// width/height. Detections is always present, never null.
type Result struct {
	Width      int         `json:"width,omitempty"`
	Height     int         `json:"height,omitempty"`
	Error      string      `json:"error,omitempty"`
	Detections []Detection `json:"detections"`
}

// ErrorResult builds the failure record for a frame.
func ErrorResult(err error) *Result {
	return &Result{
		Error:      err.Error(),
		Detections: []Detection{},
	}
}

// Timings records per-stage wall time for one frame, logged at debug level.
type Timings struct {
	RequestID   string
	ImageDecode time.Duration
	Resize      time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Suppress    time.Duration
	Total       time.Duration
}
