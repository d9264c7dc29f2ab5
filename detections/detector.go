package detections

import (
	"fmt"
	"time"

	"github.com/Angelo-oinv/imx415-detector/logger"
	"github.com/Angelo-oinv/imx415-detector/models"

	"go.uber.org/zap"
)

// Engine runs one forward pass over a planar [1,3,InputSize,InputSize]
// tensor and returns the raw head outputs in stride order.
type Engine interface {
	Infer(input []float32) ([][]float32, error)
}

// Detector runs the full single-frame pipeline: image decode, stretch,
// tensor fill, inference, head decode, suppression, formatting. One
// Detector is safe for concurrent use; the engine handed to Detect
// serializes its own passes.
type Detector struct {
	labels []string
	params Params
	prep   *Preprocessor
}

func NewDetector(labels []string, params Params) *Detector {
	return &Detector{
		labels: labels,
		params: params,
		prep:   NewPreprocessor(),
	}
}

// Detect processes one encoded frame. It always returns a usable result
// record: stage failures and panics come back as an error record plus the
// underlying error, never as a nil result.
func (d *Detector) Detect(eng Engine, data []byte, timings *models.Timings) (result *models.Result, err error) {
	if timings == nil {
		timings = &models.Timings{}
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detection panic: %v", r)
			result = models.ErrorResult(err)
		}
	}()

	decodeStart := time.Now()
	img, format, err := DecodeImage(data)
	timings.ImageDecode = time.Since(decodeStart)
	if err != nil {
		return models.ErrorResult(err), err
	}

	bounds := img.Bounds()
	origWidth, origHeight := bounds.Dx(), bounds.Dy()
	logger.Log().Debug("frame decoded",
		zap.String("format", format),
		zap.Int("width", origWidth),
		zap.Int("height", origHeight))

	resizeStart := time.Now()
	resized := Stretch(img)
	timings.Resize = time.Since(resizeStart)

	prepStart := time.Now()
	tensor := d.prep.Fill(resized)
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	outputs, err := eng.Infer(tensor)
	timings.Inference = time.Since(inferStart)
	d.prep.Recycle(tensor)
	if err != nil {
		err = fmt.Errorf("inference: %w", err)
		return models.ErrorResult(err), err
	}

	postStart := time.Now()
	candidates, err := d.params.Decode(outputs, origWidth, origHeight)
	timings.Postprocess = time.Since(postStart)
	if err != nil {
		err = fmt.Errorf("decode outputs: %w", err)
		return models.ErrorResult(err), err
	}

	suppressStart := time.Now()
	kept := Suppress(candidates, d.params.NMSThreshold)
	timings.Suppress = time.Since(suppressStart)

	detections := Format(kept, d.labels, origWidth, origHeight)
	logger.Log().Debug("frame processed",
		zap.Int("raw", len(candidates)),
		zap.Int("kept", len(detections)))

	return &models.Result{
		Width:      origWidth,
		Height:     origHeight,
		Detections: detections,
	}, nil
}
