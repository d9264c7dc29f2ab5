package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Angelo-oinv/imx415-detector/detections"
	"github.com/Angelo-oinv/imx415-detector/inference"
	"github.com/Angelo-oinv/imx415-detector/logger"
	"github.com/Angelo-oinv/imx415-detector/models"
	"github.com/Angelo-oinv/imx415-detector/monitor"
	"github.com/Angelo-oinv/imx415-detector/protocol"

	"go.uber.org/zap"
)

// runWorker serves the stdin/stdout frame loop until the stream ends or
// the engine becomes unusable. Frames are processed strictly one at a
// time, in arrival order.
func runWorker(in io.Reader, out io.Writer, det *detections.Detector, eng detections.Engine) error {
	frame := 0
	return protocol.Run(in, out, func(payload []byte) (*models.Result, error) {
		frame++
		start := time.Now()
		timings := &models.Timings{RequestID: fmt.Sprintf("frame-%d", frame)}

		record, err := det.Detect(eng, payload, timings)
		timings.Total = time.Since(start)
		logTimings(timings)
		if timings.Inference > 0 {
			monitor.ObserveInference(timings.Inference)
		}

		if err != nil {
			monitor.FrameFailed()
			logger.Log().Warn("frame failed",
				zap.Int("frame", frame),
				zap.Error(err))
			if errors.Is(err, inference.ErrTimeout) {
				// The session is wedged; emit the record, then stop.
				return record, err
			}
			return record, nil
		}

		monitor.FrameProcessed(len(record.Detections))
		return record, nil
	})
}
