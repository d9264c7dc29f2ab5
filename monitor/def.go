package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/Angelo-oinv/imx415-detector/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var (
	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_megabytes",
		Help: "Resident memory in megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "Process CPU usage in percent",
	})
	framesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "detector_frames_total",
		Help: "Frames processed, including ones that produced error records",
	})
	frameErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "detector_frame_errors_total",
		Help: "Frames that produced error records",
	})
	detectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "detector_detections_total",
		Help: "Detections emitted across all frames",
	})
	inferenceSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "detector_inference_seconds",
		Help:    "Duration of a single forward pass",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})
)

// FrameProcessed records one completed frame and its detection count.
func FrameProcessed(detections int) {
	framesTotal.Inc()
	detectionsTotal.Add(float64(detections))
}

// FrameFailed records one frame that came back as an error record.
func FrameFailed() {
	framesTotal.Inc()
	frameErrorsTotal.Inc()
}

// ObserveInference records the duration of one forward pass.
func ObserveInference(d time.Duration) {
	inferenceSeconds.Observe(d.Seconds())
}

// StartMon serves /metrics on the given port and samples process memory
// and CPU twice a second until ctx is cancelled. It blocks, so run it in
// its own goroutine.
func StartMon(ctx context.Context, port int) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(memUsage, cpuUsage, framesTotal, frameErrorsTotal, detectionsTotal, inferenceSeconds)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("metrics server", zap.Error(err))
		}
	}()

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Log().Warn("process handle unavailable", zap.Error(err))
		proc = nil
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Log().Error("metrics server shutdown", zap.Error(err))
			}
			return
		case <-ticker.C:
			sampleProcess(proc)
		}
	}
}

func sampleProcess(proc *process.Process) {
	if proc == nil {
		return
	}
	if memInfo, err := proc.MemoryInfo(); err == nil {
		memUsage.Set(float64(memInfo.RSS) / 1024 / 1024)
	}
	if cpuPercent, err := proc.CPUPercent(); err == nil {
		cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}
