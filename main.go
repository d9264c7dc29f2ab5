package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Angelo-oinv/imx415-detector/detections"
	"github.com/Angelo-oinv/imx415-detector/inference"
	"github.com/Angelo-oinv/imx415-detector/logger"
	"github.com/Angelo-oinv/imx415-detector/models"
	"github.com/Angelo-oinv/imx415-detector/monitor"

	"go.uber.org/zap"
)

var debugMode bool

func init() {
	debugMode = os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1"
}

func logTimings(t *models.Timings) {
	logger.Log().Debug("frame timings",
		zap.String("request_id", t.RequestID),
		zap.Duration("image_decode", t.ImageDecode),
		zap.Duration("resize", t.Resize),
		zap.Duration("preprocess", t.Preprocess),
		zap.Duration("inference", t.Inference),
		zap.Duration("postprocess", t.Postprocess),
		zap.Duration("suppress", t.Suppress),
		zap.Duration("total", t.Total))
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	httpAddr := flag.String("http", "", "serve HTTP on this address instead of the stdin/stdout frame loop")
	monitorPort := flag.Int("monitor", 0, "serve Prometheus metrics on this port")
	flag.Parse()

	var err error
	if debugMode {
		err = logger.InitDevelopment()
	} else {
		err = logger.InitProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	cfg, err := LoadConfig(*configPath, explicit)
	if err != nil {
		logger.Log().Fatal("load config", zap.Error(err))
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *monitorPort > 0 {
		cfg.MonitorPort = *monitorPort
	}

	if err := run(cfg); err != nil {
		logger.Log().Fatal("detector exited", zap.Error(err))
	}
}

func run(cfg Config) error {
	libPath := inference.ResolveLibraryPath(cfg.OnnxRuntimeLib)
	if err := inference.InitRuntime(libPath); err != nil {
		return err
	}
	defer func() {
		if err := inference.ShutdownRuntime(); err != nil {
			logger.Log().Warn("shutdown onnxruntime", zap.Error(err))
		}
	}()

	labels, err := detections.LoadLabels(cfg.LabelsPath)
	if err != nil {
		return err
	}
	logger.S().Infow("labels loaded",
		"count", len(labels),
		"path", cfg.LabelsPath)

	det := detections.NewDetector(labels, cfg.Params())

	if cfg.HTTPAddr != "" {
		return runHTTPMode(cfg, det)
	}
	return runWorkerMode(cfg, det)
}

// runWorkerMode serves frames over stdin and stdout. Signals are left at
// their default disposition: the parent ends the worker by closing its
// stdin, and a kill must not leave the loop half-alive.
func runWorkerMode(cfg Config, det *detections.Detector) error {
	if cfg.MonitorPort > 0 {
		go monitor.StartMon(context.Background(), cfg.MonitorPort)
	}

	eng, err := inference.NewORTEngine(cfg.EngineConfig(), cfg.Params())
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer eng.Close()

	if err := eng.Warmup(); err != nil {
		return fmt.Errorf("warmup: %w", err)
	}
	logger.S().Infow("detector ready",
		"model", cfg.ModelPath,
		"infer_timeout", cfg.InferTimeout())

	return runWorker(os.Stdin, os.Stdout, det, eng)
}

// runHTTPMode serves the detection API with a pool of engines and drains
// gracefully on SIGINT or SIGTERM.
func runHTTPMode(cfg Config, det *detections.Detector) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MonitorPort > 0 {
		go monitor.StartMon(ctx, cfg.MonitorPort)
	}

	pool, err := NewEnginePool(cfg.PoolSize, func() (PoolEngine, error) {
		eng, err := inference.NewORTEngine(cfg.EngineConfig(), cfg.Params())
		if err != nil {
			return nil, err
		}
		if err := eng.Warmup(); err != nil {
			eng.Close()
			return nil, err
		}
		return eng, nil
	})
	if err != nil {
		return fmt.Errorf("create engine pool: %w", err)
	}
	defer pool.Close()

	state := &AppState{Detector: det, Pool: pool}
	return runServer(ctx, cfg.HTTPAddr, state)
}
