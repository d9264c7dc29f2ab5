package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/Angelo-oinv/imx415-detector/detections"
	"github.com/Angelo-oinv/imx415-detector/inference"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration, read from an optional YAML file
// with flag overrides applied on top.
type Config struct {
	ModelPath      string   `yaml:"modelPath"`
	LabelsPath     string   `yaml:"labelsPath"`
	OnnxRuntimeLib string   `yaml:"onnxruntimeLib"`
	InputName      string   `yaml:"inputName"`
	OutputNames    []string `yaml:"outputNames"`

	ConfThreshold float32 `yaml:"confThreshold"`
	NMSThreshold  float32 `yaml:"nmsThreshold"`

	// InferTimeoutMs bounds one forward pass; zero disables the bound.
	InferTimeoutMs int `yaml:"inferTimeoutMs"`

	// HTTPAddr switches the process into HTTP mode when non-empty.
	// Empty means the stdin/stdout frame loop.
	HTTPAddr string `yaml:"httpAddr"`
	PoolSize int    `yaml:"poolSize"`

	// MonitorPort serves Prometheus metrics when nonzero.
	MonitorPort int `yaml:"monitorPort"`
}

func DefaultConfig() Config {
	return Config{
		ModelPath:      "models/yolov5s-640-640.onnx",
		LabelsPath:     "models/coco_80_labels_list.txt",
		InputName:      "images",
		OutputNames:    []string{"output0", "output1", "output2"},
		ConfThreshold:  0.25,
		NMSThreshold:   0.45,
		InferTimeoutMs: 10000,
		PoolSize:       2,
	}
}

// LoadConfig overlays the YAML file at path onto the defaults. A missing
// file is fine unless the path was explicitly requested.
func LoadConfig(path string, explicit bool) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg.normalized(), nil
		}
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg.normalized(), nil
}

func (c Config) normalized() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultConfig().PoolSize
	}
	if c.PoolSize > runtime.NumCPU() {
		c.PoolSize = runtime.NumCPU()
	}
	if c.InferTimeoutMs < 0 {
		c.InferTimeoutMs = 0
	}
	return c
}

// Params returns the decode and suppression parameters for this config.
// Zero thresholds fall back to the stock COCO values.
func (c Config) Params() detections.Params {
	p := detections.COCOParams()
	if c.ConfThreshold > 0 {
		p.ConfThreshold = c.ConfThreshold
	}
	if c.NMSThreshold > 0 {
		p.NMSThreshold = c.NMSThreshold
	}
	return p
}

// EngineConfig shapes the onnxruntime session settings.
func (c Config) EngineConfig() inference.Config {
	return inference.Config{
		ModelPath:      c.ModelPath,
		InputName:      c.InputName,
		OutputNames:    c.OutputNames,
		IntraOpThreads: runtime.NumCPU(),
		InterOpThreads: runtime.NumCPU(),
		Timeout:        time.Duration(c.InferTimeoutMs) * time.Millisecond,
	}
}

// InferTimeout returns the configured bound as a duration.
func (c Config) InferTimeout() time.Duration {
	return time.Duration(c.InferTimeoutMs) * time.Millisecond
}
