package inference

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Angelo-oinv/imx415-detector/detections"

	ort "github.com/yalue/onnxruntime_go"
)

// ErrTimeout reports that a forward pass missed its deadline. The native
// call may still be running, so an engine that has returned it stays
// unusable and reports it for every later call.
var ErrTimeout = errors.New("inference timed out")

// ErrClosed reports an Infer call on a closed engine.
var ErrClosed = errors.New("inference engine closed")

// Config describes one onnxruntime session.
type Config struct {
	ModelPath      string
	InputName      string
	OutputNames    []string
	IntraOpThreads int
	InterOpThreads int
	// Timeout bounds a single forward pass; zero means no bound.
	Timeout time.Duration
}

// ORTEngine wraps an onnxruntime session with pre-bound input and output
// tensors. A mutex serializes passes, so one engine serves one frame at a
// time; use several engines for parallelism.
type ORTEngine struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
	timeout time.Duration

	mu     sync.Mutex
	wedged bool
	closed bool
}

// NewORTEngine loads the model at cfg.ModelPath and binds one input and
// three output tensors shaped by p. InitRuntime must have succeeded first.
func NewORTEngine(cfg Config, p detections.Params) (*ORTEngine, error) {
	if len(cfg.OutputNames) != detections.NumScales {
		return nil, fmt.Errorf("expected %d output names, got %d", detections.NumScales, len(cfg.OutputNames))
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	if cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("set intra-op threads: %w", err)
		}
	}
	if cfg.InterOpThreads > 0 {
		if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
			return nil, fmt.Errorf("set inter-op threads: %w", err)
		}
	}

	inputShape := ort.NewShape(1, 3, detections.InputSize, detections.InputSize)
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputs := make([]*ort.Tensor[float32], detections.NumScales)
	destroyTensors := func() {
		inputTensor.Destroy()
		for _, t := range outputs {
			if t != nil {
				t.Destroy()
			}
		}
	}
	for s := 0; s < detections.NumScales; s++ {
		g := int64(p.GridSize(s))
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(p.HeadChannels()), g, g))
		if err != nil {
			destroyTensors()
			return nil, fmt.Errorf("create output tensor for stride %d: %w", p.Strides[s], err)
		}
		outputs[s] = t
	}

	outputTensors := make([]ort.ArbitraryTensor, len(outputs))
	for i, t := range outputs {
		outputTensors[i] = t
	}
	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		cfg.OutputNames,
		[]ort.ArbitraryTensor{inputTensor},
		outputTensors,
		options,
	)
	if err != nil {
		destroyTensors()
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &ORTEngine{
		session: session,
		input:   inputTensor,
		outputs: outputs,
		timeout: cfg.Timeout,
	}, nil
}

// Infer copies input into the bound tensor, runs one pass and returns the
// head outputs in stride order. The returned slices alias the session's
// output tensors and stay valid until the next call on this engine.
func (e *ORTEngine) Infer(input []float32) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.closed:
		return nil, ErrClosed
	case e.wedged:
		return nil, ErrTimeout
	}

	data := e.input.GetData()
	if len(input) != len(data) {
		return nil, fmt.Errorf("unexpected input length: got %d, want %d", len(input), len(data))
	}
	copy(data, input)

	runErr := make(chan error, 1)
	go func() { runErr <- e.session.Run() }()

	if e.timeout > 0 {
		timer := time.NewTimer(e.timeout)
		defer timer.Stop()
		select {
		case err := <-runErr:
			if err != nil {
				return nil, fmt.Errorf("session run: %w", err)
			}
		case <-timer.C:
			e.wedged = true
			return nil, ErrTimeout
		}
	} else if err := <-runErr; err != nil {
		return nil, fmt.Errorf("session run: %w", err)
	}

	outputs := make([][]float32, len(e.outputs))
	for i, t := range e.outputs {
		outputs[i] = t.GetData()
	}
	return outputs, nil
}

// Warmup runs one all-zero pass so graph optimization and allocator growth
// happen before the first real frame.
func (e *ORTEngine) Warmup() error {
	_, err := e.Infer(make([]float32, 3*detections.InputSize*detections.InputSize))
	return err
}

// Healthy reports whether the engine can still serve passes.
func (e *ORTEngine) Healthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed && !e.wedged
}

// Close destroys the session and its tensors. A wedged session is leaked
// instead, since the native call may still hold it.
func (e *ORTEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.wedged {
		return nil
	}

	var first error
	if err := e.session.Destroy(); err != nil {
		first = err
	}
	if err := e.input.Destroy(); err != nil && first == nil {
		first = err
	}
	for _, t := range e.outputs {
		if err := t.Destroy(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
