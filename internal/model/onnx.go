package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var runtimeMu sync.Mutex

// InitRuntime initializes the onnxruntime environment once per process.
func InitRuntime(libPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// ShutdownRuntime releases the onnxruntime environment.
func ShutdownRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// ONNXRunner runs one ONNX graph with a single float32 input and output.
// Its tensors are reused between runs, so Run is serialized.
type ONNXRunner struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	outputWidth  int
}

// NewONNXRunner opens path with a fixed input shape. The output shape is read
// from the graph, with dynamic dimensions pinned to one.
func NewONNXRunner(path, inputName, outputName string, inputShape []int64) (*ONNXRunner, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model %s: %w", path, err)
	}

	in, err := findInfo(inputs, inputName)
	if err != nil {
		return nil, fmt.Errorf("model input: %w", err)
	}
	if err := checkShape(in.Dimensions, inputShape); err != nil {
		return nil, fmt.Errorf("model input %q: %w", in.Name, err)
	}

	out, err := findInfo(outputs, outputName)
	if err != nil {
		return nil, fmt.Errorf("model output: %w", err)
	}
	outputShape := make([]int64, len(out.Dimensions))
	for i, d := range out.Dimensions {
		if d <= 0 {
			d = 1
		}
		outputShape[i] = d
	}
	if len(outputShape) == 0 {
		return nil, fmt.Errorf("model output %q has no dimensions", out.Name)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(inputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(outputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{in.Name}, []string{out.Name},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXRunner{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		outputWidth:  int(outputShape[len(outputShape)-1]),
	}, nil
}

func (r *ONNXRunner) Run(input []float32) ([]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dst := r.inputTensor.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("expected %d input values, got %d", len(dst), len(input))
	}
	copy(dst, input)

	if err := r.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := r.outputTensor.GetData()
	result := make([]float32, len(out))
	copy(result, out)
	return result, nil
}

func (r *ONNXRunner) OutputWidth() int { return r.outputWidth }

func (r *ONNXRunner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inputTensor != nil {
		r.inputTensor.Destroy()
		r.inputTensor = nil
	}
	if r.outputTensor != nil {
		r.outputTensor.Destroy()
		r.outputTensor = nil
	}
	if r.session != nil {
		r.session.Destroy()
		r.session = nil
	}
}

func findInfo(infos []ort.InputOutputInfo, name string) (ort.InputOutputInfo, error) {
	if len(infos) == 0 {
		return ort.InputOutputInfo{}, fmt.Errorf("graph declares none")
	}
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}
	if len(infos) == 1 {
		return infos[0], nil
	}
	return ort.InputOutputInfo{}, fmt.Errorf("no tensor named %q", name)
}

func checkShape(declared ort.Shape, want []int64) error {
	if len(declared) != len(want) {
		return fmt.Errorf("rank %d, want %v", len(declared), want)
	}
	for i, d := range declared {
		if d > 0 && d != want[i] {
			return fmt.Errorf("shape %v, want %v", declared, want)
		}
	}
	return nil
}
