package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// Head is a dense ReLU layer followed by a softmax output layer.
// Weights are row-major: W1 is Hidden×InputDim, W2 is Classes×Hidden.
type Head struct {
	InputDim int       `json:"input_dim"`
	Hidden   int       `json:"hidden"`
	Classes  int       `json:"classes"`
	W1       []float64 `json:"w1"`
	B1       []float64 `json:"b1"`
	W2       []float64 `json:"w2"`
	B2       []float64 `json:"b2"`
}

// NewHead allocates zeroed weights.
func NewHead(inputDim, hidden, classes int) *Head {
	return &Head{
		InputDim: inputDim,
		Hidden:   hidden,
		Classes:  classes,
		W1:       make([]float64, hidden*inputDim),
		B1:       make([]float64, hidden),
		W2:       make([]float64, classes*hidden),
		B2:       make([]float64, classes),
	}
}

func (h *Head) Validate() error {
	switch {
	case h.InputDim <= 0 || h.Hidden <= 0 || h.Classes <= 0:
		return fmt.Errorf("head has empty dimensions %dx%dx%d", h.InputDim, h.Hidden, h.Classes)
	case len(h.W1) != h.Hidden*h.InputDim || len(h.B1) != h.Hidden:
		return fmt.Errorf("hidden layer weights do not match %dx%d", h.Hidden, h.InputDim)
	case len(h.W2) != h.Classes*h.Hidden || len(h.B2) != h.Classes:
		return fmt.Errorf("output layer weights do not match %dx%d", h.Classes, h.Hidden)
	}
	return nil
}

// Params returns the weight slices in the order W1, B1, W2, B2. They alias
// the head's storage.
func (h *Head) Params() [][]float64 {
	return [][]float64{h.W1, h.B1, h.W2, h.B2}
}

// Activations returns the hidden ReLU activations and output probabilities.
func (h *Head) Activations(x []float64) (hidden, probs []float64) {
	hidden = make([]float64, h.Hidden)
	for j := 0; j < h.Hidden; j++ {
		sum := h.B1[j]
		row := h.W1[j*h.InputDim : (j+1)*h.InputDim]
		for i, v := range x {
			sum += row[i] * v
		}
		if sum > 0 {
			hidden[j] = sum
		}
	}

	logits := make([]float64, h.Classes)
	for k := 0; k < h.Classes; k++ {
		sum := h.B2[k]
		row := h.W2[k*h.Hidden : (k+1)*h.Hidden]
		for j, v := range hidden {
			sum += row[j] * v
		}
		logits[k] = sum
	}
	return hidden, Softmax(logits)
}

// Softmax is numerically stabilized by subtracting the max logit.
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	peak := logits[0]
	for _, v := range logits[1:] {
		peak = math.Max(peak, v)
	}
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - peak)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// HeadBundle is the artifact written by the training tool: a frozen ONNX
// backbone plus the trained head.
type HeadBundle struct {
	Backbone       string    `json:"backbone"`
	BackboneInput  string    `json:"backbone_input"`
	BackboneOutput string    `json:"backbone_output"`
	InputLayout    Layout    `json:"input_layout"`
	ImageSize      int       `json:"image_size"`
	ClassNames     []string  `json:"class_names"`
	Head           *Head     `json:"head"`
	TrainedAt      time.Time `json:"trained_at"`

	dir string
}

func ReadHeadBundle(path string) (*HeadBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read head bundle: %w", err)
	}
	var b HeadBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse head bundle: %w", err)
	}
	if b.Head == nil {
		return nil, fmt.Errorf("head bundle %s has no head", path)
	}
	if err := b.Head.Validate(); err != nil {
		return nil, err
	}
	b.dir = filepath.Dir(path)
	return &b, nil
}

func (b *HeadBundle) Write(path string) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create model dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// BackbonePath resolves a relative backbone path against the bundle's directory.
func (b *HeadBundle) BackbonePath() string {
	if filepath.IsAbs(b.Backbone) || b.dir == "" {
		return b.Backbone
	}
	return filepath.Join(b.dir, b.Backbone)
}

// Open loads the backbone and returns a Classifier combining it with the head.
func (b *HeadBundle) Open() (Classifier, error) {
	size := b.ImageSize
	if size <= 0 {
		size = DefaultImageSize
	}
	layout := b.InputLayout
	if layout == "" {
		layout = LayoutNHWC
	}
	backbone, err := NewONNXRunner(b.BackbonePath(), b.BackboneInput, b.BackboneOutput, InputShape(size, layout))
	if err != nil {
		return nil, fmt.Errorf("failed to open backbone: %w", err)
	}
	return NewHeadClassifier(backbone, b.Head)
}

type headClassifier struct {
	backbone Classifier
	head     *Head
}

// NewHeadClassifier feeds the backbone's features through head.
func NewHeadClassifier(backbone Classifier, head *Head) (Classifier, error) {
	if backbone.OutputWidth() != head.InputDim {
		backbone.Close()
		return nil, fmt.Errorf("backbone yields %d features, head expects %d", backbone.OutputWidth(), head.InputDim)
	}
	return &headClassifier{backbone: backbone, head: head}, nil
}

func (c *headClassifier) Run(input []float32) ([]float32, error) {
	features, err := c.backbone.Run(input)
	if err != nil {
		return nil, err
	}
	x := make([]float64, len(features))
	for i, v := range features {
		x[i] = float64(v)
	}
	_, probs := c.head.Activations(x)

	out := make([]float32, len(probs))
	for i, p := range probs {
		out[i] = float32(p)
	}
	return out, nil
}

func (c *headClassifier) OutputWidth() int { return c.head.Classes }

func (c *headClassifier) Close() { c.backbone.Close() }
