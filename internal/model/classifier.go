package model

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Classifier maps a preprocessed image to one score per class.
type Classifier interface {
	Run(input []float32) ([]float32, error)
	OutputWidth() int
	Close()
}

// Opener loads a Classifier from a model artifact.
type Opener func(path string, opts Options) (Classifier, error)

// OpenArtifact picks the loader by file extension: a full ONNX classifier,
// or a head bundle written by the training tool.
func OpenArtifact(path string, opts Options) (Classifier, error) {
	opts = opts.withDefaults()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".onnx":
		return NewONNXRunner(path, opts.InputName, opts.OutputName, InputShape(opts.ImageSize, opts.Layout))
	case ".json":
		bundle, err := ReadHeadBundle(path)
		if err != nil {
			return nil, err
		}
		return bundle.Open()
	default:
		return nil, fmt.Errorf("unsupported model file %q", filepath.Base(path))
	}
}

func argmax(values []float32) (int, float32) {
	if len(values) == 0 {
		return -1, 0
	}
	idx, best := 0, values[0]
	for i, v := range values[1:] {
		if v > best {
			idx, best = i+1, v
		}
	}
	return idx, best
}
