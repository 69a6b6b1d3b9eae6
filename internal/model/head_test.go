package model

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedFeatures returns the same feature vector for every input.
type fixedFeatures struct {
	features []float32
	closed   bool
}

func (f *fixedFeatures) Run([]float32) ([]float32, error) { return f.features, nil }
func (f *fixedFeatures) OutputWidth() int                 { return len(f.features) }
func (f *fixedFeatures) Close()                           { f.closed = true }

func TestHeadClassifierPicksStrongestClass(t *testing.T) {
	head := NewHead(2, 2, 3)
	// hidden = relu(identity(x))
	head.W1 = []float64{1, 0, 0, 1}
	// class 2 reads hidden[1]
	head.W2 = []float64{0, 0, 1, 0, 0, 5}
	require.NoError(t, head.Validate())

	clf, err := NewHeadClassifier(&fixedFeatures{features: []float32{0.1, 2}}, head)
	require.NoError(t, err)
	assert.Equal(t, 3, clf.OutputWidth())

	probs, err := clf.Run(nil)
	require.NoError(t, err)
	idx, _ := argmax(probs)
	assert.Equal(t, 2, idx)

	var sum float32
	for _, p := range probs {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestHeadClassifierRejectsFeatureMismatch(t *testing.T) {
	backbone := &fixedFeatures{features: []float32{1, 2, 3}}
	_, err := NewHeadClassifier(backbone, NewHead(2, 4, 2))
	assert.Error(t, err)
	assert.True(t, backbone.closed)
}

func TestHeadValidate(t *testing.T) {
	head := NewHead(3, 2, 2)
	require.NoError(t, head.Validate())

	head.B2 = head.B2[:1]
	assert.Error(t, head.Validate())
	assert.Error(t, (&Head{}).Validate())
}

func TestHeadBundleRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model", "head.json")

	head := NewHead(4, 3, 2)
	head.W1[0] = 0.5
	bundle := &HeadBundle{
		Backbone:    "resnet50_notop.onnx",
		InputLayout: LayoutNHWC,
		ImageSize:   224,
		ClassNames:  []string{"healthy", "leaf_rust"},
		Head:        head,
		TrainedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, bundle.Write(path))

	read, err := ReadHeadBundle(path)
	require.NoError(t, err)
	assert.Equal(t, bundle.ClassNames, read.ClassNames)
	assert.Equal(t, 0.5, read.Head.W1[0])
	assert.Equal(t, filepath.Join(dir, "model", "resnet50_notop.onnx"), read.BackbonePath())

	read.Backbone = "/abs/backbone.onnx"
	assert.Equal(t, "/abs/backbone.onnx", read.BackbonePath())
}

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float64{1000, 1000})
	assert.InDelta(t, 0.5, probs[0], 1e-9)
	assert.InDelta(t, 0.5, probs[1], 1e-9)
	assert.Empty(t, Softmax(nil))
}

func TestOpenArtifactRejectsUnknownExtension(t *testing.T) {
	_, err := OpenArtifact("model/plant_disease_model.h5", Options{})
	assert.Error(t, err)
}

func TestArgmax(t *testing.T) {
	idx, v := argmax([]float32{0.1, 0.7, 0.2})
	assert.Equal(t, 1, idx)
	assert.InDelta(t, 0.7, v, 1e-6)

	idx, _ = argmax(nil)
	assert.Equal(t, -1, idx)
}
