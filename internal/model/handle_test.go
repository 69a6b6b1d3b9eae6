package model

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Brownie44l1/plantdx-api/internal/apperr"
)

// oneHot always scores class k highest.
type oneHot struct {
	k      int
	width  int
	closed atomic.Bool
}

func (o *oneHot) Run(input []float32) ([]float32, error) {
	out := make([]float32, o.width)
	if o.k >= 0 && o.k < o.width {
		out[o.k] = 1
	}
	return out, nil
}

func (o *oneHot) OutputWidth() int { return o.width }
func (o *oneHot) Close()           { o.closed.Store(true) }

func modelFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plant_disease_model.onnx")
	require.NoError(t, os.WriteFile(path, []byte("weights"), 0o644))
	return path
}

func newTestHandle(path string, classes ClassList, open Opener) *Handle {
	return NewHandle(Options{ModelPath: path, ImageSize: 8}, classes, open, zap.NewNop())
}

func TestPredictWithoutLoadIsModelUnavailable(t *testing.T) {
	h := newTestHandle(modelFile(t), DefaultClassNames, nil)

	_, err := h.Predict(image.NewRGBA(image.Rect(0, 0, 4, 4)))
	require.Error(t, err)
	assert.Equal(t, apperr.KindModelUnavailable, apperr.KindOf(err))
}

func TestPredictReturnsLabelAtArgmax(t *testing.T) {
	classes := DefaultClassNames
	for _, k := range []int{0, 4, len(classes) - 1} {
		stub := &oneHot{k: k, width: len(classes)}
		h := newTestHandle(modelFile(t), classes, func(string, Options) (Classifier, error) { return stub, nil })

		require.True(t, h.Load(false))
		result, err := h.Predict(image.NewGray(image.Rect(0, 0, 20, 10)))
		require.NoError(t, err)
		assert.Equal(t, classes[k], result.Disease)
		assert.Equal(t, DefaultTreatment, result.Treatment)
		assert.Equal(t, k, result.Index)
	}
}

func TestLoadFailsWhenModelFileMissing(t *testing.T) {
	opened := false
	h := newTestHandle(filepath.Join(t.TempDir(), "missing.onnx"), DefaultClassNames,
		func(string, Options) (Classifier, error) { opened = true; return nil, nil })

	assert.False(t, h.Load(false))
	assert.False(t, opened)
	assert.False(t, h.Ready())
}

func TestLoadRejectsCardinalityMismatch(t *testing.T) {
	stub := &oneHot{width: 3}
	h := newTestHandle(modelFile(t), DefaultClassNames, func(string, Options) (Classifier, error) { return stub, nil })

	err := h.Reload(false)
	require.Error(t, err)
	assert.Equal(t, apperr.KindModelUnavailable, apperr.KindOf(err))
	assert.False(t, h.Ready())
	assert.True(t, stub.closed.Load())
}

func TestLoadErrorFromOpener(t *testing.T) {
	h := newTestHandle(modelFile(t), DefaultClassNames, func(string, Options) (Classifier, error) {
		return nil, errors.New("corrupt protobuf")
	})

	assert.False(t, h.Load(false))
	assert.False(t, h.Ready())
}

func TestLoadIsMemoizedUnlessForced(t *testing.T) {
	var opens atomic.Int32
	var stubs []*oneHot
	var mu sync.Mutex
	h := newTestHandle(modelFile(t), ClassList{"a", "b"}, func(string, Options) (Classifier, error) {
		opens.Add(1)
		stub := &oneHot{k: 1, width: 2}
		mu.Lock()
		stubs = append(stubs, stub)
		mu.Unlock()
		return stub, nil
	})

	require.True(t, h.Load(false))
	require.True(t, h.Load(false))
	assert.Equal(t, int32(1), opens.Load())

	require.True(t, h.Load(true))
	assert.Equal(t, int32(2), opens.Load())
	assert.True(t, stubs[0].closed.Load(), "replaced classifier is closed")
	assert.False(t, stubs[1].closed.Load())

	h.Close()
	assert.True(t, stubs[1].closed.Load())
	assert.False(t, h.Ready())
}

func TestFailedForcedReloadDropsHandle(t *testing.T) {
	fail := atomic.Bool{}
	h := newTestHandle(modelFile(t), ClassList{"a", "b"}, func(string, Options) (Classifier, error) {
		if fail.Load() {
			return &oneHot{width: 5}, nil
		}
		return &oneHot{width: 2}, nil
	})

	require.True(t, h.Load(false))
	fail.Store(true)
	assert.False(t, h.Load(true))
	assert.False(t, h.Ready())

	_, err := h.Predict(image.NewRGBA(image.Rect(0, 0, 2, 2)))
	assert.Equal(t, apperr.KindModelUnavailable, apperr.KindOf(err))
}

func TestConcurrentFirstLoadOpensOnce(t *testing.T) {
	var opens atomic.Int32
	release := make(chan struct{})
	h := newTestHandle(modelFile(t), ClassList{"a", "b", "c"}, func(string, Options) (Classifier, error) {
		opens.Add(1)
		<-release
		return &oneHot{k: 2, width: 3}, nil
	})

	const callers = 32
	var wg sync.WaitGroup
	results := make([]bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.Load(false)
		}(i)
	}

	// let the callers pile up on the in-flight load
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), opens.Load())
	for _, ok := range results {
		assert.True(t, ok)
	}

	var pwg sync.WaitGroup
	for i := 0; i < callers; i++ {
		pwg.Add(1)
		go func() {
			defer pwg.Done()
			result, err := h.Predict(image.NewRGBA(image.Rect(0, 0, 4, 4)))
			assert.NoError(t, err)
			assert.Equal(t, "c", result.Disease)
		}()
	}
	pwg.Wait()
}

func TestPredictEmptyScoresIsInternal(t *testing.T) {
	h := newTestHandle(modelFile(t), ClassList{"a"}, func(string, Options) (Classifier, error) {
		return &emptyScores{}, nil
	})
	require.True(t, h.Load(false))

	_, err := h.Predict(image.NewRGBA(image.Rect(0, 0, 2, 2)))
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

type emptyScores struct{}

func (emptyScores) Run([]float32) ([]float32, error) { return nil, nil }
func (emptyScores) OutputWidth() int                { return 1 }
func (emptyScores) Close()                          {}

func TestLazyLoadAndForcedReloadNeverOpenConcurrently(t *testing.T) {
	var active, peak, opens atomic.Int32
	h := newTestHandle(modelFile(t), ClassList{"a", "b"}, func(string, Options) (Classifier, error) {
		opens.Add(1)
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return &oneHot{width: 2}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.True(t, h.Load(false))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, h.Reload(true))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.GreaterOrEqual(t, opens.Load(), int32(1))
	assert.True(t, h.Ready())
}
