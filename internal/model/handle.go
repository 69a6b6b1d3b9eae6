package model

import (
	"fmt"
	"image"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Brownie44l1/plantdx-api/internal/apperr"
	"github.com/Brownie44l1/plantdx-api/internal/metrics"
)

// Handle owns the lazily loaded classifier. Loads are single-flight and the
// classifier is swapped under a write lock, so callers only ever see a fully
// loaded model or none.
type Handle struct {
	opts       Options
	classes    ClassList
	treatments Treatments
	open       Opener
	log        *zap.Logger

	mu  sync.RWMutex
	clf Classifier

	// group dedupes concurrent calls per key; loadMu keeps a forced reload
	// and a lazy load from opening the model at the same time.
	group  singleflight.Group
	loadMu sync.Mutex
}

func NewHandle(opts Options, classes ClassList, open Opener, log *zap.Logger) *Handle {
	if open == nil {
		open = OpenArtifact
	}
	return &Handle{
		opts:       opts.withDefaults(),
		classes:    classes,
		treatments: NewTreatments(classes),
		open:       open,
		log:        log,
	}
}

func (h *Handle) Classes() ClassList { return h.classes }

// Ready reports whether a classifier is cached.
func (h *Handle) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clf != nil
}

// Load makes sure a classifier is cached. With force it always re-reads the
// model file. It reports failure instead of returning an error.
func (h *Handle) Load(force bool) bool {
	return h.Reload(force) == nil
}

// Reload is Load with the failure cause.
func (h *Handle) Reload(force bool) error {
	if _, err := os.Stat(h.opts.ModelPath); err != nil {
		h.log.Error("model file not found", zap.String("path", h.opts.ModelPath), zap.Error(err))
		metrics.ModelLoads.WithLabelValues("missing").Inc()
		return apperr.ModelUnavailable("model.Load", "model file not found", err)
	}
	if !force && h.Ready() {
		return nil
	}

	key := "load"
	if force {
		key = "reload"
	}
	_, err, _ := h.group.Do(key, func() (interface{}, error) {
		return nil, h.load(force)
	})
	if err != nil {
		h.log.Error("failed to load model", zap.String("path", h.opts.ModelPath), zap.Error(err))
		metrics.ModelLoads.WithLabelValues("error").Inc()
		return apperr.ModelUnavailable("model.Load", "model not loaded", err)
	}
	return nil
}

func (h *Handle) load(force bool) error {
	h.loadMu.Lock()
	defer h.loadMu.Unlock()

	if !force && h.Ready() {
		return nil
	}

	start := time.Now()
	h.log.Info("loading model", zap.String("path", h.opts.ModelPath), zap.Bool("force", force))

	clf, err := h.open(h.opts.ModelPath, h.opts)
	if err != nil {
		h.swap(nil)
		return err
	}
	if width := clf.OutputWidth(); width != len(h.classes) {
		clf.Close()
		h.swap(nil)
		return fmt.Errorf("model has %d outputs, but class list has %d entries", width, len(h.classes))
	}

	h.swap(clf)
	metrics.ModelLoads.WithLabelValues("ok").Inc()
	h.log.Info("model loaded",
		zap.Int("classes", len(h.classes)),
		zap.Duration("took", time.Since(start)))
	return nil
}

// swap installs clf and closes the previous classifier. Predict holds the read
// lock for the whole run, so the old classifier is idle once the lock is ours.
func (h *Handle) swap(clf Classifier) {
	h.mu.Lock()
	old := h.clf
	h.clf = clf
	h.mu.Unlock()

	if old != nil && old != clf {
		old.Close()
	}
}

// Predict classifies img. It needs a prior successful Load.
func (h *Handle) Predict(img image.Image) (Result, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.clf == nil {
		return Result{}, apperr.ModelUnavailable("model.Predict", "model not loaded", nil)
	}

	start := time.Now()
	input := Preprocess(img, h.opts.ImageSize, h.opts.Layout)
	scores, err := h.clf.Run(input)
	if err != nil {
		return Result{}, apperr.Internal("model.Predict", "inference failed", err)
	}
	metrics.InferenceDuration.Observe(time.Since(start).Seconds())

	idx, confidence := argmax(scores)
	disease, ok := h.classes.Label(idx)
	if !ok {
		h.log.Error("predicted index out of range", zap.Int("index", idx), zap.Int("classes", len(h.classes)))
		return Result{}, apperr.Internal("model.Predict",
			fmt.Sprintf("invalid class index %d (0-%d)", idx, len(h.classes)-1), nil)
	}

	metrics.Predictions.WithLabelValues(disease).Inc()
	return Result{
		Disease:    disease,
		Treatment:  h.treatments.Lookup(disease),
		Confidence: confidence,
		Index:      idx,
	}, nil
}

// Close releases the cached classifier.
func (h *Handle) Close() {
	h.swap(nil)
}
