package training

import (
	"context"
	"fmt"
	"image"
	"math/rand"
	"runtime"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/plantdx-api/internal/model"
)

// FeatureExtractor is the frozen backbone. *model.ONNXRunner satisfies it.
type FeatureExtractor interface {
	Run(input []float32) ([]float32, error)
	OutputWidth() int
}

type Options struct {
	ImageSize    int
	Layout       model.Layout
	Hidden       int
	Epochs       int
	BatchSize    int
	LearningRate float64
	// Augment re-draws random transforms of every training image each epoch.
	Augment   bool
	Augmenter Augmenter
	Workers   int
	Seed      int64
}

func (o Options) withDefaults() Options {
	if o.ImageSize <= 0 {
		o.ImageSize = model.DefaultImageSize
	}
	if o.Layout == "" {
		o.Layout = model.LayoutNHWC
	}
	if o.Hidden <= 0 {
		o.Hidden = 128
	}
	if o.Epochs <= 0 {
		o.Epochs = 10
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 32
	}
	if o.LearningRate <= 0 {
		o.LearningRate = 0.001
	}
	if o.Augment && o.Augmenter == (Augmenter{}) {
		o.Augmenter = DefaultAugmenter()
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	return o
}

// EpochStats reports one epoch. Validation fields are zero without a
// validation set.
type EpochStats struct {
	Epoch         int
	TrainLoss     float64
	TrainAccuracy float64
	ValLoss       float64
	ValAccuracy   float64
	Took          time.Duration
}

type Trainer struct {
	extractor FeatureExtractor
	opts      Options
	log       *zap.Logger
}

func NewTrainer(extractor FeatureExtractor, opts Options, log *zap.Logger) *Trainer {
	return &Trainer{extractor: extractor, opts: opts.withDefaults(), log: log}
}

// Fit trains a head over the backbone's features and returns it with the
// per-epoch history.
func (t *Trainer) Fit(ctx context.Context, classes int, train, val []Sample) (*model.Head, []EpochStats, error) {
	if len(train) == 0 {
		return nil, nil, fmt.Errorf("no training samples")
	}
	if classes < 2 {
		return nil, nil, fmt.Errorf("need at least two classes, got %d", classes)
	}

	rng := rand.New(rand.NewSource(t.opts.Seed))
	ht := NewHeadTrainer(t.extractor.OutputWidth(), t.opts.Hidden, classes, t.opts.LearningRate, t.opts.BatchSize, rng)

	t.log.Info("extracting validation features", zap.Int("samples", len(val)))
	valX, err := t.Features(ctx, val, false, 0)
	if err != nil {
		return nil, nil, err
	}
	valY := labels(val)
	trainY := labels(train)

	var trainX [][]float64
	history := make([]EpochStats, 0, t.opts.Epochs)
	for epoch := 1; epoch <= t.opts.Epochs; epoch++ {
		start := time.Now()

		if trainX == nil || t.opts.Augment {
			trainX, err = t.Features(ctx, train, t.opts.Augment, int64(epoch))
			if err != nil {
				return nil, nil, err
			}
		}

		stats := EpochStats{Epoch: epoch}
		stats.TrainLoss, stats.TrainAccuracy = ht.Epoch(trainX, trainY)
		stats.ValLoss, stats.ValAccuracy = Evaluate(ht.Head(), valX, valY)
		stats.Took = time.Since(start)
		history = append(history, stats)

		t.log.Info("epoch finished",
			zap.Int("epoch", epoch),
			zap.Int("of", t.opts.Epochs),
			zap.Float64("loss", stats.TrainLoss),
			zap.Float64("accuracy", stats.TrainAccuracy),
			zap.Float64("val_loss", stats.ValLoss),
			zap.Float64("val_accuracy", stats.ValAccuracy),
			zap.Duration("took", stats.Took))
	}

	return ht.Head(), history, nil
}

// Features loads, optionally augments and preprocesses each sample and runs
// it through the backbone. Image work is spread over Workers goroutines.
// round seeds the augmentation so every epoch draws fresh transforms.
func (t *Trainer) Features(ctx context.Context, samples []Sample, augment bool, round int64) ([][]float64, error) {
	out := make([][]float64, len(samples))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.Workers)

	for i, s := range samples {
		i, s := i, s
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			img, err := imaging.Open(s.Path, imaging.AutoOrientation(true))
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", s.Path, err)
			}
			if augment {
				seed := t.opts.Seed ^ (round << 32) ^ int64(i)
				img = t.opts.Augmenter.Apply(img, rand.New(rand.NewSource(seed)))
			}

			features, err := t.extract(img)
			if err != nil {
				return fmt.Errorf("%s: %w", s.Path, err)
			}
			out[i] = features
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Trainer) extract(img image.Image) ([]float64, error) {
	input := model.Preprocess(img, t.opts.ImageSize, t.opts.Layout)
	raw, err := t.extractor.Run(input)
	if err != nil {
		return nil, err
	}
	if len(raw) != t.extractor.OutputWidth() {
		return nil, fmt.Errorf("backbone returned %d features, expected %d", len(raw), t.extractor.OutputWidth())
	}
	features := make([]float64, len(raw))
	for i, v := range raw {
		features[i] = float64(v)
	}
	return features, nil
}

func labels(samples []Sample) []int {
	y := make([]int, len(samples))
	for i, s := range samples {
		y[i] = s.Label
	}
	return y
}
