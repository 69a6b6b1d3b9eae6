package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/plantdx-api/internal/config"
	"github.com/Brownie44l1/plantdx-api/internal/logging"
	"github.com/Brownie44l1/plantdx-api/internal/model"
	"github.com/Brownie44l1/plantdx-api/internal/training"
)

func main() {
	dataDir := flag.String("data", "data", "dataset directory: one subdirectory per class, or the image folder of -csv")
	csvPath := flag.String("csv", "", "optional manifest: image_id plus one score column per class")
	backbone := flag.String("backbone", filepath.Join("model", "backbone.onnx"), "ONNX feature extractor")
	backboneInput := flag.String("backbone-input", "input", "backbone input tensor name")
	backboneOutput := flag.String("backbone-output", "output", "backbone output tensor name")
	featureDim := flag.Int("feature-dim", 0, "expected backbone feature width (0 = take it from the model)")
	layout := flag.String("layout", string(model.LayoutNHWC), "backbone input layout: nhwc or nchw")
	imageSize := flag.Int("image-size", model.DefaultImageSize, "square input resolution")
	runtimeLib := flag.String("onnxruntime-lib", os.Getenv("ONNXRUNTIME_LIB"), "path to the onnxruntime shared library")
	hidden := flag.Int("hidden", 128, "hidden units in the head")
	epochs := flag.Int("epochs", 10, "training epochs")
	batch := flag.Int("batch", 32, "mini-batch size")
	lr := flag.Float64("lr", 0.001, "Adam learning rate")
	valSplit := flag.Float64("val-split", 0.2, "fraction of each class held out for validation")
	augment := flag.Bool("augment", true, "random rotation, shift and flip of training images")
	workers := flag.Int("workers", 0, "image loading goroutines (0 = one per CPU)")
	seed := flag.Int64("seed", 1, "random seed")
	out := flag.String("out", filepath.Join("model", "plant_disease_head.json"), "head bundle output path")
	classesOut := flag.String("classes-out", filepath.Join("model", "class_names.txt"), "class names output path")
	flag.Parse()

	logger, err := logging.New(config.LogConfig{Level: "info", ToStdout: true}, true)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ds, err := loadDataset(*dataDir, *csvPath)
	if err != nil {
		logger.Fatal("failed to load dataset", zap.Error(err))
	}
	if ds.Skipped > 0 {
		logger.Warn("manifest rows without an image were skipped", zap.Int("rows", ds.Skipped))
	}
	train, val := ds.Split(*valSplit, *seed)
	logger.Info("dataset loaded",
		zap.Strings("classes", ds.Classes),
		zap.Int("train", len(train)),
		zap.Int("validation", len(val)))

	if err := model.InitRuntime(*runtimeLib); err != nil {
		logger.Fatal("failed to initialize onnxruntime", zap.Error(err))
	}
	defer model.ShutdownRuntime()

	inputLayout := model.Layout(*layout)
	extractor, err := model.NewONNXRunner(*backbone, *backboneInput, *backboneOutput, model.InputShape(*imageSize, inputLayout))
	if err != nil {
		logger.Fatal("failed to open backbone", zap.Error(err))
	}
	defer extractor.Close()

	if *featureDim > 0 && extractor.OutputWidth() != *featureDim {
		logger.Fatal("backbone feature width mismatch",
			zap.Int("model", extractor.OutputWidth()),
			zap.Int("expected", *featureDim))
	}

	trainer := training.NewTrainer(extractor, training.Options{
		ImageSize:    *imageSize,
		Layout:       inputLayout,
		Hidden:       *hidden,
		Epochs:       *epochs,
		BatchSize:    *batch,
		LearningRate: *lr,
		Augment:      *augment,
		Workers:      *workers,
		Seed:         *seed,
	}, logger)

	head, history, err := trainer.Fit(ctx, len(ds.Classes), train, val)
	if err != nil {
		logger.Fatal("training failed", zap.Error(err))
	}
	last := history[len(history)-1]

	bundle := &model.HeadBundle{
		Backbone:       relativeTo(filepath.Dir(*out), *backbone),
		BackboneInput:  *backboneInput,
		BackboneOutput: *backboneOutput,
		InputLayout:    inputLayout,
		ImageSize:      *imageSize,
		ClassNames:     ds.Classes,
		Head:           head,
		TrainedAt:      time.Now().UTC(),
	}
	if err := bundle.Write(*out); err != nil {
		logger.Fatal("failed to save head bundle", zap.Error(err))
	}
	if err := model.WriteClassNames(*classesOut, ds.Classes); err != nil {
		logger.Fatal("failed to save class names", zap.Error(err))
	}

	logger.Info("training finished",
		zap.Float64("accuracy", last.TrainAccuracy),
		zap.Float64("val_accuracy", last.ValAccuracy))
	fmt.Printf("model saved to %s\nclass names saved to %s\n", *out, *classesOut)
}

func loadDataset(dataDir, csvPath string) (*training.Dataset, error) {
	if csvPath != "" {
		return training.FromCSV(csvPath, dataDir)
	}
	return training.FromDirectory(dataDir)
}

// relativeTo expresses path relative to dir so the bundle can be moved along
// with its backbone.
func relativeTo(dir, path string) string {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return path
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return absPath
	}
	return rel
}
