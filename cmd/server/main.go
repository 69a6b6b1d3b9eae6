package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/plantdx-api/internal/config"
	"github.com/Brownie44l1/plantdx-api/internal/handlers"
	"github.com/Brownie44l1/plantdx-api/internal/imageio"
	"github.com/Brownie44l1/plantdx-api/internal/logging"
	"github.com/Brownie44l1/plantdx-api/internal/model"
	"github.com/Brownie44l1/plantdx-api/internal/storage"
	"github.com/Brownie44l1/plantdx-api/internal/store"
)

func main() {
	// Relative paths in the config are resolved from the project root, also
	// when started from cmd/server.
	if wd, err := os.Getwd(); err == nil && filepath.Base(wd) == "server" {
		if err := os.Chdir(filepath.Join(wd, "..", "..")); err != nil {
			log.Fatalf("Failed to change to project root: %v", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log, cfg.Debug())
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if err := model.InitRuntime(cfg.Model.RuntimeLib); err != nil {
		return err
	}
	defer model.ShutdownRuntime()

	classes, err := model.LoadClassNames(cfg.Model.ClassNamesPath, logger)
	if err != nil {
		return err
	}

	handle := model.NewHandle(model.Options{
		ModelPath:  cfg.Model.Path,
		ImageSize:  cfg.Model.ImageSize,
		Layout:     model.Layout(cfg.Model.InputLayout),
		InputName:  cfg.Model.InputName,
		OutputName: cfg.Model.OutputName,
	}, classes, model.OpenArtifact, logger)
	defer handle.Close()

	// Warm up eagerly; a missing model is reported by /api/health.
	if !handle.Load(false) {
		logger.Warn("model not loaded at startup", zap.String("path", cfg.Model.Path))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Model.Watch {
		watcher, err := model.NewWatcher(handle, 500*time.Millisecond, logger)
		if err != nil {
			return err
		}
		go watcher.Run(ctx)
	}

	deps := handlers.Deps{
		Config:    cfg,
		Predictor: handle,
		Log:       logger,
	}

	var objects imageio.ObjectGetter
	if cfg.Storage.Bucket != "" {
		s3Store, err := storage.NewS3Store(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		logger.Info("archiving uploads to S3", zap.String("bucket", s3Store.Bucket()))
		deps.Archive = s3Store
		deps.PublicArchive = true
		objects = s3Store
	} else {
		diskStore, err := storage.NewDiskStore(cfg.Upload.Folder)
		if err != nil {
			return err
		}
		logger.Info("archiving uploads to disk", zap.String("folder", cfg.Upload.Folder))
		deps.Archive = diskStore
		objects = diskStore
	}

	client := &http.Client{Timeout: cfg.HTTP.Timeout}
	deps.Images = imageio.NewLoader(client, objects, cfg.Storage.Bucket, 0)

	if cfg.DB.URL != "" {
		results, err := store.Open(cfg.DB.URL, logger)
		if err != nil {
			return err
		}
		defer results.Close()
		deps.Results = results
	}

	handler := handlers.NewHandler(deps)
	server := handlers.NewServer(cfg.Port, handlers.NewRouter(handler), cfg.HTTP.Timeout, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("plant disease API ready",
		zap.String("addr", server.Addr()),
		zap.String("env", cfg.Env),
		zap.Int("classes", len(classes)),
		zap.Bool("model_loaded", handle.Ready()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	handler.Wait()
	logger.Info("exiting")
	return nil
}
