package model

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher force-reloads a Handle when its model file is rewritten, e.g. after
// a training run replaces the weights.
type Watcher struct {
	handle   *Handle
	watcher  *fsnotify.Watcher
	target   string
	debounce time.Duration
	log      *zap.Logger
}

func NewWatcher(handle *Handle, debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	target := filepath.Clean(handle.opts.ModelPath)
	// Watch the directory: tools usually replace the file rather than write in place.
	if err := fw.Add(filepath.Dir(target)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	return &Watcher{
		handle:   handle,
		watcher:  fw,
		target:   target,
		debounce: debounce,
		log:      log,
	}, nil
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.log.Info("model file changed, reloading", zap.String("path", w.target))
			w.handle.Load(true)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("model watcher error", zap.Error(err))
		}
	}
}
