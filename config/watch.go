package config

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
)

// settle is how long a burst of write events must be quiet before the
// file is read again. Reading earlier can see a truncated file.
const settle = 10 * time.Millisecond

// Watch reloads path after every change and passes each valid
// configuration to fn. Files that fail to load are logged and skipped.
// Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindHostFailure, err, "create watcher")
	}
	defer w.Close()
	if err := w.Add(path); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "watch "+path)
	}

	log := Logger().With(zap.String("path", path))
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watch error", zap.Error(err))
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			log.Debug("config changed", zap.Stringer("op", ev.Op))
			if !quiet(ctx, w.Events) {
				return nil
			}
			c, err := Load(path)
			if err != nil {
				log.Warn("config reload failed", zap.Error(err))
			} else {
				log.Info("config reloaded")
				fn(c)
			}
			// editors replace the file by rename, which drops the watch
			if err := w.Add(path); err != nil {
				log.Warn("config rewatch failed", zap.Error(err))
			}
		}
	}
}

// quiet discards events until none arrive for settle. It returns false if
// ctx ends or the watcher closes first.
func quiet(ctx context.Context, events <-chan fsnotify.Event) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case _, ok := <-events:
			if !ok {
				return false
			}
		case <-time.After(settle):
			return true
		}
	}
}

// FrameRater is a running event loop whose frame rate can change.
type FrameRater interface {
	SetFPS(fps float64)
}

// Apply returns a Watch callback that moves level and loop to the reloaded
// log level and frame rate. loop may be nil. Other sections need a restart.
func Apply(current *Config, level zap.AtomicLevel, loop FrameRater) func(*Config) {
	fps := current.Frame.FPS
	return func(next *Config) {
		log := Logger()
		if lvl := next.Level(); lvl != level.Level() {
			level.SetLevel(lvl)
			log.Info("log level changed", zap.Stringer("level", lvl))
		}
		if next.Frame.FPS != fps {
			fps = next.Frame.FPS
			if loop != nil {
				loop.SetFPS(fps)
			}
		}
	}
}
