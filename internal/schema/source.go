package schema

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Source hands out the current registry. It can be swapped at runtime by
// Watch when the registry is backed by a file.
type Source struct {
	current atomic.Pointer[Registry]
	path    string
}

// NewSource returns a Source serving reg.
func NewSource(reg *Registry) *Source {
	s := &Source{}
	s.current.Store(reg)
	return s
}

// OpenSource loads path, or the built-in registry when path is empty.
func OpenSource(path string) (*Source, error) {
	if path == "" {
		return NewSource(Default()), nil
	}
	reg, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := NewSource(reg)
	s.path = path
	return s, nil
}

// Registry returns the registry in effect.
func (s *Source) Registry() *Registry {
	return s.current.Load()
}

// Path returns the backing file, empty for the built-in registry.
func (s *Source) Path() string { return s.path }

// Reload parses the backing file again. A broken file leaves the previous
// registry in place.
func (s *Source) Reload() error {
	if s.path == "" {
		return nil
	}
	reg, err := Load(s.path)
	if err != nil {
		return err
	}
	s.current.Store(reg)
	return nil
}

// Watch reloads the registry whenever its file changes until ctx is
// cancelled. The parent directory is watched so that editors replacing the
// file by rename are picked up. Bursts of events are debounced.
func (s *Source) Watch(ctx context.Context, logger *slog.Logger, onReload func()) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	abs, err := filepath.Abs(s.path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	logger.Info("schema watcher: started", slog.String("path", abs))

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("schema watcher: stopped")
			return nil

		case <-fire:
			fire = nil
			if err := s.Reload(); err != nil {
				logger.Warn("schema watcher: reload failed, keeping previous registry",
					slog.String("path", abs), slog.String("error", err.Error()))
				continue
			}
			logger.Info("schema watcher: registry reloaded",
				slog.Int("resources", len(s.Registry().Names())))
			if onReload != nil {
				onReload()
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(200 * time.Millisecond)
			} else {
				timer.Reset(200 * time.Millisecond)
			}
			fire = timer.C

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("schema watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
