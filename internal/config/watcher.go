package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Watcher reloads a Config whenever its file is rewritten.
type Watcher struct {
	cfg      *Config
	onChange func()
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
}

// NewWatcher watches the directory holding cfg's file. onChange runs after
// every reload that changed a setting.
func NewWatcher(cfg *Config, onChange func()) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	// Editors often replace the file, so watch its directory.
	if err := w.Add(filepath.Dir(cfg.Path())); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(cfg.Path()), err)
	}

	return &Watcher{
		cfg:      cfg,
		onChange: onChange,
		watcher:  w,
		logger:   log.With().Str("component", "config_watcher").Logger(),
	}, nil
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	target := filepath.Clean(w.cfg.Path())

	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			changed, err := w.cfg.Reload()
			if err != nil {
				// A truncate-then-write shows up as an empty file first.
				w.logger.Debug().Err(err).Msg("config reload skipped")
				continue
			}
			if changed && w.onChange != nil {
				w.onChange()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("error watching config file")
		}
	}
}
