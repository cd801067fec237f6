package cliconfig

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the [stage] table of a config file whenever it is written.
type Watcher struct {
	path     string
	log      zerolog.Logger
	onChange func(StageFileConfig)
	delay    time.Duration

	mu       sync.Mutex
	debounce *time.Timer
}

func NewWatcher(path string, log zerolog.Logger, onChange func(StageFileConfig)) *Watcher {
	return &Watcher{
		path:     path,
		log:      log.With().Str("module", "config").Logger(),
		onChange: onChange,
		delay:    100 * time.Millisecond,
	}
}

// Start begins watching the directory of the config file. Events are
// handled in the background until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	go w.loop(ctx, watcher)
	return nil
}

func (w *Watcher) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.debounce != nil {
				w.debounce.Stop()
			}
			w.mu.Unlock()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.debounceReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("watch")
		}
	}
}

func (w *Watcher) debounceReload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}

	w.debounce = time.AfterFunc(w.delay, func() {
		if ctx.Err() != nil {
			return
		}
		w.reload()
	})
}

func (w *Watcher) reload() {
	fc, err := LoadFileConfig(w.path)
	if err != nil {
		// editors often write in several steps; the next event retries
		w.log.Warn().Err(err).Str("path", w.path).Msg("reload")
		return
	}
	w.log.Info().Str("path", w.path).Msg("reloaded")
	w.onChange(fc.Stage)
}
