package tool

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads manifests from the plugin directory when they change,
// so tools can be added at runtime without a restart.
type Watcher struct {
	watcher            *fsnotify.Watcher
	loader             *Loader
	dir                string
	stabilityThreshold time.Duration
	logger             zerolog.Logger
	done               chan struct{}
	wg                 sync.WaitGroup
	debounceTimers     map[string]*time.Timer
	debounceMu         sync.Mutex
	stopOnce           sync.Once
}

// NewWatcher creates a watcher for dir. Events on one file within
// stabilityThreshold collapse into a single reload.
func NewWatcher(loader *Loader, dir string, stabilityThreshold time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if stabilityThreshold <= 0 {
		stabilityThreshold = 100 * time.Millisecond
	}

	return &Watcher{
		watcher:            fw,
		loader:             loader,
		dir:                dir,
		stabilityThreshold: stabilityThreshold,
		logger:             loader.logger.With().Str("component", "tool-watcher").Logger(),
		done:               make(chan struct{}),
		debounceTimers:     make(map[string]*time.Timer),
	}, nil
}

// Start begins watching the directory
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	w.wg.Add(1)
	go w.eventLoop()

	w.logger.Info().Str("dir", w.dir).Msg("Tool directory watcher started")
	return nil
}

// Stop stops watching and cancels pending reloads
func (w *Watcher) Stop() error {
	var closeErr error
	w.stopOnce.Do(func() {
		close(w.done)

		w.debounceMu.Lock()
		for _, timer := range w.debounceTimers {
			timer.Stop()
		}
		clear(w.debounceTimers)
		w.debounceMu.Unlock()

		if err := w.watcher.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close watcher: %w", err)
		}
		w.wg.Wait()
		w.logger.Info().Msg("Tool directory watcher stopped")
	})
	return closeErr
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !IsManifestFile(event.Name) {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		// registered tools live until overwritten, removal is not a signal
		return
	}

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.debounceTimers[event.Name]; exists {
		timer.Stop()
	}

	path := event.Name
	w.debounceTimers[path] = time.AfterFunc(w.stabilityThreshold, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}

		if _, err := w.loader.LoadFile(path); err != nil {
			w.logger.Error().Err(err).Str("path", path).Msg("Failed to reload tool manifest")
			return
		}
		w.logger.Info().Str("path", path).Msg("Reloaded tool manifest")
	})
}
