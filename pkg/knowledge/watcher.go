package knowledge

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// CorpusWatcher watches the policy corpus for changes and marks the
// index dirty, debounced so bulk edits trigger one resync.
type CorpusWatcher struct {
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	onDirty  func()
	debounce time.Duration
	timer    *time.Timer
	stopCh   chan struct{}
}

// NewCorpusWatcher creates a corpus watcher.
func NewCorpusWatcher(logger zerolog.Logger, onDirty func()) (*CorpusWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	cw := &CorpusWatcher{
		watcher:  watcher,
		logger:   logger,
		onDirty:  onDirty,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}

	go cw.run()

	return cw, nil
}

// Watch starts watching a directory.
func (cw *CorpusWatcher) Watch(path string) error {
	return cw.watcher.Add(path)
}

// Stop stops the watcher.
func (cw *CorpusWatcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}

func (cw *CorpusWatcher) run() {
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}

			ext := strings.ToLower(filepath.Ext(event.Name))
			if ext != ".md" && ext != ".txt" {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				cw.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Corpus change detected")
				cw.scheduleMarkDirty()
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Error().Err(err).Msg("Corpus watcher error")

		case <-cw.stopCh:
			return
		}
	}
}

func (cw *CorpusWatcher) scheduleMarkDirty() {
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = time.AfterFunc(cw.debounce, cw.onDirty)
}
