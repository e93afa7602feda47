package engine

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadSettle coalesces the burst of writes an exporter produces.
const reloadSettle = 200 * time.Millisecond

// ModelWatcher calls onChange when the watched model file is rewritten.
// The parent directory is watched so atomic renames are seen too.
type ModelWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	onChange func(path string)
	logger   zerolog.Logger

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewModelWatcher starts watching path.
func NewModelWatcher(path string, onChange func(string), logger zerolog.Logger) (*ModelWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve model path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	mw := &ModelWatcher{
		watcher:  watcher,
		path:     abs,
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
	}

	mw.wg.Add(1)
	go mw.watchLoop()

	return mw, nil
}

// Path returns the absolute watched path.
func (mw *ModelWatcher) Path() string { return mw.path }

func (mw *ModelWatcher) watchLoop() {
	defer mw.wg.Done()
	for {
		select {
		case <-mw.done:
			return
		case event, ok := <-mw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != mw.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				mw.schedule()
			}
		case err, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}
			mw.logger.Warn().Err(err).Msg("Model watcher error")
		}
	}
}

func (mw *ModelWatcher) schedule() {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if mw.timer != nil {
		mw.timer.Stop()
	}
	mw.timer = time.AfterFunc(reloadSettle, func() {
		select {
		case <-mw.done:
			return
		default:
		}
		mw.logger.Info().Str("model", mw.path).Msg("Model changed, reloading")
		mw.onChange(mw.path)
	})
}

// Close stops the watcher.
func (mw *ModelWatcher) Close() error {
	close(mw.done)
	mw.mu.Lock()
	if mw.timer != nil {
		mw.timer.Stop()
	}
	mw.mu.Unlock()
	err := mw.watcher.Close()
	mw.wg.Wait()
	return err
}
