package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/sergioferragut/data-chat/internal/logging"
)

// Watcher reloads the configuration when one of its files changes.
type Watcher struct {
	watcher   *fsnotify.Watcher
	directory string
	files     map[string]bool
	onChange  func(*Config)
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
	mu        sync.Mutex
}

// NewWatcher watches the files Load reads for directory. onChange receives
// each successfully reloaded configuration; a reload that fails is logged
// and the previous configuration stays in effect.
func NewWatcher(directory string, onChange func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	files := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, f := range Files(directory) {
		abs, err := filepath.Abs(f)
		if err != nil {
			continue
		}
		files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}

	// Watch directories rather than files so editors that replace the file
	// are still seen.
	watched := 0
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			logging.Debug().Err(err).Str("dir", dir).Msg("config directory not watched")
			continue
		}
		watched++
	}
	logging.Info().Int("dirs", watched).Msg("config watcher initialized")

	return &Watcher{
		watcher:   w,
		directory: directory,
		files:     files,
		onChange:  onChange,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins watching.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if abs, err := filepath.Abs(ev.Name); err == nil && w.files[abs] {
				w.reload(abs)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) reload(path string) {
	cfg, err := Load(w.directory)
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("config reload failed, keeping previous config")
		return
	}
	logging.Info().Str("path", path).Msg("config reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}

	if started {
		<-w.doneCh
	}
	return w.watcher.Close()
}
