package otsserver

import (
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/r9s-ai/open-treebank-server/pkg/config"
)

// installCorporaAutoReload watches the directory holding the corpora file
// and reloads the registry, debounced, whenever that file changes. Editors
// that save by rename replace the inode, so the directory is watched rather
// than the file itself.
func installCorporaAutoReload(cfg *config.Config, st *state, mu *sync.Mutex) (io.Closer, error) {
	if cfg == nil || st == nil || mu == nil {
		return nil, nil
	}
	if !cfg.Corpora.AutoReload.Enabled {
		return nil, nil
	}
	file := strings.TrimSpace(cfg.Corpora.File)
	if file == "" {
		return nil, nil
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, err
	}
	debounce := time.Duration(cfg.Corpora.AutoReload.DebounceMs) * time.Millisecond

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		var (
			timer  *time.Timer
			timerC <-chan time.Time
		)
		resetTimer := func() {
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)
			timerC = timer.C
		}

		for {
			select {
			case <-stopCh:
				if timer != nil {
					timer.Stop()
				}
				return
			case <-timerC:
				timerC = nil
				reloadAndLog(cfg, st, mu, "auto")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				st.log.Warn("corpora auto-reload watcher error", zap.Error(err))
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if shouldTriggerCorporaReload(evt, abs) {
					resetTimer()
				}
			}
		}
	}()

	st.log.Info("corpora auto-reload enabled",
		zap.String("file", abs),
		zap.Int("debounce_ms", cfg.Corpora.AutoReload.DebounceMs),
	)
	return closerFunc(func() error {
		close(stopCh)
		_ = watcher.Close()
		<-doneCh
		return nil
	}), nil
}

func shouldTriggerCorporaReload(evt fsnotify.Event, file string) bool {
	if strings.TrimSpace(evt.Name) == "" {
		return false
	}
	if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	name, err := filepath.Abs(evt.Name)
	if err != nil {
		return false
	}
	return filepath.Clean(name) == filepath.Clean(file)
}
