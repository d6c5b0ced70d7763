package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	alog "github.com/mpataki/automenu/internal/log"
)

const DefaultDebounce = 300 * time.Millisecond

// Watcher reports changes to the script and sequence directories. Bursts of
// events are collapsed into one callback.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
	done     chan struct{}
}

// NewWatcher watches every dir that exists. Missing dirs are skipped.
func NewWatcher(dirs []string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &Watcher{
		watcher:  fsw,
		debounce: debounce,
		logger:   alog.WithComponent(alog.OrDiscard(logger), "watcher"),
		done:     make(chan struct{}),
	}

	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
		if err := fsw.Add(abs); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			fsw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", abs, err)
		}
	}

	return w, nil
}

// Run calls onChange after each settled burst of changes until ctx is
// cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context, onChange func()) {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			w.logger.Debug("directory changed", "op", event.Op.String(), "path", event.Name)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			onChange()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// Close stops watching. Run returns once its channels are closed.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// Done is closed when Run has returned.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}
