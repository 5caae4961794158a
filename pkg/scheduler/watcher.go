package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/logger"
)

// DefaultDebounce is the quiet period Watch waits after the last write
const DefaultDebounce = 2 * time.Second

// Watch triggers a check whenever the data file is written or replaced,
// once writes have been quiet for the debounce period. It blocks until ctx
// is cancelled.
//
// The parent directory is watched rather than the file so that files
// replaced by rename keep being observed.
func (s *Service) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	target, err := filepath.Abs(s.opts.DataPath)
	if err != nil {
		return fmt.Errorf("failed to resolve data path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	debounce := s.opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	s.log.Info("Watching data file for changes",
		logger.String("data_path", target),
		logger.Duration("debounce", debounce))

	var (
		pending *time.Timer
		fire    <-chan time.Time
	)
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(ev.Name)
			if err != nil || name != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.NewTimer(debounce)
			fire = pending.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("File watcher error", logger.Error(err))

		case <-fire:
			fire = nil
			s.runCheck(ctx, "watch")
		}
	}
}
