package seed

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Run syncs once and then, when Watch is set, re-syncs after seed files
// change until ctx is cancelled. Sync errors are logged, not returned.
func (s *Syncer) Run(ctx context.Context) error {
	if s.config.Dir == "" {
		return nil
	}
	if err := s.Sync(ctx); err != nil {
		s.logger.Warn("Seed sync reported errors", "dir", s.config.Dir, "error", err)
	}
	if !s.config.Watch {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := os.MkdirAll(s.config.Dir, 0o755); err != nil {
		return err
	}
	dirs, err := walkDirs(s.config.Dir)
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			s.logger.Warn("Failed to watch seed directory", "path", dir, "error", err)
		}
	}
	s.logger.Info("Seed watcher started", "dir", s.config.Dir, "pattern", s.config.Pattern, "debounce", s.config.Debounce)

	ticker := time.NewTicker(s.config.Debounce)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := fsw.Add(event.Name); err != nil {
						s.logger.Warn("Failed to watch new seed directory", "path", event.Name, "error", err)
					}
					dirty = true
					continue
				}
			}
			if s.Matches(event.Name) {
				dirty = true
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("Seed watcher error", "error", err)

		case <-ticker.C:
			if !dirty {
				continue
			}
			dirty = false
			if err := s.Sync(ctx); err != nil {
				s.logger.Warn("Seed sync reported errors", "dir", s.config.Dir, "error", err)
			}
		}
	}
}
