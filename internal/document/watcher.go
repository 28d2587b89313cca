package document

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch removes the chunks of files deleted or renamed out of band in the
// upload directory. It blocks until ctx is done.
func (s *Service) Watch(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("watch uploads: vector store is not initialized")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	slog.Info("watching upload directory", "dir", s.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Base(ev.Name)
			if !s.Allowed(name) {
				continue
			}
			if err := s.store.DeleteWhere(ctx, KeyStoredFilename, name); err != nil {
				slog.Error("drop chunks of removed file", "file", name, "error", err)
				continue
			}
			slog.Info("file removed from uploads, chunks dropped", "file", name)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("upload watcher error", "error", err)
		}
	}
}
