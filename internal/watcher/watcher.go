// Package watcher reports changes to backup artifacts in the backup
// directory.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cfgvault/internal/model"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const artifactExt = ".cfg"

type Watcher struct {
	fw       *fsnotify.Watcher
	eventCh  chan model.FileEvent
	doneCh   chan struct{}
	stopOnce sync.Once
	log      *zap.Logger
}

func New(bufferSize int, log *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		fw:      fw,
		eventCh: make(chan model.FileEvent, bufferSize),
		doneCh:  make(chan struct{}),
		log:     log,
	}, nil
}

// Watch starts reporting artifact events for dir. Artifacts live flat in
// the backup directory, so subdirectories are not watched.
func (w *Watcher) Watch(dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(absDir)
	if err != nil {
		return fmt.Errorf("backup directory not found: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", absDir)
	}

	if err := w.fw.Add(absDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", absDir, err)
	}

	go w.run()

	w.log.Info("artifact watcher started", zap.String("dir", absDir))
	return nil
}

func (w *Watcher) run() {
	defer close(w.eventCh)

	for {
		select {
		case <-w.doneCh:
			w.log.Info("artifact watcher stopping")
			return

		case fsEvent, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.forward(fsEvent)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Error("artifact watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) forward(fsEvent fsnotify.Event) {
	if !isArtifact(fsEvent.Name) {
		return
	}

	eventType := toEventType(fsEvent.Op)
	if eventType == "" {
		return
	}

	event := model.FileEvent{
		Type:      eventType,
		Path:      fsEvent.Name,
		Timestamp: time.Now(),
	}

	select {
	case w.eventCh <- event:
	default:
		w.log.Warn("artifact event dropped, channel full",
			zap.String("path", fsEvent.Name),
			zap.String("op", string(eventType)))
	}
}

func (w *Watcher) Events() <-chan model.FileEvent {
	return w.eventCh
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.doneCh)
		_ = w.fw.Close()
	})
}

// isArtifact skips the dot-prefixed temp files of an atomic write.
func isArtifact(path string) bool {
	base := filepath.Base(path)
	return !strings.HasPrefix(base, ".") && strings.HasSuffix(base, artifactExt)
}

func toEventType(op fsnotify.Op) model.EventType {
	switch {
	case op.Has(fsnotify.Create):
		return model.EventCreate
	case op.Has(fsnotify.Write):
		return model.EventWrite
	case op.Has(fsnotify.Remove):
		return model.EventRemove
	case op.Has(fsnotify.Rename):
		return model.EventRename
	default:
		return ""
	}
}
