package approval

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// DecisionWatcher is a file-based human approval channel. An external
// actor (UI, script, operator shell) drops a file named <id>.approve or
// <id>.reject into the decisions directory; the watcher applies the
// decision to the gate and removes the file. A .reject file's content,
// if any, becomes the rejection reason.
type DecisionWatcher struct {
	gate    *Gate
	dir     string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewDecisionWatcher creates the decisions directory under baseDir and
// starts watching it.
func NewDecisionWatcher(gate *Gate, baseDir string) (*DecisionWatcher, error) {
	dir := filepath.Join(baseDir, "decisions")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	w := &DecisionWatcher{
		gate:    gate,
		dir:     dir,
		watcher: watcher,
		done:    make(chan struct{}),
	}

	// Apply decisions dropped before the watcher started.
	w.sweep()

	go w.loop()
	return w, nil
}

// Dir returns the watched decisions directory.
func (w *DecisionWatcher) Dir() string {
	return w.dir
}

// Close stops the watcher.
func (w *DecisionWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

// loop consumes filesystem events until Close.
func (w *DecisionWatcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.apply(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[approval] watcher error: %v", err)
		}
	}
}

// sweep applies any decision files already present.
func (w *DecisionWatcher) sweep() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			w.apply(filepath.Join(w.dir, entry.Name()))
		}
	}
}

// apply parses a decision file and submits it to the gate. The file is
// removed whether or not the decision applies cleanly; a stale file for
// a purged request should not be re-applied forever.
func (w *DecisionWatcher) apply(path string) {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	id := strings.TrimSuffix(base, ext)
	if id == "" {
		return
	}

	var err error
	switch ext {
	case ".approve":
		err = w.gate.Approve(id)
	case ".reject":
		reason := "rejected by reviewer"
		if content, readErr := os.ReadFile(path); readErr == nil {
			if trimmed := strings.TrimSpace(string(content)); trimmed != "" {
				reason = trimmed
			}
		}
		err = w.gate.Reject(id, reason)
	default:
		return
	}

	if err != nil && !errors.Is(err, ErrAlreadyDecided) {
		log.Printf("[approval] decision file %s: %v", base, err)
	}
	os.Remove(path)
}
