// Package prompts loads LLM prompt templates from a directory so phrasing
// changes need no code edit. Every template ships with a compiled-in default;
// a file named <key>.txt in the prompt dir overrides it and is hot-reloaded
// on change via fsnotify.
package prompts

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Library resolves template keys to text. Safe for concurrent use.
type Library struct {
	dir string

	mu        sync.RWMutex
	overrides map[string]string

	watcher *fsnotify.Watcher
}

// NewLibrary loads every *.txt file in dir (key = file name without
// extension) and starts watching for changes. A missing dir is fine: all
// templates fall back to defaults.
func NewLibrary(dir string) *Library {
	l := &Library{dir: dir, overrides: map[string]string{}}
	if dir == "" {
		return l
	}
	l.loadAll()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("prompt watcher unavailable", "error", err)
		return l
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return l
	}
	l.watcher = w
	go l.watch()
	return l
}

func (l *Library) loadAll() {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		l.loadFile(filepath.Join(l.dir, e.Name()))
	}
}

func (l *Library) loadFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	key := strings.TrimSuffix(filepath.Base(path), ".txt")
	l.mu.Lock()
	l.overrides[key] = string(data)
	l.mu.Unlock()
}

func (l *Library) watch() {
	for {
		select {
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 && strings.HasSuffix(ev.Name, ".txt") {
				l.loadFile(ev.Name)
				slog.Info("prompt template reloaded", "file", filepath.Base(ev.Name))
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("prompt watcher error", "error", err)
		}
	}
}

// Close stops the file watcher.
func (l *Library) Close() {
	if l.watcher != nil {
		l.watcher.Close()
	}
}

// Get returns the template for key: the file override when present, else the
// supplied default.
func (l *Library) Get(key, fallback string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if t, ok := l.overrides[key]; ok && strings.TrimSpace(t) != "" {
		return t
	}
	return fallback
}

// Render substitutes {placeholder} occurrences in the resolved template.
func (l *Library) Render(key, fallback string, vars map[string]string) string {
	out := l.Get(key, fallback)
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return strings.TrimSpace(out)
}
