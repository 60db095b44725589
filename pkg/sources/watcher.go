// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sources

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher monitors an inbox directory and emits paths of files that are
// ready to ingest. Writes are debounced so a file being copied in does
// not fire once per chunk, and editor temp files are ignored.
type Watcher struct {
	dir      string
	debounce time.Duration
	events   chan string
	fw       *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
}

// NewWatcher watches dir and all existing subdirectories. Directories
// created later are picked up automatically.
func NewWatcher(dir string, debounce time.Duration) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("watch dir is required")
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		dir:      dir,
		debounce: debounce,
		events:   make(chan string, 256),
		fw:       fw,
		pending:  map[string]*time.Timer{},
	}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	go w.loop()
	return w, nil
}

// Events returns the channel of ready file paths.
func (w *Watcher) Events() <-chan string { return w.events }

// Scan emits every regular file already present in the inbox. Called
// once at startup so files dropped while the service was down are not
// missed.
func (w *Watcher) Scan() error {
	return filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || skipFile(path) {
			return nil
		}
		w.emit(path)
		return nil
	})
}

// Close stops the watcher. Pending debounce timers are cancelled; the
// events channel stays open but receives nothing further.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
	return w.fw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			slog.Warn("Inbox watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if ev.Op&fsnotify.Create != 0 {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := w.fw.Add(ev.Name); err != nil {
				slog.Warn("Failed to watch new directory", "path", ev.Name, "error", err)
			}
			return
		}
	}
	if skipFile(ev.Name) {
		return
	}

	// Debounce: restart the timer on every event for the same path and
	// emit only after the file has been quiet for the full interval.
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.pending[ev.Name]; ok {
		t.Stop()
	}
	path := ev.Name
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		closed := w.closed
		w.mu.Unlock()
		if closed {
			return
		}
		w.emit(path)
	})
}

func (w *Watcher) emit(path string) {
	select {
	case w.events <- path:
	default:
		slog.Warn("Inbox queue full, dropping event", "path", path)
	}
}

// skipFile filters out hidden files and the temp names editors and
// browsers use while writing.
func skipFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return true
	}
	switch ext(base) {
	case "tmp", "part", "swp", "crdownload":
		return true
	}
	return false
}
