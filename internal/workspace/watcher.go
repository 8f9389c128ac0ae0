package workspace

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the workspace data directory and reports changes to
// the files that feed prompt assembly (spec, tasks, project metadata,
// learnings). Events are debounced so a burst of writes produces one
// notification.
type Watcher struct {
	workspaceRoot string
	watcher       *fsnotify.Watcher
	onChange      func([]string) // Callback with changed paths relative to the data dir
	debounceTime  time.Duration

	mu            sync.Mutex
	pendingEvents map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher for one workspace.
func NewWatcher(workspaceRoot string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		workspaceRoot: workspaceRoot,
		watcher:       fsw,
		debounceTime:  500 * time.Millisecond,
		pendingEvents: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// OnChange sets the callback invoked with a batch of changed paths.
func (w *Watcher) OnChange(callback func([]string)) {
	w.onChange = callback
}

// Start begins watching the data directory tree. Missing directories
// are not an error; they are picked up when created under a watched
// parent.
func (w *Watcher) Start() error {
	root := filepath.Join(w.workspaceRoot, dataDir)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		// Watch the workspace root so we notice the data dir appearing.
		if err := w.watcher.Add(w.workspaceRoot); err != nil {
			return fmt.Errorf("failed to watch %s: %w", w.workspaceRoot, err)
		}
	} else {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if err := w.watcher.Add(path); err != nil {
					log.Printf("failed to watch %s: %v", path, err)
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to walk data dir: %w", err)
		}
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()

	return nil
}

// Stop stops the watcher and waits for its goroutines.
func (w *Watcher) Stop() error {
	w.cancel()
	w.wg.Wait()
	return w.watcher.Close()
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	relPath, err := filepath.Rel(filepath.Join(w.workspaceRoot, dataDir), event.Name)
	if err != nil || relPath == ".." || filepath.IsAbs(relPath) {
		return
	}
	// Paths outside the data dir start with "..": the only one we care
	// about is the data dir itself being created.
	if len(relPath) >= 2 && relPath[:2] == ".." {
		if filepath.Base(event.Name) == dataDir && event.Has(fsnotify.Create) {
			if err := w.watcher.Add(event.Name); err != nil {
				log.Printf("failed to watch new data dir %s: %v", event.Name, err)
			}
		}
		return
	}

	if event.Has(fsnotify.Create) {
		info, err := os.Stat(event.Name)
		if err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				log.Printf("failed to watch new directory %s: %v", event.Name, err)
			}
			return
		}
	}

	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.mu.Lock()
		w.pendingEvents[relPath] = true
		w.mu.Unlock()
	}
}

func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounceTime)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flushPendingEvents()
		}
	}
}

func (w *Watcher) flushPendingEvents() {
	w.mu.Lock()
	if len(w.pendingEvents) == 0 {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pendingEvents))
	for path := range w.pendingEvents {
		paths = append(paths, path)
	}
	w.pendingEvents = make(map[string]bool)
	w.mu.Unlock()

	if w.onChange != nil {
		w.onChange(paths)
	}
}
