package state

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher is the background change detector. On a fixed interval it
// recomputes every repository's current checksum; it never touches the
// published snapshot or the checksum baseline, so hasChanged queries stay
// O(1) reads.
//
// As an acceleration, the watcher also subscribes to fsnotify events on
// each repository's .git metadata (HEAD, index, refs) and kicks an
// immediate, debounced checksum pass for that repository. Worktree edits
// that fsnotify cannot see are still caught by the interval poll.
type Watcher struct {
	registry *Registry
	interval time.Duration
	logger   *log.Logger

	fsw     *fsnotify.Watcher
	watched map[string]string // watched path -> repo root

	kickMu sync.Mutex
	kicks  map[string]time.Time // repo root -> time queued

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// kickDebounce is how long a kicked repository waits before its checksum
// pass runs, batching rapid .git updates together.
const kickDebounce = 250 * time.Millisecond

// NewWatcher creates a watcher polling the registry at the given interval.
// A nil logger falls back to a stderr logger.
func NewWatcher(registry *Registry, interval time.Duration, logger *log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[watch] ", log.LstdFlags)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		registry: registry,
		interval: interval,
		logger:   logger,
		fsw:      fsw,
		watched:  make(map[string]string),
		kicks:    make(map[string]time.Time),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start launches the poll and event loops.
func (w *Watcher) Start() {
	w.syncWatches()

	w.logger.Printf("watch started for %d repo(s), polling every %s",
		w.registry.Len(), w.interval)

	w.wg.Add(2)
	go w.pollLoop()
	go w.eventLoop()
}

// Stop cancels both loops and blocks until they exit.
func (w *Watcher) Stop() {
	w.cancel()
	_ = w.fsw.Close()
	w.wg.Wait()
	w.logger.Println("watch stopped")
}

// pollLoop recomputes every repository's checksum each interval and
// processes debounced kicks at a finer grain.
func (w *Watcher) pollLoop() {
	defer w.wg.Done()

	poll := time.NewTicker(w.interval)
	defer poll.Stop()

	kick := time.NewTicker(kickDebounce)
	defer kick.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-poll.C:
			w.syncWatches()
			for i := 0; i < w.registry.Len(); i++ {
				w.registry.UpdateChecksum(w.ctx, i)
			}

		case <-kick.C:
			w.processKicks()
		}
	}
}

// eventLoop translates .git metadata events into debounced kicks.
func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if root := w.repoRootFor(event.Name); root != "" {
				w.queueKick(root)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Printf("fsnotify error: %v", err)
		}
	}
}

// queueKick marks a repository for an early checksum pass.
func (w *Watcher) queueKick(root string) {
	w.kickMu.Lock()
	defer w.kickMu.Unlock()
	w.kicks[root] = time.Now()
}

// processKicks runs the checksum pass for repositories whose kicks have
// aged past the debounce window.
func (w *Watcher) processKicks() {
	w.kickMu.Lock()
	var due []string
	now := time.Now()
	for root, queued := range w.kicks {
		if now.Sub(queued) >= kickDebounce {
			due = append(due, root)
			delete(w.kicks, root)
		}
	}
	w.kickMu.Unlock()

	for _, root := range due {
		if idx := w.registry.IndexByPath(root); idx >= 0 {
			w.registry.UpdateChecksum(w.ctx, idx)
		}
	}
}

// repoRootFor maps a watched path back to its repository root.
func (w *Watcher) repoRootFor(path string) string {
	w.kickMu.Lock()
	defer w.kickMu.Unlock()
	for watched, root := range w.watched {
		if path == watched || filepath.Dir(path) == watched {
			return root
		}
	}
	return ""
}

// syncWatches reconciles the fsnotify watch list with the registry's
// current repository set, so bulk replacement is picked up without a
// restart. Watch failures are logged and retried next cycle.
func (w *Watcher) syncWatches() {
	want := make(map[string]string)
	for _, r := range w.registry.Repos() {
		gitDir := filepath.Join(r.Path, ".git")
		// HEAD and index change on checkout/stage; refs on commit.
		want[gitDir] = r.Path
		want[filepath.Join(gitDir, "refs", "heads")] = r.Path
	}

	w.kickMu.Lock()
	defer w.kickMu.Unlock()

	for path := range w.watched {
		if _, ok := want[path]; !ok {
			_ = w.fsw.Remove(path)
			delete(w.watched, path)
		}
	}
	for path, root := range want {
		if _, ok := w.watched[path]; ok {
			continue
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Printf("watch %s: %v", path, err)
			continue
		}
		w.watched[path] = root
	}
}
