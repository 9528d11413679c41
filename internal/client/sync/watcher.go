package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	// stabilityThreshold coalesces the burst of write events the OS emits
	// while a file is still being written.
	stabilityThreshold = 100 * time.Millisecond

	defaultIgnoreTimeout   = time.Second
	defaultCleanupInterval = 15 * time.Second
	eventBufferSize        = 64
)

// EventOp classifies a watcher event after coalescing.
type EventOp int

const (
	OpChanged EventOp = iota
	OpAdded
	OpRemoved
)

func (op EventOp) String() string {
	switch op {
	case OpChanged:
		return "changed"
	case OpAdded:
		return "added"
	case OpRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is one stabilized filesystem event.
type Event struct {
	Path string
	Op   EventOp
}

// FilterCallback returns true if the event should be filtered out.
type FilterCallback func(path string) bool

// Watcher wraps a recursive filesystem watch with per-path stability
// debouncing and a short-lived ignore list for self-inflicted writes.
type Watcher struct {
	watchDir        string
	events          chan Event
	rawEvents       chan notify.EventInfo
	ignore          map[string]time.Time
	ignoreMu        sync.RWMutex
	cleanupInterval time.Duration
	done            chan struct{}
	wg              sync.WaitGroup

	pendingEvents map[string]Event
	eventTimers   map[string]*time.Timer
	debounceMu    sync.Mutex

	ignoreCallback FilterCallback
	callbackMu     sync.RWMutex
}

func NewWatcher(watchDir string) *Watcher {
	return &Watcher{
		watchDir:        watchDir,
		ignore:          make(map[string]time.Time),
		cleanupInterval: defaultCleanupInterval,
		done:            make(chan struct{}),
		pendingEvents:   make(map[string]Event),
		eventTimers:     make(map[string]*time.Timer),
	}
}

// FilterPaths sets a callback to drop raw events before debouncing.
func (w *Watcher) FilterPaths(callback FilterCallback) {
	w.callbackMu.Lock()
	defer w.callbackMu.Unlock()
	w.ignoreCallback = callback
}

func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("file watcher start", "dir", w.watchDir)

	w.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	w.events = make(chan Event, eventBufferSize)

	recursivePath := w.watchDir + "/..."
	if err := notify.Watch(recursivePath, w.rawEvents, notify.Create, notify.Write, notify.Remove, notify.Rename); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.filterEvents(ctx)

	w.wg.Add(1)
	go w.cleanupExpiredEntries(ctx)

	return nil
}

func (w *Watcher) Stop() {
	slog.Info("file watcher stopping")

	close(w.done)

	if w.rawEvents != nil {
		notify.Stop(w.rawEvents)
	}

	w.wg.Wait()
	slog.Info("file watcher stopped")
}

func (w *Watcher) Events() <-chan Event {
	return w.events
}

// IgnoreOnce drops the next event for path within the default window.
func (w *Watcher) IgnoreOnce(path string) {
	w.IgnoreOnceWithTimeout(path, defaultIgnoreTimeout)
}

func (w *Watcher) IgnoreOnceWithTimeout(path string, timeout time.Duration) {
	w.ignoreMu.Lock()
	defer w.ignoreMu.Unlock()
	w.ignore[path] = time.Now().Add(timeout)
}

func (w *Watcher) isPathTemporarilyIgnored(path string) bool {
	w.ignoreMu.Lock()
	defer w.ignoreMu.Unlock()

	expiry, exists := w.ignore[path]
	if !exists {
		return false
	}

	delete(w.ignore, path)
	return !time.Now().After(expiry)
}

func (w *Watcher) filterEvents(ctx context.Context) {
	defer func() {
		slog.Debug("file watcher filter events done")

		w.debounceMu.Lock()
		for path, timer := range w.eventTimers {
			timer.Stop()
			if event, exists := w.pendingEvents[path]; exists {
				select {
				case w.events <- event:
				default:
					slog.Warn("file watcher channel full during exit, dropping event", "path", path)
				}
			}
		}
		// clear under the lock so a late timer callback finds nothing to flush
		w.pendingEvents = make(map[string]Event)
		w.eventTimers = make(map[string]*time.Timer)
		w.debounceMu.Unlock()

		w.wg.Done()
		close(w.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.rawEvents:
			if !ok {
				return
			}

			w.callbackMu.RLock()
			cb := w.ignoreCallback
			w.callbackMu.RUnlock()
			if cb != nil && cb(event.Path()) {
				continue
			}

			w.debounceEvent(toEvent(event))
		}
	}
}

func toEvent(ei notify.EventInfo) Event {
	switch ei.Event() {
	case notify.Create:
		return Event{Path: ei.Path(), Op: OpAdded}
	case notify.Remove, notify.Rename:
		// a rename leaves the old path behind, treated as a removal
		return Event{Path: ei.Path(), Op: OpRemoved}
	default:
		return Event{Path: ei.Path(), Op: OpChanged}
	}
}

// debounceEvent restarts the stability timer for the event's path. The last
// op within the window wins, except a create followed by writes stays an add.
func (w *Watcher) debounceEvent(event Event) {
	path := event.Path

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.eventTimers[path]; exists {
		timer.Stop()
		delete(w.eventTimers, path)
	}

	if prev, exists := w.pendingEvents[path]; exists && prev.Op == OpAdded && event.Op == OpChanged {
		event.Op = OpAdded
	}
	w.pendingEvents[path] = event

	timer := time.AfterFunc(stabilityThreshold, func() {
		w.flushEvent(path)
	})
	w.eventTimers[path] = timer
}

func (w *Watcher) flushEvent(path string) {
	w.debounceMu.Lock()
	event, exists := w.pendingEvents[path]
	if !exists {
		w.debounceMu.Unlock()
		return
	}

	delete(w.pendingEvents, path)
	delete(w.eventTimers, path)
	w.debounceMu.Unlock()

	if w.isPathTemporarilyIgnored(path) {
		return
	}

	select {
	case w.events <- event:
		slog.Debug("file watcher", "op", event.Op, "path", path)
	default:
		slog.Warn("file watcher dropped", "reason", "channel full", "path", path)
	}
}

func (w *Watcher) cleanupExpiredEntries(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.ignoreMu.Lock()
			now := time.Now()
			for path, expiry := range w.ignore {
				if now.After(expiry) {
					delete(w.ignore, path)
				}
			}
			w.ignoreMu.Unlock()
		}
	}
}
