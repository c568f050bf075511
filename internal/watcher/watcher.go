// Package watcher observes tracked files and reports debounced changes.
//
// Files are watched through their parent directory: one fsnotify watch per
// directory, reference counted across the tracked files inside it, with
// events filtered down to tracked names. Each tracked path has its own
// debounce timer; every raw event resets it, and when it fires the handler
// is called once with a coalesced event kind.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	fwerrors "github.com/conneroisu/fwatch/internal/errors"
	"github.com/conneroisu/fwatch/internal/logging"
	"github.com/conneroisu/fwatch/internal/types"
)

// State is the lifecycle state of a tracked path.
type State int

const (
	// StateActive means the file exists and changes are reported.
	StateActive State = iota
	// StatePending means the file is missing; recreating it reports Created.
	StatePending
	// StateRemoved means the path was untracked. It is terminal.
	StateRemoved
)

// String returns the string representation of the State
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StatePending:
		return "pending"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// maxWaitFactor bounds how long a path that keeps changing can go without
// an event, as a multiple of the debounce delay.
const maxWaitFactor = 10

// Handler receives debounced events. Calls for different paths may run
// concurrently; calls for one path never overlap.
type Handler func(ctx context.Context, ev types.Event)

// FileWatcher watches individual files with per-path debouncing.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	delay   time.Duration
	handler Handler
	logger  logging.Logger
	errs    *fwerrors.Handler

	mutex   sync.RWMutex
	entries map[string]*entry
	dirs    map[string]*dirWatch

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// dirWatch is the fsnotify subscription shared by the tracked files of one
// directory. watched is false once the directory itself was removed or
// renamed; the next Track in it subscribes again.
type dirWatch struct {
	refs    int
	watched bool
}

// entry is the per-path state. mu guards the debounce fields and is only
// held briefly; dispatchMu is held for the whole handler call so Untrack can
// wait for an in-flight dispatch.
type entry struct {
	path string

	dispatchMu sync.Mutex

	mu      sync.Mutex
	state   State
	timer   *time.Timer
	first   time.Time
	created bool
	renamed bool
}

// NewFileWatcher creates a watcher that reports to handler after delay of
// quiet per path.
func NewFileWatcher(delay time.Duration, handler Handler, logger logging.Logger) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fwerrors.NewIOError(fwerrors.ErrCodeInternalError, "initialize file watcher", err)
	}

	logger = logger.WithComponent("watcher")
	ctx, cancel := context.WithCancel(context.Background())

	return &FileWatcher{
		watcher: w,
		delay:   delay,
		handler: handler,
		logger:  logger,
		errs:    fwerrors.NewHandler(logger),
		entries: make(map[string]*entry),
		dirs:    make(map[string]*dirWatch),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Track starts watching path, which must be absolute and clean. Tracking
// an already tracked path only renews a directory subscription that was
// lost. A missing file is tracked in the pending state; its parent
// directory must exist.
func (fw *FileWatcher) Track(path string) error {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()

	dir := filepath.Dir(path)
	if _, ok := fw.entries[path]; ok {
		return fw.watchDir(dir)
	}

	d, ok := fw.dirs[dir]
	if !ok {
		d = &dirWatch{}
		fw.dirs[dir] = d
	}
	if err := fw.watchDir(dir); err != nil {
		if d.refs == 0 {
			delete(fw.dirs, dir)
		}
		return err
	}
	d.refs++

	e := &entry{path: path, state: StateActive}
	if _, err := os.Stat(path); err != nil {
		e.state = StatePending
	}
	fw.entries[path] = e

	fw.logger.Debug(fw.ctx, "Tracking file", "path", path, "state", e.state.String())
	return nil
}

// Untrack stops watching path. It returns once any in-flight handler call
// for path has finished, and no later event for path reaches the handler.
func (fw *FileWatcher) Untrack(path string) error {
	fw.mutex.Lock()
	e, ok := fw.entries[path]
	if !ok {
		fw.mutex.Unlock()
		return fwerrors.ErrPathNotTracked(path)
	}
	delete(fw.entries, path)
	fw.release(filepath.Dir(path))
	fw.mutex.Unlock()

	e.dispatchMu.Lock()
	e.remove()
	e.dispatchMu.Unlock()

	fw.logger.Debug(fw.ctx, "Untracked file", "path", path)
	return nil
}

// watchDir subscribes to dir unless it already is. Entries that were
// tracked while the subscription was lost are rechecked, since their files
// may have been recreated unseen. Must be called with fw.mutex held.
func (fw *FileWatcher) watchDir(dir string) error {
	d := fw.dirs[dir]
	if d == nil || d.watched {
		return nil
	}
	if err := fw.watcher.Add(dir); err != nil {
		return fwerrors.WrapIO(err, fwerrors.ErrCodeReadFailed, dir, "watch directory")
	}
	d.watched = true

	if d.refs > 0 {
		fw.logger.Info(fw.ctx, "Directory watch restored", "dir", dir)
		for _, e := range fw.entriesIn(dir) {
			e.mu.Lock()
			fw.schedule(e)
			e.mu.Unlock()
		}
	}
	return nil
}

// release drops one reference on dir. Must be called with fw.mutex held.
func (fw *FileWatcher) release(dir string) {
	d := fw.dirs[dir]
	if d == nil {
		return
	}
	d.refs--
	if d.refs > 0 {
		return
	}
	delete(fw.dirs, dir)
	if !d.watched {
		return
	}
	// The watch is already gone if the directory itself was removed.
	if err := fw.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		fw.logger.Warn(fw.ctx, err, "Failed to remove directory watch", "dir", dir)
	}
}

// dirGone handles the removal or rename of a watched directory itself.
// fsnotify drops the watch of a removed directory; a renamed one would
// follow the directory, so it is dropped here. Every entry in it is
// rechecked and goes pending. It reports whether path was a watched
// directory.
func (fw *FileWatcher) dirGone(path string, renamed bool) bool {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()

	d, ok := fw.dirs[path]
	if !ok || !d.watched {
		return false
	}
	d.watched = false
	if renamed {
		if err := fw.watcher.Remove(path); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			fw.logger.Warn(fw.ctx, err, "Failed to remove directory watch", "dir", path)
		}
	}
	fw.logger.Warn(fw.ctx, nil, "Watched directory disappeared; track a file in it again to resume", "dir", path)

	for _, e := range fw.entriesIn(path) {
		e.mu.Lock()
		if e.state != StateRemoved {
			fw.schedule(e)
		}
		e.mu.Unlock()
	}
	return true
}

// entriesIn returns the entries whose parent is dir. Must be called with
// fw.mutex held.
func (fw *FileWatcher) entriesIn(dir string) []*entry {
	var out []*entry
	for p, e := range fw.entries {
		if filepath.Dir(p) == dir {
			out = append(out, e)
		}
	}
	return out
}

// State returns the state of path.
func (fw *FileWatcher) State(path string) (State, bool) {
	fw.mutex.RLock()
	e, ok := fw.entries[path]
	fw.mutex.RUnlock()
	if !ok {
		return StateRemoved, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

// States returns the state of every tracked path.
func (fw *FileWatcher) States() map[string]State {
	fw.mutex.RLock()
	entries := make([]*entry, 0, len(fw.entries))
	for _, e := range fw.entries {
		entries = append(entries, e)
	}
	fw.mutex.RUnlock()

	states := make(map[string]State, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		states[e.path] = e.state
		e.mu.Unlock()
	}
	return states
}

// Paths returns the tracked paths in order.
func (fw *FileWatcher) Paths() []string {
	fw.mutex.RLock()
	defer fw.mutex.RUnlock()

	paths := make([]string, 0, len(fw.entries))
	for p := range fw.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Start runs the event loop until ctx is cancelled or Stop is called.
// Handler calls receive a context derived from ctx.
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()

	if fw.done != nil {
		return fmt.Errorf("watcher already started")
	}

	fw.cancel()
	fw.ctx, fw.cancel = context.WithCancel(ctx)
	fw.done = make(chan struct{})

	go fw.watchLoop(fw.ctx, fw.done)
	return nil
}

// Stop ends the event loop, waits for in-flight handler calls and releases
// the fsnotify watcher. No handler call starts after Stop returns.
func (fw *FileWatcher) Stop() error {
	fw.mutex.Lock()
	fw.cancel()
	done := fw.done
	entries := fw.entries
	fw.entries = make(map[string]*entry)
	fw.dirs = make(map[string]*dirWatch)
	fw.mutex.Unlock()

	err := fw.watcher.Close()
	if done != nil {
		<-done
	}

	for _, e := range entries {
		e.dispatchMu.Lock()
		e.remove()
		e.dispatchMu.Unlock()
	}

	return err
}

func (fw *FileWatcher) watchLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			// Log error but continue watching
			fw.errs.Handle(ctx, fwerrors.NewIOError(fwerrors.ErrCodeReadFailed, "file watcher error", err))
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	// Attribute changes alone do not change content.
	if event.Op == fsnotify.Chmod {
		return
	}

	path := filepath.Clean(event.Name)
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		if fw.dirGone(path, event.Has(fsnotify.Rename)) {
			return
		}
	}

	fw.mutex.RLock()
	e, ok := fw.entries[path]
	fw.mutex.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateRemoved {
		return
	}
	if event.Has(fsnotify.Create) {
		e.created = true
	}
	if event.Has(fsnotify.Rename) {
		e.renamed = true
	}
	fw.schedule(e)
}

// schedule (re)arms the debounce timer of e. A path that keeps changing
// still fires once maxWaitFactor delays have passed since its first
// unreported event. Must be called with e.mu held.
func (fw *FileWatcher) schedule(e *entry) {
	now := time.Now()
	if e.first.IsZero() {
		e.first = now
	}

	wait := fw.delay
	if deadline := e.first.Add(maxWaitFactor * fw.delay); now.Add(wait).After(deadline) {
		wait = deadline.Sub(now)
		if wait < 0 {
			wait = 0
		}
	}

	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(wait, func() { fw.fire(e) })
}

// fire runs when path has been quiet for the debounce delay.
func (fw *FileWatcher) fire(e *entry) {
	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()

	kind, ok := e.coalesce()
	if !ok {
		return
	}

	fw.mutex.RLock()
	ctx := fw.ctx
	fw.mutex.RUnlock()
	if ctx.Err() != nil {
		return
	}

	ev := types.Event{Kind: kind, Path: e.path, Time: time.Now()}
	fw.logger.Debug(ctx, "File changed", "path", e.path, "event", kind.String())
	fw.dispatch(ctx, ev)
}

func (fw *FileWatcher) dispatch(ctx context.Context, ev types.Event) {
	defer func() {
		if r := recover(); r != nil {
			fw.errs.Handle(ctx, fwerrors.Recover(r).WithPath(ev.Path), "event", ev.Kind.String())
		}
	}()

	fw.handler(ctx, ev)
}

// coalesce turns the raw events seen since the last dispatch into one event
// kind and advances the state machine. ok is false when there is nothing to
// report.
func (e *entry) coalesce() (kind types.EventKind, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateRemoved {
		return 0, false
	}

	created, renamed := e.created, e.renamed
	e.created, e.renamed = false, false
	e.timer = nil
	e.first = time.Time{}

	if _, err := os.Stat(e.path); err != nil {
		if e.state == StatePending {
			return 0, false
		}
		e.state = StatePending
		if renamed {
			return types.EventRenamed, true
		}
		return types.EventDeleted, true
	}

	if e.state == StatePending || created {
		e.state = StateActive
		return types.EventCreated, true
	}
	return types.EventModified, true
}

func (e *entry) remove() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = StateRemoved
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
