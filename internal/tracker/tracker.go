// Package tracker enforces at most one active crawl execution per job and
// keeps the operator's id sets
package tracker

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrAlreadyRunning is returned by TryStart when the job already has a handle
var ErrAlreadyRunning = errors.New("execution already running")

// Handle is the cancellable context of one crawl execution
type Handle struct {
	id      int64
	ctx     context.Context
	cancel  context.CancelFunc
	tracker *Tracker

	mu      sync.Mutex
	stopped bool
	once    sync.Once
}

// ID returns the job id of the execution
func (h *Handle) ID() int64 {
	return h.id
}

// Context is cancelled when the execution is stopped or its parent ends
func (h *Handle) Context() context.Context {
	return h.ctx
}

// Stopped reports whether Cancel was called for this execution
func (h *Handle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// Done releases the handle. It is safe to call more than once and never
// removes a newer handle registered for the same id.
func (h *Handle) Done() {
	h.once.Do(func() {
		h.tracker.release(h)
		h.cancel()
	})
}

func (h *Handle) stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	h.cancel()
}

// Tracker maps job ids to their live execution handle
type Tracker struct {
	mu       sync.Mutex
	handles  map[int64]*Handle
	onChange func(active int)
}

// New creates an empty tracker
func New() *Tracker {
	return &Tracker{handles: make(map[int64]*Handle)}
}

// OnChange registers a callback invoked with the active count after every change
func (t *Tracker) OnChange(fn func(active int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// TryStart registers a new execution for id. The check and the insert happen
// under one lock, so concurrent callers for the same id get exactly one handle.
func (t *Tracker) TryStart(parent context.Context, id int64) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.handles[id]; exists {
		return nil, ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(parent)
	h := &Handle{id: id, ctx: ctx, cancel: cancel, tracker: t}
	t.handles[id] = h
	t.notifyLocked()
	return h, nil
}

// Cancel signals the execution for id to stop and leaves the handle in place
// for its finalizer. It reports whether there was anything to stop.
func (t *Tracker) Cancel(id int64) bool {
	t.mu.Lock()
	h, ok := t.handles[id]
	t.mu.Unlock()

	if !ok {
		return false
	}
	h.stop()
	return true
}

// Finish removes the handle for id if one exists
func (t *Tracker) Finish(id int64) {
	t.mu.Lock()
	h, ok := t.handles[id]
	if ok {
		delete(t.handles, id)
		t.notifyLocked()
	}
	t.mu.Unlock()

	if ok {
		h.cancel()
	}
}

// IsActive reports whether id has a live handle
func (t *Tracker) IsActive(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.handles[id]
	return ok
}

// Active returns the ids with a live handle in ascending order
func (t *Tracker) Active() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]int64, 0, len(t.handles))
	for id := range t.handles {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of live handles
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

func (t *Tracker) release(h *Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.handles[h.id]; ok && current == h {
		delete(t.handles, h.id)
		t.notifyLocked()
	}
}

func (t *Tracker) notifyLocked() {
	if t.onChange != nil {
		t.onChange(len(t.handles))
	}
}
