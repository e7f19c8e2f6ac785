package bookledger

import "sync"

// Disposer collects teardown functions and runs them once, newest first.
type Disposer struct {
	mu       sync.Mutex
	fns      []func()
	disposed bool
}

// NewDisposer creates an empty disposer.
func NewDisposer() *Disposer {
	return &Disposer{}
}

// Add registers fn. A nil fn is ignored. Adding to a disposed Disposer runs fn immediately.
func (d *Disposer) Add(fn func()) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		fn()
		return
	}
	d.fns = append(d.fns, fn)
	d.mu.Unlock()
}

// AddSubscription registers sub.Unsubscribe.
func (d *Disposer) AddSubscription(sub Subscription) {
	if sub == nil {
		return
	}
	d.Add(sub.Unsubscribe)
}

// Len returns the number of pending teardown functions.
func (d *Disposer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fns)
}

// Dispose runs every registered function in reverse order. Later calls are no-ops.
func (d *Disposer) Dispose() {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	d.disposed = true
	fns := d.fns
	d.fns = nil
	d.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}
