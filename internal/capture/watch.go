package capture

import "sync"

// Watch holds the latest value of T and wakes waiters when it changes.
// A waiter only sees changes made after it called Changed.
type Watch[T any] struct {
	mu  sync.Mutex
	val T
	set bool
	ch  chan struct{}
}

// NewWatch creates an empty watch.
func NewWatch[T any]() *Watch[T] {
	return &Watch[T]{ch: make(chan struct{})}
}

// Set stores v and wakes every current waiter.
func (w *Watch[T]) Set(v T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.val = v
	w.set = true
	close(w.ch)
	w.ch = make(chan struct{})
}

// Load returns the latest value and whether one was ever set.
func (w *Watch[T]) Load() (T, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.val, w.set
}

// Changed returns a channel closed by the next Set.
func (w *Watch[T]) Changed() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ch
}
