// Package watch provides an observable value with disposable watchers.
package watch

import "sync"

// Value holds the latest value of T and notifies watchers on every Set.
// Watchers are called synchronously, in registration order, outside the lock.
type Value[T any] struct {
	mu       sync.Mutex
	v        T
	nextId   int
	watchers map[int]func(T)
	order    []int
}

func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		v:        initial,
		watchers: make(map[int]func(T)),
	}
}

func (w *Value[T]) Get() T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.v
}

// Set stores v and notifies watchers with it.
func (w *Value[T]) Set(v T) {
	w.mu.Lock()
	w.v = v
	fns := w.snapshot()
	w.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Watch registers fn and returns a function that removes it. The returned
// function is safe to call more than once.
func (w *Value[T]) Watch(fn func(T)) (cancel func()) {
	w.mu.Lock()
	id := w.nextId
	w.nextId++
	w.watchers[id] = fn
	w.order = append(w.order, id)
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.watchers, id)
			for i, v := range w.order {
				if v == id {
					w.order = append(w.order[:i], w.order[i+1:]...)
					break
				}
			}
			w.mu.Unlock()
		})
	}
}

func (w *Value[T]) snapshot() []func(T) {
	out := make([]func(T), 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.watchers[id])
	}
	return out
}
