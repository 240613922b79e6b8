// ABOUTME: Sliding window that suppresses repeated decision requests for the same key
// ABOUTME: Entries expire oldest-first; capacity overflow evicts the oldest sighting

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type sighting struct {
	key string
	at  time.Time
}

// Window remembers keys for a fixed duration after their first sighting.
// A duplicate inside the window does not extend it. Safe for concurrent use.
type Window struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]*list.Element
	order      *list.List // oldest sighting at front
	suppressed int64
	now        func() time.Time
}

// NewWindow creates a window of the given duration holding at most
// maxEntries keys. A non-positive maxEntries means no limit.
func NewWindow(ttl time.Duration, maxEntries int) *Window {
	return &Window{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		now:        time.Now,
	}
}

// Observe records key and reports whether it was already seen inside the
// window. The check and the record happen under one lock.
func (w *Window) Observe(key string) (duplicate bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.expireLocked(now)

	if _, ok := w.entries[key]; ok {
		w.suppressed++
		return true
	}

	if w.maxEntries > 0 && w.order.Len() >= w.maxEntries {
		w.removeLocked(w.order.Front())
	}
	w.entries[key] = w.order.PushBack(sighting{key: key, at: now})
	return false
}

// Len returns the number of keys currently inside the window.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expireLocked(w.now())
	return w.order.Len()
}

// Suppressed returns how many duplicates Observe has reported.
func (w *Window) Suppressed() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.suppressed
}

// expireLocked drops sightings older than the window. Sightings are appended
// in time order, so it stops at the first live one.
func (w *Window) expireLocked(now time.Time) {
	for front := w.order.Front(); front != nil; front = w.order.Front() {
		if now.Sub(front.Value.(sighting).at) < w.ttl {
			return
		}
		w.removeLocked(front)
	}
}

func (w *Window) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	w.order.Remove(el)
	delete(w.entries, el.Value.(sighting).key)
}
