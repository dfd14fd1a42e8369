package core

import "sync"

type admission int

const (
	admitted admission = iota
	admitDraining
	admitDuplicateInFlight
	admitDuplicateDone
)

// inflight tracks accepted invocations so drain can wait deterministically.
// It also remembers recently completed request keys for best-effort
// duplicate suppression. Duplicates of a running request are parked on its
// key and handed back to the caller when the original is released.
type inflight struct {
	mu       sync.Mutex
	n        int
	draining bool
	idle     chan struct{}
	closed   bool
	active   map[string][]Message
	recent   *recentKeys
}

func newInflight(recentSize int) *inflight {
	return &inflight{
		idle:   make(chan struct{}),
		active: make(map[string][]Message),
		recent: newRecentKeys(recentSize),
	}
}

// acquire admits the delivery msg under key. When key is already running,
// msg is parked and admitDuplicateInFlight returned.
func (t *inflight) acquire(key string, msg Message) admission {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.draining {
		return admitDraining
	}
	if key != "" {
		if parked, ok := t.active[key]; ok {
			t.active[key] = append(parked, msg)
			return admitDuplicateInFlight
		}
		if t.recent.contains(key) {
			return admitDuplicateDone
		}
		t.active[key] = nil
	}
	t.n++
	return admitted
}

// release ends the invocation under key and returns the duplicates parked
// behind it. The caller settles them outside the lock.
func (t *inflight) release(key string, completed bool) []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.n--
	var parked []Message
	if key != "" {
		parked = t.active[key]
		delete(t.active, key)
		if completed {
			t.recent.add(key)
		}
	}
	t.closeIdleLocked()
	return parked
}

// drain stops admissions and returns a channel closed once nothing is in flight.
func (t *inflight) drain() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.draining = true
	t.closeIdleLocked()
	return t.idle
}

func (t *inflight) closeIdleLocked() {
	if t.draining && t.n == 0 && !t.closed {
		t.closed = true
		close(t.idle)
	}
}

func (t *inflight) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

// recentKeys is a fixed-size FIFO set.
type recentKeys struct {
	set  map[string]struct{}
	ring []string
	next int
}

func newRecentKeys(size int) *recentKeys {
	if size < 0 {
		size = 0
	}
	return &recentKeys{set: make(map[string]struct{}, size), ring: make([]string, size)}
}

func (r *recentKeys) contains(key string) bool {
	_, ok := r.set[key]
	return ok
}

func (r *recentKeys) add(key string) {
	if len(r.ring) == 0 || r.contains(key) {
		return
	}
	if old := r.ring[r.next]; old != "" {
		delete(r.set, old)
	}
	r.ring[r.next] = key
	r.set[key] = struct{}{}
	r.next = (r.next + 1) % len(r.ring)
}
