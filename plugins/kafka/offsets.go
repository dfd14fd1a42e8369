package kafka

import "sync"

// offsetTracker decides which offsets can be committed when messages finish
// out of order. A partition's commit point only advances over a contiguous
// run of completed offsets, so nothing is committed past an unfinished message.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[int]*partitionOffsets
}

type partitionOffsets struct {
	pending []int64 // fetched and not yet committed, ascending
	done    map[int64]bool
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[int]*partitionOffsets)}
}

// track records a fetched offset. Offsets arrive in ascending order per partition.
func (t *offsetTracker) track(partition int, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.partitions[partition]
	if !ok {
		p = &partitionOffsets{done: make(map[int64]bool)}
		t.partitions[partition] = p
	}
	p.pending = append(p.pending, offset)
}

// complete marks offset finished and returns the highest offset that may now
// be committed, if the commit point moved.
func (t *offsetTracker) complete(partition int, offset int64) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.partitions[partition]
	if !ok {
		return 0, false
	}
	p.done[offset] = true

	var last int64
	advanced := false
	for len(p.pending) > 0 && p.done[p.pending[0]] {
		last = p.pending[0]
		delete(p.done, last)
		p.pending = p.pending[1:]
		advanced = true
	}
	return last, advanced
}
