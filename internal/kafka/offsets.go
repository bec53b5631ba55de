package kafka

import (
	"sync"

	"github.com/segmentio/kafka-go"
)

// offsetTracker finds, per partition, the highest offset below which every
// fetched message has been handled. Lanes finish out of order, so only that
// watermark may be committed.
type offsetTracker struct {
	mu    sync.Mutex
	parts map[int]*partitionOffsets
}

type partitionOffsets struct {
	inflight []kafka.Message // fetch order
	done     map[int64]bool
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{parts: map[int]*partitionOffsets{}}
}

func (t *offsetTracker) fetched(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.parts[m.Partition]
	if ok && len(p.inflight) > 0 && m.Offset <= p.inflight[len(p.inflight)-1].Offset {
		// the reader rewound (rebalance); older state no longer applies
		ok = false
	}
	if !ok {
		p = &partitionOffsets{done: map[int64]bool{}}
		t.parts[m.Partition] = p
	}
	p.inflight = append(p.inflight, m)
}

// handled marks m done and returns the message to commit, if the watermark
// moved.
func (t *offsetTracker) handled(m kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.parts[m.Partition]
	if !ok {
		return kafka.Message{}, false
	}
	p.done[m.Offset] = true

	var last kafka.Message
	n := 0
	for n < len(p.inflight) && p.done[p.inflight[n].Offset] {
		last = p.inflight[n]
		delete(p.done, last.Offset)
		n++
	}
	if n == 0 {
		return kafka.Message{}, false
	}
	p.inflight = p.inflight[n:]
	return last, true
}
