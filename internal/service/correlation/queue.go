package correlation

import "visionrelay/internal/model"

// InFlightQueue is a FIFO of dispatched envelopes in ascending id order.
// It is not safe for concurrent use; the Engine guards it.
type InFlightQueue struct {
	items []model.FrameEnvelope
	head  int
}

// Len returns the number of queued envelopes.
func (q *InFlightQueue) Len() int {
	return len(q.items) - q.head
}

// Push appends an envelope. Callers push in ascending id order.
func (q *InFlightQueue) Push(env model.FrameEnvelope) {
	q.items = append(q.items, env)
}

// Front returns the oldest envelope without removing it.
func (q *InFlightQueue) Front() (model.FrameEnvelope, bool) {
	if q.Len() == 0 {
		return model.FrameEnvelope{}, false
	}
	return q.items[q.head], true
}

// Pop removes and returns the oldest envelope.
func (q *InFlightQueue) Pop() (model.FrameEnvelope, bool) {
	if q.Len() == 0 {
		return model.FrameEnvelope{}, false
	}
	env := q.items[q.head]
	q.items[q.head] = model.FrameEnvelope{}
	q.head++
	q.compact()
	return env, true
}

// IDs returns the queued ids front to back.
func (q *InFlightQueue) IDs() []model.SequenceID {
	ids := make([]model.SequenceID, 0, q.Len())
	for _, env := range q.items[q.head:] {
		ids = append(ids, env.ID)
	}
	return ids
}

// compact reclaims the popped prefix once it dominates the backing array.
func (q *InFlightQueue) compact() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head >= 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
}
