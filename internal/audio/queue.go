package audio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Queue is a bounded frame FIFO between the capture goroutine and the
// consumer. When full, Push evicts the oldest frame instead of blocking so a
// slow consumer can never stall the capture device. Producers without a
// hardware buffer use PushWait instead. Every pushed frame gets the next
// sequence number, so evictions show up as gaps downstream.
type Queue struct {
	mu     sync.Mutex
	ring   []Frame
	head   int
	size   int
	seq    uint64
	closed bool

	notify  chan struct{}
	space   chan struct{}
	dropped atomic.Uint64
	onDrop  func(Frame)
}

func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ring:   make([]Frame, capacity),
		notify: make(chan struct{}, 1),
		space:  make(chan struct{}, 1),
	}
}

// OnDrop registers a callback invoked with every evicted frame. Must be set
// before the producer starts.
func (q *Queue) OnDrop(fn func(Frame)) {
	q.onDrop = fn
}

// Push copies nothing: data is owned by the queue from here on.
func (q *Queue) Push(data []byte) (seq uint64, dropped bool) {
	var evicted Frame

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, false
	}

	q.seq++
	f := Frame{Seq: q.seq, Data: data, CapturedAt: time.Now()}

	if q.size == len(q.ring) {
		evicted = q.ring[q.head]
		q.ring[q.head] = Frame{}
		q.head = (q.head + 1) % len(q.ring)
		q.size--
		dropped = true
	}

	q.ring[(q.head+q.size)%len(q.ring)] = f
	q.size++
	seq = f.Seq
	q.mu.Unlock()

	if dropped {
		q.dropped.Add(1)
		if q.onDrop != nil {
			q.onDrop(evicted)
		}
	}

	select {
	case q.notify <- struct{}{}:
	default:
	}

	return seq, dropped
}

// PushWait blocks while the queue is full instead of evicting. It returns
// ErrClosed once the queue is closed.
func (q *Queue) PushWait(ctx context.Context, data []byte) (uint64, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return 0, ErrClosed
		}
		if q.size < len(q.ring) {
			q.seq++
			seq := q.seq
			q.ring[(q.head+q.size)%len(q.ring)] = Frame{Seq: seq, Data: data, CapturedAt: time.Now()}
			q.size++
			q.mu.Unlock()

			wake(q.notify)
			return seq, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-q.space:
		}
	}
}

func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Pull waits up to timeout for the oldest frame. It returns ErrEmpty on
// timeout and ErrClosed once the queue is closed and drained.
func (q *Queue) Pull(ctx context.Context, timeout time.Duration) (Frame, error) {
	var timer *time.Timer

	for {
		if f, ok, closed := q.pop(); ok {
			return f, nil
		} else if closed {
			return Frame{}, ErrClosed
		}

		if timeout <= 0 {
			return Frame{}, ErrEmpty
		}
		if timer == nil {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-timer.C:
			if f, ok, _ := q.pop(); ok {
				return f, nil
			}
			return Frame{}, ErrEmpty
		case <-q.notify:
		}
	}
}

func (q *Queue) pop() (Frame, bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return Frame{}, false, q.closed
	}

	f := q.ring[q.head]
	q.ring[q.head] = Frame{}
	q.head = (q.head + 1) % len(q.ring)
	q.size--
	wake(q.space)

	return f, true, false
}

// Close stops accepting frames. Buffered frames can still be pulled.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	wake(q.notify)
	wake(q.space)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *Queue) Cap() int {
	return len(q.ring)
}

// Dropped reports how many frames were evicted so far.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
