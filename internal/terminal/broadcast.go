package terminal

import (
	"errors"
	"sync"
	"sync/atomic"
)

// outputChannelSize is the per-subscriber buffer. A subscriber that
// falls more than this many chunks behind starts losing output.
const outputChannelSize = 64

// ErrBroadcastClosed is returned by publish once the fanout is torn
// down or the last subscriber is gone.
var ErrBroadcastClosed = errors.New("terminal output closed")

// Subscription is one receiver of terminal output. It observes every
// chunk published after it was created, in order, minus any chunks
// dropped while its buffer was full.
type Subscription struct {
	ch     chan []byte
	lagged atomic.Uint64
	b      *broadcast
}

// Ch returns the output channel. It is closed when the terminal shuts
// down; a nil receive means no more output will ever arrive.
func (s *Subscription) Ch() <-chan []byte {
	return s.ch
}

// Lagged reports how many chunks were dropped since the last call and
// resets the counter.
func (s *Subscription) Lagged() uint64 {
	return s.lagged.Swap(0)
}

// Cancel detaches the subscription. The channel is left open; it stops
// filling and is closed whenever the terminal itself shuts down.
func (s *Subscription) Cancel() {
	s.b.remove(s)
}

// broadcast fans terminal output out to all current subscriptions.
// Publishing never blocks: a full subscriber just misses the chunk.
type broadcast struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func newBroadcast() *broadcast {
	return &broadcast{
		subs: make(map[*Subscription]struct{}),
	}
}

func (b *broadcast) subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		ch: make(chan []byte, outputChannelSize),
		b:  b,
	}
	if b.closed {
		// Late subscriber to a dead terminal: hand out a channel that
		// reports closed immediately.
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

func (b *broadcast) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

// publish delivers chunk to every subscriber that has room. The chunk
// must not be mutated afterwards; all subscribers share it.
func (b *broadcast) publish(chunk []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || len(b.subs) == 0 {
		return ErrBroadcastClosed
	}
	for sub := range b.subs {
		select {
		case sub.ch <- chunk:
		default:
			sub.lagged.Add(1)
		}
	}
	return nil
}

// close ends the fanout. Subscriber channels are closed after any
// buffered chunks, so receivers drain what they already have.
func (b *broadcast) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}
