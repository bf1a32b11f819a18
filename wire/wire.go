// Package wire provides the runtime message envelope the simulators
// exchange once a protocol has been projected: a timestamped, encoded
// Message, and the per-(sender,receiver) FIFO buffers that give the CFSM
// and distributed simulators their ordering guarantee (spec.md §4.6
// invariant I6 — Theorem 5.3's FIFO property holds only per ordered
// pair, not globally).
package wire

import (
	"fmt"
	"sync"

	uuid "github.com/satori/go.uuid"
	"go.dedis.ch/protobuf"
)

// Timestamp is a per-message logical clock value: strictly increasing
// within one Clock, never reused, never reset except by a fresh Clock
// (spec.md §4.6 invariant I7).
type Timestamp uint64

// Clock hands out monotonically increasing Timestamps. The zero Clock
// is usable; its first Next() returns 1, so 0 can be reserved as "no
// timestamp yet" by callers that need that distinction.
type Clock struct {
	mu   sync.Mutex
	next uint64
}

// Next returns the next Timestamp and advances the clock.
func (c *Clock) Next() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	return Timestamp(c.next)
}

// Message is one value in flight between two roles.
type Message struct {
	ID        uuid.UUID
	Sender    string
	Receiver  string
	Label     string
	Payload   []byte
	Timestamp Timestamp
}

// Encode marshals v (a payload value matching one of the protocol's
// declared payload types) the way the runtime's message envelopes do,
// mirroring the teacher's own reflection+protobuf dispatch in
// `sda/processor.go`.
func Encode(v interface{}) ([]byte, error) {
	return protobuf.Encode(v)
}

// Decode unmarshals buf into v, which must be a pointer to the same
// concrete type Encode was given.
func Decode(buf []byte, v interface{}) error {
	return protobuf.Decode(buf, v)
}

// pairKey identifies one ordered (sender, receiver) channel. Messages
// between the same two roles in the same direction are delivered in
// send order; no ordering is promised across different pairs (I6).
type pairKey struct {
	Sender, Receiver string
}

// MessageBuffer holds one FIFO queue per ordered (sender, receiver)
// pair.
type MessageBuffer struct {
	mu     sync.Mutex
	queues map[pairKey][]*Message
}

// NewMessageBuffer returns an empty MessageBuffer.
func NewMessageBuffer() *MessageBuffer {
	return &MessageBuffer{queues: make(map[pairKey][]*Message)}
}

// Push enqueues msg onto its (Sender, Receiver) pair's queue.
func (b *MessageBuffer) Push(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := pairKey{msg.Sender, msg.Receiver}
	b.queues[k] = append(b.queues[k], msg)
}

// Pop dequeues the oldest message sent from sender to receiver, or
// returns (nil, false) if that pair's queue is empty.
func (b *MessageBuffer) Pop(sender, receiver string) (*Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := pairKey{sender, receiver}
	q := b.queues[k]
	if len(q) == 0 {
		return nil, false
	}
	msg := q[0]
	b.queues[k] = q[1:]
	return msg, true
}

// Peek returns the oldest message sent from sender to receiver without
// removing it, or (nil, false) if that pair's queue is empty.
func (b *MessageBuffer) Peek(sender, receiver string) (*Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[pairKey{sender, receiver}]
	if len(q) == 0 {
		return nil, false
	}
	return q[0], true
}

// Len reports how many messages are queued from sender to receiver.
func (b *MessageBuffer) Len(sender, receiver string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[pairKey{sender, receiver}])
}

// Empty reports whether every pair's queue is empty.
func (b *MessageBuffer) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range b.queues {
		if len(q) > 0 {
			return false
		}
	}
	return true
}

// FIFOViolationError reports that a receive observed a message out of
// send order for its (sender, receiver) pair — Theorem 5.3 should make
// this unreachable for a verified protocol; simulators that enable
// VerifyFIFO raise it as a defensive check instead of assuming it away.
type FIFOViolationError struct {
	Sender, Receiver string
	Expected, Got    Timestamp
}

func (e *FIFOViolationError) Error() string {
	return fmt.Sprintf("wire: FIFO violation on %s->%s: expected timestamp > %d, got %d",
		e.Sender, e.Receiver, e.Expected, e.Got)
}
