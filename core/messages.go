package core

// messages.go - the outbound back-pressure queue spec §4.3's Transport
// State Machine relies on: a bounded FIFO of pending NetworkMessage
// envelopes per connection, drained by the transport's writeLoop.
// Adapted from the teacher's MessageQueue: ProcessNext's ledger/VM/consensus
// dispatch is dropped (out of scope, spec §1) and Enqueue now reports
// back-pressure instead of growing unbounded.

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// ErrQueueFull is returned by Enqueue when the soft cap spec §4.3 describes
// ("back-pressure via soft cap on outbound queue") is reached.
var ErrQueueFull = fmt.Errorf("messages: outbound queue full")

// MessageQueue is a concurrency-safe, soft-capped FIFO of NetworkMessage
// envelopes awaiting transmission on one connection.
type MessageQueue struct {
	mu      sync.Mutex
	queue   []NetworkMessage
	softCap int
}

// NewMessageQueue creates an empty queue with the given soft cap. A
// non-positive cap means unbounded (used by tests only).
func NewMessageQueue(softCap int) *MessageQueue {
	return &MessageQueue{queue: make([]NetworkMessage, 0), softCap: softCap}
}

// Enqueue appends a message to the end of the queue, or reports ErrQueueFull
// once the soft cap is reached so the caller (Transport) can apply
// back-pressure to the producer instead of growing memory unbounded.
func (mq *MessageQueue) Enqueue(msg NetworkMessage) error {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	if mq.softCap > 0 && len(mq.queue) >= mq.softCap {
		return ErrQueueFull
	}
	mq.queue = append(mq.queue, msg)
	return nil
}

// Dequeue removes and returns the next message in the queue.
func (mq *MessageQueue) Dequeue() (NetworkMessage, error) {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	if len(mq.queue) == 0 {
		return NetworkMessage{}, fmt.Errorf("message queue empty")
	}
	msg := mq.queue[0]
	mq.queue = mq.queue[1:]
	return msg, nil
}

// Len returns the number of queued messages.
func (mq *MessageQueue) Len() int {
	mq.mu.Lock()
	n := len(mq.queue)
	mq.mu.Unlock()
	return n
}

// Clear discards all pending messages.
func (mq *MessageQueue) Clear() {
	mq.mu.Lock()
	mq.queue = nil
	mq.mu.Unlock()
}

// ParseHexPayload converts a hex string into bytes. "0x" prefix is optional.
// Exported for callers that take hex-encoded payloads as input; nothing in
// this module, cmd/node included, calls it.
func ParseHexPayload(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}
