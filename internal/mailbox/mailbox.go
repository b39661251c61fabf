// Package mailbox provides the single-slot event buffer shared by the
// network and peripheral producers and drained by the controller loop.
//
// The mailbox holds at most one event. While an event is pending, or while
// another producer is writing, new events are dropped rather than queued
// or overwritten: the consumer always sees a complete, unmodified event and
// bursty senders are throttled to one outstanding command.
package mailbox

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Source identifies the producer of an event.
type Source uint8

const (
	// SourceNone is the "no event" sentinel. No transition rule matches it.
	SourceNone Source = iota
	// SourceNetwork is a command received from the TCP peer.
	SourceNetwork
	// SourcePeripheral is a payload delivered by the Bluetooth link.
	SourcePeripheral
)

func (s Source) String() string {
	switch s {
	case SourceNone:
		return "none"
	case SourceNetwork:
		return "network"
	case SourcePeripheral:
		return "peripheral"
	default:
		return fmt.Sprintf("source(%d)", uint8(s))
	}
}

// Event is one command from a producer.
type Event struct {
	Source  Source
	Payload uint32
}

// Stats are running counters of publish outcomes.
type Stats struct {
	Accepted uint64
	Dropped  uint64
}

// Mailbox is a single-slot coalescing buffer. The zero value is empty and
// ready to use.
//
// Publish may be called from any goroutine. Drain must only be called from
// one goroutine at a time.
type Mailbox struct {
	// mu is held by a producer while it writes the slot; a producer that
	// cannot take it immediately treats the mailbox as locked.
	mu      sync.Mutex
	slot    Event
	pending atomic.Bool

	accepted atomic.Uint64
	dropped  atomic.Uint64
}

// Publish tries to deposit an event and reports whether it was accepted.
// The event is dropped if another event is pending or another producer is
// inside the critical section.
func (m *Mailbox) Publish(source Source, payload uint32) bool {
	if m.pending.Load() || !m.mu.TryLock() {
		m.dropped.Add(1)
		return false
	}
	defer m.mu.Unlock()

	// pending may have been set by a producer that released mu between our
	// first check and TryLock.
	if m.pending.Load() {
		m.dropped.Add(1)
		return false
	}

	m.slot = Event{Source: source, Payload: payload}
	m.pending.Store(true)
	m.accepted.Add(1)
	return true
}

// Drain returns the pending event, if any, and frees the slot.
func (m *Mailbox) Drain() (Event, bool) {
	if !m.pending.Load() {
		return Event{}, false
	}
	// Producers never write the slot while pending is set.
	ev := m.slot
	m.pending.Store(false)
	return ev, true
}

// Pending reports whether an event is waiting to be drained.
func (m *Mailbox) Pending() bool {
	return m.pending.Load()
}

// Stats returns the publish counters.
func (m *Mailbox) Stats() Stats {
	return Stats{
		Accepted: m.accepted.Load(),
		Dropped:  m.dropped.Load(),
	}
}
