// Package broadcaster implements the push fan-out (spec §4.7): a per-store
// list of subscribers, each with a bounded send buffer, that the HTTP
// server's WebSocket handlers and store-write path share to push newly
// appended events out in real time.
package broadcaster

import (
	"sync"

	"go-eventbook/pkg/eventlog"
)

// BufferSize is the capacity of each subscriber's outbound message channel.
// A subscriber that can't keep up is dropped rather than allowed to block
// the broadcaster or grow without bound.
const BufferSize = 100

// Message is the tagged-union push-channel frame shape (spec §4.7). Only the
// fields belonging to Kind are populated; json.Marshal on Message itself is
// never used directly — see wsOutbound in the httpapi package, which
// flattens this into the wire's single-level "type" discriminant.
type Message struct {
	Kind string // "event" | "store_info" | "subscribed" | "error" | "ping" | "pong"

	StoreID string
	Event   *eventlog.Event

	EventCount            int
	LatestVersion         int64
	FirstEventTimestamp   *int64
	LastEventTimestamp    *int64

	ConnectionID string

	ErrorMessage string
}

// EventMessage builds the "event" push frame for an appended event.
func EventMessage(storeID string, event eventlog.Event) Message {
	return Message{Kind: "event", StoreID: storeID, Event: &event}
}

// SubscribedMessage builds the "subscribed" acknowledgement frame sent right
// after a connection is registered.
func SubscribedMessage(storeID, connectionID string) Message {
	return Message{Kind: "subscribed", StoreID: storeID, ConnectionID: connectionID}
}

// ErrorMessageFrame builds an "error" push frame.
func ErrorMessageFrame(msg string) Message {
	return Message{Kind: "error", ErrorMessage: msg}
}

// subscriber is one connection's mailbox.
type subscriber struct {
	id string
	ch chan Message
}

// Manager tracks, per store id, the list of connections subscribed to it. A
// connection id may be subscribed to several stores; Disconnect removes it
// from all of them. The WebSocket handler in httpapi subscribes each
// connection to its URL's store only.
type Manager struct {
	mu   sync.RWMutex
	subs map[string][]*subscriber // store id -> subscribers
}

// NewManager returns an empty broadcaster.
func NewManager() *Manager {
	return &Manager{subs: make(map[string][]*subscriber)}
}

// Subscribe registers connectionID against storeID and returns the channel
// it should drain for outbound frames. The channel is closed by Disconnect
// or Unsubscribe.
func (m *Manager) Subscribe(storeID, connectionID string) <-chan Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := &subscriber{id: connectionID, ch: make(chan Message, BufferSize)}
	m.subs[storeID] = append(m.subs[storeID], sub)
	return sub.ch
}

// Unsubscribe removes connectionID from storeID's subscriber list and closes
// its channel. Safe to call even if the connection was never subscribed.
func (m *Manager) Unsubscribe(storeID, connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(storeID, connectionID)
}

// Disconnect removes connectionID from every store it was subscribed to.
func (m *Manager) Disconnect(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for storeID, subs := range m.subs {
		for _, s := range subs {
			if s.id == connectionID {
				m.removeLocked(storeID, connectionID)
				break
			}
		}
	}
}

func (m *Manager) removeLocked(storeID, connectionID string) {
	subs, ok := m.subs[storeID]
	if !ok {
		return
	}
	kept := subs[:0]
	for _, s := range subs {
		if s.id == connectionID {
			close(s.ch)
			continue
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		delete(m.subs, storeID)
	} else {
		m.subs[storeID] = kept
	}
}

// Broadcast sends msg to every subscriber of storeID. A subscriber whose
// buffer is full is marked for removal rather than blocking the sender; the
// removal happens after the read view is released, per spec §4.7.
func (m *Manager) Broadcast(storeID string, msg Message) {
	m.mu.RLock()
	subs := m.subs[storeID]
	var failed []string
	for _, s := range subs {
		select {
		case s.ch <- msg:
		default:
			failed = append(failed, s.id)
		}
	}
	m.mu.RUnlock()

	for _, id := range failed {
		m.Unsubscribe(storeID, id)
	}
}

// SubscriberCount returns the number of connections currently subscribed to
// storeID.
func (m *Manager) SubscriberCount(storeID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[storeID])
}
