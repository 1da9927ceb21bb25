package main

import (
	"sync"
)

// hubBufferSize bounds each subscriber's backlog. A subscriber that falls
// further behind misses events; the ones it does receive stay in order.
const hubBufferSize = 100

// Hub fans encoded outbound events out to every socket attached to one game
// on this node.
type Hub struct {
	gameID string

	mu     sync.Mutex
	subs   map[*HubSubscription]struct{}
	closed bool
}

func newHub(gameID string) *Hub {
	return &Hub{
		gameID: gameID,
		subs:   make(map[*HubSubscription]struct{}),
	}
}

// Subscribe registers a new reader. Subscriptions created after Close see
// an already-closed stream.
func (h *Hub) Subscribe() *HubSubscription {
	sub := &HubSubscription{
		hub: h,
		ch:  make(chan string, hubBufferSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(sub.ch)
		sub.done = true
		return sub
	}

	h.subs[sub] = struct{}{}
	return sub
}

// Broadcast delivers payload to every live subscriber, best effort.
func (h *Hub) Broadcast(payload string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		select {
		case sub.ch <- payload:
		default:
			// Subscriber backlog full; skip this event for them.
		}
	}
}

// Close terminates all subscriptions; egress loops drain and exit.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for sub := range h.subs {
		if !sub.done {
			close(sub.ch)
			sub.done = true
		}
		delete(h.subs, sub)
	}
}

// HubSubscription is one reader's view of the hub stream.
type HubSubscription struct {
	hub  *Hub
	ch   chan string
	done bool
}

func (s *HubSubscription) Receive() <-chan string {
	return s.ch
}

func (s *HubSubscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	if _, ok := s.hub.subs[s]; ok {
		delete(s.hub.subs, s)
		if !s.done {
			close(s.ch)
			s.done = true
		}
	}
}
