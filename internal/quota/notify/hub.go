// Package notify fans balance notices out to dashboard subscribers of a
// billing scope. Delivery is best effort; slow subscribers miss notices.
package notify

import (
	"errors"
	"strings"
	"sync"
	"time"
)

const (
	KindOverageWarning = "overage_warning"
	KindRejected       = "rejected"
	KindTopUp          = "top_up"
	KindReversal       = "reversal"
	KindExpired        = "expired"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

var (
	ErrHubUnavailable = errors.New("hub_unavailable")
	ErrInvalidScope   = errors.New("invalid_scope")
)

// Notice is one balance event of a scope.
type Notice struct {
	Kind          string    `json:"kind"`
	Scope         string    `json:"scope"`
	Capacity      int64     `json:"capacity"`
	Consumed      int64     `json:"consumed"`
	Overage       int64     `json:"overage,omitempty"`
	HardLimit     string    `json:"hard_limit,omitempty"`
	Points        int64     `json:"points,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	LedgerEntryID string    `json:"ledger_entry_id,omitempty"`
	At            time.Time `json:"at"`
}

type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []Notice
	subs   map[uint64]chan Notice
	nextID uint64
}

type Subscription struct {
	hub   *Hub
	scope string
	id    uint64
	ch    chan Notice
	once  sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish records the notice in the scope backlog when anyone is listening.
// It never blocks.
func (h *Hub) Publish(notice Notice) {
	if h == nil {
		return
	}
	key := strings.TrimSpace(notice.Scope)
	if key == "" {
		return
	}
	h.mu.RLock()
	stream := h.streams[key]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	stream.buffer = append(stream.buffer, notice)
	if len(stream.buffer) > h.bufferSize {
		stream.buffer = stream.buffer[len(stream.buffer)-h.bufferSize:]
	}
	subs := make([]chan Notice, 0, len(stream.subs))
	for _, ch := range stream.subs {
		subs = append(subs, ch)
	}
	stream.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- notice:
		default:
		}
	}
}

// Subscribe returns a live subscription plus the notices already buffered.
func (h *Hub) Subscribe(scope string) (*Subscription, []Notice, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	key := strings.TrimSpace(scope)
	if key == "" {
		return nil, nil, ErrInvalidScope
	}

	stream := h.ensureStream(key)
	stream.mu.Lock()
	id := stream.nextID
	stream.nextID++
	ch := make(chan Notice, h.subscriberBuffer)
	stream.subs[id] = ch
	backlog := append([]Notice(nil), stream.buffer...)
	stream.mu.Unlock()

	return &Subscription{hub: h, scope: key, id: id, ch: ch}, backlog, nil
}

func (h *Hub) ensureStream(key string) *stream {
	h.mu.RLock()
	current := h.streams[key]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[key]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan Notice)}
		h.streams[key] = current
	}
	return current
}

// unsubscribe drops the stream with its last subscriber, backlog included.
func (h *Hub) unsubscribe(key string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	stream := h.streams[key]
	if stream == nil {
		return
	}
	stream.mu.Lock()
	delete(stream.subs, id)
	empty := len(stream.subs) == 0
	stream.mu.Unlock()
	if empty {
		delete(h.streams, key)
	}
}

func (s *Subscription) Notices() <-chan Notice {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.scope, s.id)
	})
}
