// Package notification fans balance changes out to connected sessions. The
// hub is an in-process broadcast broker; consumers re-read the authoritative
// balance before pushing so event payloads are never trusted as final state.
package notification

import (
	"errors"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// Update kinds pushed to sessions.
const (
	KindBalanceUpdate    = "balance_update"
	KindLowCreditWarning = "low_credit_warning"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

// BalanceUpdate is one real-time push to a user's sessions.
type BalanceUpdate struct {
	Kind                string `json:"kind"`
	Balance             int64  `json:"balance"`
	HasUnlimitedCredits bool   `json:"has_unlimited_credits"`
	Delta               int64  `json:"delta"`
	Reason              string `json:"reason,omitempty"`
	Threshold           int64  `json:"threshold,omitempty"`
}

type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []BalanceUpdate
	subs   map[uint64]chan BalanceUpdate
	nextID uint64
}

// Session is one subscriber attached to a user's update stream.
type Session struct {
	hub  *Hub
	key  string
	id   uint64
	ch   chan BalanceUpdate
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

func streamKey(orgID snowflake.ID, userID string) string {
	return orgID.String() + "|" + strings.TrimSpace(userID)
}

// Publish delivers an update to every active session of the user. Slow
// subscribers drop updates rather than block the publisher.
func (h *Hub) Publish(orgID snowflake.ID, userID string, update BalanceUpdate) {
	if h == nil || strings.TrimSpace(userID) == "" {
		return
	}
	key := streamKey(orgID, userID)

	h.mu.RLock()
	stream := h.streams[key]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	stream.buffer = append(stream.buffer, update)
	if len(stream.buffer) > h.bufferSize {
		stream.buffer = stream.buffer[len(stream.buffer)-h.bufferSize:]
	}
	subs := make([]chan BalanceUpdate, 0, len(stream.subs))
	for _, ch := range stream.subs {
		subs = append(subs, ch)
	}
	stream.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- update:
		default:
		}
	}
}

// Subscribe attaches a session to the user's stream and returns the recent
// backlog so a reconnecting client can catch up.
func (h *Hub) Subscribe(orgID snowflake.ID, userID string) (*Session, []BalanceUpdate, error) {
	if h == nil {
		return nil, nil, errors.New("hub_unavailable")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, nil, errors.New("invalid_user")
	}
	key := streamKey(orgID, userID)

	stream := h.ensureStream(key)
	stream.mu.Lock()
	if stream.subs == nil {
		stream.subs = make(map[uint64]chan BalanceUpdate)
	}
	id := stream.nextID
	stream.nextID++
	ch := make(chan BalanceUpdate, h.subscriberBuffer)
	stream.subs[id] = ch
	backlog := append([]BalanceUpdate(nil), stream.buffer...)
	stream.mu.Unlock()

	return &Session{hub: h, key: key, id: id, ch: ch}, backlog, nil
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
		current = &stream{subs: make(map[uint64]chan BalanceUpdate)}
		h.streams[key] = current
	}
	return current
}

func (h *Hub) unsubscribe(key string, id uint64) {
	if h == nil {
		return
	}

	h.mu.RLock()
	stream := h.streams[key]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	delete(stream.subs, id)
	remaining := len(stream.subs)
	stream.mu.Unlock()
	if remaining != 0 {
		return
	}

	h.mu.Lock()
	current := h.streams[key]
	if current != stream {
		h.mu.Unlock()
		return
	}
	stream.mu.Lock()
	empty := len(stream.subs) == 0
	stream.mu.Unlock()
	if empty {
		delete(h.streams, key)
	}
	h.mu.Unlock()
}

func (s *Session) Updates() <-chan BalanceUpdate {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Session) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.key, s.id)
	})
}
