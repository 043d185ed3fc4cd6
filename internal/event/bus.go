// Package event is a small in-process pub/sub bus used to fan message
// lifecycle notifications out to connected clients.
package event

import (
	"strings"
	"sync"

	"branchchat/internal/storage"
)

// Event is a message lifecycle notification
type Event struct {
	Type           string           `json:"type"`
	ConversationID uint             `json:"conversation_id"`
	Message        *storage.Message `json:"message,omitempty"`
}

// Handler is a function that handles events
type Handler func(event *Event)

type subscription struct {
	patterns []string
	handler  Handler
}

// Bus routes events to pattern subscribers
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[int]*subscription
	nextID        int
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{subscriptions: make(map[int]*subscription)}
}

// Subscribe registers a handler for events matching the given patterns.
// A trailing "*" matches any suffix ("message.*" matches "message.created").
func (b *Bus) Subscribe(patterns []string, handler Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subscriptions[b.nextID] = &subscription{patterns: patterns, handler: handler}
	return b.nextID
}

// Unsubscribe removes a subscription
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscriptions, id)
}

// Publish delivers an event to every matching subscriber. Handlers run on
// the publisher's goroutine; keep them non-blocking.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscriptions {
		for _, pattern := range sub.patterns {
			if matches(pattern, event.Type) {
				sub.handler(event)
				break
			}
		}
	}
}

func matches(pattern, eventType string) bool {
	if pattern == eventType || pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(eventType, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
