// Package tree reconstructs linear root paths and full branching trees
// from a conversation's parent-linked messages.
package tree

import (
	"time"

	"branchchat/internal/storage"
)

// Node is a message with its children attached, for tree display.
type Node struct {
	ID        uint      `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Children  []*Node   `json:"children"`
}

// Path walks parent references starting at messageID and returns the
// root-first sequence ending at that message. Returns storage.ErrNotFound
// when the id does not resolve.
func Path(messageID uint) ([]storage.Message, error) {
	var path []storage.Message

	current := &messageID
	for current != nil {
		msg, err := storage.GetMessage(*current)
		if err != nil {
			// Only the starting id is required to resolve; the store
			// guarantees intact parent chains.
			if len(path) > 0 {
				break
			}
			return nil, err
		}
		path = append(path, *msg)
		current = msg.ParentID
	}

	// Reverse into root-first order
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// Build loads every message of a conversation and assembles the forest of
// roots with children attached. A single children-by-parent pass keeps this
// O(n); published conversations can have hundreds of branches. Siblings keep
// creation order.
func Build(conversationID uint) ([]*Node, error) {
	messages, err := storage.GetConversationMessages(conversationID)
	if err != nil {
		return nil, err
	}

	nodes := make(map[uint]*Node, len(messages))
	for _, m := range messages {
		nodes[m.ID] = &Node{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			Children:  []*Node{},
		}
	}

	roots := []*Node{}
	for _, m := range messages {
		node := nodes[m.ID]
		if m.ParentID == nil {
			roots = append(roots, node)
			continue
		}
		if parent, ok := nodes[*m.ParentID]; ok {
			parent.Children = append(parent.Children, node)
		}
	}
	return roots, nil
}
