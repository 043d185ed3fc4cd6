package storage

import (
	"time"
)

// Conversation is a chat session. Its messages form a tree, not a linear
// transcript: any message may have multiple alternative follow-ups.
type Conversation struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// Message is a node in a conversation tree. A nil ParentID marks a
// conversation root. Content is only ever rewritten by regeneration.
type Message struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID uint      `gorm:"index;not null" json:"conversation_id"`
	ParentID       *uint     `gorm:"index" json:"parent_id"`
	Role           string    `gorm:"size:20;not null" json:"role"` // "user", "assistant" or "system"
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Provider is a configured LLM backend. Family is resolved from Name and
// ModelName once at create/update time, not re-derived per request.
type Provider struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:50;not null;uniqueIndex" json:"name"`
	ModelName string    `gorm:"size:100;not null" json:"model_name"`
	APIKey    string    `gorm:"size:255" json:"api_key,omitempty"`
	APIURL    string    `gorm:"size:255" json:"api_url,omitempty"`
	Family    string    `gorm:"size:20" json:"family"`
	IsActive  bool      `gorm:"default:false" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
