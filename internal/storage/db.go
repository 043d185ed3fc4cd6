package storage

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a conversation, message or provider id
// does not resolve to a stored row.
var ErrNotFound = gorm.ErrRecordNotFound

// DB is the global database instance
var DB *gorm.DB

// Init initializes the database connection
func Init(dbPath string) error {
	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	// Cascade from conversations to messages happens at the SQL level
	if err := DB.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return err
	}

	if err := DB.AutoMigrate(&Conversation{}, &Message{}, &Provider{}); err != nil {
		return err
	}

	log.Info().Str("path", dbPath).Msg("database initialized")
	return nil
}

// CreateConversation creates a new conversation
func CreateConversation(conv *Conversation) error {
	return DB.Create(conv).Error
}

// GetConversation retrieves a conversation by ID without its messages
func GetConversation(id uint) (*Conversation, error) {
	var conv Conversation
	if err := DB.First(&conv, id).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// ConversationSummary is a conversation row with its message count.
type ConversationSummary struct {
	Conversation
	MessageCount int64 `json:"message_count"`
}

// ListConversations returns conversations newest-updated first with their
// message counts.
func ListConversations(offset, limit int) ([]ConversationSummary, error) {
	var summaries []ConversationSummary
	err := DB.Model(&Conversation{}).
		Select("conversations.*, count(messages.id) as message_count").
		Joins("LEFT JOIN messages ON messages.conversation_id = conversations.id").
		Group("conversations.id").
		Order("conversations.updated_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&summaries).Error
	return summaries, err
}

// UpdateConversation saves a conversation
func UpdateConversation(conv *Conversation) error {
	return DB.Save(conv).Error
}

// DeleteConversation deletes a conversation and all of its messages
func DeleteConversation(id uint) error {
	return DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&Conversation{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("conversation_id = ?", id).Delete(&Message{}).Error
	})
}

// GetMessage retrieves a message by ID
func GetMessage(id uint) (*Message, error) {
	var msg Message
	if err := DB.First(&msg, id).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// AddMessage inserts a message. A non-nil parent must already exist in the
// same conversation; the parent chain therefore always terminates at a root
// and cannot cycle. Appending an assistant message bumps the conversation's
// updated_at to that message's timestamp.
func AddMessage(msg *Message) error {
	if msg.ParentID != nil {
		parent, err := GetMessage(*msg.ParentID)
		if err != nil {
			return errors.Wrap(err, "parent message")
		}
		if parent.ConversationID != msg.ConversationID {
			return errors.Errorf("parent message %d belongs to conversation %d, not %d",
				parent.ID, parent.ConversationID, msg.ConversationID)
		}
	}

	if err := DB.Create(msg).Error; err != nil {
		return err
	}

	if msg.Role == "assistant" {
		return DB.Model(&Conversation{}).
			Where("id = ?", msg.ConversationID).
			Update("updated_at", msg.CreatedAt).Error
	}
	return nil
}

// UpdateMessageContent overwrites a message's content in place. Identity,
// parent and children are untouched.
func UpdateMessageContent(id uint, content string) error {
	res := DB.Model(&Message{}).Where("id = ?", id).Update("content", content)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetConversationMessages retrieves all messages of a conversation in
// creation order.
func GetConversationMessages(conversationID uint) ([]Message, error) {
	var messages []Message
	err := DB.Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	return messages, err
}

// CreateProvider creates a new provider config
func CreateProvider(p *Provider) error {
	return DB.Create(p).Error
}

// GetProvider retrieves a provider by ID
func GetProvider(id uint) (*Provider, error) {
	var p Provider
	if err := DB.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProviderByName retrieves a provider by its unique name
func GetProviderByName(name string) (*Provider, error) {
	var p Provider
	if err := DB.Where("name = ?", name).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProviders returns all providers ordered by name
func ListProviders() ([]Provider, error) {
	var providers []Provider
	err := DB.Order("name ASC").Find(&providers).Error
	return providers, err
}

// GetActiveProvider returns the single active provider, or ErrNotFound
func GetActiveProvider() (*Provider, error) {
	var p Provider
	if err := DB.Where("is_active = ?", true).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProvider saves a provider config
func UpdateProvider(p *Provider) error {
	return DB.Save(p).Error
}

// DeleteProvider deletes a provider config
func DeleteProvider(id uint) error {
	res := DB.Delete(&Provider{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ActivateProvider deactivates every provider and activates the given one,
// as a single transaction.
func ActivateProvider(id uint) (*Provider, error) {
	var p Provider
	err := DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&p, id).Error; err != nil {
			return err
		}
		if err := tx.Model(&Provider{}).Where("1 = 1").Update("is_active", false).Error; err != nil {
			return err
		}
		p.IsActive = true
		return tx.Save(&p).Error
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}
