// Package conversations persists dialogue history so a conversation can span
// multiple connections.
package conversations

import (
	"context"
	"fmt"
	"time"

	sqliteDriver "github.com/glebarez/sqlite"
	"github.com/koscakluka/ema-gateway/core/llms"
	"gorm.io/gorm"
)

// DefaultHistoryLimit is the number of most recent messages handed to the
// model when no explicit limit is requested.
const DefaultHistoryLimit = 20

type Store struct {
	db *gorm.DB
}

func NewStore(dsn string) (*Store, error) {
	db, err := gorm.Open(sqliteDriver.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	return s.db.AutoMigrate(&conversationRow{}, &messageRow{})
}

// SaveMessage appends a message to a conversation, creating the conversation
// on first use.
func (s *Store) SaveMessage(ctx context.Context, conversationID string, message llms.Message) error {
	if conversationID == "" {
		return fmt.Errorf("conversation id must not be empty")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		conversation := conversationRow{ID: conversationID, CreatedAt: now, UpdatedAt: now}
		if err := tx.FirstOrCreate(&conversation, conversationRow{ID: conversationID}).Error; err != nil {
			return fmt.Errorf("failed to ensure conversation: %w", err)
		}
		if err := tx.Model(&conversationRow{}).Where("id = ?", conversationID).
			Update("updated_at", now).Error; err != nil {
			return fmt.Errorf("failed to touch conversation: %w", err)
		}

		var maxSequence int64
		if err := tx.Model(&messageRow{}).
			Where("conversation_id = ?", conversationID).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&maxSequence).Error; err != nil {
			return fmt.Errorf("failed to look up message sequence: %w", err)
		}

		row := messageRow{
			ConversationID: conversationID,
			Sequence:       maxSequence + 1,
			Role:           string(message.Role),
			Content:        message.Content,
			CreatedAt:      now,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
		return nil
	})
}

// History returns up to limit most recent messages of a conversation, oldest
// first. A non-positive limit falls back to [DefaultHistoryLimit].
func (s *Store) History(ctx context.Context, conversationID string, limit int) ([]llms.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var rows []messageRow
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("sequence DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	messages := make([]llms.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		messages = append(messages, llms.Message{
			Role:    llms.Role(rows[i].Role),
			Content: rows[i].Content,
		})
	}
	return messages, nil
}

// Delete removes a conversation and its messages.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&messageRow{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if err := tx.Where("id = ?", conversationID).Delete(&conversationRow{}).Error; err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
		return nil
	})
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql db: %w", err)
	}
	return sqlDB.Close()
}
