package conversations

import "time"

type conversationRow struct {
	ID        string `gorm:"primaryKey;column:id"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (conversationRow) TableName() string { return "conversations" }

type messageRow struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	ConversationID string `gorm:"index"`
	Sequence       int64
	Role           string
	Content        string
	CreatedAt      time.Time
}

func (messageRow) TableName() string { return "messages" }
