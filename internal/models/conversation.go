package models

import (
	"time"

	"gorm.io/datatypes"
)

type ConversationLog struct {
	ID        string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID    string         `gorm:"column:user_id;type:text;index" json:"user_id"`
	RunID     string         `gorm:"column:run_id;type:uuid;index" json:"run_id"`
	Role      string         `gorm:"column:role;type:text" json:"role"` // "user" | "assistant"
	Content   string         `gorm:"column:content;type:text" json:"content"`
	Timestamp time.Time      `gorm:"column:timestamp;type:timestamptz;index" json:"timestamp"`
	Metadata  datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata"`
}

func (ConversationLog) TableName() string { return "conversation_logs" }
