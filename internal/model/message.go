package model

import (
	"time"
)

// Message 私聊消息，插入后不可变
type Message struct {
	ID         string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SenderID   string `gorm:"index:idx_conversation,priority:1;not null;type:varchar(64)" json:"sender_id"`
	ReceiverID string `gorm:"index:idx_conversation,priority:2;index;not null;type:varchar(64)" json:"receiver_id"`
	Text       string `gorm:"type:text" json:"text,omitempty"`
	Image      string `gorm:"type:text" json:"image,omitempty"`

	CreatedAt time.Time `gorm:"index:idx_conversation,priority:3;not null" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}
