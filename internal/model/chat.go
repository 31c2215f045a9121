package model

import "time"

// DefaultOwnerID is used when a chat is created without an explicit owner.
const DefaultOwnerID = "guest"

// TitleMaxRunes bounds titles derived from a first user message.
const TitleMaxRunes = 50

// DeriveTitle builds a chat title from the first user message, truncating to
// TitleMaxRunes with an ellipsis marker when the message was longer.
func DeriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= TitleMaxRunes {
		return content
	}
	return string(runes[:TitleMaxRunes]) + "..."
}

type Chat struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"size:128;not null" json:"title"`
	OwnerID   string    `gorm:"size:64;not null;index" json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
