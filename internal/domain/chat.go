package domain

import "time"

type Chat struct {
	ID        string    `db:"id"`
	CreatedAt time.Time `db:"created_at"`
}

// ChatSummary — строка менеджерского списка чатов.
type ChatSummary struct {
	ID           string
	LastActivity time.Time
	MessageCount int64
}

func (c ChatSummary) UserName() string {
	return UserName(c.ID)
}

// UserName — отображаемое имя собеседника: последние 6 символов id чата.
func UserName(chatID string) string {
	r := []rune(chatID)
	if len(r) <= 6 {
		return chatID
	}
	return string(r[len(r)-6:])
}
