package domain

import "time"

type Sender string

const (
	SenderUser    Sender = "user"
	SenderBot     Sender = "bot"
	SenderManager Sender = "manager"
	// action — служебная команда менеджера для фронта, не текст диалога
	SenderAction Sender = "action"
)

type Message struct {
	ID        string    `db:"id"`
	ChatID    string    `db:"chat_id"`
	Seq       int64     `db:"seq"`
	Sender    Sender    `db:"sender"`
	Text      string    `db:"text"`
	CreatedAt time.Time `db:"created_at"`
}
