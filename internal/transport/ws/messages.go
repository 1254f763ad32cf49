package ws

import "github.com/cwrk-planet/chat-service/internal/domain"

// Типы событий, которые ходят по WS
const (
	TypeMessage = "message" // сообщение диалога, в обе стороны
	TypeError   = "error"   // сбой обработки, уходит менеджерам
)

type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type MessagePayload struct {
	ChatID string `json:"chat_id"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
	TSUnix int64  `json:"ts_unix"`
}

type ErrorPayload struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// InboundPayload — кадр от пользователя; остальные поля игнорируются.
type InboundPayload struct {
	Text string `json:"text"`
}

func messageEvent(m domain.Message) Envelope {
	return Envelope{
		Type: TypeMessage,
		Payload: MessagePayload{
			ChatID: m.ChatID,
			Sender: string(m.Sender),
			Text:   m.Text,
			TSUnix: m.CreatedAt.Unix(),
		},
	}
}
