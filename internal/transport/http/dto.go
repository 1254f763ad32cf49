package http

import "time"

type ErrorResponse struct {
	Error string `json:"error"`
}

type HistoryItem struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type ManagerSendRequest struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	// nil — не трогать режим, true/false — включить или снять ручное ведение
	ManagerStatus *bool `json:"manager_status,omitempty"`
}

type ChatItem struct {
	ID           string    `json:"id"`
	UserName     string    `json:"user_name"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int64     `json:"message_count"`
}

type ChatsListResponse struct {
	Items      []ChatItem `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}
