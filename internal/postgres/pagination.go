package postgres

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor — позиция keyset-пагинации списка чатов: последняя активность
// и id последнего отданного чата.
type Cursor struct {
	LastActivity time.Time `json:"last_activity"`
	ChatID       string    `json:"chat_id"`
}

func EncodeCursor(c Cursor) string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %v", ErrInvalidCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrInvalidCursor, err)
	}
	if c.ChatID == "" || c.LastActivity.IsZero() {
		return nil, fmt.Errorf("%w: empty position", ErrInvalidCursor)
	}
	return &c, nil
}
