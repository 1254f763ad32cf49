package responder

import (
	"context"
	"time"
)

// EchoResponder — запасной вариант без внешней модели: возвращает текст
// пользователя без изменений после искусственной задержки.
type EchoResponder struct {
	delay time.Duration
}

func NewEcho(delay time.Duration) *EchoResponder {
	return &EchoResponder{delay: delay}
}

func (r *EchoResponder) Respond(ctx context.Context, _ string, userText string) (string, error) {
	timer := time.NewTimer(r.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return userText, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
