package responder

import (
	"context"
	"log/slog"
	"time"
)

// Responder выдаёт один ответ бота на входящее сообщение пользователя.
// Вызов может занимать заметное время (модель, искусственная задержка),
// поэтому обязан уважать ctx.
type Responder interface {
	Respond(ctx context.Context, chatID, userText string) (string, error)
}

type Config struct {
	EchoDelay    time.Duration
	AITimeout    time.Duration
	ApologyText  string
	HistoryLimit int
	Ark          ArkConfig
}

type ArkConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Region  string
}

// Enabled — заданы ли креденшелы, достаточные для работы модели.
func (c ArkConfig) Enabled() bool {
	return c.APIKey != "" && c.Model != ""
}

// New выбирает вариант один раз на старте: есть креденшелы Ark — модель,
// нет — эхо. Отсутствие ключа не ошибка, выбор по ходу работы не
// пересматривается.
func New(ctx context.Context, cfg Config, history HistorySource) (Responder, error) {
	if cfg.Ark.Enabled() {
		ai, err := NewAI(ctx, cfg, history)
		if err != nil {
			return nil, err
		}
		slog.Info("responder selected", "mode", "ai", "model", cfg.Ark.Model)
		return ai, nil
	}

	slog.Info("responder selected", "mode", "echo", "delay", cfg.EchoDelay)
	return NewEcho(cfg.EchoDelay), nil
}
