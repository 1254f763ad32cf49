package responder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/cwrk-planet/chat-service/internal/domain"
)

const systemPrompt = "Ты — ассистент поддержки. Отвечай кратко, вежливо и по делу, на языке пользователя."

// HistorySource отдаёт сохранённую историю чата для контекста модели.
type HistorySource interface {
	History(ctx context.Context, chatID string) ([]domain.Message, error)
}

// AIResponder строит ответ через chat-модель Ark: системный промпт,
// последние сообщения чата и новый вопрос пользователя.
type AIResponder struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	history      HistorySource
	timeout      time.Duration
	apology      string
	historyLimit int
}

func NewAI(ctx context.Context, cfg Config, history HistorySource) (*AIResponder, error) {
	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL: cfg.Ark.BaseURL,
		Region:  cfg.Ark.Region,
		APIKey:  cfg.Ark.APIKey,
		Model:   cfg.Ark.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("ark.NewChatModel: %w", err)
	}

	template := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile chat chain: %w", err)
	}

	return &AIResponder{
		chain:        runnable,
		history:      history,
		timeout:      cfg.AITimeout,
		apology:      cfg.ApologyText,
		historyLimit: cfg.HistoryLimit,
	}, nil
}

// Respond спрашивает модель с ограничением по времени. Любая ошибка модели
// превращается в заготовленное извинение: наружу текст ошибки не уходит,
// причина остаётся в логе.
func (r *AIResponder) Respond(ctx context.Context, chatID, userText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	input := map[string]any{
		"system":  systemPrompt,
		"history": r.contextMessages(ctx, chatID, userText),
		"query":   userText,
	}

	resp, err := r.chain.Invoke(ctx, input)
	if err != nil {
		slog.Error("ai respond failed", "chat", chatID, "err", err)
		return r.apology, nil
	}

	return resp.Content, nil
}

func (r *AIResponder) contextMessages(ctx context.Context, chatID, userText string) []*schema.Message {
	msgs, err := r.history.History(ctx, chatID)
	if err != nil {
		// без истории модель всё равно ответит, контекст просто беднее
		slog.Warn("ai history unavailable", "chat", chatID, "err", err)
		return nil
	}

	// хвост истории — только что сохранённый вопрос, он уходит отдельным query
	if n := len(msgs); n > 0 && msgs[n-1].Sender == domain.SenderUser && msgs[n-1].Text == userText {
		msgs = msgs[:n-1]
	}

	if len(msgs) > r.historyLimit {
		msgs = msgs[len(msgs)-r.historyLimit:]
	}

	history := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Sender {
		case domain.SenderUser:
			history = append(history, schema.UserMessage(m.Text))
		case domain.SenderBot, domain.SenderManager:
			history = append(history, schema.AssistantMessage(m.Text, nil))
		}
	}
	return history
}
