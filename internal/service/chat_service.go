package service

import (
	"context"
	"fmt"

	"github.com/cwrk-planet/chat-service/internal/domain"
)

// ChatReader — запросы к истории, которые нужны транспорту.
type ChatReader interface {
	History(ctx context.Context, chatID string) ([]domain.Message, error)
	ListChats(ctx context.Context, limit int, cursor string) ([]domain.ChatSummary, string, error)
	ChatExists(ctx context.Context, chatID string) (bool, error)
}

type ChatService struct {
	chatRepo ChatReader
}

func NewChatService(chatRepo ChatReader) *ChatService {
	return &ChatService{chatRepo: chatRepo}
}

// History возвращает всю историю чата по порядку. Неизвестный чат — пустой
// список, это не ошибка.
func (s *ChatService) History(ctx context.Context, chatID string) ([]domain.Message, error) {
	if chatID == "" {
		return nil, domain.ErrChatNotFound
	}

	msgs, err := s.chatRepo.History(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.History: %w", err)
	}
	return msgs, nil
}

// ListChats возвращает страницу чатов для менеджера, свежие сверху.
func (s *ChatService) ListChats(ctx context.Context, limit int, cursor string) ([]domain.ChatSummary, string, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}

	chats, nextCursor, err := s.chatRepo.ListChats(ctx, limit, cursor)
	if err != nil {
		return nil, "", err
	}
	return chats, nextCursor, nil
}

// ChatExists — заведён ли чат (есть ли у него история).
func (s *ChatService) ChatExists(ctx context.Context, chatID string) (bool, error) {
	if chatID == "" {
		return false, nil
	}

	ok, err := s.chatRepo.ChatExists(ctx, chatID)
	if err != nil {
		return false, fmt.Errorf("chatRepo.ChatExists: %w", err)
	}
	return ok, nil
}
