package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cwrk-planet/chat-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ChatRepository struct {
	db *pgxpool.Pool
}

func NewChatRepository(db *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{db: db}
}

// Append сохраняет сообщение; чат заводится при первом сообщении.
func (r *ChatRepository) Append(ctx context.Context, chatID string, sender domain.Sender, text string) (*domain.Message, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ensureChat := `
		INSERT INTO chats (id)
		VALUES ($1)
		ON CONFLICT (id) DO NOTHING`

	if _, err := tx.Exec(ctx, ensureChat, chatID); err != nil {
		return nil, storeErr("ensure chat", err)
	}

	insertMessage := `
		INSERT INTO chat_messages (chat_id, sender, text)
		VALUES ($1, $2, $3)
		RETURNING id, chat_id, seq, sender, text, created_at`

	var m domain.Message
	err = tx.QueryRow(ctx, insertMessage, chatID, sender, text).
		Scan(&m.ID, &m.ChatID, &m.Seq, &m.Sender, &m.Text, &m.CreatedAt)
	if err != nil {
		return nil, storeErr("insert message", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit", err)
	}

	return &m, nil
}

// History возвращает всю историю чата в порядке записи.
// Для неизвестного чата — пустой срез, не ошибка.
func (r *ChatRepository) History(ctx context.Context, chatID string) ([]domain.Message, error) {
	query := `
		SELECT id, chat_id, seq, sender, text, created_at
		FROM chat_messages
		WHERE chat_id = $1
		ORDER BY seq`

	rows, err := r.db.Query(ctx, query, chatID)
	if err != nil {
		return nil, storeErr("history", err)
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Seq, &m.Sender, &m.Text, &m.CreatedAt); err != nil {
			return nil, storeErr("history scan", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("history rows", err)
	}

	return messages, nil
}

// ChatExists — был ли чат заведён (есть хотя бы одно сообщение).
func (r *ChatRepository) ChatExists(ctx context.Context, chatID string) (bool, error) {
	query := `SELECT created_at FROM chats WHERE id = $1`

	var createdAt time.Time
	err := r.db.QueryRow(ctx, query, chatID).Scan(&createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("chat exists", err)
	}

	return true, nil
}

// ListChats отдаёт чаты по убыванию последней активности.
// Keyset-пагинация по (last_activity, id): limit+1 строк, чтобы понять,
// есть ли следующая страница.
func (r *ChatRepository) ListChats(ctx context.Context, limit int, cursor string) ([]domain.ChatSummary, string, error) {
	cur, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	query := `
		SELECT m.chat_id, MAX(m.created_at) AS last_activity, COUNT(*) AS message_count
		FROM chat_messages m
		GROUP BY m.chat_id
		HAVING $1::timestamptz IS NULL
		    OR MAX(m.created_at) < $1
		    OR (MAX(m.created_at) = $1 AND m.chat_id < $2)
		ORDER BY last_activity DESC, m.chat_id DESC
		LIMIT $3`

	var afterTS any
	var afterID any
	if cur != nil {
		afterTS = cur.LastActivity
		afterID = cur.ChatID
	}

	rows, err := r.db.Query(ctx, query, afterTS, afterID, limit+1)
	if err != nil {
		return nil, "", storeErr("list chats", err)
	}
	defer rows.Close()

	summaries := make([]domain.ChatSummary, 0, limit+1)
	for rows.Next() {
		var s domain.ChatSummary
		if err := rows.Scan(&s.ID, &s.LastActivity, &s.MessageCount); err != nil {
			return nil, "", storeErr("list chats scan", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, "", storeErr("list chats rows", err)
	}

	var next string
	if len(summaries) > limit {
		summaries = summaries[:limit]
		last := summaries[len(summaries)-1]
		next = EncodeCursor(Cursor{LastActivity: last.LastActivity, ChatID: last.ID})
	}

	return summaries, next, nil
}

// Любой отказ хранилища для relay ретраибелен, поэтому всё заворачиваем
// в domain.ErrStoreUnavailable.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}
