package ws

import (
	"log/slog"
	"sync"

	"github.com/cwrk-planet/chat-service/internal/domain"
)

type Conn interface {
	Send(msg Envelope) error
	Close() error
}

// Hub владеет живыми соединениями: по одному пользовательскому на чат и
// общий набор менеджерских, наблюдающих все чаты сразу.
type Hub struct {
	mu       sync.RWMutex
	users    map[string]Conn // chatID -> активное соединение пользователя
	managers map[Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{
		users:    make(map[string]Conn),
		managers: make(map[Conn]struct{}),
	}
}

// AddUser регистрирует соединение чата; прежнее, если было, закрывается.
func (h *Hub) AddUser(chatID string, c Conn) {
	h.mu.Lock()
	prev := h.users[chatID]
	h.users[chatID] = c
	h.mu.Unlock()

	if prev != nil && prev != c {
		_ = prev.Close()
	}
}

// RemoveUser снимает соединение, только если оно всё ещё текущее:
// регистрацию, пришедшую на замену, трогать нельзя.
func (h *Hub) RemoveUser(chatID string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.users[chatID] == c {
		delete(h.users, chatID)
	}
}

func (h *Hub) AddManager(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.managers[c] = struct{}{}
}

func (h *Hub) RemoveManager(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.managers, c)
}

// SendToChat доставляет событие пользователю чата; если соединения нет —
// тихий no-op.
func (h *Hub) SendToChat(chatID string, m domain.Message) {
	h.mu.RLock()
	c := h.users[chatID]
	h.mu.RUnlock()

	if c == nil {
		return
	}
	if err := c.Send(messageEvent(m)); err != nil {
		slog.Debug("ws user send failed", "chat", chatID, "err", err)
	}
}

// BroadcastManagers рассылает событие всем менеджерам.
func (h *Hub) BroadcastManagers(m domain.Message) {
	h.broadcast(messageEvent(m))
}

// BroadcastError сообщает менеджерам о сбое обработки в чате.
func (h *Hub) BroadcastError(chatID, text string) {
	h.broadcast(Envelope{
		Type:    TypeError,
		Payload: ErrorPayload{ChatID: chatID, Text: text},
	})
}

// broadcast: снапшот под RLock, отправка вне замка, чтобы одно мёртвое
// соединение не держало остальных и самого отправителя.
func (h *Hub) broadcast(ev Envelope) {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.managers))
	for c := range h.managers {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		_ = c.Send(ev) // best-effort
	}
}
