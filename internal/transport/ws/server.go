package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/chat-service/internal/domain"

	"github.com/gorilla/websocket"
)

type Relay interface {
	Submit(ctx context.Context, chatID string, sender domain.Sender, text string) error
}

type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	relay    Relay

	pingEvery time.Duration
}

func NewServer(hub *Hub, relay Relay) *Server {
	return &Server{
		hub:   hub,
		relay: relay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingEvery: 15 * time.Second,
	}
}

// WS пользователя: GET /ws?chat_id=...
func (s *Server) HandleUserWS(w http.ResponseWriter, r *http.Request) {
	chatID := strings.TrimSpace(r.URL.Query().Get("chat_id"))
	if chatID == "" {
		http.Error(w, "missing chat_id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "err", err)
		return
	}

	c := newWsConn(conn)
	s.hub.AddUser(chatID, c)
	slog.Info("ws user connected", "chat", chatID)

	go s.pingLoop(r.Context(), c)
	s.userReadLoop(r.Context(), chatID, c)

	s.hub.RemoveUser(chatID, c)
	_ = c.Close()
	slog.Info("ws user disconnected", "chat", chatID)
}

// WS менеджера: GET /manager/ws — видит события всех чатов.
func (s *Server) HandleManagerWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "err", err)
		return
	}

	c := newWsConn(conn)
	s.hub.AddManager(c)
	slog.Info("ws manager connected")

	go s.pingLoop(r.Context(), c)
	s.managerReadLoop(c)

	s.hub.RemoveManager(c)
	_ = c.Close()
	slog.Info("ws manager disconnected")
}

func (s *Server) userReadLoop(ctx context.Context, chatID string, c *wsConn) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(1 << 20)
	c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Type != TypeMessage {
			continue
		}
		var p InboundPayload
		if decode(env.Payload, &p) != nil {
			continue
		}
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}

		// Submit блокируется, пока очередь чата полна: backpressure
		// на читающем цикле вместо потери кадров
		if err := s.relay.Submit(ctx, chatID, domain.SenderUser, text); err != nil {
			slog.Warn("ws submit failed", "chat", chatID, "err", err)
			if errors.Is(err, domain.ErrRelayClosed) {
				return
			}
		}
	}
}

func (s *Server) managerReadLoop(c *wsConn) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(1 << 20)
	c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(2 * s.pingEvery))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		// менеджер отправляет через REST; входящие кадры только логируем
		slog.Debug("manager ws frame ignored", "len", len(data))
	}
}

func (s *Server) pingLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(s.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		}
	}
}

// --- helpers ---

func decode(payload interface{}, dst interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return json.Unmarshal(b, dst)
}

type wsConn struct {
	conn      *websocket.Conn
	sendMu    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func newWsConn(c *websocket.Conn) *wsConn {
	return &wsConn{
		conn:   c,
		sendMu: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) Send(msg Envelope) error {
	c.sendMu <- struct{}{}
	defer func() { <-c.sendMu }()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	return c.conn.WriteJSON(msg)
}

// Close идемпотентен: хаб закрывает вытесненное соединение из чужой
// горутины, пока его readLoop ещё жив.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })

	return c.conn.Close()
}
