package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/postgres"
	"github.com/cwrk-planet/chat-service/internal/service"
)

type Handler struct {
	relaySvc *service.RelayService
	chatSvc  *service.ChatService
}

func NewHandler(relay *service.RelayService, chat *service.ChatService) *Handler {
	return &Handler{
		relaySvc: relay,
		chatSvc:  chat,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /history?chat_id=
// Неизвестный чат — пустой массив и 200, клиент открывает чат до первого
// сообщения.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	chatID := strings.TrimSpace(r.URL.Query().Get("chat_id"))
	if chatID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing chat_id"})
		return
	}

	msgs, err := h.chatSvc.History(r.Context(), chatID)
	if err != nil {
		slog.Error("handler.GetHistory:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	items := make([]HistoryItem, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, HistoryItem{
			Sender:    string(m.Sender),
			Text:      m.Text,
			Timestamp: m.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, items)
}

// GET /manager/chats?limit=&cursor=
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}
	cursor := r.URL.Query().Get("cursor")

	chats, next, err := h.chatSvc.ListChats(r.Context(), limit, cursor)
	if err != nil {
		if errors.Is(err, postgres.ErrInvalidCursor) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_cursor"})
			return
		}
		slog.Error("handler.ListChats:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	resp := ChatsListResponse{Items: make([]ChatItem, 0, len(chats)), NextCursor: next}
	for _, c := range chats {
		resp.Items = append(resp.Items, ChatItem{
			ID:           c.ID,
			UserName:     c.UserName(),
			LastActivity: c.LastActivity,
			MessageCount: c.MessageCount,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// POST /manager/send {chat_id, message, action?, manager_status?}
func (h *Handler) ManagerSend(w http.ResponseWriter, r *http.Request) {
	var req ManagerSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("handler.ManagerSend.Decode:", slog.Any("err", err))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid json"})
		return
	}

	req.ChatID = strings.TrimSpace(req.ChatID)
	req.Message = strings.TrimSpace(req.Message)
	req.Action = strings.TrimSpace(req.Action)

	if req.ChatID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing chat_id"})
		return
	}
	if req.Message == "" && req.Action == "" && req.ManagerStatus == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "empty command"})
		return
	}

	ok, err := h.chatSvc.ChatExists(r.Context(), req.ChatID)
	if err != nil {
		slog.Error("handler.ManagerSend:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "chat not found"})
		return
	}

	if req.ManagerStatus != nil {
		h.relaySvc.SetTakeover(req.ChatID, *req.ManagerStatus)
	}

	if req.Message != "" {
		if err := h.relaySvc.Submit(r.Context(), req.ChatID, domain.SenderManager, req.Message); err != nil {
			h.writeSubmitError(w, err)
			return
		}
	}
	if req.Action != "" {
		if err := h.relaySvc.Submit(r.Context(), req.ChatID, domain.SenderAction, req.Action); err != nil {
			h.writeSubmitError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (h *Handler) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRelayClosed):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "shutting down"})
	case errors.Is(err, domain.ErrEmptyMessage):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "empty message"})
	default:
		slog.Error("handler.ManagerSend.Submit:", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}
