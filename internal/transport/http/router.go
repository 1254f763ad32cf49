package http

import (
	"net/http"
	"time"

	"github.com/cwrk-planet/chat-service/internal/transport/ws"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(h *Handler, wsServer *ws.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middlewareChi.RequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)
	// фронт виджета живёт на чужих доменах
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	// WS endpoints вне Timeout: соединения долгие
	r.Get("/ws", wsServer.HandleUserWS)
	r.Get("/manager/ws", wsServer.HandleManagerWS)

	r.Group(func(pr chi.Router) {
		pr.Use(middlewareChi.Timeout(30 * time.Second))

		pr.Get("/history", h.GetHistory)
		pr.Get("/manager/chats", h.ListChats)
		pr.Post("/manager/send", h.ManagerSend)
	})

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
