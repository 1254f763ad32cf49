package main

import (
	"context"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwrk-planet/chat-service/config"
	"github.com/cwrk-planet/chat-service/internal/postgres"
	"github.com/cwrk-planet/chat-service/internal/responder"
	"github.com/cwrk-planet/chat-service/internal/service"
	grpcx "github.com/cwrk-planet/chat-service/internal/transport/grpc"
	httpx "github.com/cwrk-planet/chat-service/internal/transport/http"
	"github.com/cwrk-planet/chat-service/internal/transport/ws"
	"github.com/cwrk-planet/chat-service/pkg/logger"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"
)

func main() {
	// --- config ---
	// ARK_API_KEY и ARK_MODEL в dev удобно держать в .env
	if err := godotenv.Load(); err != nil {
		log.Printf("load .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(cfg.Logging.ToLoggerConfig())
	slog.Info("starting chat-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version)

	// --- postgres ---
	ctx := context.Background()
	db, err := postgres.New(ctx, cfg.Postgres.ToPoolConfig())
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer db.Close()

	// --- repos ---
	chatRepo := postgres.NewChatRepository(db.Pool)

	// --- responder: ИИ при заданных ARK-кредах, иначе эхо ---
	resp, err := responder.New(ctx, cfg.Responder.ToResponderConfig(), chatRepo)
	if err != nil {
		log.Fatalf("responder: %v", err)
	}

	// --- WS Hub, services ---
	hub := ws.NewHub()
	relay := service.NewRelayService(chatRepo, resp, hub)
	chatSvc := service.NewChatService(chatRepo)
	wsServer := ws.NewServer(hub, relay)

	// --- HTTP ---
	handler := httpx.NewHandler(relay, chatSvc)
	router := httpx.NewRouter(handler, wsServer)
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- gRPC: health-сервис для проб оркестратора ---
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcx.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcx.StreamServerInterceptor()),
	)
	grpcSrv := grpcx.NewServer(db)
	grpcx.Register(grpcServer, grpcSrv)

	healthCtx, stopHealth := context.WithCancel(ctx)
	defer stopHealth()
	go grpcSrv.Run(healthCtx)

	// --- run both servers ---
	errCh := make(chan error, 2)

	go func() {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	go func() {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			errCh <- err
			return
		}
		slog.Info("grpc listen", "addr", cfg.GRPC.Addr)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal", "sig", sig)
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopHealth()
	grpcServer.GracefulStop()
	_ = httpSrv.Shutdown(ctxShutdown)

	// добиваем очередь реле, чтобы не потерять принятые сообщения
	if err := relay.Shutdown(ctxShutdown); err != nil {
		slog.Warn("relay drain incomplete", "err", err)
	}
	slog.Info("stopped")
}
