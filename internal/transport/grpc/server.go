package grpcx

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger — проверка доступности хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server — операционная поверхность сервиса: стандартный grpc health,
// serving-статус которого ведётся по доступности Postgres. Его слушают
// пробы оркестратора и балансировщик.
type Server struct {
	health *health.Server
	db     Pinger

	checkEvery time.Duration
}

func NewServer(db Pinger) *Server {
	return &Server{
		health:     health.NewServer(),
		db:         db,
		checkEvery: 15 * time.Second,
	}
}

func Register(grpcServer *grpc.Server, s *Server) {
	healthpb.RegisterHealthServer(grpcServer, s.health)
}

// Run ведёт serving-статус, пока ctx жив: стартует в SERVING, опускается
// в NOT_SERVING, когда Postgres перестаёт отвечать, и поднимается обратно.
func (s *Server) Run(ctx context.Context) {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	ticker := time.NewTicker(s.checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.refresh(ctx)
		case <-ctx.Done():
			s.health.Shutdown()
			return
		}
	}
}

func (s *Server) refresh(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.db.Ping(pingCtx); err != nil {
		slog.Warn("health: postgres ping failed", "err", err)
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}
