package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/ridedispatch/internal/dispatch/domain"
	"github.com/example/ridedispatch/internal/dispatch/matching"
	"github.com/example/ridedispatch/internal/location"
	"github.com/example/ridedispatch/pkg/observability"
)

// The location service runs the driver position ingest stream on its own.
// Updates land in Redis so dispatch instances see them; without Redis the
// sink is process-local and only useful for smoke testing.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("location-service")
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "location-service")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	var sink domain.LocationSink
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer client.Close()
		sink = matching.NewRedisLocator(client, "")
	} else {
		logger.Warn("REDIS_ADDR unset, using process-local sink")
		sink = matching.NewMemoryLocator()
	}

	addr := getenv("GRPC_ADDR", ":9090")
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("listen grpc", zap.Error(err))
	}

	srv := grpc.NewServer()
	location.RegisterIngestServer(srv, location.NewServer(sink, logger.Named("ingest")))

	go func() {
		logger.Info("location ingest listening", zap.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil {
			logger.Fatal("grpc serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	srv.GracefulStop()
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
