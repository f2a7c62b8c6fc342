package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/ridedispatch/internal/auth"
	"github.com/example/ridedispatch/internal/dispatch/domain"
	"github.com/example/ridedispatch/internal/dispatch/handler"
	"github.com/example/ridedispatch/internal/dispatch/matching"
	"github.com/example/ridedispatch/internal/dispatch/notify"
	"github.com/example/ridedispatch/internal/dispatch/repository"
	"github.com/example/ridedispatch/internal/dispatch/service"
	"github.com/example/ridedispatch/internal/location"
	"github.com/example/ridedispatch/internal/relay"
	"github.com/example/ridedispatch/pkg/events"
	"github.com/example/ridedispatch/pkg/observability"
)

type appConfig struct {
	HTTPAddr      string
	GRPCAddr      string
	RedisAddr     string
	NATSURL       string
	NATSSubject   string
	JWTSecret     string
	RadiusMiles   float64
	RecencyWindow time.Duration
	JournalRetain int
	RelayPoll     time.Duration
	RelayRetry    int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("dispatch-service")
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "dispatch-service")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	cfg := loadConfig()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("dispatchservice")); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	store, locator := buildStorage(redisClient)
	journal := notify.NewLog(cfg.JournalRetain)
	svc := service.New(store, journal, domain.SystemClock{})

	matcher, err := matching.NewMatcher(locator, store, matching.Config{
		RadiusMiles:   cfg.RadiusMiles,
		RecencyWindow: cfg.RecencyWindow,
	})
	if err != nil {
		logger.Fatal("build matcher", zap.Error(err))
	}

	dispatchHTTP := handler.NewHTTP(svc, matcher)

	r := chi.NewRouter()
	if cfg.JWTSecret != "" {
		r.With(auth.Middleware(cfg.JWTSecret)).Mount("/", dispatchHTTP.Router())
	} else {
		r.Mount("/", dispatchHTTP.Router())
	}
	var checks []observability.Check
	if redisClient != nil {
		checks = append(checks, func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}
	r.Mount("/observability", observability.MetricsRouter(checks...))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if natsConn != nil {
		worker := relay.New(journal, events.NewPublisher(natsConn, cfg.NATSSubject), logger.Named("relay"), relay.Config{
			PollInterval: cfg.RelayPoll,
			RetryMax:     cfg.RelayRetry,
		})
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("event relay disabled, no NATS connection")
	}

	if cfg.GRPCAddr != "" {
		if sink, ok := locator.(domain.LocationSink); ok {
			go runIngest(logger, cfg.GRPCAddr, sink)
		}
	}

	go func() {
		logger.Info("dispatch service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildStorage(redisClient *redis.Client) (domain.Store, domain.DriverLocator) {
	if redisClient == nil {
		return repository.NewMemoryStore(domain.SystemClock{}), matching.NewMemoryLocator()
	}
	return repository.NewRedisStore(redisClient, "", domain.SystemClock{}), matching.NewRedisLocator(redisClient, "")
}

func runIngest(logger *zap.Logger, addr string, sink domain.LocationSink) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("listen grpc", zap.Error(err))
	}
	srv := grpc.NewServer()
	location.RegisterIngestServer(srv, location.NewServer(sink, logger.Named("ingest")))
	logger.Info("location ingest listening", zap.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil {
		logger.Fatal("grpc serve", zap.Error(err))
	}
}

func loadConfig() appConfig {
	return appConfig{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		GRPCAddr:      os.Getenv("GRPC_ADDR"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		NATSURL:       os.Getenv("NATS_URL"),
		NATSSubject:   getenv("NATS_SUBJECT", "dispatch.events"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		RadiusMiles:   parseFloatEnv("MATCH_RADIUS_MILES", matching.DefaultRadiusMiles),
		RecencyWindow: time.Duration(parseIntEnv("MATCH_RECENCY_SEC", 900)) * time.Second,
		JournalRetain: parseIntEnv("JOURNAL_RETAIN", 1024),
		RelayPoll:     time.Duration(parseIntEnv("RELAY_POLL_MS", 1000)) * time.Millisecond,
		RelayRetry:    parseIntEnv("RELAY_RETRY_MAX", 3),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseFloatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
