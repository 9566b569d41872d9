package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hqms/queue-service/internal/config"
	"hqms/queue-service/internal/httpapi"
	"hqms/queue-service/internal/hub"
	"hqms/queue-service/internal/notify"
	"hqms/queue-service/internal/queue"
	"hqms/queue-service/internal/store/postgres"
	"hqms/queue-service/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()

	shutdownTracing := telemetry.Setup(cfg.ServiceName)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	loc := cfg.Location()
	entryStore := postgres.NewStore(pool, loc)
	estimator := queue.NewEstimator(cfg.BaseWaitOverrides, cfg.PerPatientMinutes)
	queueHub := hub.New()
	notifier := notify.NewDispatcher(notify.Config{
		Provider:    cfg.NotifyProvider,
		SendTimeout: cfg.NotifySendTimeout,
	})
	service := queue.NewService(entryStore, estimator, queueHub, notifier, loc)

	handler := httpapi.NewHandler(service)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(
			limiter.Middleware(httpapi.LoggingMiddleware(handler.Routes())),
			"queue-service",
		),
		// Read/write timeouts stay unset so websocket sessions are not cut.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("queue-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	go func() {
		if cfg.BridgeInterval <= 0 {
			return
		}
		ticker := time.NewTicker(cfg.BridgeInterval)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			created, err := service.MaterializeToday(ctx)
			cancel()
			if err != nil {
				log.Printf("booking bridge error: %v", err)
				continue
			}
			if created > 0 {
				log.Printf("booking bridge created %d queue entries", created)
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
