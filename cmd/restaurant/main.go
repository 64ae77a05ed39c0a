// Package main запускает HTTP-сервер сервиса заказов ресторана.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/restaurant-orders/internal/config"
	"github.com/mmeshcher/restaurant-orders/internal/handler"
	"github.com/mmeshcher/restaurant-orders/internal/middleware"
	"github.com/mmeshcher/restaurant-orders/internal/notify"
	"github.com/mmeshcher/restaurant-orders/internal/payment"
	"github.com/mmeshcher/restaurant-orders/internal/pubsub"
	"github.com/mmeshcher/restaurant-orders/internal/repository"
	"github.com/mmeshcher/restaurant-orders/internal/service"
	"github.com/mmeshcher/restaurant-orders/internal/websocket"
)

const shutdownTimeout = 5 * time.Second

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	var gateway service.Gateway
	if cfg.GatewayEnabled() {
		gateway = payment.NewClient(cfg.GatewayURL, cfg.GatewayKeyID, cfg.GatewayKeySecret, cfg.GatewayTimeout)
	} else {
		sugar.Warn("payment gateway keys are not set, online payment is disabled")
	}

	hub := websocket.NewHub(logger, originChecker(cfg.CORSOrigins))
	defer hub.Close()

	// Без Redis события доставляются только подписчикам этого экземпляра.
	var (
		channels pubsub.Fanout
		relay    *pubsub.RedisPublisher
	)
	if cfg.RedisURL != "" {
		relay, err = pubsub.NewRedisPublisher(ctx, cfg.RedisURL, logger)
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer relay.Close()
		channels = append(channels, relay)
	} else {
		channels = append(channels, hub)
	}
	if cfg.KafkaBrokers != "" {
		mirror := pubsub.NewKafkaMirror(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer mirror.Close()
		channels = append(channels, mirror)
	}

	broadcaster := notify.NewBroadcaster(channels, logger, 0)

	svc := service.NewService(repo, gateway, broadcaster, service.Options{
		Currency:         cfg.Currency,
		AdminLogins:      cfg.AdminLogins,
		RejectWhenClosed: cfg.RejectWhenClosed,
	})
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	if cfg.AuthSecret == "" {
		sugar.Warn("auth secret is not set, sessions will not survive a restart")
	}
	h := handler.NewHandler(svc, logger, authMiddleware, hub, cfg.CORSOrigins)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Рассылка событий после фиксации изменений
	g.Go(func() error {
		broadcaster.Run(ctx, svc)
		return nil
	})

	// Пересылка событий из Redis локальным подписчикам
	if relay != nil {
		g.Go(func() error {
			return relay.Relay(ctx, hub)
		})
	}

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting restaurant order server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Infow("server stopped gracefully", "dropped_events", broadcaster.Dropped())
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Errorw("application terminated with error", "error", err)
	}
}

// originChecker разрешает WebSocket-подключения с адресов из списка CORS.
// Пустой список разрешает только запросы с того же хоста.
func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}
		if _, ok := allowed["*"]; ok {
			return true
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
}
