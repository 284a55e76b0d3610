// Package main запускает HTTP-сервер сервиса bundlemart.
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

	"github.com/mmeshcher/bundlemart/internal/cache"
	"github.com/mmeshcher/bundlemart/internal/config"
	"github.com/mmeshcher/bundlemart/internal/events"
	"github.com/mmeshcher/bundlemart/internal/handler"
	"github.com/mmeshcher/bundlemart/internal/middleware"
	"github.com/mmeshcher/bundlemart/internal/payment"
	"github.com/mmeshcher/bundlemart/internal/repository"
	"github.com/mmeshcher/bundlemart/internal/review"
	"github.com/mmeshcher/bundlemart/internal/service"
)

const eventBufferSize = 1024

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var repo service.Repository
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		repo = pg
	} else {
		sugar.Warn("DATABASE_URI is not set, using in-memory storage")
		repo = repository.NewMemoryRepository()
	}

	opts := []service.Option{
		service.WithReconciliation(cfg.PaymentAbandonAfter, cfg.ReconcileInterval),
	}

	if cfg.RedisAddr != "" {
		orderCache := cache.NewRedis(cfg.RedisAddr, cfg.OrderCacheTTL)
		defer orderCache.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := orderCache.Ping(pingCtx); err != nil {
			sugar.Warnw("redis is unavailable, order cache disabled", "error", err.Error())
		} else {
			opts = append(opts, service.WithCache(orderCache))
		}
		cancel()
	}

	var producer *events.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, eventBufferSize, logger)
		opts = append(opts, service.WithPublisher(producer))
	}

	if cfg.ReviewServiceAddress != "" {
		opts = append(opts, service.WithReviewPurger(review.NewClient(cfg.ReviewServiceAddress)))
	}
	if cfg.PaymentProviderAddress != "" {
		opts = append(opts, service.WithPaymentClient(payment.NewClient(cfg.PaymentProviderAddress)))
	}
	if cfg.PaymentSecret != "" {
		opts = append(opts, service.WithPaymentVerifier(payment.NewVerifier(cfg.PaymentSecret)))
	} else {
		sugar.Warn("PAYMENT_SECRET is not set, payment callbacks are rejected")
	}

	svc := service.NewService(repo, logger, opts...)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret, cfg.OperatorIDs...)
	h := handler.NewHandler(svc, logger, authMiddleware)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Сверка неподтверждённых онлайн-оплат
	g.Go(func() error {
		return svc.RunPaymentReconciliation(ctx)
	})

	if producer != nil {
		g.Go(func() error {
			if err := producer.Run(ctx); err != nil {
				return fmt.Errorf("event producer error: %w", err)
			}
			return nil
		})
	}

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting bundlemart server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
