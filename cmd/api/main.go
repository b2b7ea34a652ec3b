package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticketcap/internal/config"
	"ticketcap/internal/handler"
	"ticketcap/internal/payments"
	"ticketcap/internal/service"
	"ticketcap/internal/store"

	"github.com/redis/go-redis/v9"
)

type application struct {
	config        *config.Config
	logger        *log.Logger
	db            *sql.DB
	redisClient   *redis.Client
	ticketService *service.TicketService
	server        *http.Server
}

func main() {
	logger := log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lshortfile)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	app := &application{config: cfg, logger: logger}

	var opts []service.Option

	if cfg.RedisEnabled {
		app.redisClient, err = store.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		redisStore := store.NewRedisStore(app.redisClient)
		defer func() {
			if err := redisStore.Close(); err != nil {
				logger.Printf("Error closing Redis client: %v", err)
			}
		}()

		if cfg.CounterLockEnabled {
			logger.Printf("Counter lock enabled (ttl %s)", cfg.CounterLockTTL)
			opts = append(opts, service.WithLocker(redisStore))
		}
		if cfg.DedupeSessions {
			logger.Printf("Checkout session dedupe enabled (ttl %s)", cfg.DedupeTTL)
			opts = append(opts, service.WithDeduper(redisStore))
		}
	}

	if cfg.AuditDBEnabled {
		app.db, err = store.ConnectDB(cfg.DBDriver, cfg.DBDataSourceName)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		dbStore := store.NewDBStore(app.db)
		defer func() {
			if err := dbStore.Close(); err != nil {
				logger.Printf("Error closing database: %v", err)
			}
		}()

		if err := store.RunMigrations(app.db, cfg.MigrationsDir); err != nil {
			logger.Fatalf("Failed to run migrations: %v", err)
		}

		if total, err := dbStore.RecordedTickets(context.Background(), cfg.PaymentLinkID); err != nil {
			logger.Printf("Warning: could not read audit totals: %v", err)
		} else {
			logger.Printf("Audit log has %d tickets recorded for %s", total, cfg.PaymentLinkID)
		}
		opts = append(opts, service.WithRecorder(dbStore))
	}

	stripeClient := payments.NewClient(cfg.StripeSecretKey, cfg.StripeAPIURL)
	verifier := payments.NewVerifier(cfg.StripeWebhookSecret)
	app.ticketService = service.NewTicketService(logger, verifier, stripeClient, cfg, opts...)

	webhookHandler := handler.NewWebhookHandler(logger, app.ticketService)

	app.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      handler.NewRouter(logger, webhookHandler),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorLog:     logger,
	}

	app.serve()
}

func (app *application) serve() {
	app.logger.Printf("Webhook server running on %s (payment link %s, max %d tickets)",
		app.server.Addr, app.config.PaymentLinkID, app.config.MaxTickets)

	errChan := make(chan error, 1)
	go func() {
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		app.logger.Printf("Server error: %v", err)
		return
	case sig := <-quit:
		app.logger.Printf("Received signal %s. Shutting down server...", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Printf("Graceful server shutdown failed: %v", err)
	} else {
		app.logger.Println("Server gracefully stopped.")
	}
}
