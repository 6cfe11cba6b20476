package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jogardn/agrimarket/internal/api"
	"github.com/jogardn/agrimarket/internal/auth"
	"github.com/jogardn/agrimarket/internal/catalog"
	"github.com/jogardn/agrimarket/internal/checkout"
	"github.com/jogardn/agrimarket/internal/circuitbreaker"
	"github.com/jogardn/agrimarket/internal/config"
	"github.com/jogardn/agrimarket/internal/events"
	"github.com/jogardn/agrimarket/internal/orders"
	"github.com/jogardn/agrimarket/internal/telemetry"
	"github.com/jogardn/agrimarket/internal/websocket"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cfg, logger)
		},
	}
}

func serve(cfg config.Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(cfg.Tracing.Enabled, cfg.Tracing.ServiceName, os.Stdout)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.Seed.OnStart {
		doc, err := catalog.LoadSeed(cfg.Seed.File)
		if err != nil {
			return err
		}
		if _, err := catalog.Seed(ctx, st, doc, logger); err != nil {
			return err
		}
	}

	var cache catalog.SuggestCache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("Redis unreachable; autosuggest will read through to the store")
		}
		cache = catalog.NewRedisCache(rdb, cfg.Redis.TTL)
	}

	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	publisher, breaker, err := startEvents(ctx, cfg, hub, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	authn := auth.New(cfg.Auth.Secret, logger)
	if !authn.Enabled() {
		logger.Warn("AUTH_SECRET not set; all routes are open")
	}

	router := api.NewRouter(api.Deps{
		Catalog:  catalog.NewService(st, cache, logger),
		Checkout: checkout.NewEngine(st, publisher, logger),
		Orders:   orders.NewQueryService(st, logger),
		Status:   orders.NewStatusService(st, publisher, logger),
		Auth:     authn,
		Store:    st,
		Feed:     http.HandlerFunc(hub.HandleWebSocket),
		Breaker:  breaker,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"port":  cfg.Port,
			"store": cfg.StoreDriver,
		}).Info("Starting agrimarket")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	cancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to flush traces")
	}

	logger.Info("Server gracefully stopped")
	return nil
}

// startEvents picks Kafka when brokers are configured and feeds the live
// order stream from the topics. Without Kafka, events go straight to the hub.
func startEvents(ctx context.Context, cfg config.Config, hub *websocket.Hub, logger *logrus.Logger) (events.Publisher, *circuitbreaker.CircuitBreaker, error) {
	if cfg.Kafka.Brokers == "" {
		logger.Info("KAFKA_BROKERS not set; publishing order events to websocket clients only")
		return events.NewHubPublisher(hub), nil, nil
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name: "kafka-producer",
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Event publisher circuit changed state")
		},
	}, logger)

	producer, err := events.NewKafkaProducer(cfg.Kafka.Brokers, breaker, logger)
	if err != nil {
		return nil, nil, err
	}

	groupID := cfg.Kafka.GroupID
	if host, err := os.Hostname(); err == nil {
		groupID += "-" + host
	}
	consumer, err := events.NewKafkaConsumer(cfg.Kafka.Brokers, groupID, events.NewHubRelay(hub), logger)
	if err != nil {
		producer.Close()
		return nil, nil, err
	}
	go func() {
		defer consumer.Close()
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("Order feed consumer stopped")
		}
	}()

	return producer, breaker, nil
}
