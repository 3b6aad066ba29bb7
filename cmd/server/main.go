package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"order-tracking-service/internal/config"
	"order-tracking-service/internal/controller"
	"order-tracking-service/internal/events"
	"order-tracking-service/internal/kafka"
	"order-tracking-service/internal/rabbit"
	"order-tracking-service/internal/repository"
	"order-tracking-service/internal/service"
	"order-tracking-service/internal/tracking"
)

type eventBus interface {
	events.Bus
	Close(ctx context.Context) error
}

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Repositorio
	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		log.Fatalf("Error abriendo repositorio %s: %v", cfg.StoreDriver, err)
	}
	defer closeRepo()

	// Bus de eventos
	bus, err := openBus(cfg)
	if err != nil {
		log.Fatalf("Error conectando bus %s: %v", cfg.EventTransport, err)
	}

	// Servicios
	orderService := service.NewOrderService(repo, bus, service.Options{
		DeliveryFee:         cfg.DeliveryFee,
		OTPMaxAttempts:      cfg.OTPMaxAttempts,
		LocationMinInterval: cfg.LocationMinInterval,
		Route: tracking.Route{
			Kitchen:  tracking.Point{Lat: cfg.KitchenLat, Lng: cfg.KitchenLng},
			Customer: tracking.Point{Lat: cfg.CustomerLat, Lng: cfg.CustomerLng},
		},
	})
	authService := service.NewAuthService(cfg.AuthURL, cfg.AuthJWTSecret)

	// Handlers y router
	r := gin.Default()
	controller.RegisterRoutes(r,
		controller.NewOrderController(orderService),
		controller.NewStreamController(orderService, bus),
		authService,
	)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.Printf("Order Tracking Service ejecutándose en puerto %s (store=%s, bus=%s)",
			cfg.Port, cfg.StoreDriver, cfg.EventTransport)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Apagando servidor...")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error cerrando HTTP: %v", err)
	}
	if err := bus.Close(shutdownCtx); err != nil {
		log.Printf("Error cerrando bus: %v", err)
	}
}

func openRepository(ctx context.Context, cfg *config.Config) (service.OrderRepository, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		if cfg.StoreFile != "" {
			repo, err := repository.NewFileOrderRepository(cfg.StoreFile)
			return repo, func() {}, err
		}
		return repository.NewMemoryOrderRepository(), func() {}, nil

	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewMongoOrderRepository(client.Database(cfg.MongoDBName))
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		return repo, func() { _ = client.Disconnect(context.Background()) }, nil

	case "postgres":
		if err := repository.Migrate(cfg.PostgresDSN); err != nil {
			return nil, nil, err
		}
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repository.NewPostgresOrderRepository(pool), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("driver desconocido %q", cfg.StoreDriver)
}

func openBus(cfg *config.Config) (eventBus, error) {
	local := events.NewInProcessBus(events.WithLatency(cfg.EventLatency))

	switch cfg.EventTransport {
	case "memory":
		return local, nil

	case "rabbit":
		conn, err := amqp091.Dial(cfg.RabbitURL)
		if err != nil {
			return nil, err
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		bus, err := rabbit.NewBus(ch, cfg.RabbitExchange, local)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return bus, nil

	case "kafka":
		return kafka.NewBus(kafka.BusConfig{
			Brokers:     cfg.KafkaBrokers,
			Topic:       cfg.KafkaTopic,
			GroupPrefix: cfg.KafkaGroupPrefix,
		}, local)
	}
	return nil, fmt.Errorf("transporte desconocido %q", cfg.EventTransport)
}
