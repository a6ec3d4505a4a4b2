// Command parkingd runs the billing and inventory responders on the configured bus and store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/next-trace/scg-parking-bus/adapters/inmemory"
	"github.com/next-trace/scg-parking-bus/adapters/kafka"
	"github.com/next-trace/scg-parking-bus/adapters/nats"
	"github.com/next-trace/scg-parking-bus/adapters/rabbitmq"
	"github.com/next-trace/scg-parking-bus/billing"
	"github.com/next-trace/scg-parking-bus/config"
	cbus "github.com/next-trace/scg-parking-bus/contract/bus"
	berr "github.com/next-trace/scg-parking-bus/contract/errors"
	"github.com/next-trace/scg-parking-bus/inventory"
	"github.com/next-trace/scg-parking-bus/logger"
	"github.com/next-trace/scg-parking-bus/observability"
	"github.com/next-trace/scg-parking-bus/parking"
	"github.com/next-trace/scg-parking-bus/servicebus"
	memstore "github.com/next-trace/scg-parking-bus/store/memory"
	mongostore "github.com/next-trace/scg-parking-bus/store/mongo"
	redisstore "github.com/next-trace/scg-parking-bus/store/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := cfg.Log
	log.Info("Starting parking daemon", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.Setup(ctx, observability.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.OtelEndpoint,
		Insecure:       cfg.OtelInsecure,
	})
	if err != nil {
		log.Fatal("Failed to set up tracing", "error", err)
	}

	dest := cfg.Destinations()

	tr, closeTransport, err := openTransport(cfg, dest)
	if err != nil {
		log.Fatal("Failed to open transport", "transport", cfg.BusTransport, "error", err)
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatal("Failed to open store", "store", cfg.StoreBackend, "error", err)
	}

	broker := servicebus.New(tr,
		servicebus.WithRoutes(dest.Routes()),
		servicebus.WithTimeout(cfg.RequestTimeout),
		servicebus.WithPropagator(observability.HeaderPropagator{}),
		servicebus.WithLogger(log.Logger),
		servicebus.WithHandlerMiddleware(requestLogging(log)),
	)

	calc, err := billing.NewCalculator(cfg.Pricing())
	if err != nil {
		log.Fatal("Invalid pricing", "error", err)
	}

	if err := billing.Bind(broker, dest, calc); err != nil {
		log.Fatal("Failed to bind billing", "error", err)
	}

	inv := inventory.New(store, billing.NewClient(broker, dest), inventory.WithLogger(log.Logger))
	if err := inv.Bind(broker, dest); err != nil {
		log.Fatal("Failed to bind inventory", "error", err)
	}

	if err := broker.Start(ctx); err != nil {
		log.Fatal("Failed to start broker", "error", err)
	}

	created, err := inv.Provision(ctx, cfg.Counts())
	if err != nil {
		log.Fatal("Failed to provision spaces", "error", err)
	}

	log.Info("Parking daemon ready",
		"transport", cfg.BusTransport,
		"store", cfg.StoreBackend,
		"spaces_created", created,
		"topic_prefix", dest.Prefix,
	)

	<-ctx.Done()
	log.Info("Shutting down")

	if err := broker.Close(); err != nil {
		log.Error("Broker close failed", "error", err)
	}

	closeTransport()
	closeStore()

	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := shutdownTracing(flushCtx); err != nil {
		log.Error("Tracer shutdown failed", "error", err)
	}

	log.Info("Parking daemon stopped")
}

func openTransport(cfg *config.Config, dest parking.Destinations) (cbus.Transport, func(), error) {
	switch cfg.BusTransport {
	case config.TransportNATS:
		replies := make(map[string]struct{})
		for _, r := range dest.Routes() {
			replies[r] = struct{}{}
		}

		// replies belong to the requesting instance, so only request subjects load-balance
		return nats.NewWithNATS(nats.Config{
			URL:    cfg.NatsURL,
			Name:   cfg.ServiceName,
			Queue:  cfg.ServiceName,
			Shared: func(d string) bool {
				_, isReply := replies[d]
				return !isReply
			},
		})
	case config.TransportKafka:
		kcfg := kafka.Config{
			Brokers:  cfg.KafkaBrokers,
			ClientID: cfg.ServiceName,
			GroupID:  cfg.KafkaGroupID,
		}
		if cfg.KafkaDriver == config.KafkaDriverKafkaGo {
			return kafka.NewWithKafkaGo(kcfg)
		}

		return kafka.NewWithKgo(kcfg)
	case config.TransportRabbitMQ:
		return rabbitmq.NewWithAMQPConn(rabbitmq.Config{
			URL:      cfg.RabbitMQURL,
			Exchange: cfg.RabbitMQExchange,
		})
	case config.TransportInMemory:
		tr := inmemory.New()
		return tr, func() { _ = tr.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("transport %q: %w", cfg.BusTransport, berr.ErrTransport)
	}
}

func openStore(cfg *config.Config) (inventory.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		return redisstore.NewWithClient(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, redisstore.WithPrefix(cfg.TopicPrefix))
	case config.StoreMongo:
		return mongostore.NewWithClient(mongostore.Config{
			URI:         cfg.MongoURI,
			Database:    cfg.MongoDatabaseName,
			ConnTimeout: cfg.MongoConnTimeout,
		})
	default:
		return memstore.New(), func() {}, nil
	}
}

// requestLogging logs every served request with its outcome and latency.
func requestLogging(log *logger.Logger) servicebus.HandlerMiddleware {
	return func(next servicebus.HandlerFunc) servicebus.HandlerFunc {
		return func(ctx context.Context, msg cbus.Message) ([]byte, error) {
			start := time.Now()
			out, err := next(ctx, msg)

			attrs := []any{
				"destination", msg.Destination,
				"key", msg.Key,
				"duration", time.Since(start),
			}
			if err != nil {
				code, _ := berr.CodeOf(err)
				log.WarnContext(ctx, "Request failed", append(attrs, "code", code, "error", err)...)
			} else {
				log.DebugContext(ctx, "Request served", attrs...)
			}

			return out, err
		}
	}
}
