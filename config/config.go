// Package config loads the daemon configuration from the environment (and an optional .env file).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/next-trace/scg-parking-bus/billing"
	"github.com/next-trace/scg-parking-bus/inventory"
	"github.com/next-trace/scg-parking-bus/logger"
	"github.com/next-trace/scg-parking-bus/parking"

	"github.com/joho/godotenv"
)

type Config struct {
	ServiceName string
	LogLevel    string
	LogFormat   string

	BusTransport   string
	TopicPrefix    string
	RequestTimeout time.Duration

	NatsURL string

	KafkaBrokers []string
	KafkaDriver  string
	KafkaGroupID string

	RabbitMQURL      string
	RabbitMQExchange string

	StoreBackend string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MongoURI          string
	MongoDatabaseName string
	MongoConnTimeout  time.Duration

	TypeGasolineCount int
	TypeKW20Count     int
	TypeKW50Count     int

	PricingStrategy       string
	PricingFixedAmount    float64
	PricingPricePerSecond float64
	PricingCurrency       string

	OtelEndpoint string
	OtelInsecure bool

	ShutdownTimeout time.Duration

	Log *logger.Logger
}

// Load reads .env (when present) and the environment, validates the result and logs it.
func Load(serviceName string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := FromEnv(serviceName)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	cfg.LogConfiguration()

	return cfg, nil
}

// FromEnv builds a Config from the environment without validating it.
func FromEnv(serviceName string) *Config {
	if serviceName == "" {
		serviceName = getEnvStr(EnvServiceName, DefaultServiceName)
	}

	cfg := &Config{
		ServiceName: serviceName,
		LogLevel:    getEnvStr(EnvLogLevel, DefaultLogLevel),
		LogFormat:   getEnvStr(EnvLogFormat, DefaultLogFormat),

		BusTransport:   strings.ToLower(getEnvStr(EnvBusTransport, DefaultBusTransport)),
		TopicPrefix:    getEnvStr(EnvTopicPrefix, DefaultTopicPrefix),
		RequestTimeout: getEnvDuration(EnvRequestTimeout, DefaultRequestTimeout),

		NatsURL: getEnvStr(EnvNatsURL, DefaultNatsURL),

		KafkaBrokers: getEnvList(EnvKafkaBrokers, DefaultKafkaBrokers),
		KafkaDriver:  strings.ToLower(getEnvStr(EnvKafkaDriver, DefaultKafkaDriver)),
		KafkaGroupID: getEnvStr(EnvKafkaGroupID, DefaultKafkaGroupID),

		RabbitMQURL:      getEnvStr(EnvRabbitMQURL, DefaultRabbitMQURL),
		RabbitMQExchange: getEnvStr(EnvRabbitMQExchange, ""),

		StoreBackend: strings.ToLower(getEnvStr(EnvStoreBackend, DefaultStoreBackend)),

		RedisAddr:     getEnvStr(EnvRedisAddr, DefaultRedisAddr),
		RedisPassword: getEnvStr(EnvRedisPassword, ""),
		RedisDB:       getEnvNum(EnvRedisDB, DefaultRedisDB),

		MongoURI:          getEnvStr(EnvMongoURI, DefaultMongoURI),
		MongoDatabaseName: getEnvStr(EnvMongoDatabaseName, DefaultMongoDatabaseName),
		MongoConnTimeout:  getEnvDuration(EnvMongoConnTimeout, DefaultMongoConnTimeout),

		TypeGasolineCount: getEnvNum(EnvTypeGasolineCount, DefaultTypeGasolineCount),
		TypeKW20Count:     getEnvNum(EnvTypeKW20Count, DefaultTypeKW20Count),
		TypeKW50Count:     getEnvNum(EnvTypeKW50Count, DefaultTypeKW50Count),

		PricingStrategy:       strings.ToUpper(getEnvStr(EnvPricingStrategy, DefaultPricingStrategy)),
		PricingFixedAmount:    getEnvFloat(EnvPricingFixedAmount, DefaultPricingFixedAmount),
		PricingPricePerSecond: getEnvFloat(EnvPricingPricePerSecond, DefaultPricingPricePerSecond),
		PricingCurrency:       getEnvStr(EnvPricingCurrency, DefaultPricingCurrency),

		OtelEndpoint: getEnvStr(EnvOtelEndpoint, ""),
		OtelInsecure: getEnvBool(EnvOtelInsecure, false),

		ShutdownTimeout: getEnvDuration(EnvShutdownTimeout, DefaultShutdownTimeout),
	}

	cfg.Log = logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: cfg.ServiceName,
	})

	return cfg
}

func (cfg *Config) Validate() error {
	var errors []string

	switch cfg.BusTransport {
	case TransportInMemory, TransportNATS, TransportKafka, TransportRabbitMQ:
	default:
		errors = append(errors, fmt.Sprintf("BusTransport must be one of inmemory, nats, kafka, rabbitmq, got: %s", cfg.BusTransport))
	}

	if cfg.BusTransport == TransportNATS && cfg.NatsURL == "" {
		errors = append(errors, "NatsURL cannot be empty")
	}

	if cfg.BusTransport == TransportKafka {
		if len(cfg.KafkaBrokers) == 0 {
			errors = append(errors, "KafkaBrokers cannot be empty")
		}

		if cfg.KafkaDriver != KafkaDriverFranz && cfg.KafkaDriver != KafkaDriverKafkaGo {
			errors = append(errors, fmt.Sprintf("KafkaDriver must be franz or kafka-go, got: %s", cfg.KafkaDriver))
		}
	}

	if cfg.BusTransport == TransportRabbitMQ && !strings.HasPrefix(cfg.RabbitMQURL, "amqp") {
		errors = append(errors, fmt.Sprintf("RabbitMQURL must start with 'amqp://' or 'amqps://', got: %s", redactURL(cfg.RabbitMQURL)))
	}

	switch cfg.StoreBackend {
	case StoreMemory:
	case StoreRedis:
		if cfg.RedisAddr == "" {
			errors = append(errors, "RedisAddr cannot be empty")
		}

		if cfg.RedisDB < 0 {
			errors = append(errors, fmt.Sprintf("RedisDB cannot be negative, got: %d", cfg.RedisDB))
		}
	case StoreMongo:
		if !regexp.MustCompile(`^mongodb(\+srv)?://`).MatchString(cfg.MongoURI) {
			errors = append(errors, fmt.Sprintf("MongoURI must start with 'mongodb://' or 'mongodb+srv://', got: %s", redactURL(cfg.MongoURI)))
		}

		if cfg.MongoDatabaseName == "" {
			errors = append(errors, "MongoDatabaseName cannot be empty")
		}

		if cfg.MongoConnTimeout <= 0 {
			errors = append(errors, fmt.Sprintf("MongoConnTimeout must be positive, got: %s", cfg.MongoConnTimeout))
		}
	default:
		errors = append(errors, fmt.Sprintf("StoreBackend must be one of memory, redis, mongo, got: %s", cfg.StoreBackend))
	}

	if cfg.TopicPrefix == "" {
		errors = append(errors, "TopicPrefix cannot be empty")
	}

	if cfg.RequestTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("RequestTimeout must be positive, got: %s", cfg.RequestTimeout))
	}

	if cfg.ShutdownTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("ShutdownTimeout must be positive, got: %s", cfg.ShutdownTimeout))
	}

	if cfg.TypeGasolineCount < 0 || cfg.TypeKW20Count < 0 || cfg.TypeKW50Count < 0 {
		errors = append(errors, fmt.Sprintf("space counts cannot be negative, got: gasoline=%d kw20=%d kw50=%d",
			cfg.TypeGasolineCount, cfg.TypeKW20Count, cfg.TypeKW50Count))
	}

	if err := cfg.Pricing().Validate(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		errMsg := "Configuration validation failed:\n"
		for i, err := range errors {
			errMsg += fmt.Sprintf("  %d. %s\n", i+1, err)
		}

		return fmt.Errorf("%s", errMsg)
	}

	return nil
}

func (cfg *Config) LogConfiguration() {
	cfg.Log.Info("Configuration loaded successfully",
		"bus_transport", cfg.BusTransport,
		"topic_prefix", cfg.TopicPrefix,
		"request_timeout", cfg.RequestTimeout,
		"nats_url", redactURL(cfg.NatsURL),
		"kafka_brokers", cfg.KafkaBrokers,
		"kafka_driver", cfg.KafkaDriver,
		"kafka_group_id", cfg.KafkaGroupID,
		"rabbitmq_url", redactURL(cfg.RabbitMQURL),
		"store_backend", cfg.StoreBackend,
		"redis_addr", cfg.RedisAddr,
		"redis_password_set", cfg.RedisPassword != "",
		"redis_db", cfg.RedisDB,
		"mongo_uri", redactURL(cfg.MongoURI),
		"mongo_database", cfg.MongoDatabaseName,
		"type_gasoline_count", cfg.TypeGasolineCount,
		"type_kw20_count", cfg.TypeKW20Count,
		"type_kw50_count", cfg.TypeKW50Count,
		"pricing_strategy", cfg.PricingStrategy,
		"pricing_fixed_amount", cfg.PricingFixedAmount,
		"pricing_price_per_second", cfg.PricingPricePerSecond,
		"pricing_currency", cfg.PricingCurrency,
		"otel_endpoint", cfg.OtelEndpoint,
	)
}

// Counts is the provisioning plan.
func (cfg *Config) Counts() inventory.Counts {
	return inventory.Counts{
		parking.Gasoline: cfg.TypeGasolineCount,
		parking.KW20:     cfg.TypeKW20Count,
		parking.KW50:     cfg.TypeKW50Count,
	}
}

func (cfg *Config) Pricing() billing.PricingStrategy {
	return billing.PricingStrategy{
		Strategy:       billing.Strategy(cfg.PricingStrategy),
		FixedAmount:    cfg.PricingFixedAmount,
		PricePerSecond: cfg.PricingPricePerSecond,
		Currency:       cfg.PricingCurrency,
	}
}

func (cfg *Config) Destinations() parking.Destinations {
	return parking.NewDestinations(cfg.TopicPrefix)
}

func redactURL(uri string) string {
	credentialRegex := regexp.MustCompile(`(^[a-z+]+://)[^:/@]+:[^@]+@`)
	return credentialRegex.ReplaceAllString(uri, "${1}***:***@")
}

func getEnvStr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}

func getEnvNum(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}

	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}

	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}

	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}

	return fallback
}

func getEnvList(key, fallback string) []string {
	raw := getEnvStr(key, fallback)

	var out []string

	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}

	return out
}
