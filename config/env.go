package config

const (
	EnvLogLevel    = "LOG_LEVEL"
	EnvLogFormat   = "LOG_FORMAT"
	EnvServiceName = "SERVICE_NAME"

	EnvBusTransport   = "BUS_TRANSPORT"
	EnvTopicPrefix    = "TOPIC_PREFIX"
	EnvRequestTimeout = "REQUEST_TIMEOUT"

	EnvNatsURL = "NATS_URL"

	EnvKafkaBrokers = "KAFKA_BROKERS"
	EnvKafkaDriver  = "KAFKA_DRIVER"
	EnvKafkaGroupID = "KAFKA_GROUP_ID"

	EnvRabbitMQURL      = "RABBITMQ_URL"
	EnvRabbitMQExchange = "RABBITMQ_EXCHANGE"

	EnvStoreBackend = "STORE_BACKEND"

	EnvRedisAddr     = "REDIS_ADDR"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvRedisDB       = "REDIS_DB"

	EnvMongoURI          = "MONGO_URI"
	EnvMongoDatabaseName = "MONGO_DATABASE_NAME"
	EnvMongoConnTimeout  = "MONGO_CONN_TIMEOUT"

	EnvTypeGasolineCount = "TYPE_GASOLINE_COUNT"
	EnvTypeKW20Count     = "TYPE_KW20_COUNT"
	EnvTypeKW50Count     = "TYPE_KW50_COUNT"

	EnvPricingStrategy       = "PRICING_STRATEGY"
	EnvPricingFixedAmount    = "PRICING_FIXED_AMOUNT"
	EnvPricingPricePerSecond = "PRICING_PRICE_PER_SECOND"
	EnvPricingCurrency       = "PRICING_CURRENCY"

	EnvOtelEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvOtelInsecure = "OTEL_EXPORTER_OTLP_INSECURE"

	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"
)
