package config

import "time"

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"juniper-api"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL (staged records + resolved clusters)
	DatabaseDriver              string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                string        `env:"DB_HOST" env-default:""`
	DatabasePort                string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName            string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword            string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                string        `env:"DB_NAME" env-default:"juniper"`
	DatabaseSSLMode             string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns        int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns        int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime     time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion    int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce      int           `env:"DB_MIGRATION_FORCE" env-default:"0"`

	// Graph Database (Memgraph)
	GraphDBEnabled  bool   `env:"GRAPH_DB_ENABLED" env-default:"true"`
	GraphDBHost     string `env:"GRAPH_DB_HOST" env-default:"localhost"`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" env-default:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" env-default:""`

	// Redis (run lock + search cache)
	RedisHost          string        `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort          int           `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword      string        `env:"REDIS_PASSWORD" env-default:""`
	RedisDB            int           `env:"REDIS_DB" env-default:"0"`
	RunLockTTL         time.Duration `env:"RUN_LOCK_TTL" env-default:"10m"`
	SearchCacheTTL     time.Duration `env:"SEARCH_CACHE_TTL" env-default:"5m"`
	SearchCacheEnabled bool          `env:"SEARCH_CACHE_ENABLED" env-default:"true"`

	// Kafka Consumer (captured person records - ingestion)
	KafkaBrokers         []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaInputTopic      string   `env:"KAFKA_INPUT_TOPIC" env-default:"person-records"`
	KafkaConsumerGroup   string   `env:"KAFKA_CONSUMER_GROUP" env-default:"juniper-consumer"`
	KafkaConsumerEnabled bool     `env:"KAFKA_CONSUMER_ENABLED" env-default:"true"`

	// Kafka Producer (identity events)
	KafkaOutputTopic  string `env:"KAFKA_OUTPUT_TOPIC" env-default:"identity-events"`
	KafkaBatchSize    int    `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int    `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int    `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Tracing
	TracingEnabled  bool   `env:"TRACING_ENABLED" env-default:"false"`
	TracingEndpoint string `env:"TRACING_ENDPOINT" env-default:"localhost:4317"`
	TracingProtocol string `env:"TRACING_PROTOCOL" env-default:"grpc"`
	TracingInsecure bool   `env:"TRACING_INSECURE" env-default:"true"`

	// Resolution
	MatchThreshold      float64 `env:"MATCH_THRESHOLD" env-default:"0.65"`
	FuzzyWorkerCount    int     `env:"FUZZY_WORKER_COUNT" env-default:"4"`
	WeightFullName      float64 `env:"WEIGHT_FULL_NAME" env-default:"0.40"`
	WeightRelativeName  float64 `env:"WEIGHT_RELATIVE_NAME" env-default:"0.30"`
	WeightRelationType  float64 `env:"WEIGHT_RELATION_TYPE" env-default:"0.15"`
	WeightGender        float64 `env:"WEIGHT_GENDER" env-default:"0.10"`
	WeightAge           float64 `env:"WEIGHT_AGE" env-default:"0.03"`
	WeightLocation      float64 `env:"WEIGHT_LOCATION" env-default:"0.015"`
	WeightPhone         float64 `env:"WEIGHT_PHONE" env-default:"0.005"`
	TierWeight1         float64 `env:"TIER_WEIGHT_1" env-default:"0.95"`
	TierWeight2         float64 `env:"TIER_WEIGHT_2" env-default:"0.90"`
	TierWeight3         float64 `env:"TIER_WEIGHT_3" env-default:"0.85"`
	TierWeight4         float64 `env:"TIER_WEIGHT_4" env-default:"0.75"`
	TierWeight5         float64 `env:"TIER_WEIGHT_5" env-default:"0.65"`
	SingletonConfidence float64 `env:"SINGLETON_CONFIDENCE" env-default:"0.30"`

	// Scheduler
	SchedulerEnabled      bool          `env:"SCHEDULER_ENABLED" env-default:"true"`
	SchedulerPollInterval time.Duration `env:"SCHEDULER_POLL_INTERVAL" env-default:"5m"`
	SchedulerMinBatch     int           `env:"SCHEDULER_MIN_BATCH" env-default:"1"`
}
