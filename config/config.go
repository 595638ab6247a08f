package config

import "time"

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"bramble-api"`
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

	// PostgreSQL
	DatabaseDriver                string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" env-default:""`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"bramble"`
	DatabaseSSLMode               string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Tracing
	TracingEnabled bool   `env:"TRACING_ENABLED" env-default:"false"`
	OTLPEndpoint   string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	OTLPProtocol   string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	OTLPInsecure   bool   `env:"OTLP_INSECURE" env-default:"true"`

	// Kafka
	KafkaBrokers           []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaEventsTopic       string   `env:"KAFKA_EVENTS_TOPIC" env-default:"dedupe-events"`
	KafkaScanTopic         string   `env:"KAFKA_SCAN_TOPIC" env-default:"dedupe-scan-requests"`
	KafkaScanConsumerGroup string   `env:"KAFKA_SCAN_CONSUMER_GROUP" env-default:"bramble-scan-worker"`
	KafkaWorkerEnabled     bool     `env:"KAFKA_WORKER_ENABLED" env-default:"true"`
	KafkaBatchSize         int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout      int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks      int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression       string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Catalog
	CatalogCulture string `env:"CATALOG_CULTURE" env-default:"en"`

	// Scanning
	ScanWorkerCount     int           `env:"SCAN_WORKER_COUNT" env-default:"4"`
	ScanPageSize        int           `env:"SCAN_PAGE_SIZE" env-default:"500"`
	ScanCheckpointEvery int           `env:"SCAN_CHECKPOINT_EVERY" env-default:"100"`
	ScanStoreThreshold  float64       `env:"SCAN_STORE_THRESHOLD" env-default:"0.75"`
	ScanJobTimeout      time.Duration `env:"SCAN_JOB_TIMEOUT" env-default:"6h"`
	ScanStaleAfter      time.Duration `env:"SCAN_STALE_AFTER" env-default:"15m"`

	// Realtime checking
	RealtimeMinQueryLength int     `env:"REALTIME_MIN_QUERY_LENGTH" env-default:"5"`
	RealtimeCandidateLimit int     `env:"REALTIME_CANDIDATE_LIMIT" env-default:"1000"`
	RealtimeMinScore       float64 `env:"REALTIME_MIN_SCORE" env-default:"0.75"`
	RealtimeMaxResults     int     `env:"REALTIME_MAX_RESULTS" env-default:"5"`
}
