package bootstrap

import (
	"context"
	"strings"
	"time"

	httpin "github.com/lunamall/seckill/internal/adapters/http/in"
	"github.com/lunamall/seckill/internal/adapters/postgres/activity"
	"github.com/lunamall/seckill/internal/adapters/rabbitmq"
	"github.com/lunamall/seckill/internal/adapters/redis"
	"github.com/lunamall/seckill/internal/metrics"
	"github.com/lunamall/seckill/internal/services/command"
	"github.com/lunamall/seckill/internal/services/query"
	"github.com/lunamall/seckill/pkg"
	cn "github.com/lunamall/seckill/pkg/constant"
	"github.com/lunamall/seckill/pkg/mcache"
	"github.com/lunamall/seckill/pkg/mcircuitbreaker"
	"github.com/lunamall/seckill/pkg/mmodel"
	"github.com/lunamall/seckill/pkg/mopentelemetry"
	"github.com/lunamall/seckill/pkg/mpostgres"
	"github.com/lunamall/seckill/pkg/mrabbitmq"
	"github.com/lunamall/seckill/pkg/mratelimit"
	"github.com/lunamall/seckill/pkg/mredis"
	"github.com/lunamall/seckill/pkg/mzap"
)

const ApplicationName = "seckill"

// Config is the top level configuration struct for the seckill engine.
type Config struct {
	EnvName  string `env:"ENV_NAME"`
	LogLevel string `env:"LOG_LEVEL"`
	Version  string `env:"VERSION"`

	ServerAddress        string `env:"SERVER_ADDRESS"`
	MetricsServerAddress string `env:"METRICS_SERVER_ADDRESS"`

	// Connection strings
	RedisURL   string `env:"REDIS_URL"`
	RabbitURL  string `env:"RABBITMQ_URL"`
	PrimaryDB  string `env:"DB_URL"`
	ReplicaDB  string `env:"DB_REPLICA_URL"`
	PrimaryDBName string `env:"DB_NAME"`
	ReplicaDBName string `env:"DB_REPLICA_NAME"`
	MigrationsPath string `env:"MIGRATIONS_PATH"`

	// Rate limiter
	GlobalCapacity int64 `env:"RATE_GLOBAL_CAPACITY"`
	GlobalRefill   int64 `env:"RATE_GLOBAL_REFILL"`
	IPCapacity     int64 `env:"RATE_IP_CAPACITY"`
	IPRefill       int64 `env:"RATE_IP_REFILL"`
	UserCapacity   int64 `env:"RATE_USER_CAPACITY"`
	UserRefill     int64 `env:"RATE_USER_REFILL"`
	IdleTimeoutSec int64 `env:"RATE_IDLE_TIMEOUT_SECONDS"`

	// Activity validation
	CacheTimeoutSec int64 `env:"ACTIVITY_CACHE_TIMEOUT_SECONDS"`
	TimeBufferSec   int64 `env:"ACTIVITY_TIME_BUFFER_SECONDS"`
	StatusGraceSec  int64 `env:"ACTIVITY_STATUS_GRACE_SECONDS"`

	// Cache update strategist
	CacheUpdateStrategy string `env:"CACHE_UPDATE_STRATEGY"`

	// Stock synchronizer
	SyncIntervalSec int64  `env:"SYNC_INTERVAL_SECONDS"`
	SyncBatchSize   int64  `env:"SYNC_BATCH_SIZE"`
	SyncPolicy      string `env:"SYNC_POLICY"`

	// Outbox
	MessageTTLSec      int64 `env:"OUTBOX_MESSAGE_TTL_SECONDS"`
	RetryBaseMS        int64 `env:"OUTBOX_RETRY_BASE_MS"`
	BackoffFactor      int64 `env:"OUTBOX_BACKOFF_FACTOR"`
	MaxRetries         int64 `env:"OUTBOX_MAX_RETRIES"`
	OutboxBatchSize    int64 `env:"OUTBOX_BATCH_SIZE"`
	ProcessIntervalMS  int64 `env:"OUTBOX_PROCESS_INTERVAL_MS"`
	InFlightTimeoutSec int64 `env:"OUTBOX_INFLIGHT_TIMEOUT_SECONDS"`

	// Circuit breaker
	BreakerFailureThreshold int64 `env:"BREAKER_FAILURE_THRESHOLD"`
	BreakerResetTimeoutSec  int64 `env:"BREAKER_RESET_TIMEOUT_SECONDS"`

	// Consistency validation
	CheckIntervalSec int64 `env:"CONSISTENCY_CHECK_INTERVAL_SECONDS"`
	RepairDisabled   bool  `env:"CONSISTENCY_REPAIR_DISABLED"`

	// Metrics and alerting
	CollectIntervalSec int64 `env:"METRICS_COLLECT_INTERVAL_SECONDS"`

	// OpenTelemetry
	OtelServiceName         string `env:"OTEL_RESOURCE_SERVICE_NAME"`
	OtelLibraryName         string `env:"OTEL_LIBRARY_NAME"`
	OtelServiceVersion      string `env:"OTEL_RESOURCE_SERVICE_VERSION"`
	OtelDeploymentEnv       string `env:"OTEL_RESOURCE_DEPLOYMENT_ENVIRONMENT"`
	OtelColExporterEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	EnableTelemetry         bool   `env:"ENABLE_TELEMETRY"`
}

func durationOrDefault(value int64, unit, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}

	return time.Duration(value) * unit
}

func intOrDefault(value int64, fallback int) int {
	if value <= 0 {
		return fallback
	}

	return int(value)
}

// InitServers initiate the seckill engine with the dependency injection wiring.
func InitServers() *Service {
	cfg := &Config{}

	if err := pkg.SetConfigFromEnvVars(cfg); err != nil {
		panic(err)
	}

	logger := mzap.InitializeLogger().WithFields("app", ApplicationName)

	telemetry := &mopentelemetry.Telemetry{
		LibraryName:               cfg.OtelLibraryName,
		ServiceName:               cfg.OtelServiceName,
		ServiceVersion:            cfg.OtelServiceVersion,
		DeploymentEnv:             cfg.OtelDeploymentEnv,
		CollectorExporterEndpoint: cfg.OtelColExporterEndpoint,
		EnableTelemetry:           cfg.EnableTelemetry,
	}

	if cfg.ServerAddress == "" {
		cfg.ServerAddress = ":3000"
	}

	if cfg.MetricsServerAddress == "" {
		cfg.MetricsServerAddress = ":9464"
	}

	if cfg.MigrationsPath == "" {
		cfg.MigrationsPath = "migrations"
	}

	redisConnection := &mredis.RedisConnection{
		ConnectionStringSource: cfg.RedisURL,
		Logger:                 logger,
	}

	rabbitConnection := &mrabbitmq.RabbitMQConnection{
		ConnectionStringSource: cfg.RabbitURL,
		Logger:                 logger,
	}

	postgresConnection := &mpostgres.PostgresConnection{
		ConnectionStringPrimary: cfg.PrimaryDB,
		ConnectionStringReplica: cfg.ReplicaDB,
		PrimaryDBName:           cfg.PrimaryDBName,
		ReplicaDBName:           cfg.ReplicaDBName,
		MigrationsPath:          cfg.MigrationsPath,
		Logger:                  logger,
	}

	seckillRedisRepository := redis.NewSeckillRedisRepository(redisConnection)
	outboxRedisRepository := redis.NewOutboxRedisRepository(redisConnection)
	activityPostgreSQLRepository := activity.NewActivityPostgreSQLRepository(postgresConnection)
	producerRabbitMQRepository := rabbitmq.NewProducerRabbitMQ(rabbitConnection)

	engineMetrics := metrics.New()

	limiterConfig := mratelimit.DefaultConfig()

	if cfg.GlobalCapacity > 0 {
		limiterConfig.Global = mratelimit.BucketConfig{Capacity: cfg.GlobalCapacity, RefillPerSecond: float64(cfg.GlobalRefill)}
	}

	if cfg.IPCapacity > 0 {
		limiterConfig.IP = mratelimit.BucketConfig{Capacity: cfg.IPCapacity, RefillPerSecond: float64(cfg.IPRefill)}
	}

	if cfg.UserCapacity > 0 {
		limiterConfig.User = mratelimit.BucketConfig{Capacity: cfg.UserCapacity, RefillPerSecond: float64(cfg.UserRefill)}
	}

	limiterConfig.IdleTimeout = durationOrDefault(cfg.IdleTimeoutSec, time.Second, 10*time.Minute)

	limiter := mratelimit.NewMultiLevelLimiter(limiterConfig)

	breaker := mcircuitbreaker.New(mcircuitbreaker.Config{
		FailureThreshold: intOrDefault(cfg.BreakerFailureThreshold, 3),
		ResetTimeout:     durationOrDefault(cfg.BreakerResetTimeoutSec, time.Second, 5*time.Second),
		OnStateChange: func(from, to mcircuitbreaker.State) {
			logger.Warnf("Broker circuit breaker %s -> %s", from, to)
		},
	})

	cacheUpdater := mcache.NewUpdater(seckillRedisRepository, mcache.DefaultConfig())

	cacheStrategy := cfg.CacheUpdateStrategy
	if cacheStrategy == "" {
		cacheStrategy = mmodel.StrategyWriteThrough
	}

	queryUseCase := &query.UseCase{
		RedisRepo:     seckillRedisRepository,
		ActivityRepo:  activityPostgreSQLRepository,
		Metrics:       engineMetrics,
		CacheUpdater:  cacheUpdater,
		CacheStrategy: cacheStrategy,
		CacheTTL:      durationOrDefault(cfg.CacheTimeoutSec, time.Second, 5*time.Minute),
		TimeBuffer:    durationOrDefault(cfg.TimeBufferSec, time.Second, 30*time.Second),
		StatusGrace:   durationOrDefault(cfg.StatusGraceSec, time.Second, time.Hour),
	}

	commandConfig := command.DefaultConfig()
	commandConfig.StatusGrace = queryUseCase.StatusGrace
	commandConfig.MessageTTL = durationOrDefault(cfg.MessageTTLSec, time.Second, 7*24*time.Hour)
	commandConfig.RetryBase = durationOrDefault(cfg.RetryBaseMS, time.Millisecond, time.Second)
	commandConfig.MaxRetries = intOrDefault(cfg.MaxRetries, 3)
	commandConfig.SyncBatchSize = intOrDefault(cfg.SyncBatchSize, 50)
	commandConfig.RepairEnabled = !cfg.RepairDisabled

	if cfg.BackoffFactor > 0 {
		commandConfig.Backoff = float64(cfg.BackoffFactor)
	}

	if cfg.SyncPolicy != "" {
		commandConfig.SyncPolicy = cfg.SyncPolicy
	} else {
		commandConfig.SyncPolicy = mmodel.SyncPolicyMerge
	}

	commandUseCase := &command.UseCase{
		RedisRepo:    seckillRedisRepository,
		OutboxRepo:   outboxRedisRepository,
		ActivityRepo: activityPostgreSQLRepository,
		ProducerRepo: producerRabbitMQRepository,
		Query:        queryUseCase,
		CacheUpdater: cacheUpdater,
		Limiter:      limiter,
		Breaker:      breaker,
		Metrics:      engineMetrics,
		Config:       commandConfig,
	}

	// A write-behind database update that exhausted its retries leaves the
	// keystore ahead of the source of truth; the durable re-drive signal puts
	// the reconciliation path in charge of converging the two.
	cacheUpdater.OnWriteBehindFailure = func(ctx context.Context, key string, cause error) {
		activityID := strings.TrimPrefix(key, cn.ActivityKeyPrefix)

		if err := commandUseCase.EnqueueStockChanged(ctx, mmodel.StockSyncPayload{
			ActivityID:   activityID,
			CurrentStock: -1,
			Operation:    cn.StockOperationReset,
			Source:       "write_behind",
			Ts:           time.Now(),
		}); err != nil {
			logger.Errorf("Failed to enqueue write-behind re-drive for %s: %v", key, err)
		}
	}

	handler := &httpin.SeckillHandler{
		Command: commandUseCase,
		Query:   queryUseCase,
	}

	app := httpin.NewRouter(logger, telemetry, handler)

	server := NewServer(cfg, app, logger, telemetry)
	metricsServer := NewMetricsServer(cfg.MetricsServerAddress, logger)

	outboxWorker := NewOutboxWorker(commandUseCase, logger,
		durationOrDefault(cfg.ProcessIntervalMS, time.Millisecond, time.Second),
		int64(intOrDefault(cfg.OutboxBatchSize, 100)),
		durationOrDefault(cfg.InFlightTimeoutSec, time.Second, 30*time.Second),
	)

	stockWorker := NewStockWorker(commandUseCase, logger,
		durationOrDefault(cfg.SyncIntervalSec, time.Second, time.Minute),
	)

	consistencyWorker := NewConsistencyWorker(commandUseCase, engineMetrics, logger,
		durationOrDefault(cfg.CheckIntervalSec, time.Second, 5*time.Minute),
		durationOrDefault(cfg.CollectIntervalSec, time.Second, 30*time.Second),
	)

	logger.Infof("Seckill engine configured: server %s, metrics %s, sync policy %s",
		cfg.ServerAddress, cfg.MetricsServerAddress, commandConfig.SyncPolicy)

	return &Service{
		Server:            server,
		MetricsServer:     metricsServer,
		OutboxWorker:      outboxWorker,
		StockWorker:       stockWorker,
		ConsistencyWorker: consistencyWorker,
		Logger:            logger,
		Telemetry:         telemetry,
	}
}
