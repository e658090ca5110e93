package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"BasalGCT/internal/analyzer"
	"BasalGCT/internal/domain/repository"
	"BasalGCT/internal/handler/api"
	mid "BasalGCT/internal/middleware"
	internalrepo "BasalGCT/internal/repository"
	"BasalGCT/internal/service/finnhub"
	"BasalGCT/internal/usecase"
	"BasalGCT/pkg/cache"
	pkgch "BasalGCT/pkg/clickhouse"
	"BasalGCT/pkg/config"
	xhttp "BasalGCT/pkg/http"
	pkgkafka "BasalGCT/pkg/kafka"
	"BasalGCT/pkg/logger"
	"BasalGCT/pkg/metrics"
	"BasalGCT/pkg/queue"
	"BasalGCT/pkg/server"
)

// Optional backends are returned as nil when disabled in config. Providers that
// accept them check for nil before converting to an interface.

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	pkgkafka.SetMetricsRegisterer(prometheus.DefaultRegisterer)

	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger builds the root logger. Error logs are aggregated onto the
// logs topic when collection is enabled and Kafka is available.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, error) {
	l, err := logger.New(&cfg.Logger.Config)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Logger.Collect.Enabled && producer != nil {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.Logger.Collect.Interval,
			CountThreshold: cfg.Logger.Collect.CountThreshold,
			Topic:          cfg.Kafka.Topics.Logs,
			Source:         "basalgct",
			Publisher:      producer,
		})
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder on the default registry.
func ProvideMetrics(cfg *config.Config) *metrics.Recorder {
	return metrics.New(cfg.Metrics.Namespace, prometheus.DefaultRegisterer)
}

// ProvideClickHouseClient creates a ClickHouse client and the result tables,
// or nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	if err := client.InitSchema(ctx, internalrepo.Schema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideResultStore returns the ClickHouse result store, or nil without a client.
func ProvideResultStore(cfg *config.Config, client *pkgch.Client, l *logger.Logger) repository.ResultStore {
	if client == nil {
		return nil
	}
	return internalrepo.NewClickHouseResultStore(client.DB(), cfg.ClickHouse.Database, l)
}

// ProvideRedisCache connects to Redis, or returns nil when Redis is disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideCache layers a small in-process cache over Redis, or falls back to
// memory only when Redis is disabled.
func ProvideCache(rc *cache.RedisCache) cache.Service {
	if rc == nil {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(10000))
	}
	return cache.NewLayeredCache(rc, 1000, 5*time.Second)
}

func ProvideStateStore(cfg *config.Config, c cache.Service) *internalrepo.StateStore {
	return internalrepo.NewStateStore(c, cfg.Redis.LatestTTL)
}

// ProvidePublisher publishes results and alerts to Kafka, or nil without a producer.
func ProvidePublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.Publisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topics.Results, cfg.Kafka.Topics.Alerts)
}

func ProvideAnalyzer(cfg *config.Config, l *logger.Logger) *analyzer.Analyzer {
	return analyzer.New(cfg.AnalyzerConfig(), l)
}

// ProvideResultWriter batches results into the store, or nil without one.
func ProvideResultWriter(cfg *config.Config, store repository.ResultStore, m *metrics.Recorder, l *logger.Logger) *usecase.ResultWriter {
	if store == nil {
		return nil
	}
	return usecase.NewResultWriter(store, m, l, cfg.ClickHouse.BatchSize, cfg.ClickHouse.FlushInterval)
}

// ProvideCoherenceProcessor wires the analyzer to every configured sink and
// routes the analyzer's alerts through it.
func ProvideCoherenceProcessor(
	cfg *config.Config,
	a *analyzer.Analyzer,
	m *metrics.Recorder,
	l *logger.Logger,
	pub repository.Publisher,
	state *internalrepo.StateStore,
	writer *usecase.ResultWriter,
) *usecase.CoherenceProcessor {
	opts := []usecase.ProcessorOption{
		usecase.WithLatestCache(state),
		usecase.WithSinkTimeout(cfg.Processing.Timeout),
	}
	if pub != nil {
		opts = append(opts, usecase.WithPublisher(pub, cfg.Processing.PublishResults))
	}
	if writer != nil {
		opts = append(opts, usecase.WithResultWriter(writer))
	}

	proc := usecase.NewCoherenceProcessor(a, m, l, opts...)
	a.OnAlert(proc.HandleAlert)
	return proc
}

// ProvideTradeCollector builds the feed path, or nil when the feed is disabled.
func ProvideTradeCollector(cfg *config.Config, proc *usecase.CoherenceProcessor, m *metrics.Recorder, l *logger.Logger) *usecase.TradeCollector {
	if !cfg.Feed.Enabled {
		return nil
	}
	stream := finnhub.New(finnhub.Config{
		APIKey:       cfg.Feed.APIKey,
		WebSocketURL: cfg.Feed.WebSocketURL,
		Symbols:      cfg.Feed.Symbols,
		ReconnectMin: cfg.Feed.ReconnectMin,
		ReconnectMax: cfg.Feed.ReconnectMax,
		PingInterval: cfg.Feed.PingInterval,
	}, l)

	// validation and per-symbol throttling between the socket and the analyzer
	pipe := mid.NewRealtimePipeline(proc, m,
		mid.WithMaxRPS(cfg.Processing.MaxRPS),
		mid.WithBurst(cfg.Processing.Burst),
		mid.WithBufferSize(cfg.Processing.BufferSize),
	)
	return usecase.NewTradeCollector(stream, pipe, m, l)
}

// ProvideKafkaConsumer creates the tick consumer, or nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.TracingHook(), pkgkafka.LoggingHook(l)))
	return consumer, nil
}

func ProvideKafkaTicksHandler(cfg *config.Config, proc *usecase.CoherenceProcessor, m *metrics.Recorder) *usecase.KafkaTicksHandler {
	return usecase.NewKafkaTicksHandler(cfg.Kafka.Topics.Ticks, proc, m)
}

// ProvideSnapshotPersister schedules reservoir snapshots, or nil when persistence is disabled.
func ProvideSnapshotPersister(cfg *config.Config, a *analyzer.Analyzer, state *internalrepo.StateStore, m *metrics.Recorder, l *logger.Logger) *usecase.SnapshotPersister {
	if !cfg.Persistence.Enabled {
		return nil
	}
	return usecase.NewSnapshotPersister(a, state, state, m, l, cfg.Persistence.Interval, cfg.Persistence.MaxElapsed)
}

// ProvideJobQueue creates the Redis job queue, or nil when jobs or Redis are disabled.
func ProvideJobQueue(cfg *config.Config, rc *cache.RedisCache, l *logger.Logger) *queue.RedisQueue {
	if !cfg.Jobs.Enabled || rc == nil {
		return nil
	}
	return queue.NewRedisQueue(l, cfg.Jobs.Config, rc.Client(), queue.WithKeyPrefix(cache.Key(cfg.Redis.Prefix, "queue")))
}

// ProvideAnalysisJobs registers the batch analysis job on the queue, or nil without one.
func ProvideAnalysisJobs(cfg *config.Config, q *queue.RedisQueue, a *analyzer.Analyzer, c cache.Service, m *metrics.Recorder, l *logger.Logger) *usecase.AnalysisJobs {
	if q == nil {
		return nil
	}
	jobs := usecase.NewAnalysisJobs(q, a, c, m, l, cfg.Jobs.ResultTTL)
	q.RegisterJob(jobs)
	return jobs
}

func ProvideHTTPHandler(
	l *logger.Logger,
	a *analyzer.Analyzer,
	proc *usecase.CoherenceProcessor,
	state *internalrepo.StateStore,
	store repository.ResultStore,
	jobs *usecase.AnalysisJobs,
) *api.CoherenceEchoHandler {
	h := api.NewCoherenceEchoHandler(l, a, proc, state, store)
	if jobs != nil {
		h.SetJobs(jobs)
	}
	return h
}

func ProvideHTTPServer(cfg *config.Config, l *logger.Logger, h *api.CoherenceEchoHandler) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithSlowRequest(cfg.Server.SlowRequest),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, cfg.Metrics.Namespace, prometheus.DefaultRegisterer, prometheus.DefaultGatherer))
	}
	return xhttp.NewServer(l, []xhttp.Handler{h}, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	a *analyzer.Analyzer,
	httpServer *xhttp.Server,
	writer *usecase.ResultWriter,
	collector *usecase.TradeCollector,
	consumer *pkgkafka.Consumer,
	ticks *usecase.KafkaTicksHandler,
	persister *usecase.SnapshotPersister,
	jobs *queue.RedisQueue,
	pub repository.Publisher,
	store repository.ResultStore,
	chClient *pkgch.Client,
	c cache.Service,
) *server.App {
	return server.New(cfg, l, server.Components{
		Analyzer:   a,
		HTTP:       httpServer,
		Writer:     writer,
		Collector:  collector,
		Consumer:   consumer,
		Ticks:      ticks,
		Persister:  persister,
		Jobs:       jobs,
		Publisher:  pub,
		Store:      store,
		ClickHouse: chClient,
		Cache:      c,
	})
}
