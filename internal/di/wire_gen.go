// Maintained by hand to match the injector in wire.go. Running go generate here
// replaces it with wire's output.

//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package di

import (
	"BasalGCT/pkg/config"
	"BasalGCT/pkg/server"
)

// Injectors from wire.go:

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	producer, err := ProvideKafkaProducer(cfg)
	if err != nil {
		return nil, err
	}
	logger, err := ProvideLogger(cfg, producer)
	if err != nil {
		return nil, err
	}
	analyzer := ProvideAnalyzer(cfg, logger)
	client, err := ProvideClickHouseClient(cfg)
	if err != nil {
		return nil, err
	}
	resultStore := ProvideResultStore(cfg, client, logger)
	redisCache, err := ProvideRedisCache(cfg)
	if err != nil {
		return nil, err
	}
	service := ProvideCache(redisCache)
	stateStore := ProvideStateStore(cfg, service)
	recorder := ProvideMetrics(cfg)
	publisher := ProvidePublisher(cfg, producer)
	resultWriter := ProvideResultWriter(cfg, resultStore, recorder, logger)
	coherenceProcessor := ProvideCoherenceProcessor(cfg, analyzer, recorder, logger, publisher, stateStore, resultWriter)
	redisQueue := ProvideJobQueue(cfg, redisCache, logger)
	analysisJobs := ProvideAnalysisJobs(cfg, redisQueue, analyzer, service, recorder, logger)
	coherenceEchoHandler := ProvideHTTPHandler(logger, analyzer, coherenceProcessor, stateStore, resultStore, analysisJobs)
	httpServer := ProvideHTTPServer(cfg, logger, coherenceEchoHandler)
	tradeCollector := ProvideTradeCollector(cfg, coherenceProcessor, recorder, logger)
	consumer, err := ProvideKafkaConsumer(cfg, logger)
	if err != nil {
		return nil, err
	}
	kafkaTicksHandler := ProvideKafkaTicksHandler(cfg, coherenceProcessor, recorder)
	snapshotPersister := ProvideSnapshotPersister(cfg, analyzer, stateStore, recorder, logger)
	app := ProvideApp(cfg, logger, analyzer, httpServer, resultWriter, tradeCollector, consumer, kafkaTicksHandler, snapshotPersister, redisQueue, publisher, resultStore, client, service)
	return app, nil
}
