//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"BasalGCT/pkg/config"
	"BasalGCT/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideRedisCache,
		ProvideCache,
		ProvideJobQueue,

		// Repositories
		ProvideResultStore,
		ProvideStateStore,
		ProvidePublisher,

		// Use cases
		ProvideAnalyzer,
		ProvideResultWriter,
		ProvideCoherenceProcessor,
		ProvideTradeCollector,
		ProvideKafkaConsumer,
		ProvideKafkaTicksHandler,
		ProvideSnapshotPersister,
		ProvideAnalysisJobs,

		// HTTP
		ProvideHTTPHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
