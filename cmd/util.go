package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"symphonybacktest/api"
	"symphonybacktest/internal/app"
	"symphonybacktest/internal/config"
	"symphonybacktest/internal/domain"
	"symphonybacktest/internal/logger"
	"symphonybacktest/internal/repository"
	l1_service "symphonybacktest/internal/service/l1"
	l3_service "symphonybacktest/internal/service/l3"

	_ "github.com/lib/pq"
)

type Dependencies struct {
	Config                 *config.Config
	Db                     *sql.DB
	PriceService           l1_service.PriceService
	EvaluationService      l3_service.EvaluationService
	BacktestService        l3_service.BacktestService
	ScheduledEvaluationApp app.ScheduledEvaluationApp
	ApiHandler             *api.ApiHandler
}

func CloseDependencies(deps *Dependencies) {
	if deps == nil || deps.Db == nil {
		return
	}
	if err := deps.Db.Close(); err != nil {
		logger.FromContext(context.Background()).Errorf("failed to close db: %s", err.Error())
	}
}

// InitializeDependencies wires the price stack from config. Postgres is
// the bar cache when configured, then a CSV directory, then process
// memory. Yahoo is always available as a remote source; Alpaca joins
// when credentials are present and also serves live quotes.
func InitializeDependencies(configPath string) (*Dependencies, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	deps := &Dependencies{Config: cfg}

	memoryStore := repository.NewMemoryPriceBarStore()
	sources := map[domain.PriceSource]repository.BarSource{
		domain.PriceSource_Memory: memoryStore,
		domain.PriceSource_Yahoo:  repository.NewYahooRepository(),
	}

	var store repository.PriceBarStore = memoryStore
	if cfg.Prices.CsvDir != "" {
		csvRepository := repository.NewCsvPriceRepository(cfg.Prices.CsvDir)
		sources[domain.PriceSource_CSV] = csvRepository
		store = csvRepository
	}
	if cfg.Db.Enabled() {
		dbConn, err := sql.Open("postgres", cfg.Db.ToConnectionStr())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to db: %w", err)
		}
		deps.Db = dbConn
		store = repository.NewPriceBarRepository(dbConn)
	}

	var quotes repository.LatestQuoteRepository = memoryStore
	if cfg.Alpaca.Enabled() {
		alpacaRepository := repository.NewAlpacaRepository(cfg.Alpaca.ApiKey, cfg.Alpaca.ApiSecret, cfg.Alpaca.Endpoint)
		sources[domain.PriceSource_Alpaca] = alpacaRepository
		quotes = alpacaRepository
	}

	priceRepository := repository.NewPriceHistoryRepository(repository.PriceHistoryRepositoryInput{
		Store:         store,
		Sources:       sources,
		Quotes:        quotes,
		DefaultSource: cfg.Prices.Source,
	})

	deps.PriceService = l1_service.NewPriceService(priceRepository, priceRepository)
	deps.EvaluationService = l3_service.NewEvaluationService(deps.PriceService)
	deps.BacktestService = l3_service.NewBacktestService(deps.PriceService)
	deps.ScheduledEvaluationApp = app.NewScheduledEvaluationApp(deps.EvaluationService, cfg.Strategies, cfg.Options)
	deps.ApiHandler = &api.ApiHandler{
		EvaluationService: deps.EvaluationService,
		BacktestService:   deps.BacktestService,
		Options:           cfg.Options,
	}

	return deps, nil
}
